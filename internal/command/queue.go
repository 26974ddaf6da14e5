// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package command

import (
	"container/heap"
	"context"
	"sync"
)

// Queue is an unbounded priority queue of commands with a blocking Take for a
// single consumer. Submit never blocks.
type Queue struct {
	mu     sync.Mutex
	items  commandHeap
	seq    uint64
	notify chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Submit enqueues cmd.
func (q *Queue) Submit(cmd Command) {
	q.mu.Lock()
	q.seq++
	cmd.seq = q.seq
	heap.Push(&q.items, cmd)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Take removes and returns the minimum command, waiting until one is
// available or ctx is done.
func (q *Queue) Take(ctx context.Context) (Command, error) {
	for {
		if cmd, ok := q.TryTake(); ok {
			return cmd, nil
		}
		select {
		case <-ctx.Done():
			return Command{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// TryTake returns the minimum command without waiting.
func (q *Queue) TryTake() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Command{}, false
	}
	return heap.Pop(&q.items).(Command), true
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the queued commands in service order without removing them.
func (q *Queue) Snapshot() []Command {
	q.mu.Lock()
	cp := make(commandHeap, len(q.items))
	copy(cp, q.items)
	q.mu.Unlock()

	out := make([]Command, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(Command))
	}
	return out
}

type commandHeap []Command

func (h commandHeap) Len() int           { return len(h) }
func (h commandHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h commandHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *commandHeap) Push(x any) { *h = append(*h, x.(Command)) }

func (h *commandHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
