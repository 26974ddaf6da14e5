// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"encoding/json"
	"sync"
	"sync/atomic"
)

const (
	maxRecentLogs   = 500
	maxLineBytes    = 16 * 1024
	maxPartialBytes = 64 * 1024
)

// LogEntry is one structured line kept in the recent-log buffer.
type LogEntry struct {
	Time      string         `json:"time,omitempty"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Event     string         `json:"event,omitempty"`
	Message   string         `json:"message,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// BufferMetrics reports why lines were not retained.
type BufferMetrics struct {
	Retained               uint64 `json:"retained"`
	DroppedIrrelevant      uint64 `json:"dropped_irrelevant"`
	DroppedInvalid         uint64 `json:"dropped_invalid"`
	DroppedTooLargeLines   uint64 `json:"dropped_too_large_lines"`
	DroppedPartialOverflow uint64 `json:"dropped_partial_overflow"`
}

var (
	recentMu   sync.RWMutex
	recentLogs []LogEntry

	retained               atomic.Uint64
	droppedIrrelevant      atomic.Uint64
	droppedInvalid         atomic.Uint64
	droppedTooLargeLines   atomic.Uint64
	droppedPartialOverflow atomic.Uint64

	recentWriter = &structuredBufferWriter{}
)

// structuredBufferWriter reassembles newline-framed JSON lines from arbitrary
// write boundaries and keeps the relevant ones in a bounded ring.
type structuredBufferWriter struct {
	mu      sync.Mutex
	partial bytes.Buffer
}

func (w *structuredBufferWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial.Write(p)
	for {
		data := w.partial.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, data[:idx])
		w.partial.Next(idx + 1)
		ingest(line)
	}
	if w.partial.Len() > maxPartialBytes {
		w.partial.Reset()
		droppedPartialOverflow.Add(1)
	}
	return len(p), nil
}

func ingest(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if len(line) > maxLineBytes {
		droppedTooLargeLines.Add(1)
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(line, &fields); err != nil {
		droppedInvalid.Add(1)
		return
	}
	entry := LogEntry{
		Time:      stringField(fields, "time"),
		Level:     stringField(fields, "level"),
		Component: stringField(fields, FieldComponent),
		Event:     stringField(fields, FieldEvent),
		Message:   stringField(fields, "message"),
		Fields:    fields,
	}
	if !relevant(entry) {
		droppedIrrelevant.Add(1)
		return
	}

	recentMu.Lock()
	recentLogs = append(recentLogs, entry)
	if len(recentLogs) > maxRecentLogs {
		recentLogs = append([]LogEntry(nil), recentLogs[len(recentLogs)-maxRecentLogs:]...)
	}
	recentMu.Unlock()
	retained.Add(1)
}

// relevant keeps info and above; debug and trace chatter stays out of the ring.
func relevant(e LogEntry) bool {
	switch e.Level {
	case "debug", "trace", "":
		return false
	default:
		return true
	}
}

func stringField(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

// GetRecentLogs returns a copy of the retained log lines, oldest first.
func GetRecentLogs() []LogEntry {
	recentMu.RLock()
	defer recentMu.RUnlock()
	out := make([]LogEntry, len(recentLogs))
	copy(out, recentLogs)
	return out
}

// ClearRecentLogs empties the ring and resets the drop counters.
func ClearRecentLogs() {
	recentMu.Lock()
	recentLogs = nil
	recentMu.Unlock()

	retained.Store(0)
	droppedIrrelevant.Store(0)
	droppedInvalid.Store(0)
	droppedTooLargeLines.Store(0)
	droppedPartialOverflow.Store(0)
}

// GetBufferMetrics returns the ring's counters.
func GetBufferMetrics() BufferMetrics {
	return BufferMetrics{
		Retained:               retained.Load(),
		DroppedIrrelevant:      droppedIrrelevant.Load(),
		DroppedInvalid:         droppedInvalid.Load(),
		DroppedTooLargeLines:   droppedTooLargeLines.Load(),
		DroppedPartialOverflow: droppedPartialOverflow.Load(),
	}
}
