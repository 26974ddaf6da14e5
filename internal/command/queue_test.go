// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package command

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/ManuGH/dglink/internal/device"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueue_ClassThenTimestampOrder(t *testing.T) {
	q := NewQueue()
	base := time.Now()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		class := Classes[rng.Intn(len(Classes))]
		ts := base.Add(time.Duration(rng.Intn(50)) * time.Millisecond)
		q.Submit(New(class, device.ChannelA, OpSetTo, i, "", ts))
	}
	require.Equal(t, 200, q.Len())

	var prev *Command
	for q.Len() > 0 {
		cmd, ok := q.TryTake()
		require.True(t, ok)
		if prev != nil {
			require.LessOrEqual(t, prev.Class, cmd.Class)
			if prev.Class == cmd.Class {
				require.False(t, cmd.Timestamp.Before(prev.Timestamp), "timestamp went backwards within class %s", cmd.Class)
			}
		}
		c := cmd
		prev = &c
	}
}

func TestQueue_GUIBeforePanel(t *testing.T) {
	q := NewQueue()
	now := time.Now()

	q.Submit(New(ClassPanel, device.ChannelA, OpSetTo, 5, "panel", now))
	q.Submit(New(ClassGUI, device.ChannelA, OpSetTo, 30, "gui", now.Add(time.Millisecond)))

	first, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ClassGUI, first.Class)
	assert.Equal(t, 30, first.Value)

	second, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ClassPanel, second.Class)
}

func TestQueue_EqualTimestampsKeepSubmissionOrder(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	for i := 0; i < 5; i++ {
		q.Submit(New(ClassInteraction, device.ChannelB, OpIncrease, i, "same", now))
	}

	var got []int
	for _, cmd := range q.Snapshot() {
		got = append(got, cmd.Value)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4}, got); diff != "" {
		t.Errorf("snapshot order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 5, q.Len(), "snapshot must not consume")
}

func TestQueue_TakeBlocksUntilSubmit(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan Command, 1)
	go func() {
		cmd, err := q.Take(ctx)
		if err == nil {
			got <- cmd
		}
		close(got)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Submit(New(ClassExternal, device.ChannelB, OpSetTo, 7, "feed", time.Now()))

	select {
	case cmd, ok := <-got:
		require.True(t, ok)
		assert.Equal(t, 7, cmd.Value)
	case <-time.After(time.Second):
		t.Fatal("Take did not return after Submit")
	}
}

func TestQueue_TakeHonoursCancellation(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Take(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNew_GeneratesSourceID(t *testing.T) {
	a := New(ClassGUI, device.ChannelA, OpSetTo, 1, "", time.Now())
	b := New(ClassGUI, device.ChannelA, OpSetTo, 1, "", time.Now())
	assert.NotEmpty(t, a.SourceID)
	assert.NotEqual(t, a.SourceID, b.SourceID)

	named := New(ClassGUI, device.ChannelA, OpSetTo, 1, "slider", time.Now())
	assert.Equal(t, "slider", named.SourceID)
}

func TestParseClassAndOperation(t *testing.T) {
	c, err := ParseClass("Panel")
	require.NoError(t, err)
	assert.Equal(t, ClassPanel, c)

	_, err = ParseClass("robot")
	assert.ErrorIs(t, err, ErrUnknownClass)

	op, err := ParseOperation("set_pulse_mode")
	require.NoError(t, err)
	assert.Equal(t, OpSetPulseMode, op)

	_, err = ParseOperation("explode")
	assert.ErrorIs(t, err, ErrUnknownOperation)
}
