// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package controller

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/dglink/internal/command"
	"github.com/ManuGH/dglink/internal/device"
	"github.com/ManuGH/dglink/internal/event"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	op     string
	ch     device.Channel
	value  int
	frames []device.Frame
}

type fakeTransport struct {
	mu        sync.Mutex
	calls     []call
	failNext  error
	panicNext bool
}

func (f *fakeTransport) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicNext {
		f.panicNext = false
		panic("transport exploded")
	}
	if err := f.failNext; err != nil {
		f.failNext = nil
		return err
	}
	f.calls = append(f.calls, c)
	return nil
}

func (f *fakeTransport) SetStrength(_ context.Context, ch device.Channel, _ device.StrengthMode, value int) error {
	return f.record(call{op: "set_strength", ch: ch, value: value})
}

func (f *fakeTransport) SetPulse(_ context.Context, ch device.Channel, frames []device.Frame) error {
	return f.record(call{op: "set_pulse", ch: ch, frames: frames})
}

func (f *fakeTransport) AddPulses(_ context.Context, ch device.Channel, frames ...device.Frame) error {
	return f.record(call{op: "add_pulses", ch: ch, frames: frames})
}

func (f *fakeTransport) ops(op string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) strengths() []int {
	var out []int
	for _, c := range f.ops("set_strength") {
		out = append(out, c.value)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestController(t *testing.T, tr device.Transport, mutate func(*Options)) *Controller {
	t.Helper()
	opts := Options{
		Transport:    tr,
		Logger:       zerolog.Nop(),
		LoopInterval: 10 * time.Millisecond,
		FireHold:     20 * time.Millisecond,
		ErrorBackoff: time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func startDispatcher(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, c.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestNew_RequiresTransport(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestDispatch_GUIBeforePanel(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr, nil)
	ctx := context.Background()

	require.True(t, c.Submit(ctx, command.ClassPanel, device.ChannelA, command.OpSetTo, 5, ""))
	require.True(t, c.Submit(ctx, command.ClassGUI, device.ChannelA, command.OpSetTo, 30, ""))
	assert.Equal(t, 2, c.QueueDepth())

	startDispatcher(t, c)

	require.Eventually(t, func() bool { return len(tr.strengths()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{30, 5}, tr.strengths())
}

func TestDispatch_ClassOrderProperty(t *testing.T) {
	tr := &fakeTransport{}
	zero := map[command.Class]time.Duration{}
	c := newTestController(t, tr, func(o *Options) { o.Cooldowns = zero })
	ctx := context.Background()

	// Value encodes the class so the observed order can be checked.
	rng := rand.New(rand.NewSource(7))
	const n = 60
	for i := 0; i < n; i++ {
		class := command.Classes[rng.Intn(len(command.Classes))]
		if class == command.ClassInteraction {
			class = command.ClassExternal
		}
		require.True(t, c.Submit(ctx, class, device.ChannelA, command.OpSetTo, int(class), ""))
	}

	startDispatcher(t, c)
	require.Eventually(t, func() bool { return len(tr.strengths()) == n }, time.Second, 5*time.Millisecond)

	got := tr.strengths()
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1], got[i], "class order violated at %d", i)
	}
}

func TestSubmit_CooldownPerSource(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, &fakeTransport{}, func(o *Options) { o.Now = clock.Now })
	ctx := context.Background()

	assert.True(t, c.Submit(ctx, command.ClassPanel, device.ChannelA, command.OpIncrease, 1, "knob"))
	clock.Advance(50 * time.Millisecond)
	assert.False(t, c.Submit(ctx, command.ClassPanel, device.ChannelA, command.OpIncrease, 1, "knob"))
	assert.True(t, c.Submit(ctx, command.ClassPanel, device.ChannelA, command.OpIncrease, 1, "other"))
	clock.Advance(50 * time.Millisecond)
	assert.True(t, c.Submit(ctx, command.ClassPanel, device.ChannelA, command.OpIncrease, 1, "knob"))

	// Anonymous producers share the default slot.
	assert.True(t, c.Submit(ctx, command.ClassExternal, device.ChannelB, command.OpSetTo, 1, ""))
	assert.False(t, c.Submit(ctx, command.ClassExternal, device.ChannelB, command.OpSetTo, 1, ""))

	assert.Equal(t, 4, c.QueueDepth())
}

func TestSubmit_RejectsInvalid(t *testing.T) {
	c := newTestController(t, &fakeTransport{}, nil)
	ctx := context.Background()
	assert.False(t, c.Submit(ctx, command.Class(9), device.ChannelA, command.OpSetTo, 1, ""))
	assert.False(t, c.Submit(ctx, command.ClassGUI, device.Channel(5), command.OpSetTo, 1, ""))
	assert.False(t, c.Submit(ctx, command.ClassGUI, device.ChannelA, command.Operation(-1), 1, ""))
	assert.Zero(t, c.QueueDepth())
}

func TestDispatch_InteractionRequiresChannelMode(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr, func(o *Options) { o.Cooldowns = map[command.Class]time.Duration{} })
	ctx := context.Background()

	c.SetInteractionMode(device.ChannelB, true)
	require.True(t, c.Submit(ctx, command.ClassInteraction, device.ChannelA, command.OpSetTo, 11, ""))
	require.True(t, c.Submit(ctx, command.ClassInteraction, device.ChannelB, command.OpSetTo, 22, ""))

	startDispatcher(t, c)
	require.Eventually(t, func() bool { return c.QueueDepth() == 0 && len(tr.strengths()) == 1 }, time.Second, 5*time.Millisecond)

	calls := tr.ops("set_strength")
	require.Len(t, calls, 1)
	assert.Equal(t, device.ChannelB, calls[0].ch)
	assert.Equal(t, 22, calls[0].value)
}

func TestInteractionMode_DrivesClassToggle(t *testing.T) {
	c := newTestController(t, &fakeTransport{}, nil)

	c.SetInteractionMode(device.ChannelA, false)
	assert.False(t, c.ClassEnabled(command.ClassInteraction))

	assert.True(t, c.ToggleInteractionMode(device.ChannelA))
	assert.True(t, c.ClassEnabled(command.ClassInteraction))
	assert.True(t, c.InteractionMode(device.ChannelA))
	assert.False(t, c.InteractionMode(device.ChannelB))

	assert.False(t, c.ToggleInteractionMode(device.ChannelA))
	assert.False(t, c.ClassEnabled(command.ClassInteraction))
	assert.False(t, c.ToggleInteractionMode(device.Channel(7)))
}

func TestDispatch_ClassToggleAppliesToQueuedCommands(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr, nil)
	ctx := context.Background()

	require.True(t, c.Submit(ctx, command.ClassPanel, device.ChannelA, command.OpSetTo, 40, ""))
	c.SetClassEnabled(command.ClassPanel, false)
	require.True(t, c.Submit(ctx, command.ClassGUI, device.ChannelA, command.OpSetTo, 10, ""))

	startDispatcher(t, c)
	require.Eventually(t, func() bool { return c.QueueDepth() == 0 && len(tr.strengths()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{10}, tr.strengths())
}

func TestDispatch_TransportErrorDoesNotStopLoop(t *testing.T) {
	tr := &fakeTransport{failNext: errors.New("socket closed")}
	c := newTestController(t, tr, nil)
	ctx := context.Background()

	require.True(t, c.Submit(ctx, command.ClassGUI, device.ChannelA, command.OpSetTo, 1, ""))
	require.True(t, c.Submit(ctx, command.ClassGUI, device.ChannelA, command.OpSetTo, 2, ""))

	startDispatcher(t, c)
	require.Eventually(t, func() bool { return len(tr.strengths()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{2}, tr.strengths())
}

func TestDispatch_RecoversFromPanic(t *testing.T) {
	tr := &fakeTransport{panicNext: true}
	c := newTestController(t, tr, nil)
	ctx := context.Background()

	require.True(t, c.Submit(ctx, command.ClassGUI, device.ChannelA, command.OpSetTo, 1, ""))
	require.True(t, c.Submit(ctx, command.ClassGUI, device.ChannelB, command.OpSetTo, 2, ""))

	startDispatcher(t, c)
	require.Eventually(t, func() bool { return len(tr.strengths()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{2}, tr.strengths())
}

func TestDispatch_DispatchTimeCooldown(t *testing.T) {
	tr := &fakeTransport{}
	clock := newFakeClock()
	c := newTestController(t, tr, func(o *Options) { o.Now = clock.Now })
	ctx := context.Background()

	// Same explicit source, accepted at submission 100ms apart, but both
	// reach the dispatcher at the same instant.
	require.True(t, c.Submit(ctx, command.ClassPanel, device.ChannelA, command.OpSetTo, 3, "panel"))
	clock.Advance(100 * time.Millisecond)
	require.True(t, c.Submit(ctx, command.ClassPanel, device.ChannelA, command.OpSetTo, 4, "panel"))

	startDispatcher(t, c)
	require.Eventually(t, func() bool { return c.QueueDepth() == 0 && len(tr.strengths()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{3}, tr.strengths())
}

func TestAdjustStrength_ClampsToLimit(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr, nil)
	ctx := context.Background()

	require.ErrorIs(t, c.AdjustStrength(ctx, device.ChannelA, 5), ErrNoStrengthReport)

	c.UpdateStrength(ctx, device.Strength{A: 10, B: 3, ALimit: 50, BLimit: 20})

	for _, delta := range []int{-1000, -11, -10, -1, 0, 1, 39, 40, 41, 1000} {
		require.NoError(t, c.AdjustStrength(ctx, device.ChannelA, delta))
	}
	for _, delta := range []int{-4, 17, 18, 500} {
		require.NoError(t, c.AdjustStrength(ctx, device.ChannelB, delta))
	}

	calls := tr.ops("set_strength")
	require.Len(t, calls, 14)
	for _, call := range calls {
		limit := 50
		if call.ch == device.ChannelB {
			limit = 20
		}
		assert.GreaterOrEqual(t, call.value, 0)
		assert.LessOrEqual(t, call.value, limit)
	}
	assert.Equal(t, 0, calls[0].value)
	assert.Equal(t, 50, calls[9].value)
	assert.Equal(t, 20, calls[13].value)
}

func TestAdjustStrength_HugeDeltasSaturate(t *testing.T) {
	tests := []struct {
		name  string
		delta int
		want  int
	}{
		{"max int", math.MaxInt, 50},
		{"min int", math.MinInt, 0},
		{"just past device max", device.MaxStrength + 1, 50},
		{"large negative", -(1 << 40), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{}
			c := newTestController(t, tr, nil)
			ctx := context.Background()
			c.UpdateStrength(ctx, device.Strength{A: 10, ALimit: 50, BLimit: 50})

			require.NoError(t, c.AdjustStrength(ctx, device.ChannelA, tt.delta))
			assert.Equal(t, []int{tt.want}, tr.strengths())
		})
	}
}

func TestSetStrength_BoundsToDeviceMaximum(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr, nil)
	ctx := context.Background()

	require.NoError(t, c.SetStrength(ctx, device.ChannelA, 999))
	require.NoError(t, c.SetStrength(ctx, device.ChannelA, -3))
	assert.Equal(t, []int{device.MaxStrength, 0}, tr.strengths())
	assert.ErrorIs(t, c.SetStrength(ctx, device.Channel(4), 1), device.ErrUnknownChannel)
}

func TestSetPulseMode(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr, nil)
	ctx := context.Background()

	require.NoError(t, c.SetPulseMode(ctx, device.ChannelB, 3))
	assert.Equal(t, 3, c.PulseMode(device.ChannelB))

	pushes := tr.ops("set_pulse")
	require.Len(t, pushes, 1)
	assert.Equal(t, device.ChannelB, pushes[0].ch)

	w, err := c.Waveforms().Get(3)
	require.NoError(t, err)
	assert.Len(t, pushes[0].frames, len(w.Frames))

	assert.ErrorIs(t, c.SetPulseMode(ctx, device.ChannelA, 99), device.ErrUnknownWaveform)
}

func TestKeepAlive(t *testing.T) {
	tr := &fakeTransport{}
	clock := newFakeClock()
	c := newTestController(t, tr, func(o *Options) { o.Now = clock.Now })
	ctx := context.Background()

	c.keepAlive(ctx)
	assert.Empty(t, tr.ops("set_pulse"), "nothing is sent before the first strength report")

	c.UpdateStrength(ctx, device.Strength{A: 1, B: 1, ALimit: 100, BLimit: 100})
	c.keepAlive(ctx)
	assert.Len(t, tr.ops("set_pulse"), 2, "never-pushed channels are stale")

	clock.Advance(2 * time.Second)
	c.keepAlive(ctx)
	assert.Len(t, tr.ops("set_pulse"), 2)

	clock.Advance(1500 * time.Millisecond)
	c.keepAlive(ctx)
	assert.Len(t, tr.ops("set_pulse"), 4)
}

func TestKeepAlive_ConcurrentTicksPushOnce(t *testing.T) {
	tr := &fakeTransport{}
	clock := newFakeClock()
	c := newTestController(t, tr, func(o *Options) { o.Now = clock.Now })
	ctx := context.Background()
	c.UpdateStrength(ctx, device.Strength{ALimit: 100, BLimit: 100})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.keepAlive(ctx)
		}()
	}
	wg.Wait()

	pushes := tr.ops("set_pulse")
	require.Len(t, pushes, 2, "one push per stale channel")
	assert.NotEqual(t, pushes[0].ch, pushes[1].ch)
}

func TestKeepAlive_AppliesAmplitude(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr, func(o *Options) {
		o.Waveforms = device.NewLibrary(device.Waveform{Name: "flat", Frames: []device.Frame{
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{40, 60, 80, 100}},
		}})
	})
	ctx := context.Background()
	c.SetAmplitude(1.5)
	c.UpdateStrength(ctx, device.Strength{ALimit: 100, BLimit: 100})

	c.keepAlive(ctx)

	pushes := tr.ops("set_pulse")
	require.NotEmpty(t, pushes)
	assert.Equal(t, [4]int{60, 90, 100, 100}, pushes[0].frames[0].Intensity)
}

func TestRunKeepAlive_ExitsOnCancel(t *testing.T) {
	c := newTestController(t, &fakeTransport{}, func(o *Options) { o.KeepAliveInterval = time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunKeepAlive(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("keep-alive loop did not exit")
	}
}

func TestWaveformLoop_SupersedeAndStop(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr, nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, c.StartWaveformLoop(ctx, device.ChannelA, "breath"))
	cancel() // request-scoped ctx must not stop the loop
	require.Eventually(t, func() bool { return len(tr.ops("add_pulses")) >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.StartWaveformLoop(context.Background(), device.ChannelA, "rhythm"))
	assert.Equal(t, "rhythm", c.Status().Loops["A"])

	rhythm, _, err := c.Waveforms().Lookup("rhythm")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		pushes := tr.ops("add_pulses")
		return len(pushes[len(pushes)-1].frames) == len(rhythm.Frames)
	}, time.Second, 5*time.Millisecond)

	assert.True(t, c.StopWaveformLoop(device.ChannelA))
	assert.False(t, c.StopWaveformLoop(device.ChannelA))
	assert.Empty(t, c.Status().Loops)

	assert.ErrorIs(t, c.StartWaveformLoop(ctx, device.ChannelB, "missing"), device.ErrUnknownWaveform)
}

func TestFire(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr, func(o *Options) { o.FireHold = 50 * time.Millisecond })
	ctx := context.Background()
	c.UpdateStrength(ctx, device.Strength{A: 12, B: 0, ALimit: 100, BLimit: 100})

	errs := make(chan error, 1)
	go func() { errs <- c.Fire(ctx, device.ChannelA, 30) }()

	require.Eventually(t, c.FireActive, time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Fire(ctx, device.ChannelA, 80), ErrFireModeActive)

	require.NoError(t, <-errs)
	assert.False(t, c.FireActive())
	assert.Equal(t, []int{30, 12}, tr.strengths())
}

func TestFire_RestoresAfterCancel(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr, func(o *Options) { o.FireHold = time.Hour })
	c.UpdateStrength(context.Background(), device.Strength{B: 7, ALimit: 100, BLimit: 100})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- c.Fire(ctx, device.ChannelB, 40) }()
	require.Eventually(t, c.FireActive, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-errs)
	assert.Equal(t, []int{40, 7}, tr.strengths())
}

func TestDeviceStateEvents(t *testing.T) {
	bus := event.NewBus(zerolog.Nop())
	var got []string
	bus.Register(event.Wildcard, func(_ context.Context, e *event.Event) error {
		got = append(got, e.Name)
		return nil
	}, event.PriorityMonitor, "")

	c := newTestController(t, &fakeTransport{}, func(o *Options) { o.Bus = bus })
	ctx := context.Background()

	assert.Nil(t, c.SetConnected(ctx, false), "unchanged state emits nothing")
	require.NotNil(t, c.SetConnected(ctx, true))

	e := c.UpdateStrength(ctx, device.Strength{A: 5, B: 6, ALimit: 70, BLimit: 80})
	v, ok := e.Int("a_limit")
	assert.True(t, ok)
	assert.Equal(t, 70, v)

	e = c.FeedbackButton(ctx, 3)
	v, _ = e.Int("button")
	assert.Equal(t, 3, v)

	assert.Equal(t, []string{
		event.ConnectionStatusChanged,
		event.StrengthDataReceived,
		event.FeedbackButtonPressed,
	}, got)

	st := c.Status()
	assert.True(t, st.Connected)
	assert.True(t, st.StrengthKnown)
	assert.Equal(t, "breath", st.PulseMode["A"])
	assert.Equal(t, "100ms", st.Cooldowns["panel"])
}

func TestSetCooldown_AppliesToBothGates(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, &fakeTransport{}, func(o *Options) { o.Now = clock.Now })
	ctx := context.Background()

	c.SetCooldown(command.ClassGUI, time.Second)
	assert.Equal(t, time.Second, c.Cooldowns()[command.ClassGUI])
	assert.Equal(t, time.Second, c.dispatchGate.Cooldown(command.ClassGUI))

	assert.True(t, c.Submit(ctx, command.ClassGUI, device.ChannelA, command.OpSetTo, 1, "ui"))
	assert.False(t, c.Submit(ctx, command.ClassGUI, device.ChannelA, command.OpSetTo, 1, "ui"))
}
