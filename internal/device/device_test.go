// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    Channel
		wantErr bool
	}{
		{in: "A", want: ChannelA},
		{in: "b", want: ChannelB},
		{in: " 1 ", want: ChannelA},
		{in: "2", want: ChannelB},
		{in: "C", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChannel(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownChannel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStrength_Clamp(t *testing.T) {
	s := Strength{A: 10, B: 50, ALimit: 40, BLimit: 80}

	assert.Equal(t, 40, s.Clamp(ChannelA, 55))
	assert.Equal(t, 0, s.Clamp(ChannelA, -3))
	assert.Equal(t, 70, s.Clamp(ChannelB, 70))
	assert.Equal(t, 80, s.Clamp(ChannelB, 81))
	assert.Equal(t, 50, s.Value(ChannelB))
	assert.Equal(t, 40, s.Limit(ChannelA))
}

func TestFrame_Scale(t *testing.T) {
	f := Frame{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{0, 40, 80, 100}}

	half := f.Scale(0.5)
	assert.Equal(t, [4]int{0, 20, 40, 50}, half.Intensity)
	assert.Equal(t, f.Freq, half.Freq)

	boosted := f.Scale(2)
	assert.Equal(t, [4]int{0, 80, 100, 100}, boosted.Intensity)

	negative := f.Scale(-1)
	assert.Equal(t, [4]int{0, 0, 0, 0}, negative.Intensity)
}

func TestLibrary(t *testing.T) {
	lib := DefaultLibrary()
	require.Greater(t, lib.Len(), 3)

	w, idx, err := lib.Lookup("breath")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.NotEmpty(t, w.Frames)

	_, err = lib.Get(lib.Len())
	assert.ErrorIs(t, err, ErrUnknownWaveform)

	custom := Waveform{Name: "custom", Frames: []Frame{{Freq: [4]int{20, 20, 20, 20}}}}
	require.NoError(t, lib.Add(custom))
	got, err := lib.Get(lib.Len() - 1)
	require.NoError(t, err)
	assert.Equal(t, "custom", got.Name)

	// Re-adding by name replaces in place.
	before := lib.Len()
	custom.Frames = append(custom.Frames, Frame{})
	require.NoError(t, lib.Add(custom))
	assert.Equal(t, before, lib.Len())

	assert.Error(t, lib.Add(Waveform{Name: "empty"}))
	assert.Error(t, lib.Add(Waveform{Frames: []Frame{{}}}))
}

func TestLogTransport(t *testing.T) {
	tr := NewLogTransport(zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, tr.SetStrength(ctx, ChannelA, StrengthSet, 30))
	require.NoError(t, tr.SetStrength(ctx, ChannelA, StrengthIncrease, 5))
	assert.Equal(t, 35, tr.Strength(ChannelA))

	require.NoError(t, tr.SetStrength(ctx, ChannelB, StrengthDecrease, 5))
	assert.Equal(t, 0, tr.Strength(ChannelB))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := tr.SetPulse(cancelled, ChannelA, nil)
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "set_pulse", terr.Op)
	assert.ErrorIs(t, err, context.Canceled)
}
