// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownWaveform is returned for an index or name not in the library.
var ErrUnknownWaveform = errors.New("unknown waveform")

// Waveform is a named, repeatable frame sequence.
type Waveform struct {
	Name   string  `json:"name" yaml:"name"`
	Frames []Frame `json:"frames" yaml:"frames"`
}

// Library is an ordered set of waveforms. Pulse mode values carried by
// commands are indexes into it.
type Library struct {
	mu    sync.RWMutex
	items []Waveform
	index map[string]int
}

// NewLibrary builds a library from the given waveforms, in order.
func NewLibrary(waveforms ...Waveform) *Library {
	l := &Library{index: make(map[string]int)}
	for _, w := range waveforms {
		_ = l.Add(w)
	}
	return l
}

// DefaultLibrary returns the built-in waveform set.
func DefaultLibrary() *Library {
	return NewLibrary(builtinWaveforms()...)
}

// Add appends w, or replaces the frames of an existing waveform with the same name.
func (l *Library) Add(w Waveform) error {
	if w.Name == "" {
		return errors.New("waveform name is required")
	}
	if len(w.Frames) == 0 {
		return fmt.Errorf("waveform %q has no frames", w.Name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.index[w.Name]; ok {
		l.items[i] = w
		return nil
	}
	l.index[w.Name] = len(l.items)
	l.items = append(l.items, w)
	return nil
}

// Get returns the waveform at mode.
func (l *Library) Get(mode int) (Waveform, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if mode < 0 || mode >= len(l.items) {
		return Waveform{}, fmt.Errorf("%w: index %d", ErrUnknownWaveform, mode)
	}
	return l.items[mode], nil
}

// Lookup resolves a waveform by name and returns it with its index.
func (l *Library) Lookup(name string) (Waveform, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[name]
	if !ok {
		return Waveform{}, -1, fmt.Errorf("%w: %q", ErrUnknownWaveform, name)
	}
	return l.items[i], i, nil
}

// Names lists the waveform names in index order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.items))
	for i, w := range l.items {
		out[i] = w.Name
	}
	return out
}

// Len returns the number of waveforms.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func flat(freq, intensity int) Frame {
	return Frame{Freq: [4]int{freq, freq, freq, freq}, Intensity: [4]int{intensity, intensity, intensity, intensity}}
}

func builtinWaveforms() []Waveform {
	return []Waveform{
		{Name: "breath", Frames: []Frame{
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{0, 0, 0, 0}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{0, 5, 10, 20}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{20, 25, 30, 40}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{40, 45, 50, 60}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{60, 65, 70, 80}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{100, 100, 100, 100}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{100, 100, 100, 100}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{100, 100, 100, 100}},
			flat(0, 0),
			flat(0, 0),
			flat(0, 0),
		}},
		{Name: "tide", Frames: []Frame{
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{0, 0, 0, 0}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{0, 4, 8, 17}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{17, 21, 25, 33}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{50, 50, 50, 50}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{50, 54, 58, 67}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{67, 71, 75, 83}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{100, 100, 100, 100}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{100, 98, 96, 92}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{92, 90, 88, 84}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{84, 82, 80, 76}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{68, 68, 68, 68}},
		}},
		{Name: "combo", Frames: []Frame{
			flat(10, 100),
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{0, 0, 0, 0}},
			flat(10, 100),
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{100, 92, 84, 67}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{67, 58, 50, 33}},
			flat(10, 0),
			flat(10, 0),
			flat(10, 0),
		}},
		{Name: "quick_pinch", Frames: []Frame{
			flat(10, 0),
			flat(10, 100),
			flat(0, 0),
			flat(0, 0),
		}},
		{Name: "heartbeat", Frames: []Frame{
			flat(110, 100),
			flat(110, 100),
			flat(10, 0),
			flat(10, 0),
			flat(10, 0),
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{75, 75, 75, 75}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{75, 77, 79, 83}},
			{Freq: [4]int{10, 10, 10, 10}, Intensity: [4]int{83, 85, 88, 92}},
			flat(10, 100),
			flat(10, 0),
			flat(10, 0),
			flat(10, 0),
		}},
		{Name: "compress", Frames: []Frame{
			flat(25, 100),
			flat(24, 100),
			flat(23, 100),
			flat(22, 100),
			flat(21, 100),
			flat(20, 100),
			flat(19, 100),
			flat(18, 100),
			flat(17, 100),
			flat(16, 100),
			flat(15, 100),
			flat(10, 100),
		}},
		{Name: "rhythm", Frames: []Frame{
			flat(10, 0),
			flat(10, 100),
			flat(10, 0),
			flat(10, 100),
			flat(10, 0),
			flat(10, 0),
			flat(10, 100),
			flat(10, 100),
		}},
	}
}
