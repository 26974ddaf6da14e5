// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package command

import (
	"maps"
	"sync"
	"time"
)

// DefaultCooldowns returns the stock cooldown table.
func DefaultCooldowns() map[Class]time.Duration {
	return map[Class]time.Duration{
		ClassGUI:         0,
		ClassPanel:       100 * time.Millisecond,
		ClassInteraction: 50 * time.Millisecond,
		ClassExternal:    200 * time.Millisecond,
	}
}

type ledgerKey struct {
	class  Class
	source string
}

// Gate debounces commands per (class, source). A rejection is not an error.
// Ledger entries live for the lifetime of the gate.
type Gate struct {
	mu        sync.Mutex
	cooldowns map[Class]time.Duration
	ledger    map[ledgerKey]time.Time
}

// NewGate builds a gate; a nil table selects DefaultCooldowns.
func NewGate(cooldowns map[Class]time.Duration) *Gate {
	if cooldowns == nil {
		cooldowns = DefaultCooldowns()
	}
	return &Gate{
		cooldowns: maps.Clone(cooldowns),
		ledger:    make(map[ledgerKey]time.Time),
	}
}

// Allow accepts iff now - last >= cooldown[class] and records now on acceptance.
func (g *Gate) Allow(class Class, source string, now time.Time) bool {
	key := ledgerKey{class: class, source: source}

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.ledger[key]; ok {
		if now.Sub(last) < g.cooldowns[class] {
			return false
		}
	}
	g.ledger[key] = now
	return true
}

// Cooldown returns the cooldown for class.
func (g *Gate) Cooldown(class Class) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldowns[class]
}

// SetCooldown replaces the cooldown for class. Negative values are treated as zero.
func (g *Gate) SetCooldown(class Class, d time.Duration) {
	if d < 0 {
		d = 0
	}
	g.mu.Lock()
	g.cooldowns[class] = d
	g.mu.Unlock()
}

// Cooldowns returns a copy of the cooldown table.
func (g *Gate) Cooldowns() map[Class]time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return maps.Clone(g.cooldowns)
}

// Sources returns the number of ledger entries.
func (g *Gate) Sources() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ledger)
}
