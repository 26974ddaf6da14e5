// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package event

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/metrics"
	"github.com/ManuGH/dglink/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Handler receives an emission. Returning an error only logs it.
type Handler func(ctx context.Context, e *Event) error

// HandlerID identifies a registration for Unregister.
type HandlerID uint64

// HandlerError describes a handler that failed or panicked.
type HandlerError struct {
	Event    string
	Owner    string
	Handler  HandlerID
	Panicked bool
	Err      error
}

func (e *HandlerError) Error() string {
	owner := e.Owner
	if owner == "" {
		owner = "core"
	}
	if e.Panicked {
		return fmt.Sprintf("handler %d (%s) for %q panicked: %v", e.Handler, owner, e.Event, e.Err)
	}
	return fmt.Sprintf("handler %d (%s) for %q failed: %v", e.Handler, owner, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type registration struct {
	id       HandlerID
	handler  Handler
	priority Priority
	owner    string
}

// Bus is a priority-ordered publish/subscribe hub. Handlers run serially in
// the emitting goroutine: the exact-name tier first, then the wildcard tier.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	nextID   HandlerID

	logger zerolog.Logger
	tracer trace.Tracer
}

// NewBus returns an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]registration),
		logger:   logger.With().Str(xglog.FieldComponent, "event").Logger(),
		tracer:   telemetry.Tracer("dglink/event"),
	}
}

// Register adds h for name. owner tags the registration for UnregisterAll and
// for failure logs; it may be empty for core handlers.
func (b *Bus) Register(name string, h Handler, p Priority, owner string) HandlerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	// Emit iterates snapshots without the lock, so never mutate a published slice.
	list := append(slices.Clone(b.handlers[name]), registration{id: id, handler: h, priority: p, owner: owner})
	// Stable sort keeps registration order among equal priorities.
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].priority.rank() > list[j].priority.rank()
	})
	b.handlers[name] = list
	metrics.EventHandlersRegistered.Inc()

	b.logger.Debug().
		Str(xglog.FieldEventName, name).
		Str(xglog.FieldPriority, p.String()).
		Str(xglog.FieldPlugin, owner).
		Uint64(xglog.FieldHandlerID, uint64(id)).
		Msg("handler registered")
	return id
}

// Unregister removes one registration. It reports whether it existed.
func (b *Bus) Unregister(name string, id HandlerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[name]
	idx := slices.IndexFunc(list, func(r registration) bool { return r.id == id })
	if idx < 0 {
		return false
	}
	b.store(name, slices.Delete(slices.Clone(list), idx, idx+1))
	metrics.EventHandlersRegistered.Dec()
	return true
}

// UnregisterAll removes every registration tagged with owner and returns how
// many were removed.
func (b *Bus) UnregisterAll(owner string) int {
	if owner == "" {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for name, list := range b.handlers {
		kept := slices.DeleteFunc(slices.Clone(list), func(r registration) bool { return r.owner == owner })
		if n := len(list) - len(kept); n > 0 {
			removed += n
			b.store(name, kept)
		}
	}
	metrics.EventHandlersRegistered.Sub(float64(removed))
	if removed > 0 {
		b.logger.Debug().
			Str(xglog.FieldPlugin, owner).
			Int("removed", removed).
			Msg("handlers unregistered for owner")
	}
	return removed
}

// store must be called with mu held.
func (b *Bus) store(name string, list []registration) {
	if len(list) == 0 {
		delete(b.handlers, name)
		return
	}
	b.handlers[name] = list
}

// Emit delivers a new event to the handlers of name, then to the wildcard
// handlers, and returns it once every handler has run.
//
// After a handler cancels the event the remaining non-Monitor handlers of both
// tiers are skipped. Monitor handlers always observe and cannot change the
// cancellation state.
func (b *Bus) Emit(ctx context.Context, name string, payload map[string]any) *Event {
	if ctx == nil {
		ctx = context.Background()
	}
	e := New(name, payload)

	b.mu.RLock()
	named := b.handlers[name]
	var wildcard []registration
	if name != Wildcard {
		wildcard = b.handlers[Wildcard]
	}
	b.mu.RUnlock()

	total := len(named) + len(wildcard)
	ctx, span := b.tracer.Start(ctx, "event.emit")
	defer span.End()

	invoked := b.dispatch(ctx, e, named)
	invoked += b.dispatch(ctx, e, wildcard)

	span.SetAttributes(telemetry.EventAttributes(name, invoked, e.Cancelled())...)
	metrics.RecordEmit(name, total, e.Cancelled())

	b.logger.Debug().
		Str(xglog.FieldEventName, name).
		Int("handlers", total).
		Int("invoked", invoked).
		Bool("cancelled", e.Cancelled()).
		Msg("event emitted")
	return e
}

func (b *Bus) dispatch(ctx context.Context, e *Event, list []registration) int {
	invoked := 0
	for _, reg := range list {
		if reg.priority == PriorityMonitor {
			was := e.Cancelled()
			b.invoke(ctx, e, reg)
			e.cancelled.Store(was)
			invoked++
			continue
		}
		if e.Cancelled() {
			continue
		}
		b.invoke(ctx, e, reg)
		invoked++
	}
	return invoked
}

func (b *Bus) invoke(ctx context.Context, e *Event, reg registration) {
	defer func() {
		if r := recover(); r != nil {
			b.fail(&HandlerError{
				Event:    e.Name,
				Owner:    reg.owner,
				Handler:  reg.id,
				Panicked: true,
				Err:      fmt.Errorf("%v", r),
			})
		}
	}()
	if reg.owner != "" {
		ctx = xglog.ContextWithPlugin(ctx, reg.owner)
	}
	if err := reg.handler(ctx, e); err != nil {
		b.fail(&HandlerError{Event: e.Name, Owner: reg.owner, Handler: reg.id, Err: err})
	}
}

func (b *Bus) fail(herr *HandlerError) {
	metrics.RecordHandlerFailure(herr.Event, herr.Owner, herr.Panicked)
	b.logger.Error().
		Err(herr).
		Str(xglog.FieldEvent, "event.handler_failed").
		Str(xglog.FieldEventName, herr.Event).
		Str(xglog.FieldPlugin, herr.Owner).
		Bool("panic", herr.Panicked).
		Msg("event handler failed")
}

// Names returns the event names that have at least one handler, sorted.
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandlerCount returns the number of handlers registered for name.
func (b *Bus) HandlerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Registration describes a handler for introspection.
type Registration struct {
	ID       HandlerID `json:"id"`
	Priority string    `json:"priority"`
	Owner    string    `json:"owner,omitempty"`
}

// Handlers returns every registration grouped by event name, in dispatch order.
func (b *Bus) Handlers() map[string][]Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]Registration, len(b.handlers))
	for name, list := range b.handlers {
		regs := make([]Registration, len(list))
		for i, r := range list {
			regs[i] = Registration{ID: r.id, Priority: r.priority.String(), Owner: r.owner}
		}
		out[name] = regs
	}
	return out
}
