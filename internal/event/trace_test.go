// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package event

import (
	"context"
	"testing"

	"github.com/ManuGH/dglink/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestEmit_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	bus := newTestBus()
	bus.tracer = tp.Tracer("test")

	bus.Register("x", func(_ context.Context, e *Event) error {
		e.Cancel()
		return nil
	}, PriorityHigh, "")
	bus.Register("x", func(context.Context, *Event) error { return nil }, PriorityLow, "")
	bus.Emit(context.Background(), "x", nil)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "event.emit", spans[0].Name())

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "x", attrs[telemetry.EventNameKey].AsString())
	assert.Equal(t, int64(1), attrs[telemetry.EventHandlersKey].AsInt64())
	assert.True(t, attrs[telemetry.EventCancelledKey].AsBool())
}
