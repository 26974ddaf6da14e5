// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
)

func TestStructuredBufferWriter_Framing(t *testing.T) {
	ClearRecentLogs()
	w := &structuredBufferWriter{}

	// 1. Split write: half line + rest\n
	line1Part1 := `{"time":"2026-01-01T00:00:00Z","level":"info","component":"controller","event":"test.split","message":"part1`
	line1Part2 := `_part2"}` + "\n"

	w.Write([]byte(line1Part1))
	if len(GetRecentLogs()) != 0 {
		t.Errorf("expected 0 logs after partial write, got %d", len(GetRecentLogs()))
	}

	w.Write([]byte(line1Part2))
	logs := GetRecentLogs()
	if len(logs) != 1 {
		t.Fatalf("expected 1 log after full write, got %d", len(logs))
	}
	if logs[0].Fields["event"] != "test.split" {
		t.Errorf("expected event test.split, got %v", logs[0].Fields["event"])
	}
	if logs[0].Message != "part1_part2" {
		t.Errorf("expected reassembled message, got %q", logs[0].Message)
	}

	// 2. Multi-line burst
	line2 := `{"time":"2026-01-01T00:00:01Z","level":"info","component":"plugin","event":"plugin.enabled","message":"msg1"}` + "\n"
	line3 := `{"time":"2026-01-01T00:00:02Z","level":"info","event":"request.handled","message":"msg2"}` + "\n"

	w.Write([]byte(line2 + line3))
	logs = GetRecentLogs()
	if len(logs) != 3 {
		t.Fatalf("expected 3 logs total, got %d", len(logs))
	}
	if logs[1].Component != "plugin" {
		t.Errorf("expected component plugin, got %q", logs[1].Component)
	}
}

func TestStructuredBufferWriter_Bounds(t *testing.T) {
	ClearRecentLogs()
	w := &structuredBufferWriter{}

	// 1. MaxPartialBytes Overflow
	giantChunk := strings.Repeat("A", maxPartialBytes+1) // no newline
	w.Write([]byte(giantChunk))

	if w.partial.Len() != 0 {
		t.Error("partial buffer should have been reset after overflow")
	}
	metrics := GetBufferMetrics()
	if metrics.DroppedPartialOverflow == 0 {
		t.Error("expected DroppedPartialOverflow metric to be incremented")
	}

	// 2. MaxLineBytes Drop
	ClearRecentLogs()
	giantLine := `{"level":"info","component":"controller","event":"too.big","msg":"` + strings.Repeat("B", maxLineBytes) + `"}` + "\n"
	w.Write([]byte(giantLine))

	if len(GetRecentLogs()) != 0 {
		t.Error("giant line should have been dropped")
	}
	metrics = GetBufferMetrics()
	if metrics.DroppedTooLargeLines == 0 {
		t.Error("expected DroppedTooLargeLines metric to be incremented")
	}

	// 3. Not JSON
	w.Write([]byte("plain text line\n"))
	if GetBufferMetrics().DroppedInvalid == 0 {
		t.Error("expected DroppedInvalid metric to be incremented")
	}
}

func TestStructuredBufferWriter_RelevanceFilter(t *testing.T) {
	ClearRecentLogs()
	w := &structuredBufferWriter{}

	w.Write([]byte(`{"level":"warn","component":"event","event":"event.handler_failed","message":"boom"}` + "\n"))
	w.Write([]byte(`{"level":"info","event":"request.handled","message":"ok"}` + "\n"))
	w.Write([]byte(`{"level":"debug","component":"command","message":"cooldown reject"}` + "\n"))

	logs := GetRecentLogs()
	if len(logs) != 2 {
		t.Errorf("expected 2 logs (warn + request), got %d", len(logs))
	}

	metrics := GetBufferMetrics()
	if metrics.DroppedIrrelevant == 0 {
		t.Error("expected DroppedIrrelevant metric to be incremented")
	}
}

func TestStructuredBufferWriter_RingIsBounded(t *testing.T) {
	ClearRecentLogs()
	w := &structuredBufferWriter{}

	for i := 0; i < maxRecentLogs+25; i++ {
		w.Write([]byte(`{"level":"info","message":"x"}` + "\n"))
	}
	if got := len(GetRecentLogs()); got != maxRecentLogs {
		t.Errorf("expected ring capped at %d, got %d", maxRecentLogs, got)
	}
}

func TestConfigure_TeesIntoRecentLogs(t *testing.T) {
	ClearRecentLogs()
	var out bytes.Buffer
	Configure(Config{Level: "info", Output: &out, Service: "dglink-test", Version: "v0.0.0"})
	defer Configure(Config{})

	l := WithComponent("controller")
	l.Info().Str(FieldEvent, "controller.started").Msg("started")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &line); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if line["service"] != "dglink-test" || line["version"] != "v0.0.0" {
		t.Errorf("unexpected service/version fields: %v", line)
	}
	if line[FieldComponent] != "controller" {
		t.Errorf("expected component field, got %v", line[FieldComponent])
	}

	logs := GetRecentLogs()
	if len(logs) != 1 || logs[0].Event != "controller.started" {
		t.Fatalf("expected tee'd log line, got %+v", logs)
	}
}

func TestMiddleware_LogsRequest(t *testing.T) {
	ClearRecentLogs()
	var out bytes.Buffer
	Configure(Config{Level: "info", Output: &out})
	defer Configure(Config{})

	var sawRequestID string
	h := chimw.RequestID(Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRequestID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/plugins", nil))

	if sawRequestID == "" {
		t.Error("expected request id in handler context")
	}
	if !strings.Contains(out.String(), `"event":"request.handled"`) {
		t.Errorf("expected request.handled line, got %s", out.String())
	}
	if !strings.Contains(out.String(), `"status":418`) {
		t.Errorf("expected status 418 in log line, got %s", out.String())
	}
}
