// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gamefeed subscribes to an external game telemetry WebSocket and
// republishes every message on the event bus as external_telemetry.
package gamefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ManuGH/dglink/internal/event"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultReconnectDelay   = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadLimit        = 1 << 20
)

// Feed status values carried by external_feed_status.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
)

// Publisher receives decoded messages.
type Publisher interface {
	Emit(ctx context.Context, name string, payload map[string]any) *event.Event
}

// Options configures a Client.
type Options struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	// RatePerSecond caps emitted messages; zero disables throttling.
	RatePerSecond float64
	Burst         int
	Logger        zerolog.Logger
}

// Status is a point-in-time view of the feed.
type Status struct {
	URL         string    `json:"url"`
	Connected   bool      `json:"connected"`
	Messages    uint64    `json:"messages"`
	Dropped     uint64    `json:"dropped"`
	Reconnects  uint64    `json:"reconnects"`
	LastMessage time.Time `json:"last_message,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// Client maintains the feed connection until its context ends.
type Client struct {
	url     string
	delay   time.Duration
	dialer  *websocket.Dialer
	bus     Publisher
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu     sync.Mutex
	status Status
}

// New validates opts and returns an idle client.
func New(bus Publisher, opts Options) (*Client, error) {
	if bus == nil {
		return nil, errors.New("gamefeed: publisher is required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("gamefeed: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("gamefeed: url scheme must be ws or wss, got %q", u.Scheme)
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = max(1, int(opts.RatePerSecond))
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &Client{
		url:     opts.URL,
		delay:   opts.ReconnectDelay,
		dialer:  &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		bus:     bus,
		limiter: limiter,
		logger:  opts.Logger.With().Str(xglog.FieldComponent, "gamefeed").Str(xglog.FieldURL, opts.URL).Logger(),
		status:  Status{URL: opts.URL},
	}, nil
}

// Run connects, reads and reconnects after a fixed delay until ctx is
// cancelled. It returns nil on cancellation.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info().Str(xglog.FieldEvent, "gamefeed.start").Msg("game feed client started")
	defer c.logger.Info().Str(xglog.FieldEvent, "gamefeed.stop").Msg("game feed client stopped")

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.setError(err)
		c.logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "gamefeed.disconnected").
			Dur("retry_in", c.delay).
			Msg("game feed connection lost")

		timer := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		metrics.GameFeedReconnectsTotal.Inc()
		c.mu.Lock()
		c.status.Reconnects++
		c.mu.Unlock()
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(DefaultReadLimit)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.setConnected(ctx, true, nil)
	defer func() {
		cause := err
		if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			cause = nil
		}
		c.setConnected(context.WithoutCancel(ctx), false, cause)
	}()

	for {
		var data []byte
		_, data, err = conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handle(ctx, data)
	}
}

// handle decodes one message and publishes it.
func (c *Client) handle(ctx context.Context, data []byte) {
	if !c.limiter.Allow() {
		metrics.GameFeedMessagesTotal.WithLabelValues("throttled").Inc()
		c.mu.Lock()
		c.status.Dropped++
		c.mu.Unlock()
		return
	}

	payload, outcome := Decode(data)
	c.mu.Lock()
	c.status.Messages++
	c.status.LastMessage = time.Now()
	c.mu.Unlock()
	metrics.GameFeedMessagesTotal.WithLabelValues(outcome).Inc()

	if outcome == "raw" {
		c.logger.Warn().Str(xglog.FieldEvent, "gamefeed.not_json").Msg("game feed message is not JSON")
	}
	c.bus.Emit(ctx, event.ExternalTelemetry, payload)
}

// Decode turns a message into an event payload. JSON objects are used as is;
// other JSON values land under "data"; anything else is passed as "raw".
func Decode(data []byte) (map[string]any, string) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return map[string]any{"raw": string(data)}, "raw"
	}
	if obj, ok := v.(map[string]any); ok {
		return obj, "emitted"
	}
	return map[string]any{"data": v}, "emitted"
}

func (c *Client) setConnected(ctx context.Context, on bool, cause error) {
	c.mu.Lock()
	changed := c.status.Connected != on
	c.status.Connected = on
	if on {
		c.status.LastError = ""
	}
	c.mu.Unlock()
	metrics.SetGameFeedConnected(on)
	if !changed {
		return
	}

	payload := map[string]any{"url": c.url, "status": StatusDisconnected}
	if on {
		payload["status"] = StatusConnected
		c.logger.Info().Str(xglog.FieldEvent, "gamefeed.connected").Msg("game feed connected")
	} else if cause != nil {
		payload["status"] = StatusError
		payload["error"] = cause.Error()
	}
	c.bus.Emit(ctx, event.ExternalFeedStatus, payload)
}

func (c *Client) setError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.status.LastError = err.Error()
	c.mu.Unlock()
}

// Status returns a snapshot of the feed state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connected reports whether the feed is currently connected.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.Connected
}
