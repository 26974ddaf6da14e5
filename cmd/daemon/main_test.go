// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"testing"

	"github.com/ManuGH/dglink/internal/config"
)

func TestMaskURL_GameFeedAddresses(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		want   string
	}{
		{"default feed", config.Defaults().GameFeed.URL, "ws://127.0.0.1:11398"},
		{"secure feed with path", "wss://feed.example.net/v1/stream", "wss://feed.example.net/v1/stream"},
		{"feed with credentials", "ws://player:hunter2@192.168.1.40:11398/events", "ws://192.168.1.40:11398/events"},
		{"user without password", "wss://player@feed.example.net", "wss://feed.example.net"},
		{"token in query survives", "ws://bot:pw@[::1]:11398/?room=7", "ws://[::1]:11398/?room=7"},
		{"bad port", "ws://host:port/x", "invalid-url-redacted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskURL(tt.rawURL); got != tt.want {
				t.Errorf("maskURL(%q) = %q, want %q", tt.rawURL, got, tt.want)
			}
		})
	}
}

func TestRedactSecrets(t *testing.T) {
	cfg := config.Defaults()
	redactSecrets(&cfg)
	if cfg.API.Token != "" {
		t.Errorf("empty token became %q", cfg.API.Token)
	}

	cfg.API.Token = "hunter2"
	redactSecrets(&cfg)
	if cfg.API.Token != "***" {
		t.Errorf("token = %q, want ***", cfg.API.Token)
	}
	redactSecrets(nil)
}
