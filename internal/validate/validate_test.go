// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_AccumulatesErrors(t *testing.T) {
	v := New()
	v.Range("step", 0, 1, 10)
	v.OneOf("protocol", "udp", []string{"grpc", "http"})
	v.NotEmpty("name", "   ")
	v.Positive("burst", 3)

	require.False(t, v.IsValid())
	err := v.Err()
	require.Error(t, err)

	var verr ValidationError
	require.True(t, errors.As(err, &verr))
	fields := make([]string, 0, len(verr.Errors()))
	for _, e := range verr.Errors() {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"step", "protocol", "name"}, fields)
	assert.Contains(t, err.Error(), "; ")
}

func TestValidator_ValidIsNil(t *testing.T) {
	v := New()
	v.Range("step", 5, 1, 10)
	v.FloatRange("amplitude", 0.5, 0, 1)
	v.DurationRange("hold", time.Second, 0, time.Minute)
	assert.True(t, v.IsValid())
	assert.NoError(t, v.Err())
}

func TestValidator_URL(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"ws://127.0.0.1:11398", true},
		{"wss://feed.example/ws", true},
		{"http://feed.example", false},
		{"ws://", false},
		{"", false},
	}
	for _, tc := range tests {
		v := New()
		v.URL("feed", tc.value, []string{"ws", "wss"})
		assert.Equal(t, tc.ok, v.IsValid(), tc.value)
	}
}

func TestValidator_ListenAddr(t *testing.T) {
	for addr, ok := range map[string]bool{
		":8088":          true,
		"127.0.0.1:9090": true,
		"localhost:0":    true,
		"[::1]:80":       true,
		"8088":           false,
		"host.name:80":   false,
		":99999":         false,
	} {
		v := New()
		v.ListenAddr("listen", addr)
		assert.Equal(t, ok, v.IsValid(), addr)
	}
}

func TestParseLogLevel(t *testing.T) {
	l, err := ParseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, l)

	_, err = ParseLogLevel("loud")
	assert.Equal(t, ErrInvalidLogLevel, err)
}
