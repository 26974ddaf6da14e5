// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantCode     int
		wantContains string
	}{
		{
			name:         "valid",
			body:         "logLevel: debug\npanel:\n  step: 10\n",
			wantCode:     0,
			wantContains: "is valid",
		},
		{
			name:         "unknown_field",
			body:         "panel:\n  stride: 10\n",
			wantCode:     1,
			wantContains: "stride",
		},
		{
			name:         "out_of_range",
			body:         "panel:\n  step: 500\n",
			wantCode:     1,
			wantContains: "panel.step",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestConfig(t, tt.body)
			var stdout, stderr bytes.Buffer
			code := runConfigCLI([]string{"validate", "-f", path}, &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (stderr: %s)", code, tt.wantCode, stderr.String())
			}
			out := stdout.String() + stderr.String()
			if !strings.Contains(out, tt.wantContains) {
				t.Errorf("output %q does not contain %q", out, tt.wantContains)
			}
		})
	}
}

func TestConfigValidate_RequiresFile(t *testing.T) {
	t.Setenv("DGLINK_CONFIG", "")
	t.Chdir(t.TempDir())

	var stdout, stderr bytes.Buffer
	if code := runConfigCLI([]string{"validate"}, &stdout, &stderr); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestConfigDump_RedactsToken(t *testing.T) {
	path := writeTestConfig(t, "api:\n  token: hunter2\n")

	var stdout, stderr bytes.Buffer
	code := runConfigCLI([]string{"dump", "--effective", "-f", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d (stderr: %s)", code, stderr.String())
	}
	if strings.Contains(stdout.String(), "hunter2") {
		t.Fatal("token leaked into dump output")
	}
	if !strings.Contains(stdout.String(), "***") {
		t.Errorf("dump output missing redacted token:\n%s", stdout.String())
	}
}

func TestConfigDump_JSON(t *testing.T) {
	path := writeTestConfig(t, "controller:\n  amplitude: 0.5\n")

	var stdout, stderr bytes.Buffer
	code := runConfigCLI([]string{"dump", "--effective", "--format=json", "-f", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d (stderr: %s)", code, stderr.String())
	}
	var got map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	ctrl, _ := got["controller"].(map[string]any)
	if ctrl["amplitude"] != 0.5 {
		t.Errorf("amplitude = %v, want 0.5", ctrl["amplitude"])
	}
}

func TestConfigCLI_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runConfigCLI(nil, &stdout, &stderr); code != 0 {
		t.Errorf("help exit code = %d, want 0", code)
	}
	if code := runConfigCLI([]string{"frobnicate"}, &stdout, &stderr); code != 2 {
		t.Errorf("unknown subcommand exit code = %d, want 2", code)
	}
	if code := runConfigCLI([]string{"dump"}, &stdout, &stderr); code != 2 {
		t.Errorf("dump without --effective exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Error("usage not printed")
	}
}
