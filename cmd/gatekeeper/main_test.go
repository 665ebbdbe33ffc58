// ABOUTME: Tests for the gatekeeper command helpers
// ABOUTME: Covers flag parsing, the hash command, and the colorized log handler

package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]string
		wantErr string
	}{
		{"value pairs", []string{"--login", "a@b", "--name=Ann"}, map[string]string{"login": "a@b", "name": "Ann"}, ""},
		{"bool flag", []string{"--prompt", "--login", "a"}, map[string]string{"prompt": "true", "login": "a"}, ""},
		{"missing value", []string{"--login"}, nil, "--login requires a value"},
		{"unknown flag", []string{"--nope"}, nil, "unknown flag"},
		{"positional", []string{"stray"}, nil, "unexpected argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args, []string{"login", "name"}, []string{"prompt"})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestRunHash_RejectsEmpty(t *testing.T) {
	if err := runHash(strings.NewReader("\n")); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestColorHandler(t *testing.T) {
	var out bytes.Buffer
	h := &colorHandler{out: &out, mu: &sync.Mutex{}, level: slog.LevelInfo}
	logger := slog.New(h).With("component", "auth").WithGroup("req")

	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled at info level")
	}

	logger.Warn("auth failure", "reason", "expired_token")
	line := out.String()
	for _, want := range []string{"WRN", "auth failure", "component=", "auth", "req.reason=", "expired_token"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}

	r := slog.NewRecord(time.Now(), slog.LevelDebug, "hidden", 0)
	if h.Enabled(context.Background(), r.Level) {
		t.Error("record below level should not be enabled")
	}
}
