// ABOUTME: Tests for the admin CLI's HTTP client and argument helpers
// ABOUTME: Uses an httptest server standing in for the gatekeeper API

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/2389/gatekeeper/internal/gateway"
)

func TestAPIClient_SendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("role"); got != "admin" {
			t.Errorf("role query = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"hello": "world"})
	}))
	defer srv.Close()

	var out map[string]string
	c := newAPIClient(srv.URL+"/", "tok")
	if err := c.do(context.Background(), http.MethodGet, "/api/identities", url.Values{"role": {"admin"}}, nil, &out); err != nil {
		t.Fatalf("do() error = %v", err)
	}
	if out["hello"] != "world" {
		t.Errorf("decoded %v", out)
	}
}

func TestAPIClient_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"permission denied","missing":"roles:read"}`))
	}))
	defer srv.Close()

	err := newAPIClient(srv.URL, "tok").do(context.Background(), http.MethodPut, "/api/identities/x/roles/y", nil, nil, nil)

	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *apiError", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Missing != "roles:read" {
		t.Errorf("apiError = %+v", apiErr)
	}
	if want := "403 Forbidden: permission denied (missing roles:read)"; apiErr.Error() != want {
		t.Errorf("Error() = %q, want %q", apiErr.Error(), want)
	}
}

func TestCmdPasswd_SendsBothSecrets(t *testing.T) {
	var got gateway.UpdateMeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/me" {
			t.Errorf("request = %s %s, want PATCH /api/me", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(gateway.IdentityResponse{ID: "id-1"})
	}))
	defer srv.Close()

	in := strings.NewReader("old password\nnew password\r\n")
	if err := cmdPasswd(context.Background(), newAPIClient(srv.URL, "tok"), in); err != nil {
		t.Fatalf("cmdPasswd() error = %v", err)
	}
	if got.CurrentSecret != "old password" || got.NewSecret != "new password" {
		t.Errorf("body = %+v", got)
	}
	if got.DisplayName != nil {
		t.Errorf("display_name sent unexpectedly: %q", *got.DisplayName)
	}
}

func TestCmdPasswd_RequiresToken(t *testing.T) {
	if err := cmdPasswd(context.Background(), newAPIClient("http://unused", ""), strings.NewReader("a\nb\n")); err == nil {
		t.Fatal("cmdPasswd() without token: want error")
	}
}

func TestFlagValue(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantValue string
		wantRest  int
		wantErr   bool
	}{
		{"separate value", []string{"id1", "--ttl", "1h"}, "1h", 1, false},
		{"equals form", []string{"--ttl=2h", "id1"}, "2h", 1, false},
		{"absent", []string{"id1"}, "", 1, false},
		{"missing value", []string{"id1", "--ttl"}, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, rest, err := flagValue(tt.args, "ttl")
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if v != tt.wantValue || len(rest) != tt.wantRest {
				t.Errorf("flagValue() = %q, %v", v, rest)
			}
		})
	}
}

func TestBaseURL(t *testing.T) {
	t.Setenv("GATEKEEPER_URL", "")
	t.Setenv("GATEKEEPER_HOST", "")
	if got := baseURL(); got != "http://localhost:8080" {
		t.Errorf("default baseURL() = %q", got)
	}

	t.Setenv("GATEKEEPER_HOST", "gatekeeper.tailnet")
	if got := baseURL(); got != "http://gatekeeper.tailnet" {
		t.Errorf("host baseURL() = %q", got)
	}

	t.Setenv("GATEKEEPER_URL", "https://auth.example.com")
	if got := baseURL(); got != "https://auth.example.com" {
		t.Errorf("url baseURL() = %q", got)
	}
}
