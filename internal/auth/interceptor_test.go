// ABOUTME: Unit tests for gRPC auth interceptors
// ABOUTME: Tests authentication and authorization flow with metadata contexts and a MockStore

package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/2389/gatekeeper/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Helper to create test context with authorization header
func contextWithAuth(token string) context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	})
	return metadata.NewIncomingContext(context.Background(), md)
}

// mockServerStream implements grpc.ServerStream for stream interceptor tests.
type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context { return m.ctx }

func TestUnaryInterceptor_ValidToken(t *testing.T) {
	f := newFixture(t)
	f.role(t, "user")
	f.identity(t, "id-1", "alice", "user")
	tok := f.issue(t, "id-1")

	interceptor := UnaryInterceptor(f.authenticator(), nil)

	var captured *AuthContext
	handler := func(ctx context.Context, req any) (any, error) {
		captured = FromContext(ctx)
		return "response", nil
	}

	resp, err := interceptor(contextWithAuth(tok.Raw), nil, &grpc.UnaryServerInfo{FullMethod: "/svc.A/Call"}, handler)
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if resp != "response" {
		t.Errorf("response = %v, want response", resp)
	}
	if captured == nil || captured.IdentityID() != "id-1" {
		t.Fatalf("AuthContext = %+v, want identity id-1", captured)
	}
}

func TestUnaryInterceptor_Failures(t *testing.T) {
	f := newFixture(t)
	f.identity(t, "id-1", "alice")
	tok := f.issue(t, "id-1")
	interceptor := UnaryInterceptor(f.authenticator(), nil)

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{"no metadata", context.Background()},
		{"no authorization", metadata.NewIncomingContext(context.Background(), metadata.New(nil))},
		{"wrong scheme", metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Token "+tok.Raw))},
		{"tampered", contextWithAuth(flipSignatureByte(t, tok.Raw, 0))},
		{"unknown subject", func() context.Context {
			ghost, err := f.tokens.Issue(&store.Identity{ID: "ghost"}, 0)
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}
			return contextWithAuth(ghost.Raw)
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			_, err := interceptor(tt.ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc.A/Call"}, func(ctx context.Context, req any) (any, error) {
				called = true
				return nil, nil
			})
			if status.Code(err) != codes.Unauthenticated {
				t.Fatalf("code = %v, want Unauthenticated (err %v)", status.Code(err), err)
			}
			if called {
				t.Error("handler called on failed authentication")
			}
		})
	}
}

func TestUnaryInterceptor_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.identity(t, "id-1", "alice")
	tok := f.issue(t, "id-1")
	f.store.SetError(errors.New("database is locked"))

	_, err := UnaryInterceptor(f.authenticator(), nil)(contextWithAuth(tok.Raw), nil, &grpc.UnaryServerInfo{FullMethod: "/svc.A/Call"},
		func(ctx context.Context, req any) (any, error) { return nil, nil })
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v, want Internal", status.Code(err))
	}
}

func TestUnaryInterceptor_PublicMethods(t *testing.T) {
	f := newFixture(t)
	interceptor := UnaryInterceptor(f.authenticator(), nil, "/grpc.health.v1.Health/", "/svc.A/Ping")

	for _, method := range []string{"/grpc.health.v1.Health/Check", "/svc.A/Ping"} {
		called := false
		_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, req any) (any, error) {
			called = true
			return nil, nil
		})
		if err != nil || !called {
			t.Errorf("%s: err = %v, called = %v; want public access", method, err, called)
		}
	}

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc.A/PingPong"}, func(ctx context.Context, req any) (any, error) {
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("/svc.A/PingPong code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestStreamInterceptor(t *testing.T) {
	f := newFixture(t)
	f.identity(t, "id-1", "alice")
	tok := f.issue(t, "id-1")
	interceptor := StreamInterceptor(f.authenticator(), nil)

	var captured *AuthContext
	err := interceptor(nil, &mockServerStream{ctx: contextWithAuth(tok.Raw)}, &grpc.StreamServerInfo{FullMethod: "/svc.A/Watch"},
		func(srv any, ss grpc.ServerStream) error {
			captured = FromContext(ss.Context())
			return nil
		})
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if captured == nil || captured.IdentityID() != "id-1" {
		t.Fatalf("AuthContext = %+v, want identity id-1", captured)
	}

	err = interceptor(nil, &mockServerStream{ctx: context.Background()}, &grpc.StreamServerInfo{FullMethod: "/svc.A/Watch"},
		func(srv any, ss grpc.ServerStream) error { return nil })
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestRequireUnary(t *testing.T) {
	f := newFixture(t)
	f.role(t, "editor", "write")
	f.identity(t, "id-1", "alice", "editor")
	tok := f.issue(t, "id-1")

	authn := UnaryInterceptor(f.authenticator(), nil)
	authz := RequireUnary(map[string]Requirement{
		"/svc.A/Write":  Any("write"),
		"/svc.A/Delete": All("write", "delete"),
		"/svc.Admin/":   Any("admin"),
	}, nil)
	chain := func(method string) error {
		_, err := authn(contextWithAuth(tok.Raw), nil, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, req any) (any, error) {
			return authz(ctx, req, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, req any) (any, error) {
				return "ok", nil
			})
		})
		return err
	}

	tests := []struct {
		method string
		want   codes.Code
	}{
		{"/svc.A/Write", codes.OK},
		{"/svc.A/Read", codes.OK},
		{"/svc.A/Delete", codes.PermissionDenied},
		{"/svc.Admin/ListEverything", codes.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := status.Code(chain(tt.method)); got != tt.want {
				t.Errorf("code = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequireUnary_Misordered(t *testing.T) {
	authz := RequireUnary(map[string]Requirement{"/svc.A/Write": Any("write")}, nil)

	called := false
	_, err := authz(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc.A/Write"}, func(ctx context.Context, req any) (any, error) {
		called = true
		return nil, nil
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v, want Internal", status.Code(err))
	}
	if called {
		t.Error("handler called without authentication")
	}
}

func TestRequireStream(t *testing.T) {
	f := newFixture(t)
	f.identity(t, "id-1", "alice")
	ac, err := NewResolver(f.store).Resolve(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	authz := RequireStream(map[string]Requirement{"/grpc.reflection.v1.ServerReflection/": Any("admin")}, nil)
	ss := &mockServerStream{ctx: WithAuth(context.Background(), ac)}
	err = authz(nil, ss, &grpc.StreamServerInfo{FullMethod: "/grpc.reflection.v1.ServerReflection/ServerReflectionInfo"},
		func(srv any, ss grpc.ServerStream) error { return nil })
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("code = %v, want PermissionDenied", status.Code(err))
	}
}

func TestRequirementFor_LongestPrefix(t *testing.T) {
	reqs := map[string]Requirement{
		"/pkg.":            Any("outer"),
		"/pkg.Svc/":        Any("service"),
		"/pkg.Svc/Special": Any("exact"),
	}

	if r, _ := requirementFor(reqs, "/pkg.Svc/Special"); r.Items[0] != "exact" {
		t.Errorf("exact match = %v, want exact", r.Items)
	}
	if r, _ := requirementFor(reqs, "/pkg.Svc/Other"); r.Items[0] != "service" {
		t.Errorf("prefix match = %v, want service", r.Items)
	}
	if _, ok := requirementFor(reqs, "/pkg.Other/Call"); ok {
		t.Error("patterns not ending in / must not prefix-match")
	}
}
