// ABOUTME: gRPC interceptors for the authentication and authorization gates
// ABOUTME: Reads bearer tokens from metadata and enforces per-method requirements

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("auth failure", baseAttrs...)
}

// methodMatcher matches full gRPC method names exactly, or by service prefix
// when the pattern ends in "/" (e.g. "/grpc.health.v1.Health/").
type methodMatcher []string

func (m methodMatcher) matches(fullMethod string) bool {
	for _, p := range m {
		if p == fullMethod || (strings.HasSuffix(p, "/") && strings.HasPrefix(fullMethod, p)) {
			return true
		}
	}
	return false
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates every
// method except publicMethods.
func UnaryInterceptor(a *Authenticator, logger *slog.Logger, publicMethods ...string) grpc.UnaryServerInterceptor {
	public := methodMatcher(publicMethods)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if public.matches(info.FullMethod) {
			return handler(ctx, req)
		}
		authCtx, err := extractAuth(ctx, a, logger, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(WithAuth(ctx, authCtx), req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authenticates every
// method except publicMethods.
func StreamInterceptor(a *Authenticator, logger *slog.Logger, publicMethods ...string) grpc.StreamServerInterceptor {
	public := methodMatcher(publicMethods)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if public.matches(info.FullMethod) {
			return handler(srv, ss)
		}
		authCtx, err := extractAuth(ss.Context(), a, logger, info.FullMethod)
		if err != nil {
			return err
		}
		wrapped := &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithAuth(ss.Context(), authCtx),
		}
		return handler(srv, wrapped)
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

// extractAuth authenticates the bearer token carried in gRPC metadata.
func extractAuth(ctx context.Context, a *Authenticator, logger *slog.Logger, method string) (*AuthContext, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(logger, ctx, "missing_metadata", "method", method)
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}

	var header string
	if values := md.Get("authorization"); len(values) > 0 {
		header = values[0]
	}
	token, errMsg := extractBearerToken(header)
	if errMsg != "" {
		logAuthFailure(logger, ctx, "missing_token", "detail", errMsg, "method", method)
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}

	authCtx, err := a.Authenticate(ctx, token)
	if err != nil {
		if IsAuthenticationError(err) {
			logAuthFailure(logger, ctx, FailureReason(err), "method", method)
			return nil, status.Error(codes.Unauthenticated, "unauthenticated")
		}
		if logger != nil {
			logger.Error("authentication lookup failed", "error", err, "method", method)
		}
		return nil, status.Error(codes.Internal, "internal error")
	}
	return authCtx, nil
}

// requirementFor finds the requirement for a method: an exact entry first,
// then the longest service prefix entry ending in "/".
func requirementFor(reqs map[string]Requirement, fullMethod string) (Requirement, bool) {
	if req, ok := reqs[fullMethod]; ok {
		return req, true
	}
	var (
		best  Requirement
		found bool
		size  int
	)
	for pattern, req := range reqs {
		if strings.HasSuffix(pattern, "/") && strings.HasPrefix(fullMethod, pattern) && len(pattern) > size {
			best, found, size = req, true, len(pattern)
		}
	}
	return best, found
}

// checkRequirement maps Authorize's outcome onto gRPC status errors.
func checkRequirement(ctx context.Context, req Requirement, logger *slog.Logger, method string) error {
	err := Authorize(FromContext(ctx), req)
	if err == nil {
		return nil
	}
	var denied *PermissionDeniedError
	if errors.As(err, &denied) {
		if logger != nil {
			logger.Info("permission denied", "identity_id", MustFromContext(ctx).IdentityID(), "method", method, "missing", denied.Missing)
		}
		return status.Error(codes.PermissionDenied, denied.Error())
	}
	if logger != nil {
		logger.Error("authorization gate misconfigured", "error", err, "method", method)
	}
	return status.Error(codes.Internal, "internal error")
}

// RequireUnary returns a unary interceptor that enforces the requirement
// registered for each method. Methods with no entry pass through. It must be
// chained after UnaryInterceptor.
func RequireUnary(reqs map[string]Requirement, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if r, ok := requirementFor(reqs, info.FullMethod); ok {
			if err := checkRequirement(ctx, r, logger, info.FullMethod); err != nil {
				return nil, err
			}
		}
		return handler(ctx, req)
	}
}

// RequireStream is the streaming counterpart of RequireUnary.
func RequireStream(reqs map[string]Requirement, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if r, ok := requirementFor(reqs, info.FullMethod); ok {
			if err := checkRequirement(ss.Context(), r, logger, info.FullMethod); err != nil {
				return err
			}
		}
		return handler(srv, ss)
	}
}
