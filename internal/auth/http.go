// ABOUTME: HTTP authentication and authorization gates
// ABOUTME: HTTPAuthMiddleware attaches the AuthContext; RequireHTTP enforces a Requirement on it

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

type errorBody struct {
	Error   string `json:"error"`
	Missing string `json:"missing,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// HTTPAuthMiddleware authenticates the bearer token on each request and
// attaches the resolved AuthContext. Authentication failures get a uniform
// 401; repository failures get a 500.
func HTTPAuthMiddleware(a *Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				logger.Warn("auth failure", "reason", "missing_token", "detail", errMsg, "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSONError(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
				return
			}

			ac, err := a.Authenticate(r.Context(), token)
			if err != nil {
				if IsAuthenticationError(err) {
					logger.Warn("auth failure", "reason", FailureReason(err), "remote_addr", r.RemoteAddr, "path", r.URL.Path)
					w.Header().Set("WWW-Authenticate", "Bearer")
					writeJSONError(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
					return
				}
				logger.Error("authentication lookup failed", "error", err, "path", r.URL.Path)
				writeJSONError(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), ac)))
		})
	}
}

// RequireHTTP enforces req on the AuthContext placed by HTTPAuthMiddleware.
// Must be used after HTTPAuthMiddleware; reaching it without an AuthContext
// is reported as a 500.
func RequireHTTP(req Requirement, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := Authorize(FromContext(r.Context()), req)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			var denied *PermissionDeniedError
			switch {
			case errors.As(err, &denied):
				logger.Info("permission denied",
					"identity_id", MustFromContext(r.Context()).IdentityID(),
					"mode", denied.Mode.String(),
					"missing", denied.Missing,
					"path", r.URL.Path,
				)
				writeJSONError(w, http.StatusForbidden, errorBody{Error: "permission denied", Missing: denied.Missing})
			default:
				logger.Error("authorization gate misconfigured", "error", err, "path", r.URL.Path)
				writeJSONError(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		})
	}
}
