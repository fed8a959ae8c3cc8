package grant

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

type contextKey string

const (
	// GrantContextKey is the context key for storing the verified grant
	GrantContextKey contextKey = "grant:access_grant"
)

// Middleware returns HTTP middleware that verifies the grant carried in the
// request query before calling next. container extracts the container being
// accessed from the request, typically a router URL parameter.
//
// Example:
//
//	r.With(grant.Middleware(signer, grant.Read, func(r *http.Request) string {
//	    return chi.URLParam(r, "container")
//	})).Get("/blobs/{container}/{key}", h.GetObject)
func Middleware(signer *Signer, required Permissions, container func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g, err := signer.VerifyRequest(r, container(r), required)
			if err != nil {
				handleValidationError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), GrantContextKey, g)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the grant verified by Middleware, or nil.
func FromContext(ctx context.Context) *AccessGrant {
	if g, ok := ctx.Value(GrantContextKey).(*AccessGrant); ok {
		return g
	}
	return nil
}

// handleValidationError writes an appropriate HTTP error response based on the validation error
func handleValidationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingSignature):
		http.Error(w, "Missing signature parameter", http.StatusUnauthorized)
	case errors.Is(err, ErrMalformedGrant):
		http.Error(w, "Malformed access grant", http.StatusBadRequest)
	case errors.Is(err, ErrExpired):
		http.Error(w, "Access grant has expired", http.StatusForbidden)
	case errors.Is(err, ErrNotYetValid):
		http.Error(w, "Access grant is not yet valid", http.StatusForbidden)
	case errors.Is(err, ErrInvalidSignature):
		http.Error(w, "Invalid signature", http.StatusForbidden)
	case errors.Is(err, ErrContainerNotGranted), errors.Is(err, ErrPermissionDenied):
		http.Error(w, "Operation not permitted by access grant", http.StatusForbidden)
	default:
		slog.Error("grant: validation error", "error", err)
		http.Error(w, "Authentication failed", http.StatusForbidden)
	}
}
