package middleware

import (
	"context"
	"net/http"
	"strconv"
)

// Identity is the authenticated caller attached to a request. Authentication
// itself happens upstream (gateway or session service); this layer trusts the
// forwarded identity headers and makes them available to handlers.
type Identity struct {
	UserID int64
}

type identityContextKey struct{}

// IdentityHeader carries the authenticated user id set by the upstream
// gateway.
const IdentityHeader = "X-User-ID"

// IdentityMiddleware extracts the caller identity from request headers
type IdentityMiddleware struct {
	optional bool
}

// NewIdentityMiddleware creates an identity middleware. With optional true,
// requests without an identity header pass through unauthenticated; handlers
// that need a caller reject them individually.
func NewIdentityMiddleware(optional bool) *IdentityMiddleware {
	return &IdentityMiddleware{optional: optional}
}

// Handler wraps an HTTP handler with identity extraction
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdentityHeader)
		if header == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			unauthorizedResponse(w, "missing identity header")
			return
		}

		userID, err := strconv.ParseInt(header, 10, 64)
		if err != nil || userID <= 0 {
			unauthorizedResponse(w, "invalid identity header")
			return
		}

		ctx := WithIdentity(r.Context(), &Identity{UserID: userID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithIdentity attaches an identity to the context
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// GetIdentity extracts the caller identity from a request, nil when
// unauthenticated
func GetIdentity(r *http.Request) *Identity {
	id, _ := r.Context().Value(identityContextKey{}).(*Identity)
	return id
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
