// internal/middleware/request_id.go
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader is the header key carrying the request ID, both inbound
// (honored if already set by a caller/proxy) and outbound (echoed back).
const RequestIDHeader = "X-Request-Id"

// requestIDKey is the context key for storing the request ID.
type requestIDKey struct{}

// RequestID extracts X-Request-Id from the incoming request or generates a
// new UUID if absent, injects it into the request's context, and echoes it
// back on the response before calling next.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID stashed in ctx by RequestID, or ""
// if none is present.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
