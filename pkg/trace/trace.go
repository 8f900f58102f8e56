package trace

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey struct{}

// TraceIDKey is the gin context key the HTTP middleware stores the id under.
const TraceIDKey = "trace_id"

func GenerateTraceID() string {
	return uuid.NewString()
}

func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(ctxKey{}).(string); ok {
		return traceID
	}
	return ""
}

func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// FromRequest reads X-Trace-ID, then X-Request-ID.
func FromRequest(r *http.Request) string {
	if id := r.Header.Get(HeaderName()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

func HeaderName() string {
	return "X-Trace-ID"
}
