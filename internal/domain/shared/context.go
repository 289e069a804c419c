package shared

import "context"

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// WithRequestID stores a request ID for propagation to downstream calls and
// event correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
