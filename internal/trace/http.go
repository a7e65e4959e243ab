package trace

import (
	"context"
	"net/http"
	"strings"
)

// Middleware attaches a trace context to each request, continuing the
// caller's trace when one is supplied, and echoes the trace id back.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := extractFromHeaders(r.Header)
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// extractFromHeaders prefers x-trace-id/x-span-id and falls back to a W3C
// traceparent header.
func extractFromHeaders(h http.Header) Context {
	parent := Context{TraceID: h.Get(TraceIDKey), SpanID: h.Get(SpanIDKey)}
	if parent.TraceID == "" {
		parent = parseTraceparent(h.Get(TraceparentKey))
	}
	return NewChild(parent)
}

// parseTraceparent reads "00-<trace-id>-<parent-id>-<flags>".
func parseTraceparent(v string) Context {
	parts := strings.Split(v, "-")
	if len(parts) != 4 || len(parts[1]) != 32 || len(parts[2]) != 16 {
		return Context{}
	}
	return Context{TraceID: parts[1], SpanID: parts[2]}
}

// InjectHeaders writes ctx's trace identifiers into h for an outgoing request.
func InjectHeaders(ctx context.Context, h http.Header) {
	tc, ok := FromContext(ctx)
	if !ok {
		return
	}
	h.Set(TraceIDKey, tc.TraceID)
	h.Set(SpanIDKey, tc.SpanID)
	if tc.ParentSpanID != "" {
		h.Set(ParentSpanIDKey, tc.ParentSpanID)
	}
}
