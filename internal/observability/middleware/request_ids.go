package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-ID"
	headerTraceID   = "X-Trace-ID"
	maxInboundID    = 64
)

type idsKey struct{}

type requestIDs struct {
	request, trace string
}

// WithRequestAndTrace tags the request with a request id and a trace id,
// reusing well-formed inbound headers, and echoes both on the response.
func WithRequestAndTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids := requestIDs{
			request: inboundOrNew(r.Header.Get(headerRequestID)),
			trace:   inboundOrNew(r.Header.Get(headerTraceID)),
		}
		w.Header().Set(headerRequestID, ids.request)
		w.Header().Set(headerTraceID, ids.trace)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), idsKey{}, ids)))
	})
}

// inboundOrNew keeps a client-supplied id only when it is short printable
// ASCII, so it can be logged verbatim.
func inboundOrNew(v string) string {
	if v == "" || len(v) > maxInboundID {
		return uuid.NewString()
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return uuid.NewString()
		}
	}
	return v
}

func idsFrom(ctx context.Context) requestIDs {
	ids, _ := ctx.Value(idsKey{}).(requestIDs)
	return ids
}

func RequestIDFromContext(ctx context.Context) string { return idsFrom(ctx).request }

func TraceIDFromContext(ctx context.Context) string { return idsFrom(ctx).trace }

// LogAttrs returns the request and trace ids as slog arguments.
func LogAttrs(ctx context.Context) []any {
	ids := idsFrom(ctx)
	return []any{"request_id", ids.request, "trace_id", ids.trace}
}
