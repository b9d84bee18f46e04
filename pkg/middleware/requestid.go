package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/drivewatch/pkg/contextkeys"
	"github.com/platinummonkey/drivewatch/pkg/observability"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID tags every request with an ID, reusing a sane inbound X-Request-ID,
// and attaches logger to the request context. The ID is echoed on the response.
func RequestID(logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if id == "" || len(id) > maxRequestIDLength || strings.ContainsAny(id, "\r\n") {
				id = uuid.NewString()
			}

			ctx := contextkeys.WithRequestID(r.Context(), id)
			ctx = observability.WithLogger(ctx, observability.UpdateLoggerWithTraceContext(ctx, logger))

			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
