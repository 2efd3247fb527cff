package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/casting/idgen"
)

// RequestIDHeader carries the request id in both directions. A client value
// is kept when present.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns each request an id, echoes it in the response headers
// and stores a per-request logger under LoggerKey.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	newID := idgen.Prefixed("req_", idgen.Default)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 64 {
				id = newID()
			}
			w.Header().Set(RequestIDHeader, id)

			l := logger.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", ExtractIP(r),
			)
			l.Debug("request")
			ctx := context.WithValue(r.Context(), LoggerKey, l)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
