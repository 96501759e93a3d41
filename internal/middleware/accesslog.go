package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelhq/admitgate/internal/logging"
)

// AccessLog returns a middleware that logs one structured line per request
// using the package-global zap logger, tagged with the request ID set by
// RequestID (if present in the chain above it).
func AccessLog() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(lrw, r)

			logging.Info("request",
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", lrw.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
