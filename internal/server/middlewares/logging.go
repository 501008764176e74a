package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// NewLoggingMiddleware logs one line per request with its request id.
// Aborted responses are logged before the abort propagates.
func NewLoggingMiddleware(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			fields := func() logrus.Fields {
				return logrus.Fields{
					"request_id": RequestID(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     rec.status,
					"bytes":      rec.bytes,
					"duration":   time.Since(start).String(),
				}
			}
			defer func() {
				if p := recover(); p != nil {
					logger.WithFields(fields()).Warn("Request aborted")
					panic(p)
				}
			}()

			next.ServeHTTP(rec, r)

			entry := logger.WithFields(fields())
			if rec.status >= http.StatusInternalServerError {
				entry.Error("Request failed")
				return
			}
			entry.Info("Request served")
		})
	}
}
