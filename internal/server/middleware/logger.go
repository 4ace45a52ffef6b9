package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// NewRequestLogger creates a middleware that logs details about each incoming request.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := logger.With(slog.String("uri", r.URL.Path))
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				reqLogger = reqLogger.With(slog.String("ip", reqMeta.IP), slog.String("reqID", reqMeta.RequestID))
			}

			start := time.Now()
			reqLogger.Info("Incoming HTTP request", slog.String("method", r.Method))
			next.ServeHTTP(w, r)
			// for /ws this fires once the socket has closed
			reqLogger.Debug("HTTP request finished", slog.Duration("elapsed", time.Since(start)))
		})
	}
}
