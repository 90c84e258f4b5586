package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"chatsync/internal/tracing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestLogging logs every request with a generated request id, the
// resolved client IP, the status code and the handling duration. 4xx
// responses log at warn, 5xx at error.
func RequestLogging(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.New().String()

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			level := logrus.InfoLevel
			switch {
			case wrapper.statusCode >= 500:
				level = logrus.ErrorLevel
			case wrapper.statusCode >= 400:
				level = logrus.WarnLevel
			}

			fields := logrus.Fields{
				"request_id":  requestID,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": wrapper.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_ip":   ClientIP(r),
				"size":        wrapper.responseSize,
			}
			if traceID := tracing.TraceID(r.Context()); traceID != "" {
				fields["trace_id"] = traceID
			}
			logger.WithFields(fields).Log(level, "HTTP request completed")
		})
	}
}

// ClientIP resolves the originating client address, preferring
// X-Forwarded-For (first hop), then X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
}

func (w *responseWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWrapper) Write(data []byte) (int, error) {
	n, err := w.ResponseWriter.Write(data)
	w.responseSize += int64(n)
	return n, err
}
