package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/edgeworks/apigw/internal/logging"
	"go.uber.org/zap"
)

// LoggingConfig configures the access-log middleware.
type LoggingConfig struct {
	// Logger is the zap logger entries are written to. Defaults to
	// logging.Global() when nil.
	Logger *zap.Logger
	// SkipPaths are request paths that should not be logged.
	SkipPaths []string
}

// DefaultLoggingConfig provides default access-log settings.
var DefaultLoggingConfig = LoggingConfig{}

// Logging creates an access-log middleware with default config.
func Logging() Middleware {
	return LoggingWithConfig(DefaultLoggingConfig)
}

// LoggingWithConfig creates an access-log middleware that emits one
// structured zap entry per request, grounded on the teacher's
// middleware/logging access-log idiom but keyed directly off zap
// fields instead of a variable-template resolver.
func LoggingWithConfig(cfg LoggingConfig) Middleware {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}

	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(lrw, r)

			duration := time.Since(start)
			logger.Info("request",
				zap.String("remote_addr", clientIP(r)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.Int("status", lrw.status),
				zap.Int64("body_bytes", lrw.bytes),
				zap.String("user_agent", r.UserAgent()),
				zap.Duration("response_time", duration),
				logging.RequestIDField(w.Header().Get("X-Request-Id")),
			)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and bytes.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Status returns the recorded status code.
func (lrw *loggingResponseWriter) Status() int {
	return lrw.status
}

// BytesWritten returns the number of bytes written.
func (lrw *loggingResponseWriter) BytesWritten() int64 {
	return lrw.bytes
}
