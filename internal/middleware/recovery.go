package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	gwerrors "github.com/edgeworks/apigw/internal/errors"
	"github.com/edgeworks/apigw/internal/logging"
	"go.uber.org/zap"
)

// RecoveryConfig configures the panic-recovery middleware.
type RecoveryConfig struct {
	// PrintStack attaches a captured stack trace to the panic log entry.
	PrintStack bool
}

// DefaultRecoveryConfig provides default recovery settings.
var DefaultRecoveryConfig = RecoveryConfig{PrintStack: true}

// Recovery creates a panic-recovery middleware with default config.
func Recovery() Middleware {
	return RecoveryWithConfig(DefaultRecoveryConfig)
}

// RecoveryWithConfig creates a panic-recovery middleware: a handler
// that panics below it is converted into the gateway's standard
// InternalFailure envelope instead of taking down the server, stamped
// with the same request id the rest of the request's log lines carry
// (RequestID runs outermost in cmd/gateway/main.go's chain, so the id
// is already on the context by the time this deferred recover fires).
func RecoveryWithConfig(cfg RecoveryConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r)

			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}

				logger := logging.ForRequest(requestID)
				if cfg.PrintStack {
					logger = logger.With(zap.ByteString("stack", debug.Stack()))
				}
				logger.Error("panic recovered",
					zap.Any("panic", recovered),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)

				gwErr := gwerrors.InternalFailure(fmt.Errorf("panic: %v", recovered)).WithRequestID(requestID)
				gwErr.WriteJSON(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
