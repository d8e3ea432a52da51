package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/dalepay/wallet-movements/internal/api/problem"
	"go.uber.org/zap"
)

// RecoverMiddleware converts panics into RFC 7807 responses and logs stack context.
func RecoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.String("account_id", AccountIDFromContext(r.Context())),
					zap.String("request_id", TraceIDFromContext(r.Context())),
					zap.ByteString("stack", debug.Stack()),
				)

				problem.Write(
					w,
					r,
					http.StatusInternalServerError,
					problem.Type("internal-server-error"),
					http.StatusText(http.StatusInternalServerError),
					"unexpected server error",
				)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
