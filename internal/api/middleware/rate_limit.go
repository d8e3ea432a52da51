package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dalepay/wallet-movements/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits requests per IP for unauthenticated routes.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded(rps, "IP")),
	)
}

// AccountRateLimiter limits authenticated callers by account id, falling back to IP.
func AccountRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if accountID := AccountIDFromContext(r.Context()); accountID != "" {
				return accountID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded(rps, "account")),
	)
}

func limitExceeded(rps int, subject string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		problem.Write(
			w,
			r,
			http.StatusTooManyRequests,
			problem.Type("rate-limit-exceeded"),
			http.StatusText(http.StatusTooManyRequests),
			fmt.Sprintf("Rate limit of %d req/s exceeded for this %s", rps, subject),
		)
	}
}
