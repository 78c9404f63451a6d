package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit allows requestLimit requests per windowLength for each client IP.
// It must run after chi's RealIP middleware so proxied clients are keyed correctly.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	if requestLimit < 1 {
		requestLimit = 1
	}
	if windowLength <= 0 {
		windowLength = time.Minute
	}
	retryAfter := strconv.Itoa(int(windowLength.Round(time.Second).Seconds()))
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			ip, err := httprate.KeyByIP(r)
			if err != nil {
				return "", err
			}
			return "ip:" + ip, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
		}),
	)
}
