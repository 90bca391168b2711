package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Identify extracts the identity key and tier of a request; ok false skips limiting
type Identify func(r *http.Request) (identity, tier string, ok bool)

type deniedBody struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"`
}

// Middleware charges one point per request and answers 429 once the budget is spent
func Middleware(l *Limiter, identify Identify) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, tier, ok := identify(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			res := l.Consume(r.Context(), identity, tier, 1)
			if !res.FailOpen {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
				if res.RetryAfter > 0 {
					w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.RetryAfter).Unix(), 10))
				}
			}

			if !res.Allowed {
				secs := res.RetryAfterSeconds()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(deniedBody{Error: "Rate limit exceeded", RetryAfter: secs})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
