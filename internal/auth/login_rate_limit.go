package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"authcore/internal/observability"
)

// LoginRateLimiter throttles credential endpoints per client IP. It sits in
// front of the per-username lockout and does not touch lock state.
type LoginRateLimiter struct {
	instance *limiter.Limiter
}

func NewLoginRateLimiter(maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	rate := limiter.Rate{Period: window, Limit: int64(maxHits)}
	return &LoginRateLimiter{instance: limiter.New(memory.NewStore(), rate)}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := l.instance.Get(r.Context(), observability.ClientIP(r))
		if err != nil {
			// Fail open.
			sentry.CaptureException(err)
			next.ServeHTTP(w, r)
			return
		}

		if result.Reached {
			retryAfter := time.Until(time.Unix(result.Reset, 0))
			if retryAfter < time.Second {
				retryAfter = time.Second
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}
