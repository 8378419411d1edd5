package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// costUnit is how many body bytes one extra token buys on /v1/process.
const costUnit = 1 << 20

// withRateLimit meters writes under /v1/ per caller and route. Reads and
// health checks pass through. A limiter outage fails open.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		caller := s.callerID(r)
		if caller == "" {
			caller = "anonymous"
		}
		subject := caller + ":" + route

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, requestCost(r))
		if err != nil {
			s.requestLogger(r).WithError(err).WithField("subject", subject).Warn("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
			s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestCost charges effect requests by declared body size so large images
// drain the bucket faster.
func requestCost(r *http.Request) int {
	if r.URL.Path != "/v1/process" || r.ContentLength <= 0 {
		return 1
	}
	return 1 + int(r.ContentLength/costUnit)
}

// retryAfterSeconds rounds up so a client honoring the header never retries
// early.
func retryAfterSeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 1)
}
