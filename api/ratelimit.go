package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/warp/rewards-engine/observability"
)

// limiterIdle is how long an unused per-user limiter is kept.
const limiterIdle = 10 * time.Minute

// RateLimiter throttles requests per user ID (the {id} route parameter).
// The ledger already rejects a second claim; this keeps a retry storm from
// reaching it at all.
type RateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	users     map[string]*userLimiter
	lastSweep time.Time
	now       func() time.Time
	metrics   *observability.Metrics
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond sustained requests per user with the given
// burst. perSecond <= 0 disables limiting.
func NewRateLimiter(perSecond float64, burst int, metrics *observability.Metrics) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		users:   make(map[string]*userLimiter),
		now:     time.Now,
		metrics: metrics,
	}
}

// Allow reports whether key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdle {
		for k, u := range l.users {
			if now.Sub(u.lastSeen) > limiterIdle {
				delete(l.users, k)
			}
		}
		l.lastSweep = now
	}

	u, ok := l.users[key]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.users[key] = u
	}
	u.lastSeen = now
	return u.limiter.AllowN(now, 1)
}

// Middleware applies the limiter to routes with an {id} parameter.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		if userID == "" || l.Allow(userID) {
			next.ServeHTTP(w, r)
			return
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		l.metrics.RecordThrottle(route, "rate_limit")

		retry := time.Second
		if l.limit > 0 {
			retry = time.Duration(float64(time.Second) / float64(l.limit))
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds()+0.999)))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error: "Too many requests",
			Code:  "rate_limited",
		})
	})
}
