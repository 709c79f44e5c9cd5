package api

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/fastprodman/tcgpacks/internal/config"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

const limiterCacheSize = 10000

// userLimiter keeps one token bucket per user. Buckets of users that went
// quiet are evicted.
type userLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets *lru.Cache
}

func newUserLimiter(cfg config.RateLimitConfig) (*userLimiter, error) {
	buckets, err := lru.New(limiterCacheSize)
	if err != nil {
		return nil, fmt.Errorf("limiter cache: %w", err)
	}

	limit := rate.Limit(cfg.PacksPerSecond)
	if cfg.PacksPerSecond <= 0 {
		limit = rate.Inf
	}

	return &userLimiter{limit: limit, burst: max(cfg.PacksBurst, 1), buckets: buckets}, nil
}

func (l *userLimiter) allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.buckets.Get(userID)
	if !ok {
		lim := rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(userID, lim)

		return lim.Allow()
	}

	return v.(*rate.Limiter).Allow()
}

func (l *userLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFrom(r.Context())

		if !l.allow(id.UserID) {
			writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}
