package bot

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Throttle limits how often each user may hit the bot. The per-user table
// is bounded and idle users fall out of it after one period.
type Throttle struct {
	mu       sync.Mutex
	limiters *expirable.LRU[int64, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewThrottle allows n requests per period for each of at most maxUsers
// tracked users.
func NewThrottle(n int, period time.Duration, maxUsers int) *Throttle {
	if n <= 0 {
		n = 1
	}
	if period <= 0 {
		period = time.Second
	}
	if maxUsers <= 0 {
		maxUsers = 10000
	}
	return &Throttle{
		limiters: expirable.NewLRU[int64, *rate.Limiter](maxUsers, nil, period),
		limit:    rate.Every(period / time.Duration(n)),
		burst:    n,
	}
}

// Allow reports whether userID may make a request now.
func (t *Throttle) Allow(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	lim, ok := t.limiters.Get(userID)
	if !ok {
		lim = rate.NewLimiter(t.limit, t.burst)
		t.limiters.Add(userID, lim)
	}
	return lim.Allow()
}

// Len returns the number of users seen within the last period.
func (t *Throttle) Len() int {
	return t.limiters.Len()
}
