package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/paw-chain/poc/types"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// intakeLimiter rate limits submissions per submitter. At most max limiters
// are tracked; once full, idle entries are evicted and then the least
// recently seen.
type intakeLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	max      int
	idle     time.Duration
	limiters map[types.Address]*limiterEntry
	now      func() time.Time
}

func newIntakeLimiter(cfg IntakeConfig) *intakeLimiter {
	// an idle limiter has refilled its burst and is equivalent to a new one
	idle := time.Duration(float64(cfg.Burst) / cfg.RatePerSecond * float64(time.Second))
	return &intakeLimiter{
		limit:    rate.Limit(cfg.RatePerSecond),
		burst:    cfg.Burst,
		max:      cfg.MaxTracked,
		idle:     idle,
		limiters: make(map[types.Address]*limiterEntry),
		now:      time.Now,
	}
}

// Allow reports whether addr may submit now.
func (il *intakeLimiter) Allow(addr types.Address) bool {
	il.mu.Lock()
	defer il.mu.Unlock()

	now := il.now()
	entry, ok := il.limiters[addr]
	if !ok {
		if len(il.limiters) >= il.max {
			il.evict(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(il.limit, il.burst)}
		il.limiters[addr] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Tracked returns the number of tracked submitters.
func (il *intakeLimiter) Tracked() int {
	il.mu.Lock()
	defer il.mu.Unlock()
	return len(il.limiters)
}

func (il *intakeLimiter) evict(now time.Time) {
	var (
		oldest     types.Address
		oldestSeen time.Time
	)
	for addr, e := range il.limiters {
		if now.Sub(e.lastSeen) >= il.idle {
			delete(il.limiters, addr)
			continue
		}
		if oldest == "" || e.lastSeen.Before(oldestSeen) {
			oldest, oldestSeen = addr, e.lastSeen
		}
	}
	if len(il.limiters) >= il.max && oldest != "" {
		delete(il.limiters, oldest)
	}
}
