package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientLimiter enforces a per-client request rate, keyed by the caller's
// address. Idle entries are dropped after an hour.
type ClientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	limit   rate.Limit
	burst   int
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter builds a limiter allowing rpm requests per minute with
// a burst of 5. rpm <= 0 disables limiting.
func NewClientLimiter(rpm int) *ClientLimiter {
	if rpm <= 0 {
		return nil
	}
	return &ClientLimiter{
		clients: make(map[string]*clientEntry),
		limit:   rate.Limit(float64(rpm) / 60.0),
		burst:   5,
	}
}

// Allow reports whether the client may proceed. A nil limiter always allows.
func (l *ClientLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.clients[key]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = e
	}
	e.lastSeen = now

	if len(l.clients) > 1000 {
		for k, v := range l.clients {
			if now.Sub(v.lastSeen) > time.Hour {
				delete(l.clients, k)
			}
		}
	}
	return e.limiter.Allow()
}
