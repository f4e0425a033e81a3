package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter hands out one token bucket per user.
type userLimiter struct {
	perMin int
	burst  int

	mu      sync.Mutex
	clients map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newUserLimiter returns nil when perMin is not positive, which disables
// limiting. The cleanup goroutine stops with ctx.
func newUserLimiter(ctx context.Context, perMin, burst int) *userLimiter {
	if perMin <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	l := &userLimiter{
		perMin:  perMin,
		burst:   burst,
		clients: make(map[string]*limiterEntry),
	}
	go l.cleanup(ctx)
	return l
}

func (l *userLimiter) allow(userID string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	e, ok := l.clients[userID]
	if !ok {
		// perMin spread over 60 seconds
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(l.perMin)/60.0, l.burst)}
		l.clients[userID] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	return e.limiter.Allow()
}

func (l *userLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for id, e := range l.clients {
				if time.Since(e.lastSeen) > 3*time.Minute {
					delete(l.clients, id)
				}
			}
			l.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}
