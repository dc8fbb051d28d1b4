package discord

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// limiter enforces the delays Discord communicates through X-RateLimit
// headers. Each route admits one request at a time, so header updates
// always apply to the request they answered.
type limiter struct {
	mu          sync.Mutex
	routes      map[string]*routeBucket
	globalUntil time.Time
}

type routeBucket struct {
	sem       chan struct{} // cap 1, serializes the route
	remaining int
	resetAt   time.Time
}

func newLimiter() *limiter {
	return &limiter{routes: make(map[string]*routeBucket)}
}

func (l *limiter) route(route string) *routeBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.routes[route]
	if !ok {
		b = &routeBucket{sem: make(chan struct{}, 1), remaining: 1}
		l.routes[route] = b
	}

	return b
}

func (l *limiter) globalDeadline() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.globalUntil
}

// setGlobal pauses all routes for d. Used when a 429 carries the global flag.
func (l *limiter) setGlobal(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if until := time.Now().Add(d); until.After(l.globalUntil) {
		l.globalUntil = until
	}
}

// acquire blocks until route may issue a request. The returned bucket must
// be released with the response headers (or nil) when the request is done.
func (l *limiter) acquire(ctx context.Context, route string) (*routeBucket, error) {
	b := l.route(route)

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	now := time.Now()
	until := l.globalDeadline()
	if b.remaining == 0 && b.resetAt.After(until) {
		until = b.resetAt
	}

	if until.After(now) {
		if err := sleepCtx(ctx, until.Sub(now)); err != nil {
			<-b.sem
			return nil, err
		}
	}

	return b, nil
}

// release records the rate limit state from h and frees the route.
func (b *routeBucket) release(h http.Header) {
	defer func() { <-b.sem }()

	if h == nil {
		return
	}

	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			b.remaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			b.resetAt = time.Now().Add(time.Duration(secs * float64(time.Second)))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
