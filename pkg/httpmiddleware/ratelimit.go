package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of a single Limiter.Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// WindowLimiter is an in-process sliding window limiter. It suits a single
// server; RedisLimiter shares the budget between replicas.
type WindowLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*windowEntry
}

type windowEntry struct {
	prevCount float64
	currCount float64
	currStart time.Time
}

// NewWindowLimiter allows max requests per key in any sliding window.
func NewWindowLimiter(max int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		max:     max,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*windowEntry),
	}
}

// Allow implements Limiter.
func (l *WindowLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &windowEntry{currStart: now.Truncate(l.window)}
		l.entries[key] = e
	}
	if since := now.Sub(e.currStart); since >= l.window {
		e.prevCount = e.currCount
		if since >= 2*l.window {
			e.prevCount = 0
		}
		e.currCount = 0
		e.currStart = now.Truncate(l.window)
	}

	// The previous window counts in proportion to its overlap with the
	// sliding window ending now.
	overlap := 1 - now.Sub(e.currStart).Seconds()/l.window.Seconds()
	effective := e.prevCount*math.Max(overlap, 0) + e.currCount

	d := Decision{Limit: l.max, ResetAt: e.currStart.Add(l.window)}
	if effective >= float64(l.max) {
		return d, nil
	}
	e.currCount++
	d.Allowed = true
	d.Remaining = max(int(float64(l.max)-effective-1), 0)
	return d, nil
}

// Sweep drops keys idle for two windows.
func (l *WindowLimiter) Sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if now.Sub(e.currStart) >= 2*l.window {
			delete(l.entries, key)
		}
	}
}

// Run sweeps idle keys until ctx is done.
func (l *WindowLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// RedisLimiter is a fixed window limiter kept in Redis so every server
// replica shares one budget per key.
type RedisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
	prefix string
}

// NewRedisLimiter allows max requests per key per window.
func NewRedisLimiter(client *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		max:    max,
		window: window,
		prefix: "kiosk:ratelimit:",
	}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now()
	slot := now.UnixMilli() / l.window.Milliseconds()
	k := l.prefix + key + ":" + strconv.FormatInt(slot, 10)

	var incr *redis.IntCmd
	if _, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.PExpire(ctx, k, l.window)
		return nil
	}); err != nil {
		return Decision{}, errors.Wrap(err, "incr")
	}

	count := int(incr.Val())
	return Decision{
		Allowed:   count <= l.max,
		Limit:     l.max,
		Remaining: max(l.max-count, 0),
		ResetAt:   time.UnixMilli((slot + 1) * l.window.Milliseconds()),
	}, nil
}

// KeyFunc extracts the rate limit key from a request.
type KeyFunc func(*http.Request) string

// RateLimit rejects requests over the limiter's budget with 429. A limiter
// failure lets the request through.
func RateLimit(l Limiter, key KeyFunc) Middleware {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), key(r))
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				wait := max(time.Until(d.ResetAt), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys by the first X-Forwarded-For hop, X-Real-IP, or the peer
// address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
