package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Goroutines fails when more than limit goroutines are running. Every
// kiosk session owns one, so the limit should leave room for the session
// cap.
func Goroutines(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds %d", n, limit)
		}
		return nil
	}
}

// GCPause fails when the most recent GC pause exceeded limit.
func GCPause(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		if len(stats.Pause) > 0 && stats.Pause[0] > limit {
			return errors.Errorf("GC pause %s exceeds %s", stats.Pause[0], limit)
		}
		return nil
	}
}

// Ping adapts a dependency ping, such as pgxpool.Pool.Ping.
func Ping(name string, ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return errors.Wrapf(err, "ping %s", name)
		}
		return nil
	}
}

// Capacity fails when count reports limit or more, taking the server out of
// rotation before it stops admitting sessions.
func Capacity(count func() int, limit int) CheckFunc {
	return func(context.Context) error {
		if n := count(); n >= limit {
			return errors.Errorf("%d active sessions, limit %d", n, limit)
		}
		return nil
	}
}
