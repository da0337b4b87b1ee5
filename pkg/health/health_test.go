package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func probe(t *testing.T, handler http.HandlerFunc) (int, body) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	var b body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	return w.Code, b
}

// observeAll runs every probe once, the way Run does per tick.
func observeAll(h *Health) {
	for _, s := range h.probes {
		s.observe(context.Background())
	}
}

func TestLive_Passing(t *testing.T) {
	h := New(time.Second)
	h.Register(Probe{Name: "ok", Kind: Liveness, Check: func(context.Context) error { return nil }})
	observeAll(h)

	code, b := probe(t, h.Live)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", b.Status)
	assert.Empty(t, b.Checks)
}

func TestLive_FailureThreshold(t *testing.T) {
	h := New(time.Second)
	h.Register(Probe{
		Name:             "leak",
		Kind:             Liveness,
		Check:            func(context.Context) error { return errors.New("too many") },
		FailureThreshold: 2,
	})

	observeAll(h)
	code, _ := probe(t, h.Live)
	assert.Equal(t, http.StatusOK, code, "one failure stays below threshold")

	observeAll(h)
	code, b := probe(t, h.Live)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", b.Status)
	assert.Equal(t, "too many", b.Checks["leak"])
}

func TestProbe_Recovers(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	h := New(time.Second)
	h.Register(Probe{
		Name: "db",
		Kind: Readiness,
		Check: func(context.Context) error {
			if failing.Load() {
				return errors.New("down")
			}
			return nil
		},
		FailureThreshold: 1,
		SuccessThreshold: 2,
	})
	h.SetReady(true)

	observeAll(h)
	assert.False(t, h.Ready())

	failing.Store(false)
	observeAll(h)
	assert.False(t, h.Ready(), "needs two successes")
	observeAll(h)
	assert.True(t, h.Ready())
}

func TestReadyz_Gate(t *testing.T) {
	h := New(time.Second)

	code, b := probe(t, h.Readyz)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, b.Checks, "_readiness")

	h.SetReady(true)
	code, _ = probe(t, h.Readyz)
	assert.Equal(t, http.StatusOK, code)

	h.SetReady(false)
	code, _ = probe(t, h.Readyz)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadyz_IgnoresLivenessFailures(t *testing.T) {
	h := New(time.Second)
	h.Register(Probe{
		Name:             "gc",
		Kind:             Liveness,
		Check:            func(context.Context) error { return errors.New("slow") },
		FailureThreshold: 1,
	})
	h.SetReady(true)
	observeAll(h)

	code, _ := probe(t, h.Readyz)
	assert.Equal(t, http.StatusOK, code)
	code, _ = probe(t, h.Live)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	h := New(10 * time.Millisecond)
	h.Register(Probe{Name: "tick", Kind: Liveness, Check: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestProbe_Timeout(t *testing.T) {
	h := New(time.Second)
	h.Register(Probe{
		Name:    "slow",
		Kind:    Readiness,
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		FailureThreshold: 1,
	})
	h.SetReady(true)
	observeAll(h)

	_, b := probe(t, h.Readyz)
	assert.Contains(t, b.Checks["slow"], "deadline")
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, Goroutines(100000)(ctx))
	require.Error(t, Goroutines(0)(ctx))

	require.NoError(t, GCPause(time.Hour)(ctx))

	require.NoError(t, Ping("db", func(context.Context) error { return nil })(ctx))
	err := Ping("db", func(context.Context) error { return errors.New("refused") })(ctx)
	require.ErrorContains(t, err, "ping db")

	active := 3
	check := Capacity(func() int { return active }, 4)
	require.NoError(t, check(ctx))
	active = 4
	require.Error(t, check(ctx))
}
