// Package health serves liveness and readiness probes.
//
// Probes run in the background on a fixed interval. A probe flips to
// failing after FailureThreshold consecutive errors and back to passing
// after SuccessThreshold consecutive successes, so a single slow database
// round trip does not pull a kiosk server out of rotation.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// CheckFunc reports nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the endpoint a probe contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

// Probe describes one registered check.
type Probe struct {
	Name             string
	Kind             Kind
	Check            CheckFunc
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
}

func (p *Probe) setDefaults() {
	if p.Timeout <= 0 {
		p.Timeout = time.Second
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 3
	}
	if p.SuccessThreshold <= 0 {
		p.SuccessThreshold = 1
	}
}

type probeState struct {
	Probe

	passing atomic.Bool
	lastErr atomic.Pointer[string]

	// Touched only by the probe's own goroutine.
	fails, oks int
}

func (s *probeState) observe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	if err := s.Check(ctx); err != nil {
		msg := err.Error()
		s.lastErr.Store(&msg)
		s.oks = 0
		s.fails++
		if s.fails >= s.FailureThreshold {
			s.passing.Store(false)
		}
		return
	}
	s.fails = 0
	s.oks++
	if s.oks >= s.SuccessThreshold {
		s.passing.Store(true)
	}
}

func (s *probeState) failure() string {
	if msg := s.lastErr.Load(); msg != nil {
		return *msg
	}
	return "check is failing"
}

// Health aggregates probes.
type Health struct {
	interval time.Duration
	ready    atomic.Bool

	mu     sync.RWMutex
	probes []*probeState
}

// New creates a Health that polls probes every interval. It starts not
// ready; call SetReady once startup completes.
func New(interval time.Duration) *Health {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Health{interval: interval}
}

// Register adds a probe. Probes start passing.
func (h *Health) Register(p Probe) {
	p.setDefaults()
	s := &probeState{Probe: p}
	s.passing.Store(true)

	h.mu.Lock()
	h.probes = append(h.probes, s)
	h.mu.Unlock()
}

// SetReady toggles the manual readiness gate. It is cleared during
// shutdown so load balancers drain the server first.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Ready reports whether the gate is set and every readiness probe passes.
func (h *Health) Ready() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

// Run polls every probe until ctx is done.
func (h *Health) Run(ctx context.Context) error {
	h.mu.RLock()
	probes := append([]*probeState(nil), h.probes...)
	h.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range probes {
		g.Go(func() error {
			ticker := time.NewTicker(h.interval)
			defer ticker.Stop()
			for {
				s.observe(ctx)
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	for _, s := range h.probes {
		if s.Kind == kind && !s.passing.Load() {
			out[s.Name] = s.failure()
		}
	}
	return out
}

// Live serves /livez.
func (h *Health) Live(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(Liveness))
}

// Readyz serves /readyz.
func (h *Health) Readyz(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	status := http.StatusOK
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		if len(failures) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		status = http.StatusServiceUnavailable
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for name, msg := range failures {
					e.Field(name, func(e *jx.Encoder) { e.Str(msg) })
				}
			})
		})
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
