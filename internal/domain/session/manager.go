package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kiosk-core/internal/broadcast"
	"github.com/xenking/kiosk-core/internal/domain/cart"
	"github.com/xenking/kiosk-core/internal/domain/evidence"
	"github.com/xenking/kiosk-core/internal/domain/identity"
	"github.com/xenking/kiosk-core/internal/domain/operator"
	"github.com/xenking/kiosk-core/internal/domain/payment"
)

// Repository persists committed session state. Save must store the snapshot
// and the event atomically.
type Repository interface {
	Save(ctx context.Context, snap Snapshot, ev Event) error
	Archive(ctx context.Context, sessionID string, at time.Time) error
}

// EventSink receives every committed event after it is persisted, in commit
// order per session. Publish must not block.
type EventSink interface {
	Publish(ev Event)
}

// Gate authorizes operator codes.
type Gate interface {
	Verify(ctx context.Context, code string) (*operator.Operator, error)
}

// Config tunes the Manager.
type Config struct {
	Pricing cart.Pricing
	// Retention is how long a closed session stays addressable before it is
	// archived and evicted.
	Retention time.Duration
	// QueueSize bounds the number of admitted, not yet applied commands per
	// session.
	QueueSize int
	// SaveTimeout bounds a single repository write.
	SaveTimeout time.Duration
	// Backlog bounds the undelivered events per subscriber.
	Backlog int
}

func (c *Config) setDefaults() {
	if c.Pricing.TaxRate.IsZero() && c.Pricing.Places == 0 {
		c.Pricing = cart.DefaultPricing
	}
	if c.Retention <= 0 {
		c.Retention = 10 * time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 5 * time.Second
	}
	if c.Backlog <= 0 {
		c.Backlog = broadcast.DefaultBacklog
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(m *Manager) { m.lg = lg }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer sets the tracer used for command spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// WithEvidence sets the recorder for visual evidence of anonymous sessions.
func WithEvidence(rec evidence.Recorder) Option {
	return func(m *Manager) { m.evidence = rec }
}

// WithSink adds an event sink.
func WithSink(sink EventSink) Option {
	return func(m *Manager) { m.sinks = append(m.sinks, sink) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager creates sessions and routes commands to their actors.
type Manager struct {
	cfg      Config
	resolver *identity.Resolver
	gate     Gate
	payments *payment.Orchestrator
	repo     Repository
	evidence evidence.Recorder
	sinks    []EventSink
	metrics  *Metrics
	tracer   trace.Tracer
	lg       *zap.Logger
	now      func() time.Time

	mu      sync.RWMutex
	actors  map[string]*actor
	txIndex map[string]string // transaction id -> session id
	closed  bool
	bg      sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(
	cfg Config,
	resolver *identity.Resolver,
	gate Gate,
	payments *payment.Orchestrator,
	repo Repository,
	opts ...Option,
) *Manager {
	cfg.setDefaults()
	m := &Manager{
		cfg:      cfg,
		resolver: resolver,
		gate:     gate,
		payments: payments,
		repo:     repo,
		tracer:   noop.NewTracerProvider().Tracer(""),
		lg:       zap.NewNop(),
		now:      time.Now,
		actors:   make(map[string]*actor),
		txIndex:  make(map[string]string),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Identify resolves an identification signal and opens a session for it.
func (m *Manager) Identify(ctx context.Context, sig identity.Signal) (Snapshot, error) {
	id, err := m.resolver.Resolve(sig)
	if err != nil {
		return Snapshot{}, &CreationError{Err: err}
	}
	return m.Create(ctx, id)
}

// Create opens an ACTIVE session with an empty cart and emits
// SESSION_CREATED with sequence number 1.
func (m *Manager) Create(ctx context.Context, id identity.Identity) (Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "session.create")
	defer span.End()

	if err := identity.Validate(id); err != nil {
		return Snapshot{}, &CreationError{Err: err}
	}
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return Snapshot{}, ErrClosed
	}

	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Identity:  id,
		Status:    StatusActive,
		CreatedAt: now,
		Seq:       1,
		Cart:      cart.New(m.cfg.Pricing),
	}
	span.SetAttributes(attribute.String("session.id", s.ID))

	attrs := identity.Describe(id)
	ev := Event{
		SessionID: s.ID,
		Seq:       1,
		Kind:      KindSessionCreated,
		At:        now,
		Payload:   Payload{Status: s.Status, Identity: &attrs},
	}
	snap := s.Snapshot()
	if err := m.save(ctx, snap, ev); err != nil {
		span.RecordError(err)
		return Snapshot{}, &CreationError{Err: err}
	}

	// The event reaches sinks before the session becomes addressable so no
	// later event can overtake it.
	m.publishSinks(ev)

	a := newActor(m, s)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	m.actors[s.ID] = a
	m.mu.Unlock()
	go a.run()

	m.metrics.sessionCreated(ctx)
	m.metrics.event(ctx, ev.Kind)
	m.lg.Info("Session created",
		zap.String("session_id", s.ID),
		zap.String("variant", string(attrs.Variant)),
	)
	return snap, nil
}

// Close stops every actor and waits for background work. Sessions are not
// closed; their last committed state stays in the repository.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	actors := make([]*actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.mu.Unlock()

	for _, a := range actors {
		a.stop()
	}
	m.payments.Wait()
	m.bg.Wait()
}

// Len returns the number of addressable sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.actors)
}

func (m *Manager) lookup(id string) (*actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	a, ok := m.actors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (m *Manager) sessionForTx(txID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.txIndex[txID]
	if !ok {
		return "", ErrTransactionNotFound
	}
	return id, nil
}

func (m *Manager) indexTx(txID, sessionID string) {
	m.mu.Lock()
	m.txIndex[txID] = sessionID
	m.mu.Unlock()
}

func (m *Manager) forget(a *actor) {
	m.mu.Lock()
	delete(m.actors, a.id)
	for tx, sid := range m.txIndex {
		if sid == a.id {
			delete(m.txIndex, tx)
		}
	}
	m.mu.Unlock()
}

func (m *Manager) save(ctx context.Context, snap Snapshot, ev Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SaveTimeout)
	defer cancel()
	if err := m.repo.Save(ctx, snap, ev); err != nil {
		return errors.Wrap(err, "save session")
	}
	return nil
}

func (m *Manager) publishSinks(ev Event) {
	for _, s := range m.sinks {
		s.Publish(ev)
	}
}

// authorize verifies an operator code outside any session's critical
// section.
func (m *Manager) authorize(ctx context.Context, code string) (*operator.Operator, error) {
	op, err := m.gate.Verify(ctx, code)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// deliver feeds timeouts and submission failures from the payment
// orchestrator back through the owning session's queue.
func (m *Manager) deliver(res payment.Result) {
	err := m.HandlePaymentResult(context.Background(), res)
	switch {
	case err == nil,
		errors.Is(err, payment.ErrStaleResult),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrClosed):
	default:
		m.lg.Error("Deliver payment result",
			zap.String("transaction_id", res.TransactionID),
			zap.Error(err),
		)
	}
}

func (m *Manager) recordEvidence(v evidence.Visual) {
	if m.evidence == nil {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SaveTimeout)
		defer cancel()
		if err := m.evidence.Record(ctx, v); err != nil {
			m.lg.Warn("Record visual evidence",
				zap.String("session_id", v.SessionID),
				zap.Error(err),
			)
		}
	}()
}
