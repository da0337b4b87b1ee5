package session

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kiosk-core/internal/broadcast"
)

// mutation edits a private copy of the session. It commits by calling
// t.emit exactly once; returning without emitting discards the copy.
type mutation func(s *Session, t *txn) error

// txn collects the outcome of one mutation.
type txn struct {
	emitted bool
	kind    Kind
	payload Payload
	effects []func()
	// then runs as a separate mutation right after this one commits.
	then mutation
}

func (t *txn) emit(kind Kind, p Payload) {
	t.emitted = true
	t.kind = kind
	t.payload = p
}

// after registers a side effect to run once the mutation is durable.
func (t *txn) after(fn func()) {
	t.effects = append(t.effects, fn)
}

type reply struct {
	snap Snapshot
	err  error
}

type command struct {
	ctx     context.Context
	apply   mutation
	read    func(a *actor)
	archive bool
	reply   chan reply
}

// actor serializes every command of one session.
type actor struct {
	m     *Manager
	id    string
	state *Session
	bc    *broadcast.Broadcaster[Event]
	inbox chan command

	quit     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	exitErr  error

	// Owned by the run goroutine.
	retention *time.Timer
}

func newActor(m *Manager, s *Session) *actor {
	return &actor{
		m:     m,
		id:    s.ID,
		state: s,
		bc:    broadcast.New[Event](m.cfg.Backlog),
		inbox: make(chan command, m.cfg.QueueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (a *actor) run() {
	defer close(a.done)
	for {
		select {
		case <-a.quit:
			if a.retention != nil {
				a.retention.Stop()
			}
			a.bc.Close()
			a.exitErr = ErrClosed
			return
		case cmd := <-a.inbox:
			r, exit := a.handle(cmd)
			cmd.reply <- r
			if exit {
				a.exitErr = ErrNotFound
				return
			}
		}
	}
}

func (a *actor) stop() {
	a.stopOnce.Do(func() { close(a.quit) })
	<-a.done
}

func (a *actor) handle(cmd command) (reply, bool) {
	switch {
	case cmd.archive:
		a.archive(cmd.ctx)
		return reply{}, true
	case cmd.read != nil:
		cmd.read(a)
		return reply{}, false
	default:
		err := a.apply(cmd.ctx, cmd.apply)
		return reply{snap: a.state.Snapshot(), err: err}, false
	}
}

// apply runs fn against a copy of the state and commits the copy only if fn
// emitted an event. The error of fn is returned even when it committed.
func (a *actor) apply(ctx context.Context, fn mutation) error {
	next := a.state.clone()
	t := &txn{}
	err := fn(next, t)
	if !t.emitted {
		return err
	}
	if cerr := a.commit(ctx, next, t); cerr != nil {
		return cerr
	}
	if t.then != nil {
		if ferr := a.apply(ctx, t.then); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}

func (a *actor) commit(ctx context.Context, next *Session, t *txn) error {
	prev := a.state
	next.Seq = prev.Seq + 1
	ev := Event{
		SessionID: a.id,
		Seq:       next.Seq,
		Kind:      t.kind,
		At:        a.m.now(),
		Payload:   t.payload,
	}
	if err := a.m.save(ctx, next.Snapshot(), ev); err != nil {
		a.m.lg.Error("Commit session event",
			zap.String("session_id", a.id),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
		return err
	}
	a.state = next

	a.bc.Publish(ev)
	a.m.publishSinks(ev)
	a.m.metrics.event(ctx, ev.Kind)
	trace.SpanFromContext(ctx).AddEvent("commit", trace.WithAttributes(
		attribute.String("kind", string(ev.Kind)),
		attribute.Int64("seq", int64(ev.Seq)),
	))

	if prev.Status != StatusClosed && next.Status == StatusClosed {
		a.m.metrics.sessionClosed(ctx, ev.Payload.Reason)
		a.retention = time.AfterFunc(a.m.cfg.Retention, a.requestArchive)
		a.m.lg.Info("Session closed",
			zap.String("session_id", a.id),
			zap.String("reason", ev.Payload.Reason),
			zap.Bool("flagged", next.Flagged),
		)
	}
	for _, fn := range t.effects {
		fn()
	}
	return nil
}

func (a *actor) requestArchive() {
	cmd := command{
		ctx:     context.Background(),
		archive: true,
		reply:   make(chan reply, 1),
	}
	select {
	case a.inbox <- cmd:
	case <-a.done:
	}
}

func (a *actor) archive(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.m.cfg.SaveTimeout)
	defer cancel()
	if err := a.m.repo.Archive(ctx, a.id, a.m.now()); err != nil {
		a.m.lg.Warn("Archive session", zap.String("session_id", a.id), zap.Error(err))
	}
	a.m.forget(a)
	a.bc.Close()
	a.m.lg.Debug("Session evicted", zap.String("session_id", a.id))
}

// send admits cmd to the session's queue and waits for its reply. Once
// admitted a command always runs to completion.
func (m *Manager) send(ctx context.Context, id string, cmd command) (Snapshot, error) {
	a, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	cmd.ctx = ctx
	cmd.reply = make(chan reply, 1)
	select {
	case a.inbox <- cmd:
	case <-a.done:
		return Snapshot{}, a.exitErr
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case r := <-cmd.reply:
		return r.snap, r.err
	case <-a.done:
		select {
		case r := <-cmd.reply:
			return r.snap, r.err
		default:
			return Snapshot{}, a.exitErr
		}
	}
}

func (m *Manager) mutate(ctx context.Context, id, op string, fn mutation) (Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "session."+op,
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()
	snap, err := m.send(ctx, id, command{apply: fn})
	if err != nil {
		span.RecordError(err)
	}
	return snap, err
}
