package session

import (
	"context"

	"github.com/xenking/kiosk-core/internal/broadcast"
)

// Get returns the current snapshot of a session.
func (m *Manager) Get(ctx context.Context, id string) (Snapshot, error) {
	var snap Snapshot
	_, err := m.send(ctx, id, command{read: func(a *actor) {
		snap = a.state.Snapshot()
	}})
	return snap, err
}

// Subscribe delivers every event committed after the call, in sequence
// order.
func (m *Manager) Subscribe(_ context.Context, id string) (*broadcast.Subscription[Event], error) {
	a, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	sub, err := a.bc.Subscribe()
	if err != nil {
		return nil, ErrNotFound
	}
	return sub, nil
}

// SubscribeWithSnapshot returns the current snapshot and a subscription
// whose first event has sequence number snapshot.Seq+1.
func (m *Manager) SubscribeWithSnapshot(ctx context.Context, id string) (Snapshot, *broadcast.Subscription[Event], error) {
	var (
		snap   Snapshot
		sub    *broadcast.Subscription[Event]
		subErr error
	)
	_, err := m.send(ctx, id, command{read: func(a *actor) {
		snap = a.state.Snapshot()
		sub, subErr = a.bc.Subscribe()
	}})
	if err != nil {
		return Snapshot{}, nil, err
	}
	if subErr != nil {
		return Snapshot{}, nil, ErrNotFound
	}
	return snap, sub, nil
}
