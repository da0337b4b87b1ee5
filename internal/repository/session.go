package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kiosk-core/internal/domain/session"
)

// ErrStaleWrite is returned when a snapshot older than the stored one is
// saved.
var ErrStaleWrite = errors.New("stale session write")

const (
	upsertSessionSQL = `INSERT INTO sessions (id, status, variant, seq, flagged, total, snapshot, created_at, closed_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		seq = EXCLUDED.seq,
		flagged = EXCLUDED.flagged,
		total = EXCLUDED.total,
		snapshot = EXCLUDED.snapshot,
		closed_at = EXCLUDED.closed_at,
		updated_at = now()
	WHERE sessions.seq < EXCLUDED.seq`

	insertEventSQL = `INSERT INTO session_events (session_id, seq, kind, payload, at)
	VALUES ($1, $2, $3, $4, $5)`

	upsertTransactionSQL = `INSERT INTO transactions (id, session_id, method, amount, state, attempt, retry_count, last_error, created_at, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
		state = EXCLUDED.state,
		attempt = EXCLUDED.attempt,
		retry_count = EXCLUDED.retry_count,
		last_error = EXCLUDED.last_error,
		completed_at = EXCLUDED.completed_at`

	archiveSessionSQL = `UPDATE sessions SET archived_at = $2, updated_at = now()
	WHERE id = $1 AND archived_at IS NULL`

	getSnapshotSQL = `SELECT snapshot FROM sessions WHERE id = $1`

	listEventsSQL = `SELECT session_id, seq, kind, payload, at FROM session_events
	WHERE session_id = $1 AND seq > $2 AND seq <= $3 ORDER BY seq`

	listOpenSessionsSQL = `SELECT id FROM sessions
	WHERE status <> 'CLOSED' AND archived_at IS NULL ORDER BY created_at`
)

var _ session.Repository = (*SessionRepository)(nil)

// SessionRepository stores session snapshots and their event log.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Save writes the snapshot, its event and the current transaction in one
// database transaction. A snapshot whose sequence number is not newer than
// the stored one is rejected with ErrStaleWrite.
func (r *SessionRepository) Save(ctx context.Context, snap session.Snapshot, ev session.Event) error {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshaling event payload: %w", err)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, upsertSessionSQL,
			snap.ID, snap.Status, snap.Identity.Variant, snap.Seq, snap.Flagged,
			snap.Cart.Totals.Total, snapJSON, snap.CreatedAt, snap.ClosedAt,
		)
		if err != nil {
			return fmt.Errorf("saving session %q: %w", snap.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("saving session %q at seq %d: %w", snap.ID, snap.Seq, ErrStaleWrite)
		}

		if _, err := tx.Exec(ctx, insertEventSQL,
			ev.SessionID, ev.Seq, ev.Kind, payloadJSON, ev.At,
		); err != nil {
			return fmt.Errorf("appending event %d of session %q: %w", ev.Seq, ev.SessionID, err)
		}

		if p := snap.Payment; p != nil {
			if _, err := tx.Exec(ctx, upsertTransactionSQL,
				p.ID, p.SessionID, p.Method, p.Amount, p.State,
				p.Attempt, p.RetryCount, p.LastError, p.CreatedAt, p.CompletedAt,
			); err != nil {
				return fmt.Errorf("saving transaction %q: %w", p.ID, err)
			}
		}
		return nil
	})
}

// Archive marks a session as archived.
func (r *SessionRepository) Archive(ctx context.Context, sessionID string, at time.Time) error {
	if _, err := r.pool.Exec(ctx, archiveSessionSQL, sessionID, at); err != nil {
		return fmt.Errorf("archiving session %q: %w", sessionID, err)
	}
	return nil
}

// Load returns the last stored snapshot of a session, live or archived.
func (r *SessionRepository) Load(ctx context.Context, sessionID string) (*session.Snapshot, error) {
	var raw []byte
	if err := r.pool.QueryRow(ctx, getSnapshotSQL, sessionID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("loading session %q: %w", sessionID, err)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decoding session %q: %w", sessionID, err)
	}
	return &snap, nil
}

// Events returns the events of a session with after < seq <= upTo in
// sequence order.
func (r *SessionRepository) Events(ctx context.Context, sessionID string, after, upTo uint64) ([]session.Event, error) {
	rows, err := r.pool.Query(ctx, listEventsSQL, sessionID, after, upTo)
	if err != nil {
		return nil, fmt.Errorf("listing events of session %q: %w", sessionID, err)
	}
	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("listing events of session %q: %w", sessionID, err)
	}
	return events, nil
}

// OpenSessions lists sessions that were not closed when last saved. After a
// restart these are orphans awaiting operator reconciliation.
func (r *SessionRepository) OpenSessions(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listOpenSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing open sessions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanEvent(row pgx.CollectableRow) (session.Event, error) {
	var (
		ev      session.Event
		kind    string
		payload []byte
	)
	if err := row.Scan(&ev.SessionID, &ev.Seq, &kind, &payload, &ev.At); err != nil {
		return ev, err
	}
	ev.Kind = session.Kind(kind)
	if err := json.Unmarshal(payload, &ev.Payload); err != nil {
		return ev, fmt.Errorf("decoding payload of event %d: %w", ev.Seq, err)
	}
	return ev, nil
}
