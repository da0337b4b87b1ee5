package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kiosk-core/internal/domain/operator"
)

const (
	findOperatorByCodeHashSQL = `SELECT id, name, username, code_hash
	FROM operators WHERE code_hash = $1 AND active = TRUE`

	listCodeHashesSQL = `SELECT code_hash FROM operators WHERE active = TRUE`

	upsertOperatorSQL = `INSERT INTO operators (id, username, name, code_hash)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (username) DO UPDATE SET
		name = EXCLUDED.name,
		code_hash = EXCLUDED.code_hash,
		active = TRUE,
		updated_at = now()`
)

var (
	_ operator.Registry   = (*OperatorRepository)(nil)
	_ operator.HashLister = (*OperatorRepository)(nil)
)

// OperatorRepository provides operator lookups backed by PostgreSQL.
type OperatorRepository struct {
	pool *pgxpool.Pool
}

// NewOperatorRepository returns an OperatorRepository that uses the given pool.
func NewOperatorRepository(pool *pgxpool.Pool) *OperatorRepository {
	return &OperatorRepository{pool: pool}
}

// FindByCodeHash looks up an active operator by code hash. Returns
// operator.ErrNotFound when none matches.
func (r *OperatorRepository) FindByCodeHash(ctx context.Context, hash string) (*operator.Operator, error) {
	var op operator.Operator
	err := r.pool.QueryRow(ctx, findOperatorByCodeHashSQL, hash).Scan(
		&op.ID, &op.Name, &op.Username, &op.CodeHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, operator.ErrNotFound
		}
		return nil, fmt.Errorf("finding operator by code hash: %w", err)
	}
	return &op, nil
}

// ListCodeHashes returns the code hash of every active operator.
func (r *OperatorRepository) ListCodeHashes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listCodeHashesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing code hashes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Upsert creates or updates operators keyed by username in one batch.
// Operators without an ID get a new one.
func (r *OperatorRepository) Upsert(ctx context.Context, ops []operator.Operator) error {
	if len(ops) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, op := range ops {
		id := op.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(upsertOperatorSQL, id, op.Username, op.Name, op.CodeHash)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d operators: %w", len(ops), err)
	}
	return nil
}
