package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kiosk-core/internal/domain/evidence"
)

const insertEvidenceSQL = `INSERT INTO visual_evidence (session_id, product_id, reference, captured_at)
	VALUES ($1, $2, $3, $4)`

var _ evidence.Recorder = (*EvidenceRepository)(nil)

// EvidenceRepository appends visual evidence records.
type EvidenceRepository struct {
	pool *pgxpool.Pool
}

// NewEvidenceRepository returns an EvidenceRepository that uses the given pool.
func NewEvidenceRepository(pool *pgxpool.Pool) *EvidenceRepository {
	return &EvidenceRepository{pool: pool}
}

// Record stores v.
func (r *EvidenceRepository) Record(ctx context.Context, v evidence.Visual) error {
	if _, err := r.pool.Exec(ctx, insertEvidenceSQL,
		v.SessionID, v.ProductID, v.Reference, v.CapturedAt,
	); err != nil {
		return fmt.Errorf("recording evidence for session %q: %w", v.SessionID, err)
	}
	return nil
}
