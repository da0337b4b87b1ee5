// Package evidence records the visual audit trail of unidentified customers.
package evidence

import (
	"context"
	"time"
)

// Visual is a captured image reference proving an item was taken by a
// customer without a trusted identity.
type Visual struct {
	SessionID  string    `json:"session_id"`
	ProductID  string    `json:"product_id"`
	Reference  string    `json:"reference"`
	CapturedAt time.Time `json:"captured_at"`
}

// Recorder persists visual evidence. Records are append-only.
type Recorder interface {
	Record(ctx context.Context, v Visual) error
}
