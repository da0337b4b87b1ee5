// Package session owns kiosk session lifecycles.
//
// Every live session is served by one actor goroutine that applies commands
// strictly in admission order. Commands for different sessions never contend
// with each other. A committed command is persisted together with exactly one
// event (sequence number = previous + 1) and that event is published to the
// session's subscribers before the caller gets its reply.
package session

import (
	"time"

	"github.com/xenking/kiosk-core/internal/domain/cart"
	"github.com/xenking/kiosk-core/internal/domain/identity"
	"github.com/xenking/kiosk-core/internal/domain/payment"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	// StatusClosed is terminal.
	StatusClosed Status = "CLOSED"
)

// Session is the mutable state owned by a session actor.
type Session struct {
	ID        string
	Identity  identity.Identity
	Status    Status
	CreatedAt time.Time
	ClosedAt  *time.Time
	Seq       uint64
	// Flagged marks a session force-closed for investigation.
	Flagged bool
	Cart    *cart.Cart
	// Payment is the most recent transaction; at most one is active.
	Payment *payment.Transaction
}

// Snapshot is an immutable copy of a session.
type Snapshot struct {
	ID        string              `json:"id"`
	Identity  identity.Attributes `json:"identity"`
	Status    Status              `json:"status"`
	Seq       uint64              `json:"seq"`
	Flagged   bool                `json:"flagged"`
	CreatedAt time.Time           `json:"created_at"`
	ClosedAt  *time.Time          `json:"closed_at,omitempty"`
	Cart      cart.View           `json:"cart"`
	Payment   *payment.Transaction `json:"payment,omitempty"`
}

// Snapshot copies s.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:        s.ID,
		Identity:  identity.Describe(s.Identity),
		Status:    s.Status,
		Seq:       s.Seq,
		Flagged:   s.Flagged,
		CreatedAt: s.CreatedAt,
		ClosedAt:  copyTime(s.ClosedAt),
		Cart:      s.Cart.View(),
		Payment:   s.paymentCopy(),
	}
}

func (s *Session) clone() *Session {
	cp := *s
	cp.ClosedAt = copyTime(s.ClosedAt)
	cp.Cart = s.Cart.Clone()
	cp.Payment = s.paymentCopy()
	return &cp
}

func (s *Session) paymentCopy() *payment.Transaction {
	if s.Payment == nil {
		return nil
	}
	tx := *s.Payment
	tx.CompletedAt = copyTime(s.Payment.CompletedAt)
	return &tx
}

// activePayment returns the in-flight transaction, or nil.
func (s *Session) activePayment() *payment.Transaction {
	if s.Payment != nil && s.Payment.Active() {
		return s.Payment
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
