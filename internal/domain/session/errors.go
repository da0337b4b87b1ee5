package session

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned for unknown or archived sessions.
	ErrNotFound = errors.New("session not found")
	// ErrEmptyCart is returned by checkout on an empty cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrPaymentInFlight is returned by checkout while a transaction is
	// active and by suspend while a gateway verdict is pending.
	ErrPaymentInFlight = errors.New("payment already in flight")
	// ErrTransactionNotFound is returned when a transaction id does not name
	// the current transaction of a live session.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrStaleTransaction is returned when the cart no longer matches the
	// transaction amount; the transaction has been aborted.
	ErrStaleTransaction = errors.New("transaction amount no longer matches cart total")
	// ErrClosed is returned after the manager has been shut down.
	ErrClosed = errors.New("session manager closed")
)

// InvalidStateError indicates an operation the current status forbids.
type InvalidStateError struct {
	Op     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s session in state %s", e.Op, e.Status)
}

// CreationError indicates that a session could not be created from an
// identity or identification signal.
type CreationError struct {
	Err error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("create session: %v", e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// InvariantError indicates a broken invariant; the session has been
// force-closed and flagged.
type InvariantError struct {
	SessionID string
	Err       error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("session %s closed on invariant violation: %v", e.SessionID, e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }
