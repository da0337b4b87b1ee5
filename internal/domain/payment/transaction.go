// Package payment drives payment transactions against an external gateway.
package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// State is the lifecycle state of a Transaction.
type State string

const (
	StateIdle       State = "IDLE"
	StateProcessing State = "PROCESSING"
	StateSuccess    State = "SUCCESS"
	StateError      State = "ERROR"
	// StateFailed is the terminal state reached when retries are exhausted.
	StateFailed State = "FAILED"
)

// Method is the payment method requested by the customer.
type Method string

const (
	MethodCard Method = "CARD"
	MethodQR   Method = "QR"
)

// Outcome is the gateway verdict for one charge attempt.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeDeclined Outcome = "DECLINED"
	OutcomeError    Outcome = "ERROR"
)

// ReasonTimeout is recorded when the gateway does not answer in time.
const ReasonTimeout = "timeout"

// Transaction is one payment attempt series for a session. Amount is the cart
// total at the instant the transaction was opened.
type Transaction struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Method      Method          `json:"method"`
	Amount      decimal.Decimal `json:"amount"`
	State       State           `json:"state"`
	Attempt     int             `json:"attempt"`
	RetryCount  int             `json:"retry_count"`
	LastError   string          `json:"last_error,omitempty"`
	Engaged     bool            `json:"engaged"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Active reports whether the transaction is non-terminal (PROCESSING or ERROR).
func (t *Transaction) Active() bool {
	return t.State == StateProcessing || t.State == StateError
}

// Err returns the recorded gateway failure, if any.
func (t *Transaction) Err() error {
	if t.State != StateError && t.State != StateFailed {
		return nil
	}
	return &GatewayError{Reason: t.LastError}
}

// ChargeRequest is sent to the gateway for every attempt.
type ChargeRequest struct {
	TransactionID string
	SessionID     string
	Attempt       int
	Amount        decimal.Decimal
	Method        Method
}

// Result is the gateway callback for one attempt.
type Result struct {
	TransactionID string
	Attempt       int
	Outcome       Outcome
	Reason        string
}

// Gateway is the external payment terminal. Charge only submits the request;
// the verdict arrives later as a Result.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) error
	Void(ctx context.Context, transactionID string) error
}
