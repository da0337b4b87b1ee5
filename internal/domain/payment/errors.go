package payment

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrRetryExhausted is returned when a retry would exceed the configured maximum.
	ErrRetryExhausted = errors.New("payment retries exhausted")
	// ErrStaleResult is returned for callbacks that do not match the current attempt.
	ErrStaleResult = errors.New("stale payment result")
	// ErrInvalidAmount is returned when opening a transaction for a non-positive amount.
	ErrInvalidAmount = errors.New("payment amount must be positive")
	// ErrInvalidMethod is returned for an empty payment method.
	ErrInvalidMethod = errors.New("payment method required")
	// ErrGateway is the class of every *GatewayError.
	ErrGateway = errors.New("payment gateway error")
)

// GatewayError is a timeout or decline recorded on a transaction.
type GatewayError struct {
	Reason string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway error: %s", e.Reason)
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

// TransitionError indicates an operation not allowed from the current state.
type TransitionError struct {
	Op   string
	From State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s payment in state %s", e.Op, e.From)
}
