package session

import (
	"time"

	"github.com/xenking/kiosk-core/internal/domain/cart"
	"github.com/xenking/kiosk-core/internal/domain/identity"
	"github.com/xenking/kiosk-core/internal/domain/payment"
)

// Kind identifies the type of an Event.
type Kind string

const (
	KindSessionCreated   Kind = "SESSION_CREATED"
	KindCartUpdated      Kind = "CART_UPDATED"
	KindSessionClosed    Kind = "SESSION_CLOSED"
	KindPaymentCompleted Kind = "PAYMENT_COMPLETED"
	KindSessionSuspended Kind = "SESSION_SUSPENDED"
	KindSessionResumed   Kind = "SESSION_RESUMED"
	KindPaymentStarted   Kind = "PAYMENT_STARTED"
	KindPaymentFailed    Kind = "PAYMENT_FAILED"
	KindPaymentCancelled Kind = "PAYMENT_CANCELLED"
)

// Reasons attached to lifecycle events.
const (
	ReasonOperator       = "operator"
	ReasonCancelled      = "cancelled"
	ReasonPaid           = "paid"
	ReasonInvariant      = "invariant_violation"
	ReasonRetryExhausted = "retry_exhausted"
	ReasonStaleCart      = "stale_cart"

	// ReasonDiscountAdjusted marks a cart edit that lowered the applied
	// discount to the new subtotal.
	ReasonDiscountAdjusted = "discount_adjusted"
)

// Event is one committed state change of a session. Seq is gapless and
// strictly increasing per session.
type Event struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Kind      Kind      `json:"kind"`
	At        time.Time `json:"at"`
	Payload   Payload   `json:"payload"`
}

// Payload carries the kind-specific part of an Event. Only the fields
// relevant to the kind are set.
type Payload struct {
	Status     Status               `json:"status,omitempty"`
	Identity   *identity.Attributes `json:"identity,omitempty"`
	Cart       *cart.View           `json:"cart,omitempty"`
	Payment    *payment.Transaction `json:"payment,omitempty"`
	OperatorID string               `json:"operator_id,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Flagged    bool                 `json:"flagged,omitempty"`
}

func statusPayload(s *Session, operatorID, reason string) Payload {
	return Payload{
		Status:     s.Status,
		Payment:    s.paymentCopy(),
		OperatorID: operatorID,
		Reason:     reason,
		Flagged:    s.Flagged,
	}
}

func cartPayload(s *Session, operatorID, reason string) Payload {
	v := s.Cart.View()
	return Payload{
		Cart:       &v,
		Payment:    s.paymentCopy(),
		OperatorID: operatorID,
		Reason:     reason,
	}
}

func paymentPayload(s *Session, reason string) Payload {
	v := s.Cart.View()
	return Payload{
		Cart:    &v,
		Payment: s.paymentCopy(),
		Reason:  reason,
	}
}
