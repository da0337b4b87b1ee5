package session

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kiosk-core/internal/domain/cart"
	"github.com/xenking/kiosk-core/internal/domain/evidence"
	"github.com/xenking/kiosk-core/internal/domain/identity"
	"github.com/xenking/kiosk-core/internal/domain/operator"
	"github.com/xenking/kiosk-core/internal/domain/payment"
)

// Suspend pauses an ACTIVE session. Requires a valid operator code. A
// session waiting on a gateway verdict cannot be suspended; the operator
// cancels the payment first.
func (m *Manager) Suspend(ctx context.Context, id, code string) (Snapshot, error) {
	op, err := m.authorize(ctx, code)
	if err != nil {
		return Snapshot{}, err
	}
	return m.mutate(ctx, id, "suspend", func(s *Session, t *txn) error {
		if s.Status != StatusActive {
			return &InvalidStateError{Op: "suspend", Status: s.Status}
		}
		if tx := s.activePayment(); tx != nil && tx.State == payment.StateProcessing {
			return ErrPaymentInFlight
		}
		s.Status = StatusSuspended
		t.emit(KindSessionSuspended, statusPayload(s, op.ID, ReasonOperator))
		return nil
	})
}

// Resume reactivates a SUSPENDED session. Requires a valid operator code.
func (m *Manager) Resume(ctx context.Context, id, code string) (Snapshot, error) {
	op, err := m.authorize(ctx, code)
	if err != nil {
		return Snapshot{}, err
	}
	return m.mutate(ctx, id, "resume", func(s *Session, t *txn) error {
		if s.Status != StatusSuspended {
			return &InvalidStateError{Op: "resume", Status: s.Status}
		}
		s.Status = StatusActive
		t.emit(KindSessionResumed, statusPayload(s, op.ID, ReasonOperator))
		return nil
	})
}

// Cancel closes a session without payment: any active transaction is
// aborted and the cart is cleared. Requires a valid operator code.
func (m *Manager) Cancel(ctx context.Context, id, code string) (Snapshot, error) {
	op, err := m.authorize(ctx, code)
	if err != nil {
		return Snapshot{}, err
	}
	return m.mutate(ctx, id, "cancel", func(s *Session, t *txn) error {
		if s.Status == StatusClosed {
			return &InvalidStateError{Op: "cancel", Status: s.Status}
		}
		if err := m.abortPayment(s, t); err != nil {
			return m.breach(s, t, err)
		}
		s.Cart.Clear()
		m.close(s)
		t.emit(KindSessionClosed, statusPayload(s, op.ID, ReasonCancelled))
		return nil
	})
}

// Checkout freezes the cart and opens a transaction for its total.
func (m *Manager) Checkout(ctx context.Context, id string, method payment.Method) (Snapshot, error) {
	return m.mutate(ctx, id, "checkout", func(s *Session, t *txn) error {
		if s.Status != StatusActive {
			return &InvalidStateError{Op: "checkout", Status: s.Status}
		}
		if s.Cart.Empty() {
			return ErrEmptyCart
		}
		if s.activePayment() != nil {
			return ErrPaymentInFlight
		}
		tx, err := m.payments.Open(s.ID, s.Cart.Totals().Total, method)
		if err != nil {
			return err
		}
		s.Payment = tx
		s.Cart.Freeze()
		t.emit(KindPaymentStarted, paymentPayload(s, ""))
		m.beginPayment(t, *tx)
		return nil
	})
}

// AddItemRequest describes one product addition.
type AddItemRequest struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Source    cart.Source
	// EvidenceRef references captured imagery; recorded for anonymous
	// sessions only.
	EvidenceRef string
	// OperatorCode is optional; when present it must be valid and the
	// operator is recorded on the event.
	OperatorCode string
}

// AddItem adds units of a product to the cart.
func (m *Manager) AddItem(ctx context.Context, id string, req AddItemRequest) (Snapshot, error) {
	return m.editCart(ctx, id, "add_item", req.OperatorCode, false, func(s *Session, t *txn) error {
		if _, err := s.Cart.Add(req.ProductID, req.Quantity, req.UnitPrice, req.Source); err != nil {
			return err
		}
		if req.EvidenceRef != "" && s.Identity.Variant() == identity.VariantNoID {
			v := evidence.Visual{
				SessionID:  s.ID,
				ProductID:  req.ProductID,
				Reference:  req.EvidenceRef,
				CapturedAt: m.now(),
			}
			t.after(func() { m.recordEvidence(v) })
		}
		return nil
	})
}

// RemoveItem removes units from a cart line; zero units removes the line.
func (m *Manager) RemoveItem(ctx context.Context, id, lineID string, units int, code string) (Snapshot, error) {
	return m.editCart(ctx, id, "remove_item", code, false, func(s *Session, _ *txn) error {
		return s.Cart.Remove(lineID, units)
	})
}

// UpdateQuantity sets the quantity of a cart line; zero removes the line.
func (m *Manager) UpdateQuantity(ctx context.Context, id, lineID string, quantity int, code string) (Snapshot, error) {
	return m.editCart(ctx, id, "update_quantity", code, false, func(s *Session, _ *txn) error {
		return s.Cart.UpdateQuantity(lineID, quantity)
	})
}

// ApplyDiscount sets the cart discount. Requires a valid operator code.
func (m *Manager) ApplyDiscount(ctx context.Context, id string, amount decimal.Decimal, code string) (Snapshot, error) {
	return m.editCart(ctx, id, "apply_discount", code, true, func(s *Session, _ *txn) error {
		return s.Cart.ApplyDiscount(amount)
	})
}

// editCart runs a cart edit on an ACTIVE session and emits CART_UPDATED. A
// transaction left in ERROR no longer matches the edited cart and is
// aborted as part of the same event.
func (m *Manager) editCart(
	ctx context.Context,
	id, op, code string,
	requireOperator bool,
	edit func(s *Session, t *txn) error,
) (Snapshot, error) {
	var who *operator.Operator
	if code != "" || requireOperator {
		var err error
		if who, err = m.authorize(ctx, code); err != nil {
			return Snapshot{}, err
		}
	}
	return m.mutate(ctx, id, op, func(s *Session, t *txn) error {
		if s.Status != StatusActive {
			return &InvalidStateError{Op: op, Status: s.Status}
		}
		reason := ""
		if s.Payment != nil && s.Payment.State == payment.StateError {
			if err := m.abortPayment(s, t); err != nil {
				return m.breach(s, t, err)
			}
			reason = ReasonStaleCart
		}
		discount := s.Cart.Totals().Discount
		if err := edit(s, t); err != nil {
			return err
		}
		if err := s.Cart.Verify(); err != nil {
			return m.breach(s, t, err)
		}
		if reason == "" && s.Cart.Totals().Discount.LessThan(discount) && op != "apply_discount" {
			reason = ReasonDiscountAdjusted
		}
		operatorID := ""
		if who != nil {
			operatorID = who.ID
		}
		t.emit(KindCartUpdated, cartPayload(s, operatorID, reason))
		return nil
	})
}

// close marks s CLOSED.
func (m *Manager) close(s *Session) {
	now := m.now()
	s.Status = StatusClosed
	s.ClosedAt = &now
}

// abortPayment returns an active transaction to IDLE and voids it after
// commit.
func (m *Manager) abortPayment(s *Session, t *txn) error {
	tx := s.activePayment()
	if tx == nil {
		return nil
	}
	if err := m.payments.Cancel(tx); err != nil {
		return errors.Wrap(err, "abort payment")
	}
	s.Cart.Unfreeze()
	aborted := *tx
	t.after(func() { m.payments.Abort(aborted) })
	return nil
}

// breach force-closes a session whose state violates an invariant. An
// active transaction that cannot be aborted stays as it is for the
// investigation.
func (m *Manager) breach(s *Session, t *txn, cause error) error {
	if err := m.abortPayment(s, t); err != nil {
		m.lg.Error("Abort payment of breached session",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
	}
	s.Flagged = true
	m.close(s)
	t.emit(KindSessionClosed, statusPayload(s, "", ReasonInvariant))
	return &InvariantError{SessionID: s.ID, Err: cause}
}

func (m *Manager) beginPayment(t *txn, tx payment.Transaction) {
	t.after(func() {
		m.indexTx(tx.ID, tx.SessionID)
		m.payments.Begin(tx, m.deliver)
	})
}
