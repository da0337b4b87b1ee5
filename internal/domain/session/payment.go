package session

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kiosk-core/internal/domain/payment"
)

// RetryPayment resubmits a transaction in ERROR. Once the retry budget is
// spent the transaction fails, the session is suspended for an operator
// and ErrRetryExhausted is returned.
func (m *Manager) RetryPayment(ctx context.Context, txID string) (Snapshot, error) {
	id, err := m.sessionForTx(txID)
	if err != nil {
		return Snapshot{}, err
	}
	return m.mutate(ctx, id, "retry_payment", func(s *Session, t *txn) error {
		tx := s.Payment
		if tx == nil || tx.ID != txID {
			return ErrTransactionNotFound
		}
		if s.Status != StatusActive {
			return &InvalidStateError{Op: "retry payment", Status: s.Status}
		}
		if tx.State == payment.StateError && !tx.Amount.Equal(s.Cart.Totals().Total) {
			if err := m.abortPayment(s, t); err != nil {
				return m.breach(s, t, err)
			}
			t.emit(KindPaymentCancelled, paymentPayload(s, ReasonStaleCart))
			return ErrStaleTransaction
		}
		err := m.payments.Retry(tx)
		switch {
		case errors.Is(err, payment.ErrRetryExhausted):
			s.Cart.Unfreeze()
			s.Status = StatusSuspended
			t.emit(KindSessionSuspended, statusPayload(s, "", ReasonRetryExhausted))
			t.after(func() {
				m.payments.Settle(txID)
				m.metrics.payment(ctx, "exhausted")
				m.lg.Warn("Payment retries exhausted",
					zap.String("session_id", s.ID),
					zap.String("transaction_id", txID),
				)
			})
			return err
		case err != nil:
			return err
		}
		s.Cart.Freeze()
		t.emit(KindPaymentStarted, paymentPayload(s, ""))
		m.beginPayment(t, *tx)
		return nil
	})
}

// CancelPayment abandons the active transaction and reopens the cart for
// editing. An engaged gateway is asked to void.
func (m *Manager) CancelPayment(ctx context.Context, txID string) (Snapshot, error) {
	id, err := m.sessionForTx(txID)
	if err != nil {
		return Snapshot{}, err
	}
	return m.mutate(ctx, id, "cancel_payment", func(s *Session, t *txn) error {
		tx := s.Payment
		if tx == nil || tx.ID != txID {
			return ErrTransactionNotFound
		}
		if !tx.Active() {
			return &payment.TransitionError{Op: "cancel", From: tx.State}
		}
		if err := m.abortPayment(s, t); err != nil {
			return m.breach(s, t, err)
		}
		t.emit(KindPaymentCancelled, paymentPayload(s, ReasonCancelled))
		return nil
	})
}

// HandlePaymentResult applies a gateway verdict. Approval emits
// PAYMENT_COMPLETED and then closes the session; a decline or error emits
// PAYMENT_FAILED and unfreezes the cart. Verdicts for superseded attempts
// return payment.ErrStaleResult and change nothing.
func (m *Manager) HandlePaymentResult(ctx context.Context, res payment.Result) error {
	id, err := m.sessionForTx(res.TransactionID)
	if err != nil {
		return err
	}
	_, err = m.mutate(ctx, id, "payment_result", func(s *Session, t *txn) error {
		tx := s.Payment
		if tx == nil || tx.ID != res.TransactionID || s.Status == StatusClosed {
			return payment.ErrStaleResult
		}
		if err := m.payments.Apply(tx, res); err != nil {
			return err
		}
		t.after(func() {
			m.payments.Settle(tx.ID)
			m.metrics.payment(ctx, string(res.Outcome))
		})
		if tx.State == payment.StateSuccess {
			t.emit(KindPaymentCompleted, paymentPayload(s, ""))
			t.then = func(s *Session, t *txn) error {
				m.close(s)
				t.emit(KindSessionClosed, statusPayload(s, "", ReasonPaid))
				return nil
			}
			return nil
		}
		s.Cart.Unfreeze()
		t.emit(KindPaymentFailed, paymentPayload(s, tx.LastError))
		return nil
	})
	return err
}
