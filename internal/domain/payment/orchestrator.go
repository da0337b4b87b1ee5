package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Policy configures retries and timeouts.
type Policy struct {
	// MaxRetries is the number of failed attempts after which Retry gives up.
	MaxRetries int
	// Timeout bounds how long an attempt may stay PROCESSING.
	Timeout time.Duration
	// VoidTimeout bounds a single void request.
	VoidTimeout time.Duration
}

// DefaultPolicy is used when no policy is configured.
var DefaultPolicy = Policy{
	MaxRetries:  3,
	Timeout:     60 * time.Second,
	VoidTimeout: 10 * time.Second,
}

// Orchestrator owns the transaction state machine and the asynchronous
// gateway interaction.
//
// State transitions (Open, Apply, Retry, Cancel) mutate the Transaction passed
// in and never block; the caller serializes them per session. Side effects
// (Begin, Settle, Abort) are run by the caller after the transition has been
// committed, so a rejected transition never reaches the gateway.
type Orchestrator struct {
	gateway Gateway
	policy  Policy
	lg      *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator. Zero policy fields fall back to DefaultPolicy.
func NewOrchestrator(gateway Gateway, policy Policy, lg *zap.Logger) *Orchestrator {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = DefaultPolicy.MaxRetries
	}
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultPolicy.Timeout
	}
	if policy.VoidTimeout <= 0 {
		policy.VoidTimeout = DefaultPolicy.VoidTimeout
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Orchestrator{
		gateway: gateway,
		policy:  policy,
		lg:      lg,
		now:     time.Now,
		timers:  make(map[string]*time.Timer),
	}
}

// Policy returns the effective policy.
func (o *Orchestrator) Policy() Policy { return o.policy }

// Open creates a PROCESSING transaction for amount. The gateway is engaged by
// the following Begin.
func (o *Orchestrator) Open(sessionID string, amount decimal.Decimal, method Method) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if method == "" {
		return nil, ErrInvalidMethod
	}
	return &Transaction{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Method:    method,
		Amount:    amount,
		State:     StateProcessing,
		Attempt:   1,
		Engaged:   true,
		CreatedAt: o.now(),
	}, nil
}

// Apply records a gateway verdict. Results for another transaction, another
// attempt, or a transaction no longer PROCESSING return ErrStaleResult.
func (o *Orchestrator) Apply(tx *Transaction, res Result) error {
	if res.TransactionID != tx.ID || res.Attempt != tx.Attempt || tx.State != StateProcessing {
		return ErrStaleResult
	}
	switch res.Outcome {
	case OutcomeApproved:
		now := o.now()
		tx.State = StateSuccess
		tx.CompletedAt = &now
		tx.LastError = ""
	case OutcomeDeclined, OutcomeError:
		tx.State = StateError
		tx.RetryCount++
		tx.LastError = res.Reason
		if tx.LastError == "" {
			tx.LastError = string(res.Outcome)
		}
	default:
		return &TransitionError{Op: "apply " + string(res.Outcome), From: tx.State}
	}
	return nil
}

// Retry moves an ERROR transaction back to PROCESSING. When the retry count
// has reached the policy maximum the transaction becomes FAILED and
// ErrRetryExhausted is returned.
func (o *Orchestrator) Retry(tx *Transaction) error {
	if tx.State != StateError {
		return &TransitionError{Op: "retry", From: tx.State}
	}
	if tx.RetryCount >= o.policy.MaxRetries {
		now := o.now()
		tx.State = StateFailed
		tx.CompletedAt = &now
		return ErrRetryExhausted
	}
	tx.Attempt++
	tx.State = StateProcessing
	return nil
}

// Cancel moves a PROCESSING or ERROR transaction back to IDLE.
func (o *Orchestrator) Cancel(tx *Transaction) error {
	if !tx.Active() {
		return &TransitionError{Op: "cancel", From: tx.State}
	}
	tx.State = StateIdle
	return nil
}

// Begin submits the current attempt of tx to the gateway and arms the
// timeout. deliver receives the timeout or submission failure; gateway
// verdicts arrive through the caller's callback path.
func (o *Orchestrator) Begin(tx Transaction, deliver func(Result)) {
	attempt := tx.Attempt
	timer := time.AfterFunc(o.policy.Timeout, func() {
		o.lg.Warn("Payment attempt timed out",
			zap.String("transaction_id", tx.ID),
			zap.Int("attempt", attempt),
		)
		deliver(Result{TransactionID: tx.ID, Attempt: attempt, Outcome: OutcomeError, Reason: ReasonTimeout})
	})
	o.mu.Lock()
	if prev, ok := o.timers[tx.ID]; ok {
		prev.Stop()
	}
	o.timers[tx.ID] = timer
	o.mu.Unlock()

	req := ChargeRequest{
		TransactionID: tx.ID,
		SessionID:     tx.SessionID,
		Attempt:       attempt,
		Amount:        tx.Amount,
		Method:        tx.Method,
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.policy.Timeout)
		defer cancel()
		if err := o.gateway.Charge(ctx, req); err != nil {
			o.lg.Warn("Charge submission failed",
				zap.String("transaction_id", tx.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			deliver(Result{TransactionID: tx.ID, Attempt: attempt, Outcome: OutcomeError, Reason: err.Error()})
		}
	}()
}

// Settle disarms the timeout of a transaction that left PROCESSING.
func (o *Orchestrator) Settle(transactionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.timers[transactionID]; ok {
		t.Stop()
		delete(o.timers, transactionID)
	}
}

// Abort disarms the timeout and, when the gateway was engaged, requests a
// void without waiting for it.
func (o *Orchestrator) Abort(tx Transaction) {
	o.Settle(tx.ID)
	if !tx.Engaged {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.policy.VoidTimeout)
		defer cancel()
		if err := o.gateway.Void(ctx, tx.ID); err != nil {
			o.lg.Error("Void failed",
				zap.String("transaction_id", tx.ID),
				zap.String("session_id", tx.SessionID),
				zap.Error(err),
			)
			return
		}
		o.lg.Info("Transaction voided", zap.String("transaction_id", tx.ID))
	}()
}

// Wait blocks until in-flight gateway requests finish and disarms all timers.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	for id, t := range o.timers {
		t.Stop()
		delete(o.timers, id)
	}
	o.mu.Unlock()
	o.wg.Wait()
}
