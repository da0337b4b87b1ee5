package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockGateway struct {
	mu        sync.Mutex
	charges   []ChargeRequest
	voids     []string
	chargeErr error
	voided    chan string
	charged   chan ChargeRequest
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		voided:  make(chan string, 8),
		charged: make(chan ChargeRequest, 8),
	}
}

func (m *mockGateway) Charge(_ context.Context, req ChargeRequest) error {
	m.mu.Lock()
	m.charges = append(m.charges, req)
	err := m.chargeErr
	m.mu.Unlock()
	m.charged <- req
	return err
}

func (m *mockGateway) Void(_ context.Context, id string) error {
	m.mu.Lock()
	m.voids = append(m.voids, id)
	m.mu.Unlock()
	m.voided <- id
	return nil
}

type resultSink struct {
	ch chan Result
}

func newResultSink() *resultSink {
	return &resultSink{ch: make(chan Result, 8)}
}

func (s *resultSink) deliver(r Result) { s.ch <- r }

func (s *resultSink) next(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-s.ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
		return Result{}
	}
}

// --- Tests ---

func TestOpen(t *testing.T) {
	o := NewOrchestrator(newMockGateway(), Policy{}, nil)

	tx, err := o.Open("s1", decimal.NewFromInt(2380), MethodCard)
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, tx.State)
	assert.Equal(t, 1, tx.Attempt)
	assert.True(t, tx.Engaged)
	assert.True(t, tx.Active())
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, DefaultPolicy, o.Policy())

	_, err = o.Open("s1", decimal.Zero, MethodCard)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = o.Open("s1", decimal.NewFromInt(1), "")
	require.ErrorIs(t, err, ErrInvalidMethod)
}

func TestApply(t *testing.T) {
	o := NewOrchestrator(newMockGateway(), Policy{MaxRetries: 2}, nil)

	tx, err := o.Open("s1", decimal.NewFromInt(10), MethodCard)
	require.NoError(t, err)

	// Wrong attempt and wrong id are stale.
	require.ErrorIs(t, o.Apply(tx, Result{TransactionID: tx.ID, Attempt: 2, Outcome: OutcomeApproved}), ErrStaleResult)
	require.ErrorIs(t, o.Apply(tx, Result{TransactionID: "other", Attempt: 1, Outcome: OutcomeApproved}), ErrStaleResult)

	require.NoError(t, o.Apply(tx, Result{TransactionID: tx.ID, Attempt: 1, Outcome: OutcomeDeclined, Reason: "insufficient funds"}))
	assert.Equal(t, StateError, tx.State)
	assert.Equal(t, 1, tx.RetryCount)
	assert.Equal(t, "insufficient funds", tx.LastError)
	assert.ErrorIs(t, tx.Err(), ErrGateway)

	// A late verdict for the same attempt no longer applies.
	require.ErrorIs(t, o.Apply(tx, Result{TransactionID: tx.ID, Attempt: 1, Outcome: OutcomeApproved}), ErrStaleResult)

	require.NoError(t, o.Retry(tx))
	assert.Equal(t, 2, tx.Attempt)
	require.NoError(t, o.Apply(tx, Result{TransactionID: tx.ID, Attempt: 2, Outcome: OutcomeApproved}))
	assert.Equal(t, StateSuccess, tx.State)
	assert.NotNil(t, tx.CompletedAt)
	assert.False(t, tx.Active())
	assert.NoError(t, tx.Err())
}

func TestApply_ErrorWithoutReason(t *testing.T) {
	o := NewOrchestrator(newMockGateway(), Policy{}, nil)
	tx, err := o.Open("s1", decimal.NewFromInt(10), MethodQR)
	require.NoError(t, err)

	require.NoError(t, o.Apply(tx, Result{TransactionID: tx.ID, Attempt: 1, Outcome: OutcomeError}))
	assert.Equal(t, "ERROR", tx.LastError)
}

func TestRetry_Exhausted(t *testing.T) {
	o := NewOrchestrator(newMockGateway(), Policy{MaxRetries: 2}, nil)
	tx, err := o.Open("s1", decimal.NewFromInt(10), MethodCard)
	require.NoError(t, err)

	var transErr *TransitionError
	require.ErrorAs(t, o.Retry(tx), &transErr)
	assert.Equal(t, StateProcessing, transErr.From)

	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, o.Apply(tx, Result{TransactionID: tx.ID, Attempt: attempt, Outcome: OutcomeDeclined}))
		if attempt < 2 {
			require.NoError(t, o.Retry(tx))
		}
	}
	assert.Equal(t, 2, tx.RetryCount)

	require.ErrorIs(t, o.Retry(tx), ErrRetryExhausted)
	assert.Equal(t, StateFailed, tx.State)
	assert.NotNil(t, tx.CompletedAt)
	assert.False(t, tx.Active())
}

func TestCancel(t *testing.T) {
	o := NewOrchestrator(newMockGateway(), Policy{}, nil)
	tx, err := o.Open("s1", decimal.NewFromInt(10), MethodCard)
	require.NoError(t, err)

	require.NoError(t, o.Cancel(tx))
	assert.Equal(t, StateIdle, tx.State)

	var transErr *TransitionError
	require.ErrorAs(t, o.Cancel(tx), &transErr)
	require.ErrorIs(t, o.Apply(tx, Result{TransactionID: tx.ID, Attempt: 1, Outcome: OutcomeApproved}), ErrStaleResult)
}

func TestBegin_SubmitsCharge(t *testing.T) {
	gw := newMockGateway()
	o := NewOrchestrator(gw, Policy{Timeout: time.Minute}, nil)
	sink := newResultSink()

	tx, err := o.Open("s1", decimal.RequireFromString("23.80"), MethodCard)
	require.NoError(t, err)
	o.Begin(*tx, sink.deliver)

	select {
	case req := <-gw.charged:
		assert.Equal(t, tx.ID, req.TransactionID)
		assert.Equal(t, "s1", req.SessionID)
		assert.Equal(t, 1, req.Attempt)
		assert.True(t, decimal.RequireFromString("23.80").Equal(req.Amount))
	case <-time.After(2 * time.Second):
		t.Fatal("charge not submitted")
	}

	o.Settle(tx.ID)
	o.Wait()
	assert.Empty(t, sink.ch)
}

func TestBegin_SubmissionFailureDelivered(t *testing.T) {
	gw := newMockGateway()
	gw.chargeErr = errors.New("terminal offline")
	o := NewOrchestrator(gw, Policy{Timeout: time.Minute}, nil)
	sink := newResultSink()

	tx, err := o.Open("s1", decimal.NewFromInt(5), MethodCard)
	require.NoError(t, err)
	o.Begin(*tx, sink.deliver)

	res := sink.next(t)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, "terminal offline", res.Reason)
	assert.Equal(t, 1, res.Attempt)
	o.Wait()
}

func TestBegin_Timeout(t *testing.T) {
	gw := newMockGateway()
	o := NewOrchestrator(gw, Policy{Timeout: 20 * time.Millisecond}, nil)
	sink := newResultSink()

	tx, err := o.Open("s1", decimal.NewFromInt(5), MethodCard)
	require.NoError(t, err)
	o.Begin(*tx, sink.deliver)

	res := sink.next(t)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, ReasonTimeout, res.Reason)

	require.NoError(t, o.Apply(tx, res))
	assert.Equal(t, StateError, tx.State)
	assert.Equal(t, ReasonTimeout, tx.LastError)
	o.Wait()
}

func TestAbort_VoidsEngagedTransaction(t *testing.T) {
	gw := newMockGateway()
	o := NewOrchestrator(gw, Policy{Timeout: time.Minute}, nil)

	tx, err := o.Open("s1", decimal.NewFromInt(5), MethodCard)
	require.NoError(t, err)
	require.NoError(t, o.Cancel(tx))
	o.Abort(*tx)

	select {
	case id := <-gw.voided:
		assert.Equal(t, tx.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("void not requested")
	}

	tx.Engaged = false
	o.Abort(*tx)
	o.Wait()
	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Len(t, gw.voids, 1)
}
