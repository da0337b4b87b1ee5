package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/kiosk-core/internal/domain/payment"
)

// Decider picks the verdict of a simulated charge.
type Decider func(req payment.ChargeRequest) payment.Result

// ApproveAll approves every charge.
func ApproveAll(req payment.ChargeRequest) payment.Result {
	return payment.Result{
		TransactionID: req.TransactionID,
		Attempt:       req.Attempt,
		Outcome:       payment.OutcomeApproved,
	}
}

// DeclineFirst declines the first n attempts of every transaction and
// approves the rest.
func DeclineFirst(n int) Decider {
	return func(req payment.ChargeRequest) payment.Result {
		res := ApproveAll(req)
		if req.Attempt <= n {
			res.Outcome = payment.OutcomeDeclined
			res.Reason = "declined by simulator"
		}
		return res
	}
}

var _ payment.Gateway = (*SimulatedGateway)(nil)

// SimulatedGateway answers charges locally after a delay. It stands in for
// a provider in development and demos.
type SimulatedGateway struct {
	delay   time.Duration
	decide  Decider
	lg      *zap.Logger
	mu      sync.Mutex
	deliver func(ctx context.Context, res payment.Result) error
	voided  map[string]bool
}

// NewSimulatedGateway creates a SimulatedGateway. A nil decide approves
// everything.
func NewSimulatedGateway(delay time.Duration, decide Decider, lg *zap.Logger) *SimulatedGateway {
	if decide == nil {
		decide = ApproveAll
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &SimulatedGateway{
		delay:  delay,
		decide: decide,
		lg:     lg,
		voided: make(map[string]bool),
	}
}

// Bind sets where verdicts are delivered.
func (g *SimulatedGateway) Bind(deliver func(ctx context.Context, res payment.Result) error) {
	g.mu.Lock()
	g.deliver = deliver
	g.mu.Unlock()
}

// Charge implements payment.Gateway.
func (g *SimulatedGateway) Charge(_ context.Context, req payment.ChargeRequest) error {
	g.mu.Lock()
	deliver := g.deliver
	g.mu.Unlock()
	if deliver == nil {
		return &payment.GatewayError{Reason: "simulator not bound"}
	}
	res := g.decide(req)
	time.AfterFunc(g.delay, func() {
		if g.Voided(req.TransactionID) {
			return
		}
		if err := deliver(context.Background(), res); err != nil {
			g.lg.Debug("Simulated verdict not applied",
				zap.String("transaction_id", res.TransactionID),
				zap.Error(err),
			)
		}
	})
	return nil
}

// Void implements payment.Gateway.
func (g *SimulatedGateway) Void(_ context.Context, transactionID string) error {
	g.mu.Lock()
	g.voided[transactionID] = true
	g.mu.Unlock()
	return nil
}

// Voided reports whether a transaction was voided.
func (g *SimulatedGateway) Voided(transactionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.voided[transactionID]
}
