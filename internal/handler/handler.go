// Package handler exposes the session engine over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kiosk-core/internal/broadcast"
	"github.com/xenking/kiosk-core/internal/domain/identity"
	"github.com/xenking/kiosk-core/internal/domain/payment"
	"github.com/xenking/kiosk-core/internal/domain/session"
	"github.com/xenking/kiosk-core/pkg/httpmiddleware"
)

// HeaderOperatorCode carries the operator verification code.
const HeaderOperatorCode = "X-Operator-Code"

// Sessions is the session engine as seen by the HTTP layer.
type Sessions interface {
	Identify(ctx context.Context, sig identity.Signal) (session.Snapshot, error)
	Get(ctx context.Context, id string) (session.Snapshot, error)
	Suspend(ctx context.Context, id, code string) (session.Snapshot, error)
	Resume(ctx context.Context, id, code string) (session.Snapshot, error)
	Cancel(ctx context.Context, id, code string) (session.Snapshot, error)
	Checkout(ctx context.Context, id string, method payment.Method) (session.Snapshot, error)
	AddItem(ctx context.Context, id string, req session.AddItemRequest) (session.Snapshot, error)
	RemoveItem(ctx context.Context, id, lineID string, units int, code string) (session.Snapshot, error)
	UpdateQuantity(ctx context.Context, id, lineID string, quantity int, code string) (session.Snapshot, error)
	ApplyDiscount(ctx context.Context, id string, amount decimal.Decimal, code string) (session.Snapshot, error)
	RetryPayment(ctx context.Context, txID string) (session.Snapshot, error)
	CancelPayment(ctx context.Context, txID string) (session.Snapshot, error)
	HandlePaymentResult(ctx context.Context, res payment.Result) error
	Subscribe(ctx context.Context, id string) (*broadcast.Subscription[session.Event], error)
	SubscribeWithSnapshot(ctx context.Context, id string) (session.Snapshot, *broadcast.Subscription[session.Event], error)
}

// History reads persisted sessions. It serves archived snapshots and
// event replay for reconnecting stream clients.
type History interface {
	Load(ctx context.Context, id string) (*session.Snapshot, error)
	Events(ctx context.Context, id string, after, upTo uint64) ([]session.Event, error)
}

// Config holds non-dependency handler settings.
type Config struct {
	// CallbackSecret authenticates gateway callbacks. When empty, callbacks
	// are accepted unsigned.
	CallbackSecret []byte
	// Heartbeat is the idle interval between event stream keep-alives.
	Heartbeat time.Duration
	// MaxBody bounds request bodies.
	MaxBody int64
	// OperatorLimit, when set, guards routes that take an operator code.
	OperatorLimit httpmiddleware.Middleware
}

// Handler serves the kiosk API.
type Handler struct {
	sessions Sessions
	history  History
	cfg      Config
	lg       *zap.Logger
}

// New creates a Handler. history may be nil.
func New(cfg Config, sessions Sessions, history History, lg *zap.Logger) *Handler {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 1 << 20
	}
	if cfg.OperatorLimit == nil {
		cfg.OperatorLimit = func(next http.Handler) http.Handler { return next }
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		history:  history,
		cfg:      cfg,
		lg:       lg,
	}
}

// Routes mounts the API on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.createSession)
		r.Post("/payments/callback", h.paymentCallback)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Get("/events", h.streamEvents)
			r.Post("/checkout", h.checkout)
			r.Post("/payment/retry", h.retryPayment)
			r.Post("/payment/cancel", h.cancelPayment)

			r.Group(func(r chi.Router) {
				r.Use(h.cfg.OperatorLimit)
				r.Post("/suspend", h.suspend)
				r.Post("/resume", h.resume)
				r.Post("/cancel", h.cancel)
				r.Post("/discount", h.applyDiscount)
				r.Post("/items", h.addItem)
				r.Patch("/items/{line}", h.updateQuantity)
				r.Delete("/items/{line}", h.removeItem)
			})
		})
	})
	return r
}
