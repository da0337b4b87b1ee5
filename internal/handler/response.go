package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kiosk-core/internal/domain/cart"
	"github.com/xenking/kiosk-core/internal/domain/identity"
	"github.com/xenking/kiosk-core/internal/domain/operator"
	"github.com/xenking/kiosk-core/internal/domain/payment"
	"github.com/xenking/kiosk-core/internal/domain/session"
	"github.com/xenking/kiosk-core/internal/wire"
)

// badRequest marks a request that could not be decoded.
type badRequest struct{ err error }

func (e *badRequest) Error() string { return e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBody))
	if err != nil {
		return nil, &badRequest{err: errors.Wrap(err, "read body")}
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeSnapshot(w http.ResponseWriter, status int, snap session.Snapshot) {
	writeJSON(w, status, func(e *jx.Encoder) { wire.EncodeSnapshot(e, snap) })
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, func(e *jx.Encoder) { wire.EncodeError(e, status, msg) })
}

// mapError converts domain errors to HTTP status codes.
func mapError(err error) int {
	var (
		br         *badRequest
		fieldErr   *wire.FieldError
		stateErr   *session.InvalidStateError
		transErr   *payment.TransitionError
		qtyErr     *cart.InvalidQuantityError
		priceErr   *cart.InvalidPriceError
		sourceErr  *cart.InvalidSourceError
		discErr    *cart.InvalidDiscountError
		createErr  *session.CreationError
		gatewayErr *payment.GatewayError
	)
	switch {
	case errors.As(err, &br), errors.As(err, &fieldErr):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrIdentification):
		return http.StatusUnprocessableEntity
	case errors.As(err, &createErr):
		return http.StatusInternalServerError
	case errors.Is(err, operator.ErrUnauthorized), errors.Is(err, errBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrTransactionNotFound),
		errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound
	case errors.As(err, &stateErr),
		errors.As(err, &transErr),
		errors.Is(err, cart.ErrFrozen),
		errors.Is(err, session.ErrEmptyCart),
		errors.Is(err, session.ErrPaymentInFlight),
		errors.Is(err, session.ErrStaleTransaction),
		errors.Is(err, payment.ErrStaleResult),
		errors.Is(err, payment.ErrRetryExhausted):
		return http.StatusConflict
	case errors.As(err, &qtyErr),
		errors.As(err, &priceErr),
		errors.As(err, &sourceErr),
		errors.As(err, &discErr),
		errors.Is(err, cart.ErrInvalidProduct),
		errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrInvalidMethod):
		return http.StatusUnprocessableEntity
	case errors.As(err, &gatewayErr), errors.Is(err, payment.ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
