package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kiosk-core/internal/domain/payment"
	"github.com/xenking/kiosk-core/internal/domain/session"
	"github.com/xenking/kiosk-core/internal/wire"
)

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	data, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	method, err := wire.DecodeMethod(data)
	if err != nil {
		h.writeError(w, r, &badRequest{err: err})
		return
	}
	snap, err := h.sessions.Checkout(r.Context(), chi.URLParam(r, "id"), method)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusAccepted, snap)
}

func (h *Handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	h.paymentCommand(w, r, h.sessions.RetryPayment)
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	h.paymentCommand(w, r, h.sessions.CancelPayment)
}

// paymentCommand runs cmd against the session's current transaction. The
// body may pin the transaction with {"transaction_id"}; a mismatch is
// reported as not found.
func (h *Handler) paymentCommand(
	w http.ResponseWriter, r *http.Request,
	cmd func(ctx context.Context, txID string) (session.Snapshot, error),
) {
	data, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	txID, err := wire.DecodeOptionalString(data, "transaction_id")
	if err != nil {
		h.writeError(w, r, &badRequest{err: err})
		return
	}
	snap, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if snap.Payment == nil || (txID != "" && txID != snap.Payment.ID) {
		h.writeError(w, r, session.ErrTransactionNotFound)
		return
	}
	snap, err = cmd(r.Context(), snap.Payment.ID)
	if errors.Is(err, payment.ErrRetryExhausted) || errors.Is(err, session.ErrStaleTransaction) {
		// The command committed a state change; report it with the error.
		writeJSON(w, http.StatusConflict, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusConflict) })
				e.Field("message", func(e *jx.Encoder) { e.Str(err.Error()) })
				e.Field("session", func(e *jx.Encoder) { wire.EncodeSnapshot(e, snap) })
			})
		})
		return
	}
	h.respond(w, r, snap, err)
}

// paymentCallback receives gateway verdicts. Verdicts for superseded or
// unknown transactions are acknowledged so the gateway stops redelivering.
func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	data, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(h.cfg.CallbackSecret) > 0 {
		if err := verifyCallback(h.cfg.CallbackSecret, data, r.Header.Get(HeaderSignature)); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	res, err := wire.DecodeResult(data)
	if err != nil {
		h.writeError(w, r, &badRequest{err: err})
		return
	}

	status := "applied"
	switch err := h.sessions.HandlePaymentResult(r.Context(), res); {
	case errors.Is(err, payment.ErrStaleResult),
		errors.Is(err, session.ErrTransactionNotFound),
		errors.Is(err, session.ErrNotFound):
		zctx.From(r.Context()).Info("Ignoring payment verdict",
			zap.String("transaction_id", res.TransactionID),
			zap.Int("attempt", res.Attempt),
			zap.Error(err),
		)
		status = "ignored"
	case err != nil:
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		})
	})
}
