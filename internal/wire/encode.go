// Package wire is the JSON codec of the kiosk HTTP surface, the event
// stream and the payment gateway protocol. Money is always encoded as a
// decimal string.
package wire

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kiosk-core/internal/domain/cart"
	"github.com/xenking/kiosk-core/internal/domain/identity"
	"github.com/xenking/kiosk-core/internal/domain/payment"
	"github.com/xenking/kiosk-core/internal/domain/session"
)

// EncodeSnapshot writes a session snapshot.
func EncodeSnapshot(e *jx.Encoder, s session.Snapshot) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("status")
	e.Str(string(s.Status))
	e.FieldStart("seq")
	e.UInt64(s.Seq)
	e.FieldStart("flagged")
	e.Bool(s.Flagged)
	e.FieldStart("identity")
	encodeIdentity(e, s.Identity)
	e.FieldStart("created_at")
	encodeTime(e, s.CreatedAt)
	if s.ClosedAt != nil {
		e.FieldStart("closed_at")
		encodeTime(e, *s.ClosedAt)
	}
	e.FieldStart("cart")
	encodeCart(e, s.Cart)
	if s.Payment != nil {
		e.FieldStart("payment")
		EncodeTransaction(e, *s.Payment)
	}
	e.ObjEnd()
}

// EncodeEvent writes a session event.
func EncodeEvent(e *jx.Encoder, ev session.Event) {
	e.ObjStart()
	e.FieldStart("session_id")
	e.Str(ev.SessionID)
	e.FieldStart("seq")
	e.UInt64(ev.Seq)
	e.FieldStart("kind")
	e.Str(string(ev.Kind))
	e.FieldStart("at")
	encodeTime(e, ev.At)
	e.FieldStart("payload")
	encodePayload(e, ev.Payload)
	e.ObjEnd()
}

// EncodeTransaction writes a payment transaction.
func EncodeTransaction(e *jx.Encoder, tx payment.Transaction) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(tx.ID)
	e.FieldStart("session_id")
	e.Str(tx.SessionID)
	e.FieldStart("method")
	e.Str(string(tx.Method))
	e.FieldStart("amount")
	encodeDecimal(e, tx.Amount)
	e.FieldStart("state")
	e.Str(string(tx.State))
	e.FieldStart("attempt")
	e.Int(tx.Attempt)
	e.FieldStart("retry_count")
	e.Int(tx.RetryCount)
	if tx.LastError != "" {
		e.FieldStart("last_error")
		e.Str(tx.LastError)
	}
	e.FieldStart("created_at")
	encodeTime(e, tx.CreatedAt)
	if tx.CompletedAt != nil {
		e.FieldStart("completed_at")
		encodeTime(e, *tx.CompletedAt)
	}
	e.ObjEnd()
}

// EncodeChargeRequest writes the body of a gateway charge submission.
func EncodeChargeRequest(e *jx.Encoder, req payment.ChargeRequest, callbackURL string) {
	e.ObjStart()
	e.FieldStart("transaction_id")
	e.Str(req.TransactionID)
	e.FieldStart("session_id")
	e.Str(req.SessionID)
	e.FieldStart("attempt")
	e.Int(req.Attempt)
	e.FieldStart("amount")
	encodeDecimal(e, req.Amount)
	e.FieldStart("method")
	e.Str(string(req.Method))
	if callbackURL != "" {
		e.FieldStart("callback_url")
		e.Str(callbackURL)
	}
	e.ObjEnd()
}

// EncodeResult writes a gateway verdict as delivered to the callback.
func EncodeResult(e *jx.Encoder, res payment.Result) {
	e.ObjStart()
	e.FieldStart("transaction_id")
	e.Str(res.TransactionID)
	e.FieldStart("attempt")
	e.Int(res.Attempt)
	e.FieldStart("outcome")
	e.Str(string(res.Outcome))
	if res.Reason != "" {
		e.FieldStart("reason")
		e.Str(res.Reason)
	}
	e.ObjEnd()
}

// EncodeError writes an error response body.
func EncodeError(e *jx.Encoder, code int, message string) {
	e.ObjStart()
	e.FieldStart("code")
	e.Int(code)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
}

func encodePayload(e *jx.Encoder, p session.Payload) {
	e.ObjStart()
	if p.Status != "" {
		e.FieldStart("status")
		e.Str(string(p.Status))
	}
	if p.Identity != nil {
		e.FieldStart("identity")
		encodeIdentity(e, *p.Identity)
	}
	if p.Cart != nil {
		e.FieldStart("cart")
		encodeCart(e, *p.Cart)
	}
	if p.Payment != nil {
		e.FieldStart("payment")
		EncodeTransaction(e, *p.Payment)
	}
	if p.OperatorID != "" {
		e.FieldStart("operator_id")
		e.Str(p.OperatorID)
	}
	if p.Reason != "" {
		e.FieldStart("reason")
		e.Str(p.Reason)
	}
	if p.Flagged {
		e.FieldStart("flagged")
		e.Bool(true)
	}
	e.ObjEnd()
}

func encodeIdentity(e *jx.Encoder, a identity.Attributes) {
	e.ObjStart()
	e.FieldStart("variant")
	e.Str(string(a.Variant))
	e.FieldStart("name")
	e.Str(a.Name)
	if a.PhotoRef != "" {
		e.FieldStart("photo_ref")
		e.Str(a.PhotoRef)
	}
	if a.Location != nil {
		e.FieldStart("location")
		e.ObjStart()
		e.FieldStart("tower")
		e.Str(a.Location.Tower)
		e.FieldStart("apartment")
		e.Str(a.Location.Apartment)
		e.ObjEnd()
	}
	e.ObjEnd()
}

func encodeCart(e *jx.Encoder, v cart.View) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range v.Items {
		e.ObjStart()
		e.FieldStart("line_id")
		e.Str(it.LineID)
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unit_price")
		encodeDecimal(e, it.UnitPrice)
		e.FieldStart("total")
		encodeDecimal(e, it.Total)
		e.FieldStart("detected")
		e.Bool(it.Detected)
		e.FieldStart("added_at")
		encodeTime(e, it.AddedAt)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("totals")
	e.ObjStart()
	e.FieldStart("subtotal")
	encodeDecimal(e, v.Totals.Subtotal)
	e.FieldStart("discount")
	encodeDecimal(e, v.Totals.Discount)
	e.FieldStart("tax")
	encodeDecimal(e, v.Totals.Tax)
	e.FieldStart("total")
	encodeDecimal(e, v.Totals.Total)
	e.ObjEnd()
	e.FieldStart("frozen")
	e.Bool(v.Frozen)
	e.ObjEnd()
}

func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.String())
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}
