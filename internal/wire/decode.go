package wire

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kiosk-core/internal/domain/cart"
	"github.com/xenking/kiosk-core/internal/domain/identity"
	"github.com/xenking/kiosk-core/internal/domain/payment"
)

// FieldError reports a malformed request field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

var errRequired = errors.New("required")

// AddItem is the body of an item addition.
type AddItem struct {
	ProductID   string
	Quantity    int
	UnitPrice   decimal.Decimal
	Source      cart.Source
	EvidenceRef string
}

// DecodeSignal reads an identification request.
func DecodeSignal(data []byte) (identity.Signal, error) {
	var sig identity.Signal
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "face":
			m := &identity.FaceMatch{}
			if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case "name":
					m.Name, err = d.Str()
				case "photo_ref":
					m.PhotoRef, err = d.Str()
				case "confidence":
					m.Confidence, err = d.Float64()
				case "location":
					m.Location, err = decodeLocation(d)
				default:
					err = d.Skip()
				}
				return err
			}); err != nil {
				return &FieldError{Field: "face", Err: err}
			}
			sig.Face = m
		case "pin":
			m := &identity.PINMatch{}
			if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case "code":
					m.Code, err = d.Str()
				case "name":
					m.Name, err = d.Str()
				case "photo_ref":
					m.PhotoRef, err = d.Str()
				case "location":
					m.Location, err = decodeLocation(d)
				default:
					err = d.Skip()
				}
				return err
			}); err != nil {
				return &FieldError{Field: "pin", Err: err}
			}
			sig.PIN = m
		case "location":
			loc, err := decodeLocation(d)
			if err != nil {
				return &FieldError{Field: "location", Err: err}
			}
			sig.Location = loc
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return identity.Signal{}, errors.Wrap(err, "decode signal")
	}
	return sig, nil
}

// DecodeAddItem reads an item addition. Source defaults to MANUAL.
func DecodeAddItem(data []byte) (AddItem, error) {
	req := AddItem{Source: cart.SourceManual}
	var hasPrice bool
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "product_id":
			req.ProductID, err = d.Str()
		case "quantity":
			req.Quantity, err = d.Int()
		case "unit_price":
			req.UnitPrice, err = decodeDecimal(d)
			hasPrice = err == nil
		case "source":
			var s string
			s, err = d.Str()
			req.Source = cart.Source(s)
		case "evidence_ref":
			req.EvidenceRef, err = d.Str()
		default:
			return d.Skip()
		}
		if err != nil {
			return &FieldError{Field: string(key), Err: err}
		}
		return nil
	})
	if err != nil {
		return AddItem{}, errors.Wrap(err, "decode item")
	}
	if !hasPrice {
		return AddItem{}, &FieldError{Field: "unit_price", Err: errRequired}
	}
	return req, nil
}

// DecodeInt reads the integer field of a single-field object, such as
// {"quantity": 3}. A missing field decodes as zero.
func DecodeInt(data []byte, field string) (int, error) {
	var v int
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != field {
			return d.Skip()
		}
		var err error
		if v, err = d.Int(); err != nil {
			return &FieldError{Field: field, Err: err}
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "decode %s", field)
	}
	return v, nil
}

// DecodeAmount reads {"amount": "12.50"}.
func DecodeAmount(data []byte) (decimal.Decimal, error) {
	var (
		v   decimal.Decimal
		has bool
	)
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "amount" {
			return d.Skip()
		}
		var err error
		if v, err = decodeDecimal(d); err != nil {
			return &FieldError{Field: "amount", Err: err}
		}
		has = true
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "decode amount")
	}
	if !has {
		return decimal.Decimal{}, &FieldError{Field: "amount", Err: errRequired}
	}
	return v, nil
}

// DecodeMethod reads {"method": "CARD"}.
func DecodeMethod(data []byte) (payment.Method, error) {
	var m payment.Method
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "method" {
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return &FieldError{Field: "method", Err: err}
		}
		m = payment.Method(s)
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "decode method")
	}
	switch m {
	case payment.MethodCard, payment.MethodQR:
		return m, nil
	default:
		return "", &FieldError{Field: "method", Err: payment.ErrInvalidMethod}
	}
}

// DecodeResult reads a gateway verdict.
func DecodeResult(data []byte) (payment.Result, error) {
	var res payment.Result
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "transaction_id":
			res.TransactionID, err = d.Str()
		case "attempt":
			res.Attempt, err = d.Int()
		case "outcome":
			var s string
			s, err = d.Str()
			res.Outcome = payment.Outcome(s)
		case "reason":
			res.Reason, err = d.Str()
		default:
			return d.Skip()
		}
		if err != nil {
			return &FieldError{Field: string(key), Err: err}
		}
		return nil
	})
	if err != nil {
		return payment.Result{}, errors.Wrap(err, "decode result")
	}
	if res.TransactionID == "" {
		return payment.Result{}, &FieldError{Field: "transaction_id", Err: errRequired}
	}
	switch res.Outcome {
	case payment.OutcomeApproved, payment.OutcomeDeclined, payment.OutcomeError:
	default:
		return payment.Result{}, &FieldError{Field: "outcome", Err: errors.Errorf("unknown outcome %q", res.Outcome)}
	}
	return res, nil
}

func decodeLocation(d *jx.Decoder) (*identity.Location, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	loc := &identity.Location{}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "tower":
			loc.Tower, err = d.Str()
		case "apartment":
			loc.Apartment, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, err
	}
	return loc, nil
}

// decodeDecimal accepts a JSON string or number.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.Errorf("expected decimal, got %s", d.Next())
	}
}

// DecodeOptionalString reads a string field of an optional object body.
// An empty body or a missing field decodes as "".
func DecodeOptionalString(data []byte, field string) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	var v string
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != field {
			return d.Skip()
		}
		var err error
		if v, err = d.Str(); err != nil {
			return &FieldError{Field: field, Err: err}
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "decode %s", field)
	}
	return v, nil
}
