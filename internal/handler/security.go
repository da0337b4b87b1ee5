package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// HeaderSignature carries the hex HMAC-SHA256 of a gateway callback body.
const HeaderSignature = "X-Gateway-Signature"

var errBadSignature = errors.New("invalid callback signature")

// SignCallback computes the signature a gateway sends with body.
func SignCallback(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyCallback checks sig against body in constant time.
func verifyCallback(secret, body []byte, sig string) error {
	got, err := hex.DecodeString(sig)
	if err != nil {
		return errBadSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errBadSignature
	}
	return nil
}
