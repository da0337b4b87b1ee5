// Package operator authorizes privileged kiosk commands against the operator
// registry.
package operator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthorized is returned when a presented code matches no operator.
	ErrUnauthorized = errors.New("unauthorized operator code")
	// ErrNotFound is returned by registries when no operator has the code hash.
	ErrNotFound = errors.New("operator not found")
)

// Operator is a registry entry. CodeHash is the hex HMAC-SHA256 of the
// verification code; the plain code is never stored.
type Operator struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	CodeHash string `json:"code_hash"`
}

// Registry looks operators up by code hash.
type Registry interface {
	FindByCodeHash(ctx context.Context, hash string) (*Operator, error)
}

// HashCode computes the registry hash of a verification code.
func HashCode(pepper []byte, code string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}
