// Package identity classifies identification signals into client variants.
//
// The variant is a closed sum type: Facial, PIN and Anonymous are the only
// implementations of Identity. Variant-specific exposure rules (photo for PIN,
// location for Anonymous) are enforced by the shape of each type, so consumers
// never see a field that the variant must not carry.
package identity

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Variant enumerates the supported client variants.
type Variant string

const (
	// VariantFacial is a trusted identity resolved by facial match.
	VariantFacial Variant = "FACIAL"
	// VariantPIN is a trusted identity resolved by PIN that never exposes a photo.
	VariantPIN Variant = "PIN"
	// VariantNoID is an unverified customer audited through visual evidence.
	VariantNoID Variant = "NO_ID"
)

// GuestName is the placeholder display name for unverified customers.
const GuestName = "Guest"

// ErrIdentification is the sentinel matched by every resolution failure.
var ErrIdentification = errors.New("identification failed")

// Error describes why an identification signal was rejected.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("identification failed: %s", e.Reason)
}

// Is reports ErrIdentification as the class of every *Error.
func (e *Error) Is(target error) bool {
	return target == ErrIdentification
}

// Location is the resident location of a customer (tower and apartment).
type Location struct {
	Tower     string `json:"tower"`
	Apartment string `json:"apartment"`
}

// Identity is implemented only by Facial, PIN and Anonymous.
type Identity interface {
	Variant() Variant
	sealed()
}

// Facial is a customer identified by a facial match.
type Facial struct {
	Name     string
	PhotoRef string
	Location *Location
}

// PIN is a customer identified by PIN code. It has no photo field.
type PIN struct {
	Name     string
	Location *Location
}

// Anonymous is a customer without a trusted identity. It has no location field.
type Anonymous struct {
	DisplayName string
}

func (Facial) Variant() Variant    { return VariantFacial }
func (PIN) Variant() Variant       { return VariantPIN }
func (Anonymous) Variant() Variant { return VariantNoID }

func (Facial) sealed()    {}
func (PIN) sealed()       {}
func (Anonymous) sealed() {}

// Attributes is the flattened, read-only view of an Identity used by
// snapshots and persistence.
type Attributes struct {
	Variant  Variant   `json:"variant"`
	Name     string    `json:"name"`
	PhotoRef string    `json:"photo_ref,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// Describe flattens id into Attributes.
func Describe(id Identity) Attributes {
	switch v := id.(type) {
	case Facial:
		return Attributes{Variant: VariantFacial, Name: v.Name, PhotoRef: v.PhotoRef, Location: copyLocation(v.Location)}
	case PIN:
		return Attributes{Variant: VariantPIN, Name: v.Name, Location: copyLocation(v.Location)}
	case Anonymous:
		return Attributes{Variant: VariantNoID, Name: v.DisplayName}
	default:
		panic(fmt.Sprintf("identity: unexpected variant %T", id))
	}
}

// Validate checks that id is a well-formed identity.
func Validate(id Identity) error {
	switch v := id.(type) {
	case Facial:
		if v.Name == "" {
			return &Error{Reason: "facial identity requires a name"}
		}
		return validateLocation(v.Location)
	case PIN:
		return validateLocation(v.Location)
	case Anonymous:
		return nil
	case nil:
		return &Error{Reason: "identity is missing"}
	default:
		return &Error{Reason: fmt.Sprintf("unsupported identity %T", id)}
	}
}

func validateLocation(loc *Location) error {
	if loc == nil {
		return nil
	}
	if loc.Tower == "" || loc.Apartment == "" {
		return &Error{Reason: "location requires tower and apartment"}
	}
	return nil
}

func copyLocation(loc *Location) *Location {
	if loc == nil {
		return nil
	}
	c := *loc
	return &c
}
