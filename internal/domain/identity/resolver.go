package identity

import "strings"

// FaceMatch is the result of the upstream facial recognition pipeline.
type FaceMatch struct {
	Name       string
	PhotoRef   string
	Confidence float64
	Location   *Location
}

// PINMatch is the result of a PIN lookup. PhotoRef may be populated by the
// upstream directory but is never carried into the resolved identity.
type PINMatch struct {
	Code     string
	Name     string
	PhotoRef string
	Location *Location
}

// Signal is a raw identification signal. At most one of Face and PIN may be
// set; when neither is set the customer is unidentified.
type Signal struct {
	Face *FaceMatch
	PIN  *PINMatch
	// Location is an unverified location hint. It is dropped for
	// unidentified customers.
	Location *Location
}

// Resolver turns raw signals into identities.
type Resolver struct {
	minConfidence float64
}

// NewResolver creates a Resolver that accepts facial matches with at least
// minConfidence (0..1).
func NewResolver(minConfidence float64) *Resolver {
	return &Resolver{minConfidence: minConfidence}
}

// Resolve classifies sig. It returns an *Error when the signal is malformed or
// ambiguous; callers must not create a session from a failed resolution.
func (r *Resolver) Resolve(sig Signal) (Identity, error) {
	switch {
	case sig.Face != nil && sig.PIN != nil:
		return nil, &Error{Reason: "ambiguous signal: both facial match and PIN present"}
	case sig.Face != nil:
		return r.resolveFace(sig.Face, sig.Location)
	case sig.PIN != nil:
		return r.resolvePIN(sig.PIN, sig.Location)
	default:
		return Anonymous{DisplayName: GuestName}, nil
	}
}

func (r *Resolver) resolveFace(m *FaceMatch, hint *Location) (Identity, error) {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return nil, &Error{Reason: "facial match without a resolved name"}
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return nil, &Error{Reason: "facial match confidence out of range"}
	}
	if m.Confidence < r.minConfidence {
		return nil, &Error{Reason: "facial match confidence below threshold"}
	}
	loc := pickLocation(m.Location, hint)
	if err := validateLocation(loc); err != nil {
		return nil, err
	}
	return Facial{
		Name:     name,
		PhotoRef: strings.TrimSpace(m.PhotoRef),
		Location: copyLocation(loc),
	}, nil
}

func (r *Resolver) resolvePIN(m *PINMatch, hint *Location) (Identity, error) {
	if strings.TrimSpace(m.Code) == "" {
		return nil, &Error{Reason: "PIN signal without a code"}
	}
	loc := pickLocation(m.Location, hint)
	if err := validateLocation(loc); err != nil {
		return nil, err
	}
	// m.PhotoRef is intentionally not read: PIN has no photo field.
	return PIN{
		Name:     strings.TrimSpace(m.Name),
		Location: copyLocation(loc),
	}, nil
}

func pickLocation(primary, hint *Location) *Location {
	if primary != nil {
		return primary
	}
	return hint
}
