package identity

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loc(tower, apt string) *Location {
	return &Location{Tower: tower, Apartment: apt}
}

func TestResolve(t *testing.T) {
	r := NewResolver(0.8)

	tests := []struct {
		name    string
		sig     Signal
		want    Attributes
		wantErr bool
	}{
		{
			name: "facial match",
			sig: Signal{Face: &FaceMatch{
				Name: " Ana Ruiz ", PhotoRef: "s3://faces/1.jpg", Confidence: 0.93, Location: loc("A", "101"),
			}},
			want: Attributes{Variant: VariantFacial, Name: "Ana Ruiz", PhotoRef: "s3://faces/1.jpg", Location: loc("A", "101")},
		},
		{
			name: "facial match uses location hint",
			sig: Signal{
				Face:     &FaceMatch{Name: "Ana", Confidence: 0.9},
				Location: loc("B", "7"),
			},
			want: Attributes{Variant: VariantFacial, Name: "Ana", Location: loc("B", "7")},
		},
		{
			name:    "facial match without name",
			sig:     Signal{Face: &FaceMatch{Confidence: 0.99}},
			wantErr: true,
		},
		{
			name:    "facial match below threshold",
			sig:     Signal{Face: &FaceMatch{Name: "Ana", Confidence: 0.5}},
			wantErr: true,
		},
		{
			name:    "facial match confidence out of range",
			sig:     Signal{Face: &FaceMatch{Name: "Ana", Confidence: 1.5}},
			wantErr: true,
		},
		{
			name: "pin drops upstream photo",
			sig: Signal{PIN: &PINMatch{
				Code: "4821", Name: "Luis", PhotoRef: "s3://faces/9.jpg", Location: loc("C", "3"),
			}},
			want: Attributes{Variant: VariantPIN, Name: "Luis", Location: loc("C", "3")},
		},
		{
			name:    "pin without code",
			sig:     Signal{PIN: &PINMatch{Name: "Luis"}},
			wantErr: true,
		},
		{
			name:    "partial location",
			sig:     Signal{PIN: &PINMatch{Code: "1", Location: loc("C", "")}},
			wantErr: true,
		},
		{
			name:    "ambiguous",
			sig:     Signal{Face: &FaceMatch{Name: "Ana", Confidence: 1}, PIN: &PINMatch{Code: "1"}},
			wantErr: true,
		},
		{
			name: "no signal hides location",
			sig:  Signal{Location: loc("D", "8")},
			want: Attributes{Variant: VariantNoID, Name: GuestName},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := r.Resolve(tt.sig)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrIdentification)
				var idErr *Error
				require.ErrorAs(t, err, &idErr)
				assert.NotEmpty(t, idErr.Reason)
				assert.Nil(t, id)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, Describe(id))
		})
	}
}

func TestResolve_PINNeverCarriesPhoto(t *testing.T) {
	r := NewResolver(0)
	inputs := []PINMatch{
		{Code: "1"},
		{Code: "2", PhotoRef: "photo.jpg"},
		{Code: "3", Name: "X", PhotoRef: "https://cdn/p.png", Location: loc("T", "1")},
	}
	for _, in := range inputs {
		id, err := r.Resolve(Signal{PIN: &in})
		require.NoError(t, err)
		attrs := Describe(id)
		assert.Equal(t, VariantPIN, attrs.Variant)
		assert.Empty(t, attrs.PhotoRef)
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(Anonymous{DisplayName: GuestName}))
	require.NoError(t, Validate(PIN{}))
	require.NoError(t, Validate(Facial{Name: "Ana"}))

	err := Validate(Facial{})
	require.True(t, errors.Is(err, ErrIdentification))

	err = Validate(nil)
	require.ErrorIs(t, err, ErrIdentification)
}

func TestDescribe_CopiesLocation(t *testing.T) {
	l := loc("A", "1")
	attrs := Describe(Facial{Name: "Ana", Location: l})
	attrs.Location.Tower = "Z"
	assert.Equal(t, "A", l.Tower)
}
