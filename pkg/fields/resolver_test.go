package fields

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func testSpecs() []Spec {
	return []Spec{
		{Key: "investor_name", Label: "Investor Name", Kind: KindText, Required: true},
		{Key: "city", Label: "City", Kind: KindText},
		{Key: "expected_ticket_amount", Label: "Expected Ticket", Kind: KindNumber},
	}
}

func records(fieldMaps ...map[string]any) []*models.CandidateRecord {
	out := make([]*models.CandidateRecord, len(fieldMaps))
	for i, fields := range fieldMaps {
		out[i] = &models.CandidateRecord{Fields: fields}
	}
	return out
}

func TestInitializeOldestNonEmptyWins(t *testing.T) {
	tests := []struct {
		name       string
		records    []*models.CandidateRecord
		key        string
		wantValue  any
		wantSource int
	}{
		{
			name: "oldest wins when populated",
			records: records(
				map[string]any{"city": "London"},
				map[string]any{"city": "Dubai"},
			),
			key:        "city",
			wantValue:  "London",
			wantSource: 0,
		},
		{
			name: "empty oldest falls through to newer",
			records: records(
				map[string]any{"city": ""},
				map[string]any{"city": "Dubai"},
			),
			key:        "city",
			wantValue:  "Dubai",
			wantSource: 1,
		},
		{
			name: "nil counts as empty",
			records: records(
				map[string]any{"city": nil},
				map[string]any{"city": "Dubai"},
			),
			key:        "city",
			wantValue:  "Dubai",
			wantSource: 1,
		},
		{
			name: "zero is a value, not empty",
			records: records(
				map[string]any{"expected_ticket_amount": float64(0)},
				map[string]any{"expected_ticket_amount": float64(500000)},
			),
			key:        "expected_ticket_amount",
			wantValue:  float64(0),
			wantSource: 0,
		},
		{
			name: "all empty resolves to blank from oldest",
			records: records(
				map[string]any{"city": ""},
				map[string]any{},
			),
			key:        "city",
			wantValue:  "",
			wantSource: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(testSpecs())
			r.Initialize(tt.records)

			got := r.Resolution(tt.key)
			assert.Equal(t, tt.wantValue, got.Value)
			assert.Equal(t, tt.wantSource, got.Source)
		})
	}
}

func TestInitializeCoversEverySpec(t *testing.T) {
	r := NewResolver(testSpecs())
	r.Initialize(records(map[string]any{"city": "London"}))

	resolutions := r.Resolutions()
	require.Len(t, resolutions, len(testSpecs()))
	for _, spec := range testSpecs() {
		_, ok := resolutions[spec.Key]
		assert.True(t, ok, "missing resolution for %s", spec.Key)
	}
}

func TestSelectSourceTakesRawValue(t *testing.T) {
	recs := records(
		map[string]any{"city": "London"},
		map[string]any{"city": ""},
	)
	r := NewResolver(testSpecs())
	r.Initialize(recs)

	// Selecting an empty source is allowed: the raw value is taken verbatim.
	r.SelectSource("city", recs, 1)

	got := r.Resolution("city")
	assert.Equal(t, "", got.Value)
	assert.Equal(t, 1, got.Source)
}

func TestEditIsStickyAcrossInitialize(t *testing.T) {
	recs := records(map[string]any{"city": "London"})
	r := NewResolver(testSpecs())
	r.Initialize(recs)

	r.Edit("city", "Dubai")
	r.Initialize(recs)

	got := r.Resolution("city")
	assert.Equal(t, "Dubai", got.Value)
	assert.True(t, got.IsCustom())
}

func TestEditCanBeReplacedBySelectSource(t *testing.T) {
	recs := records(map[string]any{"city": "London"})
	r := NewResolver(testSpecs())
	r.Initialize(recs)

	r.Edit("city", "Dubai")
	r.SelectSource("city", recs, 0)

	got := r.Resolution("city")
	assert.Equal(t, "London", got.Value)
	assert.False(t, got.IsCustom())
}

func TestResolvedFieldsIncludesBlanks(t *testing.T) {
	r := NewResolver(testSpecs())
	r.Initialize(records(map[string]any{"investor_name": "Acme", "city": "London"}))

	r.Edit("city", "")

	fields := r.ResolvedFields()
	city, ok := fields["city"]
	require.True(t, ok, "a deliberate blank override must still be written")
	assert.Equal(t, "", city)
}

func TestIdentityResolved(t *testing.T) {
	r := NewResolver(testSpecs())
	r.Initialize(records(map[string]any{"investor_name": ""}))
	assert.False(t, r.IdentityResolved())

	r.Edit("investor_name", "Acme Capital")
	assert.True(t, r.IdentityResolved())

	r.Edit("investor_name", "")
	assert.False(t, r.IdentityResolved())
}

func TestResolutionMarshalsCustomSource(t *testing.T) {
	recs := records(map[string]any{"city": "London"})
	r := NewResolver(testSpecs())
	r.Initialize(recs)
	r.Edit("city", "Dubai")

	edited, err := json.Marshal(r.Resolution("city"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"Dubai","source":"custom"}`, string(edited))

	fromRecord, err := json.Marshal(r.Resolution("investor_name"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"","source":0}`, string(fromRecord))
}

func TestUnknownKeyPanics(t *testing.T) {
	r := NewResolver(testSpecs())
	assert.Panics(t, func() { r.Edit("no_such_field", "x") })
	assert.Panics(t, func() { r.SelectSource("no_such_field", nil, 0) })
}
