package fields

import (
	"encoding/json"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/models"
)

// SourceCustom marks a resolution whose value was hand-edited rather than taken
// from a candidate record.
const SourceCustom = -1

// Resolution is the winning value and its source for one field key. Source is
// the index of the supplying candidate record, or SourceCustom for hand edits.
type Resolution struct {
	Value  any `json:"value"`
	Source int `json:"source"`
}

// IsCustom reports whether the resolution was hand-edited.
func (r Resolution) IsCustom() bool {
	return r.Source == SourceCustom
}

// MarshalJSON emits the source as the supplying record index, or the string
// "custom" for hand edits, so clients never see the numeric sentinel.
func (r Resolution) MarshalJSON() ([]byte, error) {
	var source any = r.Source
	if r.IsCustom() {
		source = "custom"
	}
	return json.Marshal(struct {
		Value  any `json:"value"`
		Source any `json:"source"`
	}{Value: r.Value, Source: source})
}

// Resolver holds the per-field resolutions for one reconciliation session.
// There is exactly one resolution per spec at all times. Custom overrides are
// sticky: re-running Initialize on the same resolver never resets them.
type Resolver struct {
	specs       []Spec
	specsByKey  map[string]Spec
	resolutions map[string]Resolution
}

// NewResolver creates a resolver for the given spec catalog.
func NewResolver(specs []Spec) *Resolver {
	byKey := make(map[string]Spec, len(specs))
	for _, spec := range specs {
		byKey[spec.Key] = spec
	}
	return &Resolver{
		specs:       specs,
		specsByKey:  byKey,
		resolutions: make(map[string]Resolution, len(specs)),
	}
}

// Initialize computes the initial resolution for every spec: records are
// scanned in index order (0 = oldest) and the first non-empty value wins. The
// oldest record is the canonical identity by default, so ties break oldest
// first rather than most-complete-record-wins. Fields already overridden with
// a custom value are left untouched.
func (r *Resolver) Initialize(records []*models.CandidateRecord) {
	for _, spec := range r.specs {
		if existing, ok := r.resolutions[spec.Key]; ok && existing.IsCustom() {
			continue
		}

		resolution := Resolution{Value: "", Source: 0}
		for i, record := range records {
			if val := record.FieldValue(spec.Key); !isEmpty(val) {
				resolution = Resolution{Value: val, Source: i}
				break
			}
		}
		r.resolutions[spec.Key] = resolution
	}
}

// SelectSource overwrites the resolution for key with the chosen record's raw
// value. An unknown key or out-of-range index is a programming error.
func (r *Resolver) SelectSource(key string, records []*models.CandidateRecord, recordIndex int) {
	r.mustSpec(key)
	if recordIndex < 0 || recordIndex >= len(records) {
		panic(fmt.Sprintf("fields: record index %d out of range for %d records", recordIndex, len(records)))
	}
	r.resolutions[key] = Resolution{
		Value:  records[recordIndex].FieldValue(key),
		Source: recordIndex,
	}
}

// Edit overwrites the resolution's value with a hand-edited one. The custom
// source sticks until the session is discarded.
func (r *Resolver) Edit(key string, value any) {
	r.mustSpec(key)
	r.resolutions[key] = Resolution{Value: value, Source: SourceCustom}
}

// Resolution returns the current resolution for key.
func (r *Resolver) Resolution(key string) Resolution {
	r.mustSpec(key)
	return r.resolutions[key]
}

// Resolutions returns a copy of the full resolution map keyed by field key.
func (r *Resolver) Resolutions() map[string]Resolution {
	out := make(map[string]Resolution, len(r.resolutions))
	for k, v := range r.resolutions {
		out[k] = v
	}
	return out
}

// ResolvedFields returns the field map to write onto the canonical record.
// Empty values are included so a deliberate blank override clears the field.
func (r *Resolver) ResolvedFields() map[string]any {
	out := make(map[string]any, len(r.resolutions))
	for key, resolution := range r.resolutions {
		out[key] = resolution.Value
	}
	return out
}

// IdentityResolved reports whether the identity field has a non-empty value.
func (r *Resolver) IdentityResolved() bool {
	resolution, ok := r.resolutions[IdentityFieldKey]
	return ok && !isEmpty(resolution.Value)
}

// Specs returns the resolver's spec catalog.
func (r *Resolver) Specs() []Spec {
	return r.specs
}

func (r *Resolver) mustSpec(key string) {
	if _, ok := r.specsByKey[key]; !ok {
		panic(fmt.Sprintf("fields: unknown field key %q", key))
	}
}

// isEmpty treats nil and strings that are empty after stringification as
// empty. Numbers, including zero, are values.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return fmt.Sprintf("%v", v) == ""
	}
}
