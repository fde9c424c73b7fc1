// Package annotation holds the review state of one page: the fields the engine produced, the
// fields the reviewer added, and the single merged list the reviewer sees.
package annotation

import "github.com/akolanti/layoutlens/internal/domain/fieldModel"

// ReviewField is a merged field as shown to the reviewer.
type ReviewField struct {
	fieldModel.ExtractedField
	Updated  bool   `json:"updated"`
	InFlight bool   `json:"in_flight,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Baseline is the value and box a merge key had when it first appeared.
type Baseline struct {
	Value string
	Box   fieldModel.BoundingBox
}

// MergeKey is the label, else the key, else the id.
func MergeKey(f fieldModel.ExtractedField) string {
	switch {
	case f.Label != "":
		return f.Label
	case f.Key != "":
		return f.Key
	default:
		return f.Id
	}
}

// Merge builds the review list. Engine fields go in first, then custom fields, which replace an
// engine field sharing their merge key. Positions follow the first insertion of each key.
// baselines may be nil; keys missing from it use the first field inserted under that key.
func Merge(engineFields, customFields []fieldModel.ExtractedField, baselines map[string]Baseline) []ReviewField {
	order := make([]string, 0, len(engineFields)+len(customFields))
	byKey := make(map[string]fieldModel.ExtractedField, len(engineFields)+len(customFields))
	first := make(map[string]Baseline, len(engineFields)+len(customFields))

	insert := func(f fieldModel.ExtractedField) {
		k := MergeKey(f)
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
			first[k] = Baseline{Value: f.Value, Box: f.Box}
		}
		byKey[k] = f
	}
	for _, f := range engineFields {
		insert(f)
	}
	for _, f := range customFields {
		insert(f)
	}

	out := make([]ReviewField, 0, len(order))
	for _, k := range order {
		f := byKey[k]
		base, ok := baselines[k]
		if !ok {
			base = first[k]
		}
		out = append(out, ReviewField{
			ExtractedField: f,
			Updated:        f.Value != base.Value || f.Box != base.Box,
		})
	}
	return out
}
