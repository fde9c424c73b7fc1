package template

import (
	"sort"
	"strings"

	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/metrics"
)

type Matcher struct {
	minScore    float64
	vendorBonus float64
	vendorKey   string
}

func NewMatcher(tuning config.MatcherTuning) Matcher {
	return Matcher{
		minScore:    tuning.MinScore,
		vendorBonus: tuning.VendorBonus,
		vendorKey:   strings.ToLower(tuning.VendorKey),
	}
}

// FindMatches ranks templates against the observed fields. Only scores above the minimum are
// kept, highest first, ties by name. topK <= 0 keeps every match.
func (m Matcher) FindMatches(observed []fieldModel.ExtractedField, templates []fieldModel.Template, topK int) []fieldModel.TemplateMatch {
	observedKeys := make(map[string]struct{}, len(observed))
	vendor := ""
	for _, f := range observed {
		key := strings.ToLower(f.Key)
		observedKeys[key] = struct{}{}
		if vendor == "" && key == m.vendorKey {
			vendor = strings.TrimSpace(f.Value)
		}
	}

	matches := make([]fieldModel.TemplateMatch, 0, len(templates))
	for _, t := range templates {
		score := Jaccard(observedKeys, templateKeys(t))
		if sharesSubstring(vendor, t.Metadata.Vendor) {
			score += m.vendorBonus
		}
		if score > m.minScore {
			matches = append(matches, fieldModel.TemplateMatch{Template: t, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Template.Name < matches[j].Template.Name
	})
	if len(matches) > 0 {
		metrics.CaptureMatchScore(matches[0].Score)
	}
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// Jaccard is |a∩b| / |a∪b|; two empty sets score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func templateKeys(t fieldModel.Template) map[string]struct{} {
	keys := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		keys[strings.ToLower(f.Key)] = struct{}{}
	}
	return keys
}

func sharesSubstring(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// InferFieldType guesses a type from the key name. Rules are checked in order.
func InferFieldType(key string) fieldModel.FieldType {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "date"):
		return fieldModel.FieldTypeDate
	case containsAny(k, "amount", "total", "price", "cost"):
		return fieldModel.FieldTypeCurrency
	case containsAny(k, "number", "id", "code"):
		return fieldModel.FieldTypeNumber
	case strings.Contains(k, "email"):
		return fieldModel.FieldTypeEmail
	case containsAny(k, "phone", "tel"):
		return fieldModel.FieldTypePhone
	default:
		return fieldModel.FieldTypeText
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
