package alignment

import (
	"context"
	"testing"

	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
)

type mockEngine struct {
	OnReextract  func(box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error)
	OnDetectText func(exclude []fieldModel.BoundingBox) ([]fieldModel.AlignmentCandidate, error)
}

func (m *mockEngine) Ask(ctx context.Context, doc commonModels.Document, page int, q fieldModel.FieldQuestion) (fieldModel.EngineAnswer, error) {
	return fieldModel.EngineAnswer{}, fieldModel.ErrEngineEmpty
}

func (m *mockEngine) Reextract(ctx context.Context, doc commonModels.Document, page int, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
	return m.OnReextract(box)
}

func (m *mockEngine) DetectText(ctx context.Context, doc commonModels.Document, page int, exclude []fieldModel.BoundingBox) ([]fieldModel.AlignmentCandidate, error) {
	return m.OnDetectText(exclude)
}

// box builds a 40x20 box centered on (cx, cy).
func box(cx, cy float64) fieldModel.BoundingBox {
	return fieldModel.BoundingBox{X1: cx - 20, Y1: cy - 10, X2: cx + 20, Y2: cy + 10}
}

func newTestAligner(engine *mockEngine) *Aligner {
	return NewAligner(engine, config.DefaultTuning().Alignment)
}

func TestPlace_PicksCandidateInsideWindow(t *testing.T) {
	a := newTestAligner(&mockEngine{})
	field := fieldModel.TemplateField{Key: "total", Box: box(500, 400)}
	candidates := []fieldModel.AlignmentCandidate{
		{Id: "far", Box: box(500, 900)},
		{Id: "near", Box: box(510, 480)},
	}

	p := a.Place(field, candidates)
	if !p.Aligned || p.CandidateId != "near" || p.Box != candidates[1].Box {
		t.Errorf("got %+v", p)
	}
}

func TestPlace_Cases(t *testing.T) {
	a := newTestAligner(&mockEngine{})
	field := fieldModel.TemplateField{Key: "k", Box: box(500, 400)}

	tests := []struct {
		name        string
		candidates  []fieldModel.AlignmentCandidate
		wantAligned bool
		wantId      string
	}{
		{"no candidates", nil, false, ""},
		{"only outside window", []fieldModel.AlignmentCandidate{{Id: "x", Box: box(500, 550)}}, false, ""},
		{"window edge is exclusive", []fieldModel.AlignmentCandidate{{Id: "x", Box: box(500, 250)}}, false, ""},
		{"nearest by both axes", []fieldModel.AlignmentCandidate{
			{Id: "same-row-far", Box: box(900, 400)},
			{Id: "close", Box: box(520, 440)},
		}, true, "close"},
		{"tie keeps first seen", []fieldModel.AlignmentCandidate{
			{Id: "first", Box: box(500, 450)},
			{Id: "second", Box: box(500, 350)},
		}, true, "first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := a.Place(field, tt.candidates)
			if p.Aligned != tt.wantAligned || p.CandidateId != tt.wantId {
				t.Errorf("got %+v", p)
			}
			if !p.Aligned && p.Box != field.Box {
				t.Errorf("unaligned field should keep its box, got %v", p.Box)
			}
		})
	}
}

func TestAlign_SummaryAndDiscardFilter(t *testing.T) {
	answers := map[fieldModel.BoundingBox]fieldModel.EngineAnswer{
		box(510, 480): {Value: "120.00", Confidence: 0.95},
		box(200, 100): {Value: "   ", Confidence: 0.9},
		box(300, 700): {Value: "maybe", Confidence: 0.2},
		box(800, 60):  {Value: "INV-7", Confidence: 0.3},
	}
	engine := &mockEngine{OnReextract: func(b fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
		if ans, ok := answers[b]; ok {
			return ans, nil
		}
		return fieldModel.EngineAnswer{}, fieldModel.ErrEngineUnavailable
	}}
	a := newTestAligner(engine)

	templateFields := []fieldModel.TemplateField{
		{Key: "total", Box: box(500, 400)},         // moves to the y=480 candidate
		{Key: "notes", Box: box(200, 100)},         // blank on target page
		{Key: "row_3", Box: box(300, 700)},         // low confidence
		{Key: "invoice_number", Box: box(800, 60)}, // stays put, confidence at threshold
		{Key: "broken", Box: box(100, 980)},        // lands on c2 but the engine fails
	}
	candidates := []fieldModel.AlignmentCandidate{
		{Id: "c1", Box: box(510, 480)},
		{Id: "c2", Box: box(500, 900)},
	}

	res := a.Align(context.Background(), commonModels.Document{Id: "d"}, 2, templateFields, candidates)

	if res.Summary != (Summary{AppliedCount: 2, AlignedCount: 2, SkippedCount: 3}) {
		t.Errorf("summary got %+v", res.Summary)
	}
	if len(res.Fields) != 2 {
		t.Fatalf("fields got %+v", res.Fields)
	}
	total := res.Fields[0]
	if total.Key != "total" || total.Box != box(510, 480) || total.Source != fieldModel.SourceAlignment || total.Page != 2 || total.Id == "" {
		t.Errorf("total got %+v", total)
	}
	inv := res.Fields[1]
	if inv.Key != "invoice_number" || inv.Source != fieldModel.SourceTemplate || inv.Box != box(800, 60) {
		t.Errorf("invoice_number got %+v", inv)
	}
	if len(res.Placements) != len(templateFields) {
		t.Errorf("placements got %d", len(res.Placements))
	}
}

func TestAlign_SharedCandidate(t *testing.T) {
	engine := &mockEngine{OnReextract: func(b fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
		return fieldModel.EngineAnswer{Value: "x", Confidence: 1}, nil
	}}
	a := newTestAligner(engine)

	res := a.Align(context.Background(), commonModels.Document{}, 1,
		[]fieldModel.TemplateField{{Key: "a", Box: box(100, 100)}, {Key: "b", Box: box(150, 120)}},
		[]fieldModel.AlignmentCandidate{{Id: "only", Box: box(120, 110)}})

	if res.Summary.AlignedCount != 2 || res.Fields[0].Box != res.Fields[1].Box {
		t.Errorf("both fields should land on the single candidate, got %+v", res)
	}
}

func TestDetectCandidates_PassesExclusions(t *testing.T) {
	var got []fieldModel.BoundingBox
	engine := &mockEngine{OnDetectText: func(exclude []fieldModel.BoundingBox) ([]fieldModel.AlignmentCandidate, error) {
		got = exclude
		return []fieldModel.AlignmentCandidate{{Id: "1"}}, nil
	}}
	a := newTestAligner(engine)

	exclude := []fieldModel.BoundingBox{box(10, 10)}
	candidates, err := a.DetectCandidates(context.Background(), commonModels.Document{}, 1, exclude)
	if err != nil || len(candidates) != 1 || len(got) != 1 {
		t.Errorf("got %v %v %v", candidates, err, got)
	}
}
