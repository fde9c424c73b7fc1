package annotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
)

type mockEngine struct {
	OnReextract func(ctx context.Context, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error)
}

func (m *mockEngine) Ask(ctx context.Context, doc commonModels.Document, page int, q fieldModel.FieldQuestion) (fieldModel.EngineAnswer, error) {
	return fieldModel.EngineAnswer{}, fieldModel.ErrEngineEmpty
}

func (m *mockEngine) Reextract(ctx context.Context, doc commonModels.Document, page int, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
	return m.OnReextract(ctx, box)
}

func (m *mockEngine) DetectText(ctx context.Context, doc commonModels.Document, page int, exclude []fieldModel.BoundingBox) ([]fieldModel.AlignmentCandidate, error) {
	return nil, nil
}

var boxA = fieldModel.BoundingBox{X1: 100, Y1: 100, X2: 200, Y2: 130}

func TestMerge_CustomOverwritesEngine(t *testing.T) {
	engine := []fieldModel.ExtractedField{
		{Id: "e1", Key: "invoice_number", Value: "INV-1"},
		{Id: "e2", Key: "total", Value: "100", Box: boxA},
		{Id: "e3", Key: "date", Value: "2024-01-02"},
	}
	custom := []fieldModel.ExtractedField{
		{Id: "c1", Key: "total", Value: "120", Box: boxA},
		{Id: "c2", Key: "notes", Value: "paid"},
	}

	got := Merge(engine, custom, nil)
	if len(got) != 4 {
		t.Fatalf("expected 4 merged fields, got %+v", got)
	}
	order := []string{"invoice_number", "total", "date", "notes"}
	for i, k := range order {
		if got[i].Key != k {
			t.Errorf("position %d got %s, want %s", i, got[i].Key, k)
		}
	}
	total := got[1]
	if total.Id != "c1" || total.Value != "120" || !total.Updated {
		t.Errorf("total got %+v", total)
	}
	if got[0].Updated || got[3].Updated {
		t.Error("untouched fields should not be flagged updated")
	}
}

func TestMerge_KeyFallbacks(t *testing.T) {
	engine := []fieldModel.ExtractedField{
		{Id: "e1", Key: "total", Label: "Grand total", Value: "1"},
		{Id: "e2", Value: "orphan"},
	}
	custom := []fieldModel.ExtractedField{
		{Id: "c1", Key: "total", Value: "2"},                   // different label: no collision
		{Id: "c2", Key: "x", Label: "Grand total", Value: "3"}, // same label: overwrites e1
		{Id: "e2", Value: "orphan-edit"},                       // same id, no key or label
	}
	got := Merge(engine, custom, nil)
	if len(got) != 3 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Id != "c2" || got[1].Value != "orphan-edit" || got[2].Id != "c1" {
		t.Errorf("got %+v", got)
	}
}

func TestMerge_BaselinesWin(t *testing.T) {
	engine := []fieldModel.ExtractedField{{Id: "e1", Key: "total", Value: "100"}}
	got := Merge(engine, nil, map[string]Baseline{"total": {Value: "90"}})
	if !got[0].Updated {
		t.Error("value differing from the stored baseline should be updated")
	}
	moved := []fieldModel.ExtractedField{{Id: "e1", Key: "total", Value: "90", Box: boxA}}
	if got := Merge(moved, nil, map[string]Baseline{"total": {Value: "90"}}); !got[0].Updated {
		t.Error("box change should be updated")
	}
}

func TestSession_EditAndReextract(t *testing.T) {
	s := NewSession("s1", &mockEngine{}, commonModels.Document{Id: "d"}, 1)
	s.SetEngineFields([]fieldModel.ExtractedField{{Id: "e1", Key: "total", Value: "100", Box: boxA}})

	if got := s.Fields(); len(got) != 1 || got[0].Updated {
		t.Fatalf("fresh field got %+v", got)
	}
	if _, err := s.Edit("e1", "101"); err != nil {
		t.Fatal(err)
	}
	if got := s.Fields(); got[0].Value != "101" || !got[0].Updated {
		t.Errorf("edited field got %+v", got[0])
	}

	moved := fieldModel.BoundingBox{X1: 100, Y1: 140, X2: 200, Y2: 170}
	f, err := s.ApplyReextraction("e1", fieldModel.EngineAnswer{Value: "", Confidence: 0.9, Box: moved})
	if err != nil {
		t.Fatal(err)
	}
	// empty values are accepted outside alignment
	if f.Value != "" || f.Confidence != 0.9 || f.Box != moved {
		t.Errorf("re-extracted field got %+v", f)
	}

	if _, err := s.Edit("nope", "x"); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := s.Remove("e1"); err != nil || len(s.Fields()) != 0 {
		t.Errorf("remove failed: %v", err)
	}
}

func TestSession_CustomFieldOverwritesEngineField(t *testing.T) {
	s := NewSession("s1", &mockEngine{}, commonModels.Document{}, 1)
	s.SetEngineFields([]fieldModel.ExtractedField{{Id: "e1", Key: "total", Value: "100"}})
	if _, err := s.AddCustomField(fieldModel.ExtractedField{Key: "total", Value: "120"}); err != nil {
		t.Fatal(err)
	}
	got := s.Fields()
	if len(got) != 1 || got[0].Value != "120" || got[0].Source != fieldModel.SourceCustom || !got[0].Updated {
		t.Errorf("got %+v", got)
	}
	if _, err := s.AddCustomField(fieldModel.ExtractedField{Key: "bad", Box: fieldModel.BoundingBox{X1: 10, X2: 5}}); !errors.Is(err, fieldModel.ErrInvalidGeometry) {
		t.Errorf("expected invalid geometry, got %v", err)
	}
}

func TestSession_ConcurrentCustomExtractions(t *testing.T) {
	engine := &mockEngine{OnReextract: func(ctx context.Context, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
		// later boxes answer first
		time.Sleep(time.Duration(1000-box.Y1) * time.Microsecond)
		return fieldModel.EngineAnswer{Value: fmt.Sprintf("y=%.0f", box.Y1), Confidence: 0.8}, nil
	}}
	s := NewSession("s1", engine, commonModels.Document{}, 1)

	const n = 20
	ids := make(map[string]float64, n)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			y := float64(i * 40)
			f, err := s.StartCustomExtraction(context.Background(), fieldModel.BoundingBox{X1: 10, Y1: y, X2: 90, Y2: y + 30}, "", false)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			ids[f.Id] = y
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	s.Wait()

	if len(s.InFlight()) != 0 {
		t.Errorf("expected no fields in flight, got %v", s.InFlight())
	}
	fields := s.Fields()
	if len(fields) != n {
		t.Fatalf("expected %d fields, got %d", n, len(fields))
	}
	// each result must belong to its own box, whatever the completion order
	for _, f := range fields {
		y, ok := ids[f.Id]
		if !ok {
			t.Fatalf("unknown field %s", f.Id)
		}
		if f.Value != fmt.Sprintf("y=%.0f", y) || f.Box.Y1 != y {
			t.Errorf("field %s got value %q box %v, want y=%.0f", f.Id, f.Value, f.Box, y)
		}
		if f.Updated {
			t.Errorf("freshly extracted field %s should not be updated", f.Id)
		}
	}
}

func TestSession_ApproximateDrawnFieldKeepsFlag(t *testing.T) {
	engine := &mockEngine{OnReextract: func(ctx context.Context, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
		return fieldModel.EngineAnswer{Value: "12.00", Confidence: 0.9, Box: box}, nil
	}}
	s := NewSession("s1", engine, commonModels.Document{}, 1)

	f, err := s.StartCustomExtraction(context.Background(), boxA, "total", true)
	if err != nil {
		t.Fatal(err)
	}
	if !f.Approximate {
		t.Errorf("pending field got %+v", f)
	}
	s.Wait()
	if got := s.Fields(); len(got) != 1 || got[0].Value != "12.00" || !got[0].Approximate {
		t.Errorf("resolved field got %+v", got)
	}
}

func TestSession_InFlightAndLateResults(t *testing.T) {
	release := make(chan struct{})
	engine := &mockEngine{OnReextract: func(ctx context.Context, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
		<-release
		return fieldModel.EngineAnswer{Value: "late", Confidence: 1}, nil
	}}

	t.Run("pending marker", func(t *testing.T) {
		s := NewSession("s1", engine, commonModels.Document{}, 1)
		ctx, cancel := context.WithCancel(context.Background())
		f, err := s.StartCustomExtraction(ctx, boxA, "memo", false)
		if err != nil {
			t.Fatal(err)
		}
		// cancelling the request does not cancel the task
		cancel()
		if got := s.Fields(); len(got) != 1 || !got[0].InFlight || got[0].Id != f.Id || got[0].Label != "memo" {
			t.Errorf("pending field got %+v", got)
		}
		release <- struct{}{}
		s.Wait()
		if got := s.Fields(); got[0].InFlight || got[0].Value != "late" {
			t.Errorf("resolved field got %+v", got[0])
		}
	})

	t.Run("closed session drops result", func(t *testing.T) {
		registry := NewRegistry(engine)
		s := registry.Open("s2", commonModels.Document{}, 1)
		f, err := s.StartCustomExtraction(context.Background(), boxA, "memo", false)
		if err != nil {
			t.Fatal(err)
		}
		registry.Close("s2")
		release <- struct{}{}
		s.Wait()

		for _, rf := range s.RawFields() {
			if rf.Id == f.Id && rf.Value != "" {
				t.Errorf("late result applied to closed session: %+v", rf)
			}
		}
		if _, ok := registry.Get("s2"); ok {
			t.Error("closed session still registered")
		}
		if _, err := s.StartCustomExtraction(context.Background(), boxA, "x", false); !errors.Is(err, ErrSessionClosed) {
			t.Errorf("expected closed session error, got %v", err)
		}
	})

	t.Run("removed field drops result", func(t *testing.T) {
		s := NewSession("s3", engine, commonModels.Document{}, 1)
		f, _ := s.StartCustomExtraction(context.Background(), boxA, "memo", false)
		if err := s.Remove(f.Id); err != nil {
			t.Fatal(err)
		}
		release <- struct{}{}
		s.Wait()
		if len(s.Fields()) != 0 {
			t.Errorf("removed field came back: %+v", s.Fields())
		}
	})
}

func TestSession_FailedExtractionKeepsField(t *testing.T) {
	engine := &mockEngine{OnReextract: func(ctx context.Context, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
		return fieldModel.EngineAnswer{}, fieldModel.ErrEngineTimeout
	}}
	s := NewSession("s1", engine, commonModels.Document{}, 1)
	if _, err := s.StartCustomExtraction(context.Background(), boxA, "memo", false); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	got := s.Fields()
	if len(got) != 1 || got[0].InFlight || got[0].Error == "" {
		t.Errorf("got %+v", got)
	}
}

func TestRegistry_OpenKeepsState(t *testing.T) {
	r := NewRegistry(&mockEngine{})
	s := r.Open("a", commonModels.Document{Id: "d1"}, 1)
	s.SetEngineFields([]fieldModel.ExtractedField{{Id: "e1", Key: "k"}})

	again := r.Open("a", commonModels.Document{Id: "other"}, 2)
	if again != s || len(again.Fields()) != 1 {
		t.Error("reopening should return the same session")
	}
	if doc, page := again.Document(); doc.Id != "d1" || page != 1 {
		t.Errorf("document got %s page %d", doc.Id, page)
	}
	if r.Close("missing") {
		t.Error("closing an unknown session should report false")
	}
}

func TestRegistry_CloseIdle(t *testing.T) {
	now := time.Now()
	r := NewRegistry(&mockEngine{})
	r.now = func() time.Time { return now }

	var closed []string
	r.OnClose(func(s *Session) { closed = append(closed, s.Id) })

	r.Open("stale", commonModels.Document{Id: "d1"}, 1)
	r.Open("fresh", commonModels.Document{Id: "d2"}, 1)

	now = now.Add(45 * time.Minute)
	r.Get("fresh")
	now = now.Add(30 * time.Minute)

	if n := r.CloseIdle(time.Hour); n != 1 {
		t.Fatalf("expected 1 idle session closed, got %d", n)
	}
	if _, ok := r.Get("stale"); ok {
		t.Error("idle session should be gone")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Error("recently used session should stay open")
	}
	if len(closed) != 1 || closed[0] != "stale" {
		t.Errorf("close hook got %v", closed)
	}

	r.Close("fresh")
	if len(closed) != 2 || closed[1] != "fresh" {
		t.Errorf("explicit close should run the hook, got %v", closed)
	}
}

func TestRegistry_CloseIdleKeepsBusySessions(t *testing.T) {
	release := make(chan struct{})
	engine := &mockEngine{OnReextract: func(ctx context.Context, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
		<-release
		return fieldModel.EngineAnswer{Value: "x"}, nil
	}}
	now := time.Now()
	r := NewRegistry(engine)
	r.now = func() time.Time { return now }

	s := r.Open("busy", commonModels.Document{Id: "d1"}, 1)
	if _, err := s.StartCustomExtraction(context.Background(), fieldModel.BoundingBox{X1: 10, Y1: 10, X2: 100, Y2: 50}, "total", false); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Hour)
	if n := r.CloseIdle(time.Hour); n != 0 {
		t.Errorf("session with an extraction in flight should stay open, closed %d", n)
	}
	close(release)
	s.Wait()
	if n := r.CloseIdle(time.Hour); n != 1 {
		t.Errorf("expected the session to close once idle, closed %d", n)
	}
}
