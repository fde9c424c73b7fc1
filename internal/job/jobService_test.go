package job

import (
	"context"
	"testing"
	"time"

	"github.com/akolanti/layoutlens/internal/annotation"
	"github.com/akolanti/layoutlens/internal/domain/commonModels"
)

func newTestService() *Service {
	return InitJobService(ServiceConfig{})
}

func TestDocuments(t *testing.T) {
	s := newTestService()
	s.PutDocument(commonModels.Document{Id: "d1", Image: []byte{1, 2}, Format: commonModels.PNG, PageCount: 1})

	doc, ok := s.GetDocument("d1")
	if !ok || len(doc.Image) != 2 || doc.Format != commonModels.PNG {
		t.Errorf("got %+v %v", doc, ok)
	}
	if _, ok := s.GetDocument("missing"); ok {
		t.Error("expected miss")
	}
}

func TestCancel_WhileRunning(t *testing.T) {
	s := newTestService()
	ctx, done := s.TrackRun(context.Background(), "j1")
	defer done()

	if !s.IsRunning("j1") {
		t.Fatal("run should be tracked")
	}
	s.RequestCancel("j1")
	select {
	case <-ctx.Done():
	default:
		t.Error("context should be cancelled")
	}
}

func TestCancel_BeforeRunStarts(t *testing.T) {
	s := newTestService()
	s.RequestCancel("j1")

	ctx, done := s.TrackRun(context.Background(), "j1")
	if ctx.Err() == nil {
		t.Error("queued cancel should apply when the run starts")
	}
	done()

	// the flag is consumed by the run that saw it
	ctx, done = s.TrackRun(context.Background(), "j1")
	defer done()
	if ctx.Err() != nil {
		t.Error("second run should start clean")
	}
}

func TestClearCancel(t *testing.T) {
	s := newTestService()
	s.RequestCancel("j1")
	s.ClearCancel("j1")
	ctx, done := s.TrackRun(context.Background(), "j1")
	defer done()
	if ctx.Err() != nil {
		t.Error("cleared cancel should not apply")
	}
	if s.IsRunning("other") {
		t.Error("unknown run reported running")
	}
}

func TestDocuments_EvictedWhenSessionCloses(t *testing.T) {
	sessions := annotation.NewRegistry(nil)
	s := InitJobService(ServiceConfig{Sessions: sessions})
	doc := commonModels.Document{Id: "d1", Image: []byte{1}, Format: commonModels.PNG, PageCount: 1}

	s.PutDocument(doc, SessionHolder("s1"))
	sessions.Open("s1", doc, 1)

	sessions.Close("s1")
	if _, ok := s.GetDocument("d1"); ok {
		t.Error("page should be evicted once its only session closes")
	}
}

func TestDocuments_FinishedRunExpires(t *testing.T) {
	sessions := annotation.NewRegistry(nil)
	s := InitJobService(ServiceConfig{Sessions: sessions})
	now := time.Now()
	s.now = func() time.Time { return now }
	doc := commonModels.Document{Id: "d1", Image: []byte{1}, Format: commonModels.PNG, PageCount: 1}

	s.PutDocument(doc, RunHolder("j1"), SessionHolder("s1"))
	sessions.Open("s1", doc, 1)

	// the run ends, then the reviewer closes the session
	s.ExpireDocumentHold("d1", RunHolder("j1"), time.Hour)
	sessions.Close("s1")

	if n := s.SweepDocuments(); n != 0 {
		t.Errorf("nothing should be evicted before the run hold lapses, evicted %d", n)
	}
	if _, ok := s.GetDocument("d1"); !ok {
		t.Fatal("finished run should keep its page for retries")
	}

	now = now.Add(2 * time.Hour)
	if n := s.SweepDocuments(); n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if _, ok := s.GetDocument("d1"); ok {
		t.Error("page should be gone after the run hold lapsed")
	}
}

func TestDocuments_SharedIdKeepsOtherHolders(t *testing.T) {
	s := newTestService()
	doc := commonModels.Document{Id: "shared", Image: []byte{1}}

	s.PutDocument(doc, RunHolder("j1"))
	s.PutDocument(doc, RunHolder("j2"))
	s.ReleaseDocument("shared", RunHolder("j1"))

	if _, ok := s.GetDocument("shared"); !ok {
		t.Error("page still held by another run was evicted")
	}
	s.ReleaseDocument("shared", RunHolder("j2"))
	if _, ok := s.GetDocument("shared"); ok {
		t.Error("unheld page should be evicted")
	}
}
