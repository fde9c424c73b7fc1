package job

import (
	"context"
	"sync"
	"time"

	"github.com/akolanti/layoutlens/internal/annotation"
	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/domain/jobModel"
	"github.com/akolanti/layoutlens/internal/metrics"
	"github.com/akolanti/layoutlens/pkg/logger_i"
)

type Service struct {
	JobChannel        chan jobModel.Job
	RequestCount      int64
	DispatcherChannel chan bool
	JobStore          jobModel.JobStore
	TemplateStore     fieldModel.TemplateStore
	Sessions          *annotation.Registry

	//page images are never persisted, runs read them from here
	docMu     sync.Mutex
	documents map[string]*cachedDocument
	now       func() time.Time
	logger    *logger_i.Logger

	runMu     sync.Mutex
	running   map[string]context.CancelFunc
	cancelled map[string]struct{}
}

type ServiceConfig struct {
	JobChannel        chan jobModel.Job
	RequestCount      int64
	DispatcherChannel chan bool
	JobStore          jobModel.JobStore
	TemplateStore     fieldModel.TemplateStore
	Sessions          *annotation.Registry
}

// cachedDocument stays alive while at least one holder (an open session or a run) keeps it.
// A zero expiry means the hold lasts until it is released.
type cachedDocument struct {
	doc   commonModels.Document
	holds map[string]time.Time
}

func InitJobService(cfg ServiceConfig) *Service {
	s := &Service{
		JobChannel:        cfg.JobChannel,
		RequestCount:      cfg.RequestCount,
		DispatcherChannel: cfg.DispatcherChannel,
		JobStore:          cfg.JobStore,
		TemplateStore:     cfg.TemplateStore,
		Sessions:          cfg.Sessions,
		documents:         make(map[string]*cachedDocument),
		now:               time.Now,
		logger:            logger_i.NewLogger("JobService"),
		running:           make(map[string]context.CancelFunc),
		cancelled:         make(map[string]struct{}),
	}
	if s.Sessions != nil {
		s.Sessions.OnClose(func(session *annotation.Session) {
			doc, _ := session.Document()
			s.ReleaseDocument(doc.Id, SessionHolder(session.Id))
		})
	}
	return s
}

func SessionHolder(sessionId string) string { return "session:" + sessionId }
func RunHolder(jobId string) string         { return "run:" + jobId }

// PutDocument caches the page bytes held open by holders. Existing holds on the same id are kept.
func (s *Service) PutDocument(doc commonModels.Document, holders ...string) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	entry, ok := s.documents[doc.Id]
	if !ok {
		entry = &cachedDocument{holds: make(map[string]time.Time)}
		s.documents[doc.Id] = entry
	}
	entry.doc = doc
	for _, h := range holders {
		entry.holds[h] = time.Time{}
	}
	metrics.SetCachedDocuments(len(s.documents))
}

func (s *Service) GetDocument(id string) (commonModels.Document, bool) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	entry, ok := s.documents[id]
	if !ok {
		return commonModels.Document{}, false
	}
	return entry.doc, true
}

// HoldDocument keeps document id cached for holder until the hold is released.
func (s *Service) HoldDocument(id string, holder string) {
	s.setHold(id, holder, time.Time{})
}

// ExpireDocumentHold turns the hold of holder into one that lapses after ttl.
func (s *Service) ExpireDocumentHold(id string, holder string, ttl time.Duration) {
	s.setHold(id, holder, s.now().Add(ttl))
}

func (s *Service) setHold(id string, holder string, until time.Time) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	if entry, ok := s.documents[id]; ok {
		entry.holds[holder] = until
	}
}

// ReleaseDocument drops the hold of holder and evicts the page once nobody holds it.
func (s *Service) ReleaseDocument(id string, holder string) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	entry, ok := s.documents[id]
	if !ok {
		return
	}
	delete(entry.holds, holder)
	if len(entry.holds) == 0 {
		delete(s.documents, id)
		s.logger.Debug("evicted document", "documentId", id)
	}
	metrics.SetCachedDocuments(len(s.documents))
}

// SweepDocuments lapses expired holds and evicts every page left without one.
func (s *Service) SweepDocuments() int {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	now := s.now()
	evicted := 0
	for id, entry := range s.documents {
		for holder, until := range entry.holds {
			if !until.IsZero() && now.After(until) {
				delete(entry.holds, holder)
			}
		}
		if len(entry.holds) == 0 {
			delete(s.documents, id)
			evicted++
		}
	}
	metrics.SetCachedDocuments(len(s.documents))
	return evicted
}

// StartJanitor periodically closes idle sessions and evicts unheld pages until ctx ends.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				closed := 0
				if s.Sessions != nil {
					closed = s.Sessions.CloseIdle(config.SessionIdleTTL)
				}
				evicted := s.SweepDocuments()
				if closed > 0 || evicted > 0 {
					s.logger.Info("janitor pass", "closedSessions", closed, "evictedDocuments", evicted)
				}
			}
		}
	}()
}

// TrackRun derives the context a worker runs job id under. A cancel requested while the job
// was still queued takes effect immediately. Call the returned func when the run ends.
func (s *Service) TrackRun(ctx context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	s.runMu.Lock()
	s.running[id] = cancel
	if _, ok := s.cancelled[id]; ok {
		cancel()
	}
	s.runMu.Unlock()

	return ctx, func() {
		s.runMu.Lock()
		delete(s.running, id)
		delete(s.cancelled, id)
		s.runMu.Unlock()
		cancel()
	}
}

// RequestCancel asks run id to stop before its next round. Rounds already in flight finish.
func (s *Service) RequestCancel(id string) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.cancelled[id] = struct{}{}
	if cancel, ok := s.running[id]; ok {
		cancel()
	}
}

// ClearCancel forgets a pending cancel, used when a cancelled run is queued again.
func (s *Service) ClearCancel(id string) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	delete(s.cancelled, id)
}

func (s *Service) IsRunning(id string) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	_, ok := s.running[id]
	return ok
}
