package store

import (
	"context"
	"sync"
	"time"

	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/domain/jobModel"
	"github.com/akolanti/layoutlens/pkg/logger_i"
)

var inMemLogger = logger_i.NewLogger("InMemStore")

type storedJob struct {
	job     jobModel.Job
	savedAt time.Time
}

// InMemoryJobStore mirrors the redis record: runs expire after RedisJobStoreTTL and the page image is never kept.
type InMemoryJobStore struct {
	jobMutex *sync.RWMutex
	jobMap   map[string]storedJob
	ttl      time.Duration
	now      func() time.Time
}

func InitInMemoryJobStore() *InMemoryJobStore {
	return NewInMemoryJobStore(config.RedisJobStoreTTL, time.Now)
}

func NewInMemoryJobStore(ttl time.Duration, now func() time.Time) *InMemoryJobStore {
	return &InMemoryJobStore{
		jobMutex: new(sync.RWMutex),
		jobMap:   make(map[string]storedJob),
		ttl:      ttl,
		now:      now,
	}
}

func (store *InMemoryJobStore) SaveJob(ctx context.Context, job jobModel.Job) error {
	job.Document.Image = nil
	store.jobMutex.Lock()
	defer store.jobMutex.Unlock()
	store.jobMap[job.Id] = storedJob{job: job, savedAt: store.now()}
	inMemLogger.FromContext(ctx).Debug("saved job", "jobId", job.Id, "status", job.Status)
	return nil
}

func (store *InMemoryJobStore) GetJob(ctx context.Context, jobId string) (jobModel.Job, bool) {
	store.jobMutex.RLock()
	entry, found := store.jobMap[jobId]
	store.jobMutex.RUnlock()
	if !found {
		return jobModel.Job{}, false
	}
	if store.ttl > 0 && store.now().Sub(entry.savedAt) > store.ttl {
		store.DeleteJob(ctx, jobId)
		return jobModel.Job{}, false
	}
	return entry.job, true
}

func (store *InMemoryJobStore) DeleteJob(ctx context.Context, jobID string) {
	store.jobMutex.Lock()
	defer store.jobMutex.Unlock()
	delete(store.jobMap, jobID)
}
