package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/data/redisStore"
	"github.com/akolanti/layoutlens/internal/data/store"
	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/domain/jobModel"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisJobStore_Lifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	internalStore := redisStore.NewTestStore(client)
	jobStore := store.TestJobStore(internalStore)

	ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, "test-trace")
	jobID := "job_abc_123"

	testJob := jobModel.Job{
		Id:       jobID,
		Status:   jobModel.JobStatusRunning,
		Document: commonModels.Document{Id: "doc-1", Image: []byte("not persisted"), Format: commonModels.PNG, PageCount: 1},
		Page:     1,
		Questions: []fieldModel.FieldQuestion{
			{Key: "invoice_number", IsRequired: true},
		},
		Fields: []fieldModel.ExtractedField{
			{Id: "f1", Key: "invoice_number", Value: "INV-9", Box: fieldModel.BoundingBox{X1: 1, Y1: 2, X2: 30, Y2: 40}},
		},
	}

	t.Run("Save and Get Roundtrip", func(t *testing.T) {
		if err := jobStore.SaveJob(ctx, testJob); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}

		retrievedJob, found := jobStore.GetJob(ctx, jobID)
		if !found {
			t.Fatal("Job was saved but not found in Redis")
		}
		if len(retrievedJob.Fields) != 1 || retrievedJob.Fields[0].Box != testJob.Fields[0].Box {
			t.Errorf("Data mismatch! Got %+v", retrievedJob.Fields)
		}
		if retrievedJob.Document.Image != nil {
			t.Error("page image should not be persisted")
		}
		if mr.TTL("job:"+jobID) <= 0 {
			t.Error("expected job record to expire")
		}
	})

	t.Run("Get Non-Existent Job", func(t *testing.T) {
		if _, found := jobStore.GetJob(ctx, "ghost-id"); found {
			t.Error("Expected found=false for non-existent key")
		}
	})

	t.Run("Corrupt record is a miss", func(t *testing.T) {
		mr.Set("job:broken", "{not json")
		if _, found := jobStore.GetJob(ctx, "broken"); found {
			t.Error("Expected found=false for corrupt record")
		}
	})

	t.Run("Delete Job", func(t *testing.T) {
		jobStore.DeleteJob(ctx, jobID)
		if mr.Exists("job:" + jobID) {
			t.Error("Job still exists in Redis after DeleteJob call")
		}
	})
}

func TestRedisJobStore_Race(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	jobStore := store.TestJobStore(redisStore.NewTestStore(client))

	ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, "race-trace")
	job := jobModel.Job{Id: "race-job"}

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = jobStore.SaveJob(ctx, job)
			_, _ = jobStore.GetJob(ctx, "race-job")
		}()
	}
	wg.Wait()

	if _, found := jobStore.GetJob(ctx, "race-job"); !found {
		t.Error("expected job after concurrent saves")
	}
}

func TestInMemoryJobStore(t *testing.T) {
	ctx := context.Background()
	s := store.InitInMemoryJobStore()

	if err := s.SaveJob(ctx, jobModel.Job{Id: "a", Status: jobModel.JobStatusQueued}); err != nil {
		t.Fatal(err)
	}
	got, found := s.GetJob(ctx, "a")
	if !found || got.Status != jobModel.JobStatusQueued {
		t.Errorf("got %+v found=%v", got, found)
	}
	s.DeleteJob(ctx, "a")
	if _, found := s.GetJob(ctx, "a"); found {
		t.Error("expected job to be deleted")
	}
}

func TestInMemoryJobStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := store.NewInMemoryJobStore(time.Hour, func() time.Time { return now })

	job := jobModel.Job{Id: "b", Document: commonModels.Document{Id: "doc", Image: []byte("png")}}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	got, found := s.GetJob(ctx, "b")
	if !found {
		t.Fatal("expected job before expiry")
	}
	if got.Document.Image != nil {
		t.Error("page image should not be kept")
	}

	now = now.Add(2 * time.Hour)
	if _, found := s.GetJob(ctx, "b"); found {
		t.Error("expected job to expire")
	}
}
