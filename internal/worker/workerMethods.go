package worker

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/akolanti/layoutlens/internal/annotation"
	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	jobmodel "github.com/akolanti/layoutlens/internal/domain/jobModel"
	jobService "github.com/akolanti/layoutlens/internal/job"
	"github.com/akolanti/layoutlens/internal/metrics"
	"github.com/akolanti/layoutlens/internal/scheduler"
)

// executeJob runs the scheduler for one extraction run, persisting the job after every round
// so the status endpoint sees partial results. A run that stopped on a failed round keeps
// NextRound at that round and can be queued again.
func executeJob(job jobmodel.Job) {
	start := time.Now()
	defer func() {
		metrics.CaptureJobMetrics(string(job.Status), time.Since(start))
	}()
	ctxTrace := context.WithValue(context.Background(), config.TRACE_ID_KEY, job.TraceId)
	ctxTimeout, cancel := context.WithTimeout(ctxTrace, config.JobExecutionTimeout)
	defer cancel()
	ctx, done := _jobService.TrackRun(ctxTimeout, job.Id)
	defer done()

	log := logger.FromContext(ctx).With("jobId", job.Id)
	log.Debug("Processing job", "nextRound", job.NextRound)

	// saves must land even after a cancel
	saveCtx := context.WithoutCancel(ctx)

	doc, ok := _jobService.GetDocument(job.Document.Id)
	if !ok {
		log.Error("document is no longer cached", "documentId", job.Document.Id)
		job.Error = jobmodel.JobError{Code: http.StatusGone, Message: "document no longer available, start a new run"}
		job.CurrentStep = jobmodel.Error
		job.EndTime = time.Now()
		job = saveJobState(saveCtx, job, jobmodel.JobStatusError)
		return
	}
	// a finished run keeps its page for as long as its record lives, so it can still be retried
	defer _jobService.ExpireDocumentHold(doc.Id, jobService.RunHolder(job.Id), config.RedisJobStoreTTL)

	if ctx.Err() != nil {
		log.Info("run cancelled before start")
		job.EndTime = time.Now()
		job = saveJobState(saveCtx, job, jobmodel.JobStatusCancelled)
		return
	}

	// the plan is fixed on the first run so a retry resumes the same rounds after a tuning change
	if job.RoundSize < 1 {
		job.RoundSize = _scheduler.RoundSize()
	}
	job.TotalRounds = len(scheduler.PlanRounds(job.Questions, job.RoundSize))

	// a resumed run redoes the failed round, drop what it recorded last time
	job.Failed = failedBefore(job.Failed, job.NextRound)
	job.Error = jobmodel.JobError{}
	job.CurrentStep = jobmodel.BackgroundRound
	if job.NextRound == 0 {
		job.CurrentStep = jobmodel.PriorityRound
	}
	job = saveJobState(saveCtx, job, jobmodel.JobStatusRunning)

	session := sessionFor(job, doc)

	request := scheduler.Request{
		Document:   doc,
		Page:       job.Page,
		Questions:  job.Questions,
		StartRound: job.NextRound,
		Prior:      job.Fields,
		RoundSize:  job.RoundSize,
	}
	result, err := _scheduler.Run(ctx, request, func(ev scheduler.Event) {
		switch ev.Kind {
		case scheduler.RoundComplete:
			job.Fields = append(job.Fields, ev.Fields...)
			job.Failed = append(job.Failed, ev.Failed...)
			job.Rounds = append(job.Rounds, ev.Info)
			job.NextRound = ev.Info.RoundIndex + 1
			job.CurrentStep = jobmodel.RoundDelay
			if !ev.Info.HasMore {
				job.CurrentStep = jobmodel.Complete
			}
			if session != nil {
				session.SetEngineFields(job.Fields)
			}
			job = saveJobState(saveCtx, job, jobmodel.JobStatusRunning)
		case scheduler.Error:
			job.Failed = append(job.Failed, ev.Failed...)
		}
	})

	job.NextRound = result.NextRound
	job.EndTime = time.Now()

	var roundErr *fieldModel.RoundFailureError
	switch {
	case result.Cancelled && errors.Is(err, context.DeadlineExceeded):
		log.Warn("run timed out", "nextRound", job.NextRound)
		job.Error = jobmodel.JobError{Code: http.StatusGatewayTimeout, Message: "run timed out", Retry: true}
		job.CurrentStep = jobmodel.Error
		job = saveJobState(saveCtx, job, jobmodel.JobStatusError)
	case result.Cancelled:
		log.Info("run cancelled", "nextRound", job.NextRound)
		job = saveJobState(saveCtx, job, jobmodel.JobStatusCancelled)
	case errors.As(err, &roundErr):
		log.Warn("run stopped on failed round", "round", roundErr.Round, "error", err)
		job.Error = jobmodel.JobError{Code: http.StatusBadGateway, Message: err.Error(), Retry: true}
		job.CurrentStep = jobmodel.Error
		job = saveJobState(saveCtx, job, jobmodel.JobStatusError)
	case err != nil:
		log.Error("run failed", "error", err)
		job.Error = jobmodel.JobError{Code: http.StatusInternalServerError, Message: err.Error()}
		job.CurrentStep = jobmodel.Error
		job = saveJobState(saveCtx, job, jobmodel.JobStatusError)
	default:
		job.CurrentStep = jobmodel.Complete
		job = saveJobState(saveCtx, job, jobmodel.JobStatusComplete)
		log.Info("run complete", "fields", len(job.Fields), "failed", len(job.Failed))
	}
}

func sessionFor(job jobmodel.Job, doc commonModels.Document) *annotation.Session {
	if job.SessionId == "" || _jobService.Sessions == nil {
		return nil
	}
	session := _jobService.Sessions.Open(job.SessionId, doc, job.Page)
	sessionDoc, _ := session.Document()
	_jobService.HoldDocument(sessionDoc.Id, jobService.SessionHolder(session.Id))
	return session
}

func failedBefore(failed []fieldModel.FailedQuestion, round int) []fieldModel.FailedQuestion {
	out := failed[:0:0]
	for _, f := range failed {
		if f.Round < round {
			out = append(out, f)
		}
	}
	return out
}

func removeWorker(reason string) {
	workerWaitGroup.Done()
	count := atomic.AddInt64(&currentWorkerCount, -1)
	logger.Info("Removed worker", "reason", reason, "workerCount", count)
	metrics.DecrementActiveWorkerCount()
}

func saveJobState(ctx context.Context, job jobmodel.Job, jobStatus jobmodel.JobStatus) jobmodel.Job {
	job.Status = jobStatus
	if err := _jobService.JobStore.SaveJob(ctx, job); err != nil {
		logger.Error("Failed to save job state", "err", err, "jobId", job.Id)
	}
	return job
}
