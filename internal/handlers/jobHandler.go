package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/domain/jobModel"
	"github.com/akolanti/layoutlens/internal/job"
	"github.com/akolanti/layoutlens/internal/metrics"
	"github.com/akolanti/layoutlens/pkg/logger_i"
)

var (
	handlerInstance *JobHandler //private singleton
	once            sync.Once
	logJH           *logger_i.Logger

	errJobNotFound    = errors.New("job not found")
	errJobFinished    = errors.New("run already finished")
	errNotRetryable   = errors.New("run cannot be retried")
	errDocumentGone   = errors.New("document no longer available, start a new run")
	errRunInFlight    = errors.New("run is still in progress")
	errNoJobService   = errors.New("job service not initialised")
	errEmptyQuestions = errors.New("at least one question with a key is required")
)

type JobHandler struct {
	service *job.Service
}

func InitJobHandler(jobService *job.Service) {
	once.Do(func() {
		handlerInstance = &JobHandler{service: jobService}

		logJH = logger_i.NewLogger("JobHandler")
		logRH = logger_i.NewLogger("RequestHandler")
		logJH.Info("Starting job handler")
	})
}

type newJobData struct {
	id        string
	sessionId string
	traceId   string
	document  commonModels.Document
	page      int
	questions []fieldModel.FieldQuestion
}

// CreateNewJob caches the page, opens the review session and queues the run.
func CreateNewJob(newJob newJobData) error {
	if handlerInstance == nil {
		return errNoJobService
	}
	log := logJH.With("traceId", newJob.traceId, "jobId", newJob.id)
	log.Info("To create new job")

	service := handlerInstance.service
	service.PutDocument(newJob.document, job.RunHolder(newJob.id))
	if service.Sessions != nil {
		session := service.Sessions.Open(newJob.sessionId, newJob.document, newJob.page)
		sessionDoc, _ := session.Document()
		service.HoldDocument(sessionDoc.Id, job.SessionHolder(session.Id))
	}

	_job := jobModel.Job{
		Id:          newJob.id,
		SessionId:   newJob.sessionId,
		TraceId:     newJob.traceId,
		Page:        newJob.page,
		Questions:   newJob.questions,
		CreatedTime: time.Now(),
		Status:      jobModel.JobStatusQueued,
		CurrentStep: jobModel.ExtractInit,
		Document: commonModels.Document{
			Id:        newJob.document.Id,
			Format:    newJob.document.Format,
			PageCount: newJob.document.PageCount,
			Width:     newJob.document.Width,
			Height:    newJob.document.Height,
		},
	}
	return handlerInstance.pushToJobChannel(_job)
}

func GetJobStatus(id string, traceId string) (result jobModel.Job, isFound bool) {
	ctxC := context.WithValue(context.Background(), config.TRACE_ID_KEY, traceId)
	if handlerInstance != nil {
		return handlerInstance.service.JobStore.GetJob(ctxC, id)
	}
	return result, false
}

// RetryJob queues a failed or cancelled run again. It resumes from the round it stopped at.
func RetryJob(id string, traceId string) (jobModel.Job, error) {
	stored, ok := validateId(id, traceId)
	if !ok {
		return stored, errJobNotFound
	}
	switch {
	case stored.Status == jobModel.JobStatusCancelled:
	case stored.Status == jobModel.JobStatusError && stored.Error.Retry:
	case stored.Status == jobModel.JobStatusQueued || stored.Status == jobModel.JobStatusRunning:
		return stored, errRunInFlight
	default:
		return stored, errNotRetryable
	}
	if handlerInstance.service.IsRunning(id) {
		return stored, errRunInFlight
	}
	if _, ok := handlerInstance.service.GetDocument(stored.Document.Id); !ok {
		return stored, errDocumentGone
	}
	handlerInstance.service.HoldDocument(stored.Document.Id, job.RunHolder(id))

	handlerInstance.service.ClearCancel(id)
	stored.Status = jobModel.JobStatusQueued
	stored.Error = jobModel.JobError{}
	stored.EndTime = time.Time{}
	stored.TraceId = traceId
	logJH.With("traceId", traceId, "jobId", id).Info("Retrying job", "fromRound", stored.NextRound)
	return stored, handlerInstance.pushToJobChannel(stored)
}

// CancelJob stops a queued or running run before its next round.
func CancelJob(id string, traceId string) (jobModel.Job, error) {
	stored, ok := validateId(id, traceId)
	if !ok {
		return stored, errJobNotFound
	}
	if stored.Status != jobModel.JobStatusQueued && stored.Status != jobModel.JobStatusRunning {
		return stored, errJobFinished
	}
	handlerInstance.service.RequestCancel(id)
	logJH.With("traceId", traceId, "jobId", id).Info("Cancel requested", "status", stored.Status)
	return stored, nil
}

func jobErrorStatus(err error) int {
	switch {
	case errors.Is(err, errJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, errJobFinished), errors.Is(err, errNotRetryable), errors.Is(err, errRunInFlight):
		return http.StatusConflict
	case errors.Is(err, errDocumentGone):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// private methods
func (h *JobHandler) pushToJobChannel(_job jobModel.Job) error {
	ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, _job.TraceId)
	// visible on the status endpoint before a worker picks it up
	if err := h.service.JobStore.SaveJob(ctx, _job); err != nil {
		return fmt.Errorf("save queued job: %w", err)
	}

	//metrics
	metrics.IncrementJobsInQueue()

	h.service.JobChannel <- _job //this is a blocking send to prevent the system from being overwhelmed
	logJH.Info("Queued job", "jobId", _job.Id)

	//a new worker every few requests, idle workers retire on their own
	accurateCount := atomic.AddInt64(&h.service.RequestCount, 1)
	if accurateCount%config.RequestsPerNewWorkerCount == 0 {
		metrics.StartDispatcherSignalCount() //metrics
		logJH.Debug("Worker count", "requests", accurateCount)
		select {
		case h.service.DispatcherChannel <- true:
		default:
		}
	}
	return nil
}
