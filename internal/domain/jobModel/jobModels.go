package jobModel

import (
	"context"
	"time"

	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
)

type JobStatus string
type InternalStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusComplete  JobStatus = "COMPLETE"
	JobStatusCancelled JobStatus = "CANCELLED"
	JobStatusError     JobStatus = "Error"

	ExtractInit     InternalStatus = "Init"
	PriorityRound   InternalStatus = "PriorityRound"
	BackgroundRound InternalStatus = "BackgroundRound"
	RoundDelay      InternalStatus = "RoundDelay"
	RedisCall       InternalStatus = "Redis"
	Error           InternalStatus = "Error"

	Complete InternalStatus = "Complete"
)

// Job is one extraction run over a document page. It is persisted after every round so
// the status endpoint can surface partial results.
type Job struct {
	Id          string                      `json:"id"`
	SessionId   string                      `json:"session_id"`
	TraceId     string                      `json:"trace_id"`
	Document    commonModels.Document       `json:"document"`
	Page        int                         `json:"page"`
	Questions   []fieldModel.FieldQuestion  `json:"questions"`
	RoundSize   int                         `json:"round_size"`
	NextRound   int                         `json:"next_round"`
	TotalRounds int                         `json:"total_rounds"`
	Rounds      []fieldModel.RoundInfo      `json:"rounds,omitempty"`
	Fields      []fieldModel.ExtractedField `json:"fields,omitempty"`
	Failed      []fieldModel.FailedQuestion `json:"failed,omitempty"`
	Error       JobError                    `json:"error,omitempty"`
	CreatedTime time.Time                   `json:"created_time"`
	EndTime     time.Time                   `json:"end_time,omitempty"`
	Status      JobStatus                   `json:"status"`
	CurrentStep InternalStatus              `json:"current_step"`
}

type JobError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

// JobStore persists runs. Images are not persisted; the worker keeps them in memory.
type JobStore interface {
	GetJob(ctx context.Context, jobId string) (Job, bool)
	SaveJob(ctx context.Context, job Job) error
	DeleteJob(ctx context.Context, jobID string)
}
