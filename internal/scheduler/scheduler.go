// Package scheduler runs the initial extraction of a page as a sequence of small rounds so
// the engine never sees more than one question at a time and required fields come back first.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/gateway"
	"github.com/akolanti/layoutlens/internal/metrics"
	"github.com/akolanti/layoutlens/pkg/logger_i"
	"github.com/google/uuid"
)

type EventKind string

const (
	RoundComplete EventKind = "round_complete"
	AllComplete   EventKind = "all_complete"
	Error         EventKind = "error"
)

// Event is emitted synchronously from Run. For RoundComplete Fields holds the round's fields,
// for AllComplete and Error it holds every field extracted so far in round order.
type Event struct {
	Kind   EventKind
	Info   fieldModel.RoundInfo
	Fields []fieldModel.ExtractedField
	Failed []fieldModel.FailedQuestion
	Err    error
}

type Sink func(Event)

type Request struct {
	Document  commonModels.Document
	Page      int
	Questions []fieldModel.FieldQuestion
	// StartRound resumes a previous run; Prior carries the fields it already produced.
	StartRound int
	Prior      []fieldModel.ExtractedField
	// RoundSize pins the plan of a resumed run. Zero uses the scheduler's size.
	RoundSize int
}

type Result struct {
	Fields    []fieldModel.ExtractedField
	Failed    []fieldModel.FailedQuestion
	Rounds    []fieldModel.RoundInfo
	NextRound int
	Cancelled bool
}

type Scheduler struct {
	engine    gateway.Engine
	roundSize int
	delay     time.Duration
	wait      func(ctx context.Context, d time.Duration) error
	logger    *logger_i.Logger
}

func New(engine gateway.Engine, tuning config.SchedulerTuning) *Scheduler {
	size := tuning.RoundSize
	if size < 1 {
		size = config.DefaultTuning().Scheduler.RoundSize
	}
	return &Scheduler{
		engine:    engine,
		roundSize: size,
		delay:     tuning.RoundDelay,
		wait:      waitFor,
		logger:    logger_i.NewLogger("Scheduler"),
	}
}

func (s *Scheduler) RoundSize() int { return s.roundSize }

func (s *Scheduler) sizeFor(req Request) int {
	if req.RoundSize > 0 {
		return req.RoundSize
	}
	return s.roundSize
}

// PlanRounds orders required questions before optional ones, keeping input order inside each
// group, and cuts the result into rounds of roundSize. Round 0 is the priority round.
func PlanRounds(questions []fieldModel.FieldQuestion, roundSize int) []fieldModel.Batch {
	if roundSize < 1 {
		roundSize = 1
	}
	ordered := make([]fieldModel.FieldQuestion, 0, len(questions))
	for _, q := range questions {
		if q.IsRequired {
			ordered = append(ordered, q)
		}
	}
	for _, q := range questions {
		if !q.IsRequired {
			ordered = append(ordered, q)
		}
	}

	batches := make([]fieldModel.Batch, 0, (len(ordered)+roundSize-1)/roundSize)
	for start := 0; start < len(ordered); start += roundSize {
		end := min(start+roundSize, len(ordered))
		batches = append(batches, fieldModel.Batch{
			Index:      len(batches),
			Questions:  ordered[start:end],
			IsPriority: len(batches) == 0,
		})
	}
	return batches
}

// Run extracts every round from req.StartRound on. A round in which every question failed on
// transport stops the run with a *fieldModel.RoundFailureError; Run again with StartRound set to
// the failed round to retry it. Cancelling ctx stops the run before the next round starts.
func (s *Scheduler) Run(ctx context.Context, req Request, emit Sink) (Result, error) {
	log := s.logger.FromContext(ctx)
	if emit == nil {
		emit = func(Event) {}
	}

	roundSize := s.sizeFor(req)
	batches := PlanRounds(req.Questions, roundSize)
	result := Result{
		Fields:    append([]fieldModel.ExtractedField(nil), req.Prior...),
		NextRound: req.StartRound,
	}
	if req.StartRound < 0 || (req.StartRound > 0 && req.StartRound >= len(batches)) {
		return result, fmt.Errorf("start round %d outside plan of %d rounds", req.StartRound, len(batches))
	}

	processed := 0
	for _, b := range batches[:req.StartRound] {
		processed += len(b.Questions)
	}

	// calls already issued finish even when the caller cancels
	callCtx := context.WithoutCancel(ctx)

	for i := req.StartRound; i < len(batches); i++ {
		if i > req.StartRound {
			if err := s.wait(ctx, s.delay); err != nil {
				log.Info("run cancelled between rounds", "next_round", i)
				result.Cancelled = true
				return result, err
			}
		}
		if err := ctx.Err(); err != nil {
			log.Info("run cancelled before round", "round", i)
			result.Cancelled = true
			return result, err
		}

		batch := batches[i]
		fields, failed, transportFailures, lastErr := s.runRound(callCtx, req, batch)
		processed += len(batch.Questions)

		info := fieldModel.RoundInfo{
			RoundIndex:     batch.Index,
			RoundSize:      roundSize,
			TotalFields:    len(req.Questions),
			TotalRounds:    len(batches),
			HasMore:        i < len(batches)-1,
			ProcessedCount: processed,
			NextRoundIndex: i + 1,
			IsPriority:     batch.IsPriority,
		}
		if !info.HasMore {
			info.NextRoundIndex = -1
		}

		if transportFailures == len(batch.Questions) {
			metrics.CaptureRound(batch.IsPriority, "failed")
			log.Error("every question in round failed", "round", i, "error", lastErr)
			info.ProcessedCount -= len(batch.Questions)
			err := &fieldModel.RoundFailureError{Round: i, Partial: result.Fields, Cause: lastErr}
			result.Failed = append(result.Failed, failed...)
			result.NextRound = i
			emit(Event{Kind: Error, Info: info, Fields: result.Fields, Failed: failed, Err: err})
			return result, err
		}

		metrics.CaptureRound(batch.IsPriority, "complete")
		result.Fields = append(result.Fields, fields...)
		result.Failed = append(result.Failed, failed...)
		result.Rounds = append(result.Rounds, info)
		result.NextRound = i + 1
		log.Debug("round complete", "round", i, "fields", len(fields), "failed", len(failed))
		emit(Event{Kind: RoundComplete, Info: info, Fields: fields, Failed: failed})
	}

	emit(Event{Kind: AllComplete, Fields: result.Fields, Failed: result.Failed})
	return result, nil
}

// runRound asks the batch questions one at a time. Per-question engine failures are recorded
// and the round continues.
func (s *Scheduler) runRound(ctx context.Context, req Request, batch fieldModel.Batch) ([]fieldModel.ExtractedField, []fieldModel.FailedQuestion, int, error) {
	log := s.logger.FromContext(ctx)
	fields := make([]fieldModel.ExtractedField, 0, len(batch.Questions))
	var failed []fieldModel.FailedQuestion
	transportFailures := 0
	var lastErr error

	for _, q := range batch.Questions {
		answer, err := s.engine.Ask(ctx, req.Document, req.Page, q)
		if err != nil {
			lastErr = err
			if fieldModel.IsTransportFailure(err) {
				transportFailures++
			}
			metrics.CaptureQuestion(outcome(err))
			log.Warn("question failed", "key", q.Key, "round", batch.Index, "error", err)
			failed = append(failed, fieldModel.FailedQuestion{Key: q.Key, Round: batch.Index, Reason: err.Error()})
			continue
		}
		metrics.CaptureQuestion("answered")
		fields = append(fields, fieldModel.ExtractedField{
			Id:          uuid.New().String(),
			Key:         q.Key,
			Label:       q.Key,
			Value:       answer.Value,
			Box:         answer.Box,
			Confidence:  answer.Confidence,
			Page:        req.Page,
			Source:      fieldModel.SourceEngine,
			Approximate: answer.Approximate,
		})
	}
	return fields, failed, transportFailures, lastErr
}

func outcome(err error) string {
	switch {
	case errors.Is(err, fieldModel.ErrEngineTimeout):
		return "timeout"
	case errors.Is(err, fieldModel.ErrEngineUnavailable):
		return "unavailable"
	case errors.Is(err, fieldModel.ErrEngineEmpty):
		return "empty"
	default:
		return "error"
	}
}

func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
