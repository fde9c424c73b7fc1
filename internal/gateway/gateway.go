package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/metrics"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Engine is the narrow contract to the external extraction engine. Calls are never
// retried or batched here; retry policy belongs to the scheduler and its callers.
type Engine interface {
	Ask(ctx context.Context, doc commonModels.Document, page int, question fieldModel.FieldQuestion) (fieldModel.EngineAnswer, error)
	Reextract(ctx context.Context, doc commonModels.Document, page int, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error)
	DetectText(ctx context.Context, doc commonModels.Document, page int, exclude []fieldModel.BoundingBox) ([]fieldModel.AlignmentCandidate, error)
}

// Classify folds transport-level errors into the engine error taxonomy.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if fieldModel.IsEngineFailure(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", fieldModel.ErrEngineTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", fieldModel.ErrEngineTimeout, err)
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.DeadlineExceeded:
			return fmt.Errorf("%w: %s", fieldModel.ErrEngineTimeout, s.Message())
		case codes.NotFound:
			return fmt.Errorf("%w: %s", fieldModel.ErrEngineEmpty, s.Message())
		}
	}
	return fmt.Errorf("%w: %v", fieldModel.ErrEngineUnavailable, err)
}

type instrumented struct {
	next Engine
	name string
}

// WithMetrics records per-call latency and outcome for every engine call.
func WithMetrics(name string, next Engine) Engine {
	return &instrumented{next: next, name: name}
}

func (i *instrumented) Ask(ctx context.Context, doc commonModels.Document, page int, q fieldModel.FieldQuestion) (fieldModel.EngineAnswer, error) {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics(i.name+"_ask", time.Since(start)) }()
	return i.next.Ask(ctx, doc, page, q)
}

func (i *instrumented) Reextract(ctx context.Context, doc commonModels.Document, page int, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics(i.name+"_reextract", time.Since(start)) }()
	return i.next.Reextract(ctx, doc, page, box)
}

func (i *instrumented) DetectText(ctx context.Context, doc commonModels.Document, page int, exclude []fieldModel.BoundingBox) ([]fieldModel.AlignmentCandidate, error) {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics(i.name+"_detect", time.Since(start)) }()
	return i.next.DetectText(ctx, doc, page, exclude)
}

// Overlaps reports whether two boxes share any area.
func Overlaps(a, b fieldModel.BoundingBox) bool {
	return a.X1 < b.X2 && b.X1 < a.X2 && a.Y1 < b.Y2 && b.Y1 < a.Y2
}

// DropExcluded removes candidates overlapping any excluded box. Engines that ignore
// exclude_boxes still get consistent results this way.
func DropExcluded(candidates []fieldModel.AlignmentCandidate, exclude []fieldModel.BoundingBox) []fieldModel.AlignmentCandidate {
	if len(exclude) == 0 {
		return candidates
	}
	kept := make([]fieldModel.AlignmentCandidate, 0, len(candidates))
	for _, c := range candidates {
		hit := false
		for _, e := range exclude {
			if Overlaps(c.Box, e) {
				hit = true
				break
			}
		}
		if !hit {
			kept = append(kept, c)
		}
	}
	return kept
}
