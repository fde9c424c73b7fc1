// Package alignment moves a confirmed field layout onto another page whose rows have shifted.
package alignment

import (
	"context"
	"math"
	"strings"

	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/gateway"
	"github.com/akolanti/layoutlens/internal/geometry"
	"github.com/akolanti/layoutlens/internal/metrics"
	"github.com/akolanti/layoutlens/pkg/logger_i"
	"github.com/google/uuid"
)

type Summary struct {
	AppliedCount int `json:"appliedCount"`
	AlignedCount int `json:"alignedCount"`
	SkippedCount int `json:"skippedCount"`
}

// Placement records where one template field ended up before re-extraction.
type Placement struct {
	Key     string                 `json:"key"`
	Box     fieldModel.BoundingBox `json:"box"`
	Aligned bool                   `json:"aligned"`
	// CandidateId is empty when the field stayed where the template put it.
	CandidateId string `json:"candidate_id,omitempty"`
}

type Result struct {
	Fields     []fieldModel.ExtractedField `json:"fields"`
	Placements []Placement                 `json:"placements"`
	Summary    Summary                     `json:"summary"`
}

type Aligner struct {
	engine         gateway.Engine
	verticalWindow float64
	minConfidence  float64
	logger         *logger_i.Logger
}

func NewAligner(engine gateway.Engine, tuning config.AlignmentTuning) *Aligner {
	return &Aligner{
		engine:         engine,
		verticalWindow: tuning.VerticalWindow,
		minConfidence:  tuning.MinConfidence,
		logger:         logger_i.NewLogger("Aligner"),
	}
}

// Place picks the nearest candidate whose center lies within the vertical window of the
// field's center. Ties keep the first candidate seen. Candidates may be shared between fields.
func (a *Aligner) Place(field fieldModel.TemplateField, candidates []fieldModel.AlignmentCandidate) Placement {
	_, cy := field.Box.Center()
	best := -1
	bestDist := math.Inf(1)
	for i, c := range candidates {
		_, ccy := c.Box.Center()
		if math.Abs(ccy-cy) >= a.verticalWindow {
			continue
		}
		if d := geometry.Distance(field.Box, c.Box); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Placement{Key: field.Key, Box: field.Box}
	}
	return Placement{Key: field.Key, Box: candidates[best].Box, Aligned: true, CandidateId: candidates[best].Id}
}

// Align places every template field on the target page and re-extracts it. Results with a blank
// value or low confidence are dropped, as are fields whose re-extraction failed.
func (a *Aligner) Align(ctx context.Context, doc commonModels.Document, page int, fields []fieldModel.TemplateField, candidates []fieldModel.AlignmentCandidate) Result {
	log := a.logger.FromContext(ctx).With("page", page)
	result := Result{
		Fields:     make([]fieldModel.ExtractedField, 0, len(fields)),
		Placements: make([]Placement, 0, len(fields)),
	}

	for _, f := range fields {
		p := a.Place(f, candidates)
		result.Placements = append(result.Placements, p)
		if p.Aligned {
			result.Summary.AlignedCount++
		}

		answer, err := a.engine.Reextract(ctx, doc, page, p.Box)
		if err != nil {
			log.Warn("re-extraction failed", "key", f.Key, "error", err)
			result.Summary.SkippedCount++
			metrics.CaptureAlignment("error")
			continue
		}
		if strings.TrimSpace(answer.Value) == "" || answer.Confidence < a.minConfidence {
			log.Debug("discarding weak result", "key", f.Key, "confidence", answer.Confidence)
			result.Summary.SkippedCount++
			metrics.CaptureAlignment("discarded")
			continue
		}

		source := fieldModel.SourceTemplate
		if p.Aligned {
			source = fieldModel.SourceAlignment
		}
		result.Fields = append(result.Fields, fieldModel.ExtractedField{
			Id:         uuid.New().String(),
			Key:        f.Key,
			Label:      f.Key,
			Value:      strings.TrimSpace(answer.Value),
			Box:        p.Box,
			Confidence: answer.Confidence,
			Page:       page,
			Source:     source,
		})
		result.Summary.AppliedCount++
		metrics.CaptureAlignment(string(source))
	}

	log.Info("alignment done", "applied", result.Summary.AppliedCount, "aligned", result.Summary.AlignedCount, "skipped", result.Summary.SkippedCount)
	return result
}

// DetectCandidates asks the engine for text lines on the target page, skipping regions the
// session already covers.
func (a *Aligner) DetectCandidates(ctx context.Context, doc commonModels.Document, page int, exclude []fieldModel.BoundingBox) ([]fieldModel.AlignmentCandidate, error) {
	return a.engine.DetectText(ctx, doc, page, exclude)
}
