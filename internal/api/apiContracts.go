package api

import (
	"time"

	"github.com/akolanti/layoutlens/internal/alignment"
	"github.com/akolanti/layoutlens/internal/annotation"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/geometry"
)

type JobExternalStatus string

const (
	JobStatusError JobExternalStatus = "Error"
)

type JobResponse struct {
	Id        string            `json:"id" example:"job_cz109"`
	SessionId string            `json:"session_id,omitempty" example:"session_550"`
	Result    Result            `json:"result"`
	Error     *JobOutgoingError `json:"error,omitempty"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
}

type JobOutgoingError struct {
	Code    int    `json:"code" example:"400"`
	Message string `json:"message" example:"Job not found"`
	Retry   bool   `json:"can_retry" example:"false"`
}

// RoundProgress is the round_info block of the latest completed round.
type RoundProgress struct {
	RoundInfo fieldModel.RoundInfo `json:"round_info"`
	Completed int                  `json:"completed_rounds"`
}

type Result struct {
	Status   string                      `json:"status"`
	Step     string                      `json:"step,omitempty"`
	Progress *RoundProgress              `json:"progress,omitempty"`
	Fields   []fieldModel.ExtractedField `json:"fields,omitempty"`
	Failed   []fieldModel.FailedQuestion `json:"failed,omitempty"`
}

type InitJobResponse struct {
	Id        string `json:"id"`
	SessionId string `json:"session_id"`
	StatusURL string `json:"status_url"`
}

type FieldsResponse struct {
	SessionId string                   `json:"session_id"`
	Fields    []annotation.ReviewField `json:"fields"`
	InFlight  []string                 `json:"in_flight"`
}

type MatchResponse struct {
	Matches []fieldModel.TemplateMatch `json:"matches"`
}

type AlignResponse struct {
	Template   string                      `json:"template"`
	Fields     []fieldModel.ExtractedField `json:"fields"`
	Placements []alignment.Placement       `json:"placements"`
	Summary    alignment.Summary           `json:"summary"`
}

// requests---------------------

type DocumentPayload struct {
	DocumentId string `json:"document_id,omitempty"`
	Image      string `json:"image" example:"iVBORw0KGgo..."`
	Format     string `json:"format" example:"png"`
}

type ExtractRequest struct {
	Document  DocumentPayload            `json:"document" validate:"required"`
	Page      int                        `json:"page" example:"1"`
	Questions []fieldModel.FieldQuestion `json:"questions" validate:"required"`
	SessionId string                     `json:"session_id,omitempty"`
}

// DrawFieldRequest is a rectangle the reviewer drew over the rendered page.
type DrawFieldRequest struct {
	Rect       geometry.Rect `json:"rect"`
	RenderSize geometry.Size `json:"render_size"`
	EngineSize geometry.Size `json:"engine_size"`
	Zoom       float64       `json:"zoom" example:"1"`
	Label      string        `json:"label"`
}

type EditFieldRequest struct {
	Value string `json:"value"`
}

// ReextractRequest reads one box. The page comes from the session, or from an inline document.
type ReextractRequest struct {
	SessionId string                 `json:"session_id,omitempty"`
	FieldId   string                 `json:"field_id,omitempty"`
	Document  *DocumentPayload       `json:"document,omitempty"`
	Page      int                    `json:"page,omitempty"`
	Box       fieldModel.BoundingBox `json:"box"`
}

type SaveTemplateRequest struct {
	Name      string                      `json:"name"`
	SessionId string                      `json:"session_id,omitempty"`
	Fields    []fieldModel.ExtractedField `json:"fields,omitempty"`
	Template  *fieldModel.Template        `json:"template,omitempty"`
	Metadata  fieldModel.TemplateMetadata `json:"metadata"`
}

type MatchRequest struct {
	SessionId string                      `json:"session_id,omitempty"`
	Fields    []fieldModel.ExtractedField `json:"fields,omitempty"`
	TopK      int                         `json:"top_k" example:"3"`
}

type AlignRequest struct {
	TemplateName string                          `json:"template_name"`
	SessionId    string                          `json:"session_id"`
	Candidates   []fieldModel.AlignmentCandidate `json:"candidates,omitempty"`
	Apply        bool                            `json:"apply"`
}

type ReextractResponse struct {
	Answer fieldModel.EngineAnswer    `json:"answer"`
	Field  *fieldModel.ExtractedField `json:"field,omitempty"`
}
