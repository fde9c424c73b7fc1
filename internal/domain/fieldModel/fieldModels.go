package fieldModel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const NormalizedMax = 1000.0

type Source string

const (
	SourceEngine    Source = "engine"
	SourceCustom    Source = "custom"
	SourceTemplate  Source = "template"
	SourceAlignment Source = "alignment"
)

// BoundingBox is [x1,y1,x2,y2] in the 0-1000 normalized page space, origin top-left.
type BoundingBox struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X1, b.Y1, b.X2, b.Y2})
}

func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 4 {
		return fmt.Errorf("bounding box needs 4 values, got %d", len(raw))
	}
	b.X1, b.Y1, b.X2, b.Y2 = raw[0], raw[1], raw[2], raw[3]
	return nil
}

func (b BoundingBox) Width() float64  { return b.X2 - b.X1 }
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// Center returns the box midpoint
func (b BoundingBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

func (b BoundingBox) IsZero() bool {
	return b == BoundingBox{}
}

type FieldQuestion struct {
	Key        string `json:"key"`
	Prompt     string `json:"prompt"`
	IsRequired bool   `json:"is_required"`
}

// ExtractedField is identified by Id; several fields may share a Key (line item rows).
type ExtractedField struct {
	Id          string      `json:"id"`
	Key         string      `json:"key"`
	Label       string      `json:"label"`
	Value       string      `json:"value"`
	Box         BoundingBox `json:"box"`
	Confidence  float64     `json:"confidence"`
	Page        int         `json:"page"`
	Source      Source      `json:"source"`
	Approximate bool        `json:"approximate,omitempty"`
}

type Batch struct {
	Index      int             `json:"index"`
	Questions  []FieldQuestion `json:"questions"`
	IsPriority bool            `json:"is_priority"`
}

// RoundInfo mirrors the round_info block of a batch round response.
type RoundInfo struct {
	RoundIndex     int  `json:"round_index"`
	RoundSize      int  `json:"round_size"`
	TotalFields    int  `json:"total_fields"`
	TotalRounds    int  `json:"total_rounds"`
	HasMore        bool `json:"has_more"`
	ProcessedCount int  `json:"processed_count"`
	NextRoundIndex int  `json:"next_round_index"`
	IsPriority     bool `json:"is_priority"`
}

type FailedQuestion struct {
	Key    string `json:"key"`
	Round  int    `json:"round"`
	Reason string `json:"reason"`
}

type FieldType string

const (
	FieldTypeDate     FieldType = "date"
	FieldTypeCurrency FieldType = "currency"
	FieldTypeNumber   FieldType = "number"
	FieldTypeEmail    FieldType = "email"
	FieldTypePhone    FieldType = "phone"
	FieldTypeText     FieldType = "text"
)

type TemplateField struct {
	Key  string      `json:"key"`
	Box  BoundingBox `json:"box"`
	Type FieldType   `json:"type,omitempty"`
}

type TemplateMetadata struct {
	PageCount   int    `json:"pageCount"`
	Description string `json:"description"`
	FieldCount  int    `json:"fieldCount"`
	Vendor      string `json:"vendor,omitempty"`
}

type Template struct {
	Name      string           `json:"name"`
	Fields    []TemplateField  `json:"fields"`
	CreatedAt time.Time        `json:"createdAt"`
	Metadata  TemplateMetadata `json:"metadata"`
}

type TemplateMatch struct {
	Template Template `json:"template"`
	Score    float64  `json:"score"`
}

type AlignmentCandidate struct {
	Id         string      `json:"id"`
	Box        BoundingBox `json:"bbox"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
}

// EngineAnswer is a gateway answer with its box already in normalized space.
type EngineAnswer struct {
	Value        string      `json:"value"`
	Confidence   float64     `json:"confidence"`
	Box          BoundingBox `json:"box"`
	RasterWidth  int         `json:"raster_width"`
	RasterHeight int         `json:"raster_height"`
	Approximate  bool        `json:"approximate,omitempty"`
}

// TemplateStore is addressed by template name. Get reports a miss as (nil, nil).
type TemplateStore interface {
	Save(ctx context.Context, template Template) error
	Get(ctx context.Context, name string) (*Template, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Template, error)
}
