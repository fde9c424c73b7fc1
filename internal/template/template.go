// Package template snapshots confirmed field layouts and finds the stored layouts that best fit
// a newly extracted page.
package template

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/geometry"
	"github.com/akolanti/layoutlens/pkg/logger_i"
)

var ErrInvalidTemplate = errors.New("invalid template")

// FromFields snapshots a confirmed session. The first field of each key wins, so the template
// keeps the topmost row when a key repeats across line items.
func FromFields(name string, fields []fieldModel.ExtractedField, meta fieldModel.TemplateMetadata, vendorKey string) (fieldModel.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return fieldModel.Template{}, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]fieldModel.TemplateField, 0, len(fields))
	for _, f := range fields {
		key := strings.TrimSpace(f.Key)
		if key == "" {
			continue
		}
		if _, ok := seen[strings.ToLower(key)]; ok {
			continue
		}
		if err := geometry.Validate(f.Box); err != nil {
			return fieldModel.Template{}, fmt.Errorf("field %q: %w", key, err)
		}
		seen[strings.ToLower(key)] = struct{}{}
		out = append(out, fieldModel.TemplateField{Key: key, Box: f.Box, Type: InferFieldType(key)})
		if meta.Vendor == "" && strings.EqualFold(key, vendorKey) {
			meta.Vendor = strings.TrimSpace(f.Value)
		}
	}
	if len(out) == 0 {
		return fieldModel.Template{}, fmt.Errorf("%w: no fields", ErrInvalidTemplate)
	}
	if meta.PageCount < 1 {
		meta.PageCount = 1
	}
	meta.FieldCount = len(out)
	return fieldModel.Template{Name: name, Fields: out, CreatedAt: time.Now().UTC(), Metadata: meta}, nil
}

// Import checks a stored or uploaded record and fills in missing field types.
func Import(t fieldModel.Template) (fieldModel.Template, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return t, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	fields := make([]fieldModel.TemplateField, len(t.Fields))
	for i, f := range t.Fields {
		if err := geometry.Validate(f.Box); err != nil {
			return t, fmt.Errorf("field %q: %w", f.Key, err)
		}
		if f.Type == "" {
			f.Type = InferFieldType(f.Key)
		}
		fields[i] = f
	}
	t.Fields = fields
	t.Metadata.FieldCount = len(fields)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return t, nil
}

// Service ties the store and matcher together for the handlers.
type Service struct {
	store     fieldModel.TemplateStore
	matcher   Matcher
	vendorKey string
	logger    *logger_i.Logger
}

func NewService(store fieldModel.TemplateStore, matcher Matcher) *Service {
	return &Service{store: store, matcher: matcher, vendorKey: matcher.vendorKey, logger: logger_i.NewLogger("TemplateService")}
}

func (s *Service) SaveFromFields(ctx context.Context, name string, fields []fieldModel.ExtractedField, meta fieldModel.TemplateMetadata) (fieldModel.Template, error) {
	t, err := FromFields(name, fields, meta, s.vendorKey)
	if err != nil {
		return t, err
	}
	if err := s.store.Save(ctx, t); err != nil {
		return t, err
	}
	s.logger.FromContext(ctx).Info("template saved", "name", t.Name, "fields", len(t.Fields))
	return t, nil
}

func (s *Service) Save(ctx context.Context, t fieldModel.Template) (fieldModel.Template, error) {
	t, err := Import(t)
	if err != nil {
		return t, err
	}
	return t, s.store.Save(ctx, t)
}

// Get returns nil without error when no template has that name.
func (s *Service) Get(ctx context.Context, name string) (*fieldModel.Template, error) {
	return s.store.Get(ctx, name)
}

func (s *Service) Delete(ctx context.Context, name string) error {
	return s.store.Delete(ctx, name)
}

func (s *Service) Match(ctx context.Context, observed []fieldModel.ExtractedField, topK int) ([]fieldModel.TemplateMatch, error) {
	templates, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	matches := s.matcher.FindMatches(observed, templates, topK)
	s.logger.FromContext(ctx).Debug("template match", "candidates", len(templates), "matches", len(matches))
	return matches, nil
}
