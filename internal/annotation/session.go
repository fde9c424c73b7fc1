package annotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/gateway"
	"github.com/akolanti/layoutlens/internal/geometry"
	"github.com/akolanti/layoutlens/internal/metrics"
	"github.com/akolanti/layoutlens/pkg/logger_i"
	"github.com/google/uuid"
)

var (
	ErrFieldNotFound = errors.New("field not found")
	ErrSessionClosed = errors.New("session closed")
)

// Session is the review state of one document page. Every method is safe for concurrent use;
// ad hoc extraction tasks only ever touch the field id they created.
type Session struct {
	Id string

	mu           sync.Mutex
	engine       gateway.Engine
	doc          commonModels.Document
	page         int
	engineFields []fieldModel.ExtractedField
	customFields []fieldModel.ExtractedField
	baselines    map[string]Baseline
	inFlight     map[string]struct{}
	taskErrors   map[string]string
	closed       bool
	tasks        sync.WaitGroup
	logger       *logger_i.Logger
}

func NewSession(id string, engine gateway.Engine, doc commonModels.Document, page int) *Session {
	return &Session{
		Id:         id,
		engine:     engine,
		doc:        doc,
		page:       page,
		baselines:  make(map[string]Baseline),
		inFlight:   make(map[string]struct{}),
		taskErrors: make(map[string]string),
		logger:     logger_i.NewLogger("AnnotationSession").With("sessionId", id),
	}
}

func (s *Session) Document() (commonModels.Document, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc, s.page
}

func (s *Session) rememberLocked(f fieldModel.ExtractedField) {
	k := MergeKey(f)
	if _, ok := s.baselines[k]; !ok {
		s.baselines[k] = Baseline{Value: f.Value, Box: f.Box}
	}
}

// SetEngineFields replaces the engine-produced fields, e.g. after each extraction round.
func (s *Session) SetEngineFields(fields []fieldModel.ExtractedField) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engineFields = append([]fieldModel.ExtractedField(nil), fields...)
	for _, f := range s.engineFields {
		s.rememberLocked(f)
	}
}

// AddCustomField stores a reviewer-created field and returns it with its id filled in.
func (s *Session) AddCustomField(f fieldModel.ExtractedField) (fieldModel.ExtractedField, error) {
	f, err := prepareCustom(f)
	if err != nil {
		return f, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addCustomLocked(f, true)
}

func prepareCustom(f fieldModel.ExtractedField) (fieldModel.ExtractedField, error) {
	if err := geometry.Validate(f.Box); err != nil {
		return f, err
	}
	if f.Id == "" {
		f.Id = uuid.New().String()
	}
	if f.Source == "" {
		f.Source = fieldModel.SourceCustom
	}
	return f, nil
}

// addCustomLocked appends f. Pending fields skip the baseline until their first value arrives.
func (s *Session) addCustomLocked(f fieldModel.ExtractedField, baseline bool) (fieldModel.ExtractedField, error) {
	if s.closed {
		return f, ErrSessionClosed
	}
	if f.Page == 0 {
		f.Page = s.page
	}
	s.customFields = append(s.customFields, f)
	if baseline {
		s.rememberLocked(f)
	}
	return f, nil
}

// AddCustomFields adds several fields, e.g. the output of an alignment pass.
func (s *Session) AddCustomFields(fields []fieldModel.ExtractedField) ([]fieldModel.ExtractedField, error) {
	out := make([]fieldModel.ExtractedField, 0, len(fields))
	for _, f := range fields {
		added, err := s.AddCustomField(f)
		if err != nil {
			return out, err
		}
		out = append(out, added)
	}
	return out, nil
}

// findLocked returns a pointer into whichever list holds id.
func (s *Session) findLocked(id string) *fieldModel.ExtractedField {
	for i := range s.customFields {
		if s.customFields[i].Id == id {
			return &s.customFields[i]
		}
	}
	for i := range s.engineFields {
		if s.engineFields[i].Id == id {
			return &s.engineFields[i]
		}
	}
	return nil
}

// Edit sets a field value by hand.
func (s *Session) Edit(id string, value string) (fieldModel.ExtractedField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.findLocked(id)
	if f == nil {
		return fieldModel.ExtractedField{}, fmt.Errorf("%w: %s", ErrFieldNotFound, id)
	}
	f.Value = value
	return *f, nil
}

// ApplyReextraction writes an engine answer into one field. Empty values are kept as is.
func (s *Session) ApplyReextraction(id string, answer fieldModel.EngineAnswer) (fieldModel.ExtractedField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(id, answer)
}

func (s *Session) applyLocked(id string, answer fieldModel.EngineAnswer) (fieldModel.ExtractedField, error) {
	f := s.findLocked(id)
	if f == nil {
		return fieldModel.ExtractedField{}, fmt.Errorf("%w: %s", ErrFieldNotFound, id)
	}
	f.Value = answer.Value
	f.Confidence = answer.Confidence
	if !answer.Box.IsZero() {
		f.Box = answer.Box
	}
	f.Approximate = answer.Approximate
	delete(s.taskErrors, id)
	return *f, nil
}

func (s *Session) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.customFields {
		if s.customFields[i].Id == id {
			s.customFields = append(s.customFields[:i], s.customFields[i+1:]...)
			delete(s.inFlight, id)
			return nil
		}
	}
	for i := range s.engineFields {
		if s.engineFields[i].Id == id {
			s.engineFields = append(s.engineFields[:i], s.engineFields[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrFieldNotFound, id)
}

// Fields is the merged review list.
func (s *Session) Fields() []ReviewField {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := Merge(s.engineFields, s.customFields, s.baselines)
	for i := range merged {
		id := merged[i].Id
		_, merged[i].InFlight = s.inFlight[id]
		merged[i].Error = s.taskErrors[id]
	}
	return merged
}

// RawFields returns engine then custom fields without merging.
func (s *Session) RawFields() []fieldModel.ExtractedField {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fieldModel.ExtractedField, 0, len(s.engineFields)+len(s.customFields))
	out = append(out, s.engineFields...)
	return append(out, s.customFields...)
}

// Boxes lists every box currently held, for excluding them from text detection.
func (s *Session) Boxes() []fieldModel.BoundingBox {
	fields := s.RawFields()
	out := make([]fieldModel.BoundingBox, 0, len(fields))
	for _, f := range fields {
		if !f.Box.IsZero() {
			out = append(out, f.Box)
		}
	}
	return out
}

// InFlight lists the ids of fields still waiting on the engine.
func (s *Session) InFlight() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.inFlight))
	for id := range s.inFlight {
		ids = append(ids, id)
	}
	return ids
}

// StartCustomExtraction creates a pending custom field over box and reads its value in the
// background. The field is returned right away, marked in flight. A result that arrives after
// the field was removed or the session closed is dropped. An approximate box keeps the flag
// once the value arrives.
func (s *Session) StartCustomExtraction(ctx context.Context, box fieldModel.BoundingBox, label string, approximate bool) (fieldModel.ExtractedField, error) {
	label = strings.TrimSpace(label)
	f, err := prepareCustom(fieldModel.ExtractedField{Key: label, Label: label, Box: box, Approximate: approximate})
	if err != nil {
		return f, err
	}

	s.mu.Lock()
	f, err = s.addCustomLocked(f, false)
	if err != nil {
		s.mu.Unlock()
		return f, err
	}
	s.inFlight[f.Id] = struct{}{}
	doc, page := s.doc, s.page
	s.tasks.Add(1)
	s.mu.Unlock()

	metrics.AdHocStarted()
	// the task outlives the request that started it
	taskCtx := context.WithoutCancel(ctx)
	go func(id string) {
		defer s.tasks.Done()
		defer metrics.AdHocFinished()
		log := s.logger.FromContext(taskCtx).With("fieldId", id)

		answer, err := s.engine.Reextract(taskCtx, doc, page, box)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			log.Debug("dropping result for closed session")
			return
		}
		if _, pending := s.inFlight[id]; !pending {
			log.Debug("dropping result for removed field")
			return
		}
		delete(s.inFlight, id)
		if err != nil {
			log.Warn("custom field extraction failed", "error", err)
			s.taskErrors[id] = err.Error()
			return
		}
		answer.Approximate = answer.Approximate || approximate
		applied, err := s.applyLocked(id, answer)
		if err != nil {
			log.Warn("could not apply extraction", "error", err)
			return
		}
		s.rememberLocked(applied)
	}(f.Id)

	return f, nil
}

// Wait blocks until every ad hoc task started so far has finished.
func (s *Session) Wait() {
	s.tasks.Wait()
}

// Close marks the session gone. Late task results are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.inFlight = make(map[string]struct{})
}
