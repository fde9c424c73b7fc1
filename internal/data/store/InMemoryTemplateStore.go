package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
)

type InMemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]fieldModel.Template
}

func InitInMemoryTemplateStore() *InMemoryTemplateStore {
	return &InMemoryTemplateStore{templates: make(map[string]fieldModel.Template)}
}

func (s *InMemoryTemplateStore) Save(ctx context.Context, template fieldModel.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[template.Name] = template
	inMemLogger.Debug("saved template", "name", template.Name)
	return nil
}

func (s *InMemoryTemplateStore) Get(ctx context.Context, name string) (*fieldModel.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *InMemoryTemplateStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[name]; !ok {
		return fmt.Errorf("%w: %s", fieldModel.ErrTemplateNotFound, name)
	}
	delete(s.templates, name)
	return nil
}

func (s *InMemoryTemplateStore) List(ctx context.Context) ([]fieldModel.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fieldModel.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
