package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/data/redisStore"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/pkg/logger_i"
)

// RedisTemplateStore keeps one JSON record per template under template:<name>. Templates do not expire.
type RedisTemplateStore struct {
	store  *redisStore.Store
	logger *logger_i.Logger
}

func GetRedisTemplateStore(ctx context.Context) *RedisTemplateStore {
	s := redisStore.GetRedisStore(ctx, config.RedisTemplateStore)
	if s == nil {
		return nil
	}
	return &RedisTemplateStore{store: s, logger: logger_i.NewLogger("TemplateStore")}
}

func TestTemplateStore(store *redisStore.Store) *RedisTemplateStore {
	return &RedisTemplateStore{store: store, logger: logger_i.NewLogger("test redis")}
}

func templateKey(name string) string {
	return config.TemplateKeyPrefix + name
}

func (s *RedisTemplateStore) Save(ctx context.Context, template fieldModel.Template) error {
	data, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("encode template %q: %w", template.Name, err)
	}
	if err := s.store.Set(ctx, templateKey(template.Name), data, 0); err != nil {
		s.logger.FromContext(ctx).Error("could not save template", "name", template.Name, "error", err)
		return err
	}
	return nil
}

// Get reports a miss as (nil, nil).
func (s *RedisTemplateStore) Get(ctx context.Context, name string) (*fieldModel.Template, error) {
	val, err := s.store.Get(ctx, templateKey(name))
	if s.store.IsNil(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var t fieldModel.Template
	if err := json.Unmarshal([]byte(val), &t); err != nil {
		return nil, fmt.Errorf("decode template %q: %w", name, err)
	}
	return &t, nil
}

// Delete reports fieldModel.ErrTemplateNotFound when nothing is stored under name.
func (s *RedisTemplateStore) Delete(ctx context.Context, name string) error {
	exists, err := s.store.Exists(ctx, templateKey(name))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", fieldModel.ErrTemplateNotFound, name)
	}
	return s.store.Del(ctx, templateKey(name))
}

// List returns every readable template sorted by name. Corrupt records are logged and skipped.
func (s *RedisTemplateStore) List(ctx context.Context) ([]fieldModel.Template, error) {
	log := s.logger.FromContext(ctx)
	keys, err := s.store.ScanKeys(ctx, config.TemplateKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	values, err := s.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	templates := make([]fieldModel.Template, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var t fieldModel.Template
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			log.Warn("skipping unreadable template", "key", keys[i], "error", err)
			continue
		}
		if t.Name == "" {
			t.Name = strings.TrimPrefix(keys[i], config.TemplateKeyPrefix)
		}
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}
