package annotation

import (
	"sync"
	"time"

	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/gateway"
)

type registered struct {
	session  *Session
	lastUsed time.Time
}

// Registry keeps the open review sessions by id.
type Registry struct {
	mu       sync.Mutex
	engine   gateway.Engine
	sessions map[string]*registered
	onClose  []func(*Session)
	now      func() time.Time
}

func NewRegistry(engine gateway.Engine) *Registry {
	return &Registry{engine: engine, sessions: make(map[string]*registered), now: time.Now}
}

// OnClose registers fn to run after a session is closed, explicitly or for being idle.
func (r *Registry) OnClose(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClose = append(r.onClose, fn)
}

// Open returns the session for id, creating it when missing. An existing session keeps its state.
func (r *Registry) Open(id string, doc commonModels.Document, page int) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.lastUsed = r.now()
		return e.session
	}
	s := NewSession(id, r.engine, doc, page)
	r.sessions[id] = &registered{session: s, lastUsed: r.now()}
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.now()
	return e.session, true
}

// Close drops the session; results of its running tasks are discarded.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	hooks := r.onClose
	r.mu.Unlock()
	if ok {
		r.closeSession(e.session, hooks)
	}
	return ok
}

// CloseIdle closes every session untouched for longer than ttl that has no extraction in flight.
func (r *Registry) CloseIdle(ttl time.Duration) int {
	r.mu.Lock()
	now := r.now()
	var idle []*Session
	for id, e := range r.sessions {
		if now.Sub(e.lastUsed) > ttl && len(e.session.InFlight()) == 0 {
			idle = append(idle, e.session)
			delete(r.sessions, id)
		}
	}
	hooks := r.onClose
	r.mu.Unlock()

	for _, s := range idle {
		r.closeSession(s, hooks)
	}
	return len(idle)
}

func (r *Registry) closeSession(s *Session, hooks []func(*Session)) {
	s.Close()
	for _, fn := range hooks {
		fn(s)
	}
}
