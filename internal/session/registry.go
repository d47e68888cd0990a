package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultIdleTTL is how long an untouched form is kept.
const DefaultIdleTTL = 30 * time.Minute

// Registry keeps the forms of live page loads in memory.
type Registry struct {
	deps Deps
	ttl  time.Duration

	mu    sync.RWMutex
	forms map[string]*Form
}

// NewRegistry creates a Registry whose forms share deps.
func NewRegistry(deps Deps, idleTTL time.Duration) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Registry{deps: deps, ttl: idleTTL, forms: make(map[string]*Form)}
}

// Create registers a new empty form.
func (r *Registry) Create() *Form {
	f := NewForm(uuid.NewString(), r.deps)
	r.mu.Lock()
	r.forms[f.ID()] = f
	r.mu.Unlock()
	return f
}

// Get returns the form with id or ErrNotFound and marks it as used. Expired
// forms are not returned.
func (r *Registry) Get(id string) (*Form, error) {
	r.mu.RLock()
	f, ok := r.forms[id]
	r.mu.RUnlock()
	if !ok || r.expired(f) {
		return nil, ErrNotFound
	}
	f.touch()
	return f, nil
}

// Delete drops the form with id.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.forms, id)
	r.mu.Unlock()
}

// Len returns the number of registered forms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.forms)
}

// Sweep removes expired forms and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, f := range r.forms {
		if r.expired(f) {
			delete(r.forms, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				zap.L().Debug("session: swept idle forms", zap.Int("removed", n), zap.Int("live", r.Len()))
			}
		}
	}
}

func (r *Registry) expired(f *Form) bool {
	return r.deps.Now().Sub(f.lastUpdate()) >= r.ttl
}
