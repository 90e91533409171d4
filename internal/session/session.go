// Package session maps browser sessions to workflow controllers.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/imgprompt/internal/workflow"
)

// Factory builds a fresh controller for a new session.
type Factory func() *workflow.Controller

type entry struct {
	ctrl     *workflow.Controller
	lastSeen time.Time
}

type Registry struct {
	newController Factory
	idleTTL       time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

func NewRegistry(factory Factory, idleTTL time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		newController: factory,
		idleTTL:       idleTTL,
		logger:        logger,
		now:           time.Now,
		sessions:      make(map[string]*entry),
	}
}

// Create starts a new session and returns its id.
func (r *Registry) Create() (string, *workflow.Controller) {
	id := uuid.NewString()
	ctrl := r.newController()

	r.mu.Lock()
	r.sessions[id] = &entry{ctrl: ctrl, lastSeen: r.now()}
	r.mu.Unlock()

	r.logger.Debug("session created", "session_id", id)
	return id, ctrl
}

// Get returns the controller for id and marks the session active.
func (r *Registry) Get(id string) (*workflow.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.ctrl, true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes and forgets sessions idle for longer than the TTL. A session
// whose generation is still in flight is kept.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.idleTTL)

	var expired []*workflow.Controller
	r.mu.Lock()
	for id, e := range r.sessions {
		if e.lastSeen.After(cutoff) || e.ctrl.View().Loading {
			continue
		}
		expired = append(expired, e.ctrl)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, ctrl := range expired {
		ctrl.Close(ctx)
	}
	if len(expired) > 0 {
		r.logger.Info("idle sessions evicted", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done, then closes every session.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

func (r *Registry) closeAll(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range sessions {
		e.ctrl.Close(ctx)
	}
}
