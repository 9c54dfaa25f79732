package deploy

import (
	"context"
	"fmt"
	"sync"
)

// DecideFunc is asked for a decision each time a session in a batch hits a
// conflict. It is called once per conflicted session and its answer applies
// to that session only.
type DecideFunc func(ctx context.Context, cc ConflictContext) (Decision, error)

// Batch deploys many flow sides one after another.
type Batch struct {
	Deps   Deps
	Decide DecideFunc
}

// Run starts one session per request, sequentially. A conflicted session
// waits for Decide before the next request starts; if Decide is nil or
// fails the session is cancelled. Once ctx is done, every remaining session
// is cancelled without touching the instance.
func (b *Batch) Run(ctx context.Context, reqs []Request, progress func(string)) []*Session {
	if progress == nil {
		progress = func(string) {}
	}
	sessions := make([]*Session, 0, len(reqs))
	for _, req := range reqs {
		s := NewSession(req, b.Deps)
		sessions = append(sessions, s)
		name := sessionName(req)

		if ctx.Err() != nil {
			// a fresh session is idle, so Cancel cannot fail here
			_ = s.Cancel()
			progress(fmt.Sprintf("  CANCELLED: %s", name))
			continue
		}

		if err := s.Start(ctx); err != nil {
			progress(fmt.Sprintf("  FAIL: %s: %v", name, err))
			continue
		}
		if s.State() != StateConflictDetected {
			progress(fmt.Sprintf("  %s: %s", outcomeLabel(s.View().Outcome), name))
			continue
		}

		cc, _ := s.Conflict()
		progress(fmt.Sprintf("  CONFLICT: %s: existing %s, incoming %s", name, cc.ExistingVersion, cc.IncomingVersion))
		if b.Decide == nil {
			_ = s.Cancel() // conflict_detected is cancellable
			progress(fmt.Sprintf("  CANCELLED: %s (no decision)", name))
			continue
		}
		d, err := b.Decide(ctx, cc)
		if err != nil {
			_ = s.Cancel()
			progress(fmt.Sprintf("  CANCELLED: %s: %v", name, err))
			continue
		}
		if err := s.Resolve(ctx, d); err != nil {
			progress(fmt.Sprintf("  FAIL: %s: %v", name, err))
			continue
		}
		progress(fmt.Sprintf("  %s: %s (%s)", outcomeLabel(s.View().Outcome), name, d))
	}
	return sessions
}

func sessionName(req Request) string {
	if req.Flow == nil {
		return string(req.Side)
	}
	return req.Flow.Name + "/" + string(req.Side)
}

func outcomeLabel(o Outcome) string {
	switch o {
	case OutcomeCreated:
		return "CREATED"
	case OutcomeUnchanged:
		return "SKIP (same version)"
	case OutcomeSkipped:
		return "SKIPPED"
	case OutcomeReplaced:
		return "REPLACED"
	case OutcomeUpdated:
		return "UPDATED"
	default:
		return "DONE"
	}
}

// Registry keeps sessions addressable by ID for the HTTP API.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add stores a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Get returns a session by ID, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// List returns views of all sessions, newest first.
func (r *Registry) List() []View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]View, 0, len(r.sessions))
	for _, s := range r.sessions {
		views = append(views, s.View())
	}
	for i := 0; i < len(views); i++ {
		for j := i + 1; j < len(views); j++ {
			if views[j].CreatedAt.After(views[i].CreatedAt) {
				views[i], views[j] = views[j], views[i]
			}
		}
	}
	return views
}

// Prune removes finished sessions.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.State().Terminal() {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}
