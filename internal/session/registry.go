package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/rpcc"

	adapter "tabwatch/internal/adapter/cdp"
	"tabwatch/internal/logger"
	"tabwatch/pkg/model"
)

// Registry owns the target-to-session pool and the focused-target pointer.
// At most one live session exists per target; all mutation goes through the
// synchronized API.
type Registry struct {
	mu       sync.RWMutex
	sessions map[model.TargetID]*Session
	focused  model.TargetID

	dt  *devtool.DevTools
	log logger.Logger
}

// NewRegistry creates a registry bound to a DevTools HTTP endpoint.
func NewRegistry(devtoolsURL string, l logger.Logger) *Registry {
	if l == nil {
		l = logger.NewNop()
	}
	return &Registry{
		sessions: make(map[model.TargetID]*Session),
		dt:       devtool.New(devtoolsURL),
		log:      l,
	}
}

// Acquire returns the cached session for target, dialing a new connection
// when none exists. forceNew tears down any cached session first; focus makes
// target the focused one. Safe for concurrent use.
func (r *Registry) Acquire(ctx context.Context, target model.TargetID, focus, forceNew bool) (*Session, error) {
	if forceNew {
		r.Evict(target)
	}

	r.mu.Lock()
	if s, ok := r.sessions[target]; ok {
		if focus {
			r.focused = target
		}
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	s, err := r.dial(ctx, target)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[target]; ok {
		// lost a concurrent dial; keep the session already in the pool
		_ = s.Close()
		s = cur
	} else {
		r.sessions[target] = s
	}
	if focus {
		r.focused = target
	}
	return s, nil
}

// AcquireFocused resolves the focused target's session, electing the first
// page target when nothing is focused yet. forceNew redials the connection.
func (r *Registry) AcquireFocused(ctx context.Context, forceNew bool) (*Session, error) {
	r.mu.RLock()
	target := r.focused
	r.mu.RUnlock()

	if target == "" {
		targets, err := r.dt.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list targets: %w", err)
		}
		for i := range targets {
			if targets[i].Type == devtool.Page {
				target = model.TargetID(targets[i].ID)
				break
			}
		}
		if target == "" {
			return nil, errors.New("no page target available")
		}
	}
	return r.Acquire(ctx, target, true, forceNew)
}

func (r *Registry) dial(ctx context.Context, target model.TargetID) (*Session, error) {
	targets, err := r.dt.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	var sel *devtool.Target
	for i := range targets {
		if targets[i].ID == string(target) {
			sel = targets[i]
			break
		}
	}
	if sel == nil {
		return nil, fmt.Errorf("target %s not found", target)
	}
	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial target %s: %w", target, err)
	}
	s := &Session{
		ID:     model.SessionID(uuid.NewString()),
		Target: target,
		conn:   conn,
		client: cdp.NewClient(conn),
	}
	r.log.Debug("session created", "sessionID", string(s.ID), "target", string(target))
	return s, nil
}

// Evict disconnects and removes the session for target. No-op when absent.
// Focus is cleared if it pointed at the target.
func (r *Registry) Evict(target model.TargetID) {
	r.mu.Lock()
	s, ok := r.sessions[target]
	if ok {
		delete(r.sessions, target)
	}
	if r.focused == target {
		r.focused = ""
	}
	r.mu.Unlock()

	if ok {
		_ = s.Close()
		r.log.Debug("session evicted", "target", string(target))
	}
}

// EvictAll disconnects every session and clears the focus pointer.
func (r *Registry) EvictAll() {
	r.mu.Lock()
	evicted := r.sessions
	r.sessions = make(map[model.TargetID]*Session)
	r.focused = ""
	r.mu.Unlock()

	for _, s := range evicted {
		_ = s.Close()
	}
	if len(evicted) > 0 {
		r.log.Debug("all sessions evicted", "count", len(evicted))
	}
}

// Focused returns the focused target, or empty when none.
func (r *Registry) Focused() model.TargetID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.focused
}

// SetFocused marks target as focused.
func (r *Registry) SetFocused(target model.TargetID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focused = target
}

// ClearFocused drops the focus pointer.
func (r *Registry) ClearFocused() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focused = ""
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Targets enumerates the browser's targets via the DevTools HTTP endpoint.
func (r *Registry) Targets(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := r.dt.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	focused := r.Focused()
	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		info := adapter.ToTargetInfo(t)
		info.Focused = info.ID == focused && focused != ""
		out = append(out, info)
	}
	return out, nil
}
