package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
)

type sessionEntry struct {
	State  domain.SessionState
	Signal core.SignalConnection
	Cancel context.CancelFunc
}

// Registry tracks every open signaling connection and its negotiation state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

// Bind registers a freshly opened connection in the Disconnected state.
func (r *Registry) Bind(sid core.SessionID, sig core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{
		State:  domain.StateDisconnected,
		Signal: sig,
		Cancel: cancel,
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound session")
}

// Unbind forgets sid. It reports whether sid was bound.
func (r *Registry) Unbind(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sid]
	delete(r.sessions, sid)
	if ok {
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	}
	return ok
}

func (r *Registry) State(sid core.SessionID) (domain.SessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return domain.StateDisconnected, false
	}
	return e.State, true
}

// Advance moves sid to next. Moves backwards are ignored.
func (r *Registry) Advance(sid core.SessionID, next domain.SessionState) domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return domain.StateDisconnected
	}
	if next > e.State {
		log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Stringer("from", e.State).Stringer("to", next).Msg("state advanced")
		e.State = next
	}
	return e.State
}

func (r *Registry) Signal(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Signal, true
	}
	return nil, false
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
