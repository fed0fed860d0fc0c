package app

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// SessionID identifies one signaling connection.
type SessionID string

type sessionEntry struct {
	Client  string
	Channel domain.ChannelName
	Cancel  context.CancelFunc
}

// Registry tracks live page sessions and the channel each one has joined.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[SessionID]*sessionEntry),
	}
}

func (r *Registry) Bind(sid SessionID, client string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Client: client, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("client", client).Msg("bound session")
}

func (r *Registry) Unbind(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) ChannelOf(sid SessionID) (domain.ChannelName, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.Channel == "" {
		return "", false
	}
	return entry.Channel, true
}

func (r *Registry) UpdateChannel(sid SessionID, name domain.ChannelName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	entry.Channel = name
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("channel", string(name)).Msg("updated channel")
	return true
}

func (r *Registry) RemoveChannel(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok {
		entry.Channel = ""
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed channel association")
}

// SessionsIn returns the sessions joined to name, sorted.
func (r *Registry) SessionsIn(name domain.ChannelName) []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionID, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.Channel == name {
			out = append(out, sid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Cancel ends the session's connection context.
func (r *Registry) Cancel(sid SessionID) bool {
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

// KickChannel cancels every session joined to name and returns how many.
func (r *Registry) KickChannel(name domain.ChannelName) int {
	sids := r.SessionsIn(name)
	for _, sid := range sids {
		r.Cancel(sid)
	}
	return len(sids)
}
