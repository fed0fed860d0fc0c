package sfu

import (
	"fmt"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

type subscription struct {
	id    domain.SubscriptionID
	pub   *publication
	fw    *forwarding
	relay *Relay

	mu        sync.RWMutex
	preferred string
	dropped   bool

	stream *remoteStream
}

func (s *subscription) ID() domain.SubscriptionID     { return s.id }
func (s *subscription) Publication() core.Publication { return s.pub }
func (s *subscription) Stream() core.RemoteStream     { return s.stream }

func (s *subscription) PreferredEncoding() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preferred
}

func (s *subscription) ChangePreferredEncoding(id string) error {
	if !s.pub.encodings.Has(id) {
		return fmt.Errorf("%w: %q", ErrUnknownEncoding, id)
	}
	s.mu.Lock()
	if s.dropped {
		s.mu.Unlock()
		return ErrPublicationCanceled
	}
	s.preferred = id
	s.mu.Unlock()
	s.relay.SetPreferred(s.id, id)
	s.pub.ch.logger.Debug().Str("subscription", string(s.id)).Str("preferred", id).Msg("preferred encoding changed")
	return nil
}

// dropLocked detaches the subscription and frees its forwarding slot. The
// channel lock must be held.
func (s *subscription) dropLocked() {
	s.mu.Lock()
	if s.dropped {
		s.mu.Unlock()
		return
	}
	s.dropped = true
	s.mu.Unlock()
	s.relay.RemoveOutTrack(s.id)
	if s.fw != nil {
		s.fw.release()
	}
}

type track struct {
	id   string
	kind domain.ContentType
}

func (t track) ID() string               { return t.id }
func (t track) Kind() domain.ContentType { return t.kind }

// remoteStream implements core.RemoteStream on top of the publication relay.
type remoteStream struct {
	id    string
	track track
	sub   *subscription
}

func (r *remoteStream) ID() string        { return r.id }
func (r *remoteStream) Track() core.Track { return r.track }

func (r *remoteStream) Attach(sink core.Sink) error {
	r.sub.mu.RLock()
	dropped, preferred := r.sub.dropped, r.sub.preferred
	r.sub.mu.RUnlock()
	if dropped {
		return ErrPublicationCanceled
	}
	r.sub.relay.AddOutTrack(r.sub.id, NewOutTrack(sink, preferred))
	return nil
}

func (r *remoteStream) Detach() {
	r.sub.relay.RemoveOutTrack(r.sub.id)
}
