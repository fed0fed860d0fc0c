package sfu

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Relay/internal/auth"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

// publication implements core.Publication. Relay publications share the
// Relay of their origin.
type publication struct {
	id          domain.PublicationID
	ch          *channelState
	owner       *sdkContext
	publisher   domain.MemberInfo
	contentType domain.ContentType
	encodings   domain.Encodings
	origin      *publication
	relay       *Relay
	// fw is set on relay publications only.
	fw *forwarding

	mu          sync.RWMutex
	state       domain.PublicationState
	forwardings map[domain.MemberID]*forwarding
}

func (p *publication) ID() domain.PublicationID        { return p.id }
func (p *publication) ContentType() domain.ContentType { return p.contentType }
func (p *publication) Publisher() domain.MemberInfo    { return p.publisher }
func (p *publication) Encodings() domain.Encodings     { return slices.Clone(p.encodings) }

func (p *publication) Origin() core.Publication {
	if p.origin == nil {
		return nil
	}
	return p.origin
}

func (p *publication) State() domain.PublicationState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *publication) Enable(_ context.Context) error {
	return p.setEnabled(true)
}

func (p *publication) Disable(_ context.Context) error {
	return p.setEnabled(false)
}

func (p *publication) setEnabled(enabled bool) error {
	if p.origin != nil {
		return ErrNotPublisher
	}
	if err := p.owner.require(auth.ActionWrite, p.ch.resource(auth.LevelPublication, p.publisher)); err != nil {
		return err
	}
	state := domain.PublicationDisabled
	if enabled {
		state = domain.PublicationEnabled
	}

	p.mu.Lock()
	if p.state == domain.PublicationCanceled {
		p.mu.Unlock()
		return ErrPublicationCanceled
	}
	p.state = state
	forwardings := make([]*forwarding, 0, len(p.forwardings))
	for _, fw := range p.forwardings {
		forwardings = append(forwardings, fw)
	}
	p.mu.Unlock()

	for _, fw := range forwardings {
		fw.relayPub.mirrorState(state)
	}
	p.relay.SetMuted(!enabled)
	p.ch.logger.Info().Str("publication", string(p.id)).Str("state", string(state)).Msg("publication state changed")
	return nil
}

func (p *publication) mirrorState(state domain.PublicationState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != domain.PublicationCanceled {
		p.state = state
	}
}

func (p *publication) ReplaceStream(_ context.Context, stream core.LocalStream, opts core.ReplaceStreamOptions) error {
	if p.origin != nil {
		return ErrNotPublisher
	}
	if err := p.owner.require(auth.ActionWrite, p.ch.resource(auth.LevelPublication, p.publisher)); err != nil {
		return err
	}
	if stream == nil || stream.ContentType() != p.contentType {
		return fmt.Errorf("%w: replace %s with %v", ErrContentTypeUnsupported, p.contentType, streamKind(stream))
	}
	if p.State() == domain.PublicationCanceled {
		return ErrPublicationCanceled
	}
	old := p.relay.SetSource(stream, preferenceOrder(p.encodings))
	if opts.ReleaseOldStream && old != nil {
		old.Release()
	}
	p.ch.logger.Info().
		Str("publication", string(p.id)).
		Str("stream", stream.ID()).
		Bool("release_old", opts.ReleaseOldStream).
		Msg("stream replaced")
	return nil
}

func streamKind(s core.LocalStream) domain.ContentType {
	if s == nil {
		return ""
	}
	return s.ContentType()
}

// cancel reports whether p was live.
func (p *publication) cancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == domain.PublicationCanceled {
		return false
	}
	p.state = domain.PublicationCanceled
	return true
}

func (p *publication) forwardingsSnapshot() []*forwarding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*forwarding, 0, len(p.forwardings))
	for _, fw := range p.forwardings {
		out = append(out, fw)
	}
	return out
}

// preferenceOrder sorts encoding ids by descending bitrate cap.
func preferenceOrder(es domain.Encodings) []string {
	sorted := slices.Clone(es)
	slices.SortStableFunc(sorted, func(a, b domain.Encoding) int {
		return cmp.Compare(b.MaxBitrate, a.MaxBitrate)
	})
	out := make([]string, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, e.ID)
	}
	return out
}
