package sfu

import (
	"context"
	"fmt"

	"github.com/dkeye/Relay/internal/auth"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/google/uuid"
)

// localMember implements core.LocalMember.
type localMember struct {
	ctx *sdkContext
	ch  *channelState
	ms  *memberState
}

func (m *localMember) ID() domain.MemberID { return m.ms.info.ID }
func (m *localMember) Name() string        { return m.ms.info.Name }

func (m *localMember) Publish(_ context.Context, stream core.LocalStream, opts core.PublishOptions) (core.Publication, error) {
	if !m.ch.hasMember(m.ID()) {
		return nil, ErrMemberLeft
	}
	if err := m.ctx.require(auth.ActionWrite, m.ch.resource(auth.LevelPublication, m.ms.info)); err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	if stream == nil {
		return nil, fmt.Errorf("%w: nil stream", ErrContentTypeUnsupported)
	}

	var encodings domain.Encodings
	switch stream.ContentType() {
	case domain.ContentVideo:
		if err := opts.Encodings.Validate(); err != nil {
			return nil, fmt.Errorf("publish: %w", err)
		}
		encodings = opts.Encodings
	case domain.ContentAudio:
	default:
		return nil, fmt.Errorf("%w: %s", ErrContentTypeUnsupported, stream.ContentType())
	}

	state := domain.PublicationEnabled
	if opts.StartDisabled {
		state = domain.PublicationDisabled
	}
	id := domain.NewPublicationID()
	relay := NewRelay(m.ch.logger.With().Str("module", "sfu.relay").Str("publication", string(id)).Logger())
	p := &publication{
		id:          id,
		ch:          m.ch,
		owner:       m.ctx,
		publisher:   m.ms.info,
		contentType: stream.ContentType(),
		encodings:   encodings,
		relay:       relay,
		state:       state,
		forwardings: make(map[domain.MemberID]*forwarding),
	}
	relay.SetSource(stream, preferenceOrder(encodings))
	if opts.StartDisabled {
		relay.SetMuted(true)
	}
	if err := m.ch.publish(p); err != nil {
		relay.Stop()
		return nil, err
	}
	return p, nil
}

func (m *localMember) Subscribe(_ context.Context, pub core.Publication, opts core.SubscribeOptions) (core.Subscription, error) {
	p, ok := pub.(*publication)
	if !ok || p.ch != m.ch {
		return nil, ErrForeignHandle
	}
	if err := m.ctx.require(auth.ActionWrite, m.ch.resource(auth.LevelSubscription, m.ms.info)); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if p.origin == nil && p.publisher.ID == m.ID() {
		return nil, ErrSelfSubscribe
	}
	if p.origin == nil && len(p.encodings) > 1 {
		return nil, ErrRelayRequired
	}

	encodings := p.encodings
	preferred := encodings.Highest()
	if encodings.Has(opts.PreferredEncodingID) {
		preferred = opts.PreferredEncodingID
	}

	m.ch.mu.Lock()
	defer m.ch.mu.Unlock()
	if _, ok := m.ch.members[m.ID()]; !ok {
		return nil, ErrMemberLeft
	}
	if p.State() == domain.PublicationCanceled {
		return nil, ErrPublicationCanceled
	}
	for _, s := range m.ms.subs {
		if s.pub == p {
			return nil, ErrAlreadySubscribed
		}
	}
	fw := p.fw
	if fw != nil && !fw.acquire() {
		return nil, ErrMaxSubscribersReached
	}

	sub := &subscription{
		id:        domain.NewSubscriptionID(),
		pub:       p,
		fw:        fw,
		relay:     p.relay,
		preferred: preferred,
	}
	sub.stream = &remoteStream{
		id:    uuid.NewString(),
		track: track{id: uuid.NewString(), kind: p.contentType},
		sub:   sub,
	}
	m.ms.subs[sub.id] = sub
	m.ch.logger.Info().
		Str("member", string(m.ID())).
		Str("publication", string(p.id)).
		Str("subscription", string(sub.id)).
		Str("preferred", preferred).
		Msg("subscribed")
	return sub, nil
}

func (m *localMember) Subscriptions() []core.Subscription {
	m.ch.mu.RLock()
	defer m.ch.mu.RUnlock()
	out := make([]core.Subscription, 0, len(m.ms.subs))
	for _, s := range m.ms.subs {
		out = append(out, s)
	}
	return out
}

func (m *localMember) Leave(_ context.Context) error {
	if !m.ch.removeMember(m.ID()) {
		return ErrMemberLeft
	}
	return nil
}
