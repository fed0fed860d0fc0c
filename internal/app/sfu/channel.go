package sfu

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Relay/internal/auth"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type memberState struct {
	info domain.MemberInfo
	subs map[domain.SubscriptionID]*subscription
}

// channelState is shared by every handle to the same channel.
type channelState struct {
	id     domain.ChannelID
	name   domain.ChannelName
	logger zerolog.Logger

	mu          sync.RWMutex
	members     map[domain.MemberID]*memberState
	pubs        []*publication
	handlers    map[int]func(core.Publication)
	nextHandler int
	closed      bool
}

func newChannelState(name domain.ChannelName) *channelState {
	id := domain.NewChannelID()
	return &channelState{
		id:       id,
		name:     name,
		logger:   log.With().Str("module", "sfu.channel").Str("channel", string(name)).Logger(),
		members:  make(map[domain.MemberID]*memberState),
		handlers: make(map[int]func(core.Publication)),
	}
}

func (c *channelState) info() domain.ChannelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelInfo{
		ID:           c.id,
		Name:         c.name,
		MemberCount:  len(c.members),
		Publications: len(c.pubs),
	}
}

func (c *channelState) resource(level auth.Level, member domain.MemberInfo) auth.Resource {
	return auth.Resource{
		Level:       level,
		ChannelID:   string(c.id),
		ChannelName: string(c.name),
		MemberID:    string(member.ID),
		MemberName:  member.Name,
	}
}

func (c *channelState) addMember(info domain.MemberInfo) (*memberState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChannelDisposed
	}
	ms := &memberState{info: info, subs: make(map[domain.SubscriptionID]*subscription)}
	c.members[info.ID] = ms
	c.logger.Info().Str("member", string(info.ID)).Str("subtype", string(info.Subtype)).Msg("member joined")
	return ms, nil
}

func (c *channelState) hasMember(id domain.MemberID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[id]
	return ok
}

// publish appends p and notifies every registered handler outside the lock.
func (c *channelState) publish(p *publication) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelDisposed
	}
	if _, ok := c.members[p.publisher.ID]; !ok {
		c.mu.Unlock()
		return ErrMemberLeft
	}
	c.pubs = append(c.pubs, p)
	handlers := make([]func(core.Publication), 0, len(c.handlers))
	for _, id := range sortedKeys(c.handlers) {
		handlers = append(handlers, c.handlers[id])
	}
	c.mu.Unlock()

	ev := c.logger.Info().
		Str("publication", string(p.id)).
		Str("publisher", string(p.publisher.ID)).
		Str("content_type", string(p.contentType))
	if p.origin != nil {
		ev = ev.Str("origin", string(p.origin.id))
	}
	ev.Msg("stream published")

	for _, fn := range handlers {
		fn(p)
	}
	return nil
}

func sortedKeys(m map[int]func(core.Publication)) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (c *channelState) livePublications() []core.Publication {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Publication, 0, len(c.pubs))
	for _, p := range c.pubs {
		out = append(out, p)
	}
	return out
}

func (c *channelState) addHandler(fn func(core.Publication)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandler++
	c.handlers[c.nextHandler] = fn
	return c.nextHandler
}

func (c *channelState) removeHandler(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, id)
}

// removeMember drops the member with its publications, the relay
// publications forwarding them and every subscription it held.
func (c *channelState) removeMember(id domain.MemberID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms, ok := c.members[id]
	if !ok {
		return false
	}
	for _, sub := range ms.subs {
		sub.dropLocked()
	}
	clear(ms.subs)
	delete(c.members, id)

	for _, p := range slices.Clone(c.pubs) {
		if p.publisher.ID == id {
			c.cancelPublicationLocked(p)
		}
	}
	c.logger.Info().Str("member", string(id)).Msg("member left")
	return true
}

// cancelPublicationLocked cancels p, the relay publications forwarding it and
// every subscription on them. c.mu must be held.
func (c *channelState) cancelPublicationLocked(p *publication) {
	if !p.cancel() {
		return
	}
	c.pubs = slices.DeleteFunc(c.pubs, func(x *publication) bool { return x == p })
	for _, ms := range c.members {
		for sid, sub := range ms.subs {
			if sub.pub == p {
				sub.dropLocked()
				delete(ms.subs, sid)
			}
		}
	}
	for _, fw := range p.forwardingsSnapshot() {
		c.cancelPublicationLocked(fw.relayPub)
	}
	if p.origin == nil {
		if stream := p.relay.Stop(); stream != nil {
			stream.Release()
		}
	}
	c.logger.Info().Str("publication", string(p.id)).Msg("publication canceled")
}

func (c *channelState) cancelPublication(p *publication) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelPublicationLocked(p)
}

func (c *channelState) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, p := range slices.Clone(c.pubs) {
		c.cancelPublicationLocked(p)
	}
	for id := range c.members {
		delete(c.members, id)
	}
	clear(c.handlers)
}

// channelHandle implements core.Channel for one context.
type channelHandle struct {
	ctx *sdkContext
	st  *channelState

	mu       sync.Mutex
	handlers map[int]struct{}
	disposed bool
}

func (h *channelHandle) ID() domain.ChannelID     { return h.st.id }
func (h *channelHandle) Name() domain.ChannelName { return h.st.name }

func (h *channelHandle) Join(_ context.Context, opts core.JoinOptions) (core.LocalMember, error) {
	if h.isDisposed() {
		return nil, ErrChannelDisposed
	}
	if err := domain.ValidateMemberName(opts.Name); err != nil {
		return nil, err
	}
	info := domain.MemberInfo{
		ID:      domain.NewMemberID(),
		Name:    opts.Name,
		Type:    domain.MemberTypePerson,
		Subtype: domain.SubtypePerson,
	}
	if err := h.ctx.require(auth.ActionWrite, h.st.resource(auth.LevelMember, info)); err != nil {
		return nil, fmt.Errorf("join %q: %w", h.st.name, err)
	}
	ms, err := h.st.addMember(info)
	if err != nil {
		return nil, err
	}
	return &localMember{ctx: h.ctx, ch: h.st, ms: ms}, nil
}

func (h *channelHandle) Publications() []core.Publication {
	return h.st.livePublications()
}

func (h *channelHandle) OnStreamPublished(fn func(core.Publication)) func() {
	id := h.st.addHandler(fn)
	h.mu.Lock()
	h.handlers[id] = struct{}{}
	h.mu.Unlock()
	return func() {
		h.st.removeHandler(id)
		h.mu.Lock()
		delete(h.handlers, id)
		h.mu.Unlock()
	}
}

// Dispose releases this handle's event registrations. Members joined through
// it stay in the channel until they leave.
func (h *channelHandle) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return
	}
	h.disposed = true
	for id := range h.handlers {
		h.st.removeHandler(id)
	}
	clear(h.handlers)
}

func (h *channelHandle) isDisposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}
