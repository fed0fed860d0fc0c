package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Relay/internal/auth"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

const BotPluginName = "sfu-bot"

// BotPlugin implements core.BotPlugin. One value may be registered on
// several contexts.
type BotPlugin struct{}

func NewBotPlugin() *BotPlugin { return &BotPlugin{} }

func (*BotPlugin) Name() string { return BotPluginName }

func (*BotPlugin) CreateBot(_ context.Context, ch core.Channel) (core.Bot, error) {
	h, ok := ch.(*channelHandle)
	if !ok {
		return nil, ErrForeignHandle
	}
	if !h.ctx.hasPlugin(BotPluginName) {
		return nil, ErrPluginNotRegistered
	}
	if h.isDisposed() {
		return nil, ErrChannelDisposed
	}
	info := domain.MemberInfo{
		ID:      domain.NewMemberID(),
		Type:    domain.MemberTypeBot,
		Subtype: domain.SubtypeSFU,
	}
	if err := h.ctx.require(auth.ActionWrite, h.st.resource(auth.LevelSfuBot, info)); err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	if _, err := h.st.addMember(info); err != nil {
		return nil, err
	}
	return &bot{ctx: h.ctx, ch: h.st, info: info}, nil
}

type bot struct {
	ctx  *sdkContext
	ch   *channelState
	info domain.MemberInfo
}

func (b *bot) ID() domain.MemberID { return b.info.ID }

func (b *bot) StartForwarding(_ context.Context, pub core.Publication, opts core.ForwardingOptions) (core.Forwarding, error) {
	origin, ok := pub.(*publication)
	if !ok || origin.ch != b.ch {
		return nil, ErrForeignHandle
	}
	if origin.origin != nil {
		return nil, fmt.Errorf("%w: cannot forward a relay publication", ErrForeignHandle)
	}
	if opts.MaxSubscribers <= 0 {
		return nil, ErrInvalidMaxSubscribers
	}
	if err := b.ctx.require(auth.ActionWrite, b.ch.resource(auth.LevelForwarding, b.info)); err != nil {
		return nil, fmt.Errorf("start forwarding: %w", err)
	}

	fw := &forwarding{
		id:             domain.NewForwardingID(),
		origin:         origin,
		maxSubscribers: opts.MaxSubscribers,
	}
	relayPub := &publication{
		id:          domain.NewPublicationID(),
		ch:          b.ch,
		owner:       b.ctx,
		publisher:   b.info,
		contentType: origin.contentType,
		encodings:   origin.Encodings(),
		origin:      origin,
		relay:       origin.relay,
		fw:          fw,
		forwardings: make(map[domain.MemberID]*forwarding),
	}
	fw.relayPub = relayPub

	origin.mu.Lock()
	if origin.state == domain.PublicationCanceled {
		origin.mu.Unlock()
		return nil, ErrPublicationCanceled
	}
	if _, dup := origin.forwardings[b.info.ID]; dup {
		origin.mu.Unlock()
		return nil, ErrAlreadyForwarded
	}
	relayPub.state = origin.state
	origin.forwardings[b.info.ID] = fw
	origin.mu.Unlock()

	if err := b.ch.publish(relayPub); err != nil {
		origin.mu.Lock()
		delete(origin.forwardings, b.info.ID)
		origin.mu.Unlock()
		return nil, err
	}
	b.ch.logger.Info().
		Str("forwarding", string(fw.id)).
		Str("origin", string(origin.id)).
		Int("max_subscribers", opts.MaxSubscribers).
		Msg("forwarding started")
	return fw, nil
}

type forwarding struct {
	id             domain.ForwardingID
	origin         *publication
	relayPub       *publication
	maxSubscribers int

	mu          sync.Mutex
	subscribers int
}

func (f *forwarding) ID() domain.ForwardingID               { return f.id }
func (f *forwarding) OriginPublication() core.Publication   { return f.origin }
func (f *forwarding) RelayingPublication() core.Publication { return f.relayPub }

func (f *forwarding) Stop(_ context.Context) error {
	f.origin.ch.cancelPublication(f.relayPub)
	f.origin.mu.Lock()
	for id, fw := range f.origin.forwardings {
		if fw == f {
			delete(f.origin.forwardings, id)
		}
	}
	f.origin.mu.Unlock()
	return nil
}

func (f *forwarding) acquire() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribers >= f.maxSubscribers {
		return false
	}
	f.subscribers++
	return true
}

func (f *forwarding) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribers > 0 {
		f.subscribers--
	}
}

func (f *forwarding) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribers
}
