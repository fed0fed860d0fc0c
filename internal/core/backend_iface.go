// Package core holds the contracts between the demo workflow and whatever
// media backend and transport serve it.
package core

import (
	"context"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog"
)

// Backend creates authenticated contexts.
type Backend interface {
	CreateContext(ctx context.Context, token string, opts ContextOptions) (Context, error)
}

type ContextOptions struct {
	LogLevel zerolog.Level
}

// Context is one authenticated client of the backend.
type Context interface {
	AppID() string
	RegisterPlugin(p Plugin)
	FindOrCreateChannel(ctx context.Context, name domain.ChannelName) (Channel, error)
	Dispose()
}

type Plugin interface {
	Name() string
}

// BotPlugin creates relay bots bound to a channel. The plugin must be
// registered on the channel's context first.
type BotPlugin interface {
	Plugin
	CreateBot(ctx context.Context, ch Channel) (Bot, error)
}

type Bot interface {
	ID() domain.MemberID
	StartForwarding(ctx context.Context, pub Publication, opts ForwardingOptions) (Forwarding, error)
}

type ForwardingOptions struct {
	MaxSubscribers int
}

type Forwarding interface {
	ID() domain.ForwardingID
	OriginPublication() Publication
	RelayingPublication() Publication
	Stop(ctx context.Context) error
}
