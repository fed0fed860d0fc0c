package core

import (
	"context"

	"github.com/dkeye/Relay/internal/domain"
)

type Channel interface {
	ID() domain.ChannelID
	Name() domain.ChannelName
	Join(ctx context.Context, opts JoinOptions) (LocalMember, error)
	// Publications lists live publications in publish order.
	Publications() []Publication
	// OnStreamPublished registers fn for every later publication and returns
	// a func that removes it.
	OnStreamPublished(fn func(Publication)) (remove func())
	Dispose()
}

type JoinOptions struct {
	Name string
}

type LocalMember interface {
	ID() domain.MemberID
	Name() string
	Publish(ctx context.Context, stream LocalStream, opts PublishOptions) (Publication, error)
	Subscribe(ctx context.Context, pub Publication, opts SubscribeOptions) (Subscription, error)
	Subscriptions() []Subscription
	Leave(ctx context.Context) error
}

type PublishOptions struct {
	// StartDisabled publishes with state disabled (muted).
	StartDisabled bool
	// Encodings is ordered; only video publications use it.
	Encodings domain.Encodings
}

type SubscribeOptions struct {
	PreferredEncodingID string
}

type Publication interface {
	ID() domain.PublicationID
	ContentType() domain.ContentType
	Publisher() domain.MemberInfo
	// Origin is the relayed publication, nil unless published by a relay bot.
	Origin() Publication
	State() domain.PublicationState
	Encodings() domain.Encodings
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	ReplaceStream(ctx context.Context, stream LocalStream, opts ReplaceStreamOptions) error
}

type ReplaceStreamOptions struct {
	ReleaseOldStream bool
}

type Subscription interface {
	ID() domain.SubscriptionID
	Publication() Publication
	Stream() RemoteStream
	PreferredEncoding() string
	ChangePreferredEncoding(id string) error
}
