// Package sfu is an in-process media backend: channels, members,
// publications, subscriptions and relay bots over pion RTP.
package sfu

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/Relay/internal/auth"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrContextDisposed        = errors.New("context disposed")
	ErrChannelDisposed        = errors.New("channel disposed")
	ErrChannelNotFound        = errors.New("channel not found")
	ErrForeignHandle          = errors.New("handle does not belong to this backend")
	ErrMemberLeft             = errors.New("member already left")
	ErrPluginNotRegistered    = errors.New("sfu bot plugin not registered on context")
	ErrPublicationCanceled    = errors.New("publication canceled")
	ErrNotPublisher           = errors.New("only the publisher may change a publication")
	ErrRelayRequired          = errors.New("publication with several encodings must be subscribed through a relay bot")
	ErrSelfSubscribe          = errors.New("cannot subscribe to own publication")
	ErrAlreadySubscribed      = errors.New("already subscribed")
	ErrMaxSubscribersReached  = errors.New("forwarding reached max subscribers")
	ErrInvalidMaxSubscribers  = errors.New("max subscribers must be positive")
	ErrAlreadyForwarded       = errors.New("publication already forwarded by this bot")
	ErrUnknownEncoding        = errors.New("publication has no such encoding")
	ErrContentTypeUnsupported = errors.New("unsupported content type")
)

// Service implements core.Backend.
type Service struct {
	verifier *auth.Verifier

	mu       sync.RWMutex
	channels map[domain.ChannelName]*channelState
}

func NewService(verifier *auth.Verifier) *Service {
	return &Service{
		verifier: verifier,
		channels: make(map[domain.ChannelName]*channelState),
	}
}

func (s *Service) CreateContext(_ context.Context, token string, opts core.ContextOptions) (core.Context, error) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	if err := claims.Require(auth.ActionRead, auth.Resource{Level: auth.LevelApp}); err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	logger := log.With().Str("module", "sfu.context").Str("jti", claims.ID).Logger().Level(opts.LogLevel)
	logger.Debug().Msg("context created")
	return &sdkContext{
		svc:     s,
		claims:  claims,
		plugins: make(map[string]core.Plugin),
		logger:  logger,
	}, nil
}

// findOrCreate uses double checked locking so concurrent joins share one channel.
func (s *Service) findOrCreate(name domain.ChannelName) *channelState {
	s.mu.RLock()
	ch, ok := s.channels[name]
	s.mu.RUnlock()
	if ok {
		return ch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok = s.channels[name]; ok {
		return ch
	}
	ch = newChannelState(name)
	s.channels[name] = ch
	log.Info().Str("module", "sfu").Str("channel", string(name)).Str("channel_id", string(ch.id)).Msg("channel created")
	return ch
}

func (s *Service) List() []domain.ChannelInfo {
	s.mu.RLock()
	out := make([]domain.ChannelInfo, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.info())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) Get(name domain.ChannelName) (domain.ChannelInfo, bool) {
	s.mu.RLock()
	ch, ok := s.channels[name]
	s.mu.RUnlock()
	if !ok {
		return domain.ChannelInfo{}, false
	}
	return ch.info(), true
}

// Evict removes every member of the channel and forgets it.
func (s *Service) Evict(name domain.ChannelName) bool {
	s.mu.Lock()
	ch, ok := s.channels[name]
	delete(s.channels, name)
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch.close()
	log.Info().Str("module", "sfu").Str("channel", string(name)).Msg("channel evicted")
	return true
}
