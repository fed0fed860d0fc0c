package sfu

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Relay/internal/auth"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog"
)

type sdkContext struct {
	svc    *Service
	claims *auth.Claims
	logger zerolog.Logger

	mu       sync.RWMutex
	plugins  map[string]core.Plugin
	disposed atomic.Bool
}

func (c *sdkContext) AppID() string { return c.claims.Scope.App.ID }

func (c *sdkContext) RegisterPlugin(p core.Plugin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugins[p.Name()] = p
	c.logger.Debug().Str("plugin", p.Name()).Msg("plugin registered")
}

func (c *sdkContext) hasPlugin(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.plugins[name]
	return ok
}

func (c *sdkContext) FindOrCreateChannel(_ context.Context, name domain.ChannelName) (core.Channel, error) {
	if c.disposed.Load() {
		return nil, ErrContextDisposed
	}
	if err := name.Validate(); err != nil {
		return nil, err
	}
	if err := c.claims.Require(auth.ActionWrite, auth.Resource{Level: auth.LevelChannel, ChannelName: string(name)}); err != nil {
		return nil, fmt.Errorf("find or create %q: %w", name, err)
	}
	st := c.svc.findOrCreate(name)
	return &channelHandle{ctx: c, st: st, handlers: make(map[int]struct{})}, nil
}

func (c *sdkContext) Dispose() {
	if c.disposed.Swap(true) {
		return
	}
	c.logger.Debug().Msg("context disposed")
}

func (c *sdkContext) require(action auth.Action, r auth.Resource) error {
	if c.disposed.Load() {
		return ErrContextDisposed
	}
	return c.claims.Require(action, r)
}
