package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Relay/internal/domain"
)

func (cl *client) handleJoin(ctx context.Context, data []byte) {
	type joinPayload struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		cl.logger.Error().Err(err).Msg("bad join payload")
		cl.sendError("bad_payload")
		return
	}
	name := domain.ChannelName(p.Channel)
	if name == "" {
		return
	}
	if l := cl.ctl.deps.Limiter; l != nil && !l.Allow(cl.token) {
		cl.logger.Warn().Str("channel", p.Channel).Msg("join rate limited")
		cl.sendError("rate_limited")
		return
	}

	cl.logger.Info().Str("channel", p.Channel).Msg("join")
	if err := cl.sess.Join(ctx, name); err != nil {
		cl.sendError("join_failed")
		return
	}
	if r := cl.ctl.deps.Registry; r != nil {
		r.UpdateChannel(cl.sid, name)
	}
}

// handleLeave leaves the channel; the connection stays open.
func (cl *client) handleLeave(ctx context.Context) {
	cl.logger.Info().Msg("leave")
	if err := cl.sess.Leave(ctx); err != nil {
		cl.sendError("leave_failed")
	}
	if r := cl.ctl.deps.Registry; r != nil {
		r.RemoveChannel(cl.sid)
	}
}

func (cl *client) handleSubscribe(ctx context.Context, data []byte) {
	var p struct {
		Type        string `json:"type"`
		Publication string `json:"publication"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		cl.logger.Error().Err(err).Msg("bad subscribe payload")
		cl.sendError("bad_payload")
		return
	}
	if err := cl.sess.Subscribe(ctx, domain.PublicationID(p.Publication)); err != nil {
		cl.sendError("subscribe_failed")
	}
}
