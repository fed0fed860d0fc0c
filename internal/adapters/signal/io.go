package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ping := time.NewTicker(ctl.deps.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cl *client, c *WsSignalConn) {
	pongWait := ctl.deps.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	defer func() {
		cl.logger.Info().Msg("readPump closing")
		cl.close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.logger.Error().Err(err).Msg("readPump read error")
			}
			return
		}
		cl.handleSignal(ctx, data)
	}
}

type envelope struct {
	Type string `json:"type"`
}

func (cl *client) handleSignal(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		cl.logger.Error().Err(err).Msg("bad json")
		return
	}

	switch env.Type {
	case "ping":
		cl.handlePing()
	case "whoami":
		cl.handleWhoAmI()
	case "start":
		cl.handleStart(ctx)
	case "offer":
		cl.handleOffer(ctx, data)
	case "answer":
		cl.handleAnswer(data)
	case "candidate":
		cl.handleCandidate(data)
	case "select_audio":
		cl.handleSelectAudio(ctx, data)
	case "select_video":
		cl.handleSelectVideo(ctx, data)
	case "join":
		cl.handleJoin(ctx, data)
	case "leave":
		cl.handleLeave(ctx)
	case "mute":
		cl.handleMute(ctx)
	case "share_screen":
		cl.handleShareScreen(ctx)
	case "subscribe":
		cl.handleSubscribe(ctx, data)
	case "toggle_encoding":
		cl.handleToggleEncoding(ctx, data)
	default:
		cl.logger.Warn().Str("type", env.Type).Msg("unknown signal")
	}
}

func (cl *client) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		cl.logger.Error().Err(err).Msg("sendJSON marshal")
		return
	}
	err = cl.conn.TrySend(core.Frame(b))
	if !errors.Is(err, ErrBackpressure) {
		return
	}
	switch cl.ctl.deps.Policy.OnBackPressure(cl.sid) {
	case app.KickMember:
		cl.logger.Warn().Msg("send queue full, kicking")
		cl.cancel()
	case app.DropFrame, app.NoAction:
		cl.logger.Debug().Msg("send queue full, event dropped")
	}
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (cl *client) sendError(code string) {
	cl.sendJSON(errorEvent{Type: "error", Error: code})
}
