package signal

import (
	"context"
	"encoding/json"
)

func (cl *client) handlePing() {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	cl.sendJSON(resp)
}

func (cl *client) handleStart(ctx context.Context) {
	if err := cl.sess.Start(ctx); err != nil {
		cl.sendError("start_failed")
	}
}

type devicePayload struct {
	Type   string `json:"type"`
	Device string `json:"device"`
}

func (cl *client) decodeDevice(data []byte) (string, bool) {
	var p devicePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Device == "" {
		cl.logger.Error().Err(err).Msg("bad device payload")
		cl.sendError("bad_payload")
		return "", false
	}
	return p.Device, true
}

func (cl *client) handleSelectAudio(ctx context.Context, data []byte) {
	id, ok := cl.decodeDevice(data)
	if !ok {
		return
	}
	if err := cl.sess.SelectAudioInput(ctx, id); err != nil {
		cl.sendError("select_failed")
	}
}

func (cl *client) handleSelectVideo(ctx context.Context, data []byte) {
	id, ok := cl.decodeDevice(data)
	if !ok {
		return
	}
	if err := cl.sess.SelectVideoInput(ctx, id); err != nil {
		cl.sendError("select_failed")
	}
}

func (cl *client) handleMute(ctx context.Context) {
	if err := cl.sess.ToggleMute(ctx); err != nil {
		cl.sendError("mute_failed")
	}
}

func (cl *client) handleShareScreen(ctx context.Context) {
	if err := cl.sess.ShareScreen(ctx); err != nil {
		cl.sendError("share_screen_failed")
	}
}

func (cl *client) handleToggleEncoding(ctx context.Context, data []byte) {
	var p struct {
		Type    string `json:"type"`
		Element string `json:"element"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		cl.logger.Error().Err(err).Msg("bad toggle payload")
		cl.sendError("bad_payload")
		return
	}
	if err := cl.sess.ToggleEncoding(ctx, p.Element); err != nil {
		cl.sendError("toggle_encoding_failed")
	}
}
