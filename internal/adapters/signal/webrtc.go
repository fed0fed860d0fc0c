package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Relay/internal/adapters/rtc"
	"github.com/pion/webrtc/v4"
)

func (cl *client) sendCandidate(ci webrtc.ICECandidateInit) {
	resp := struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid,omitempty"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
	}{
		Type:      "candidate",
		Candidate: ci.Candidate,
	}
	if ci.SDPMid != nil {
		resp.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		resp.SDPMLineIndex = *ci.SDPMLineIndex
	}
	cl.sendJSON(resp)
}

// connect creates the peer connection on the first offer.
func (cl *client) connect(ctx context.Context) (*rtc.Ingest, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.ingest != nil {
		return cl.ingest, nil
	}

	wc, err := rtc.NewWebRTCConnection(cl.ctl.deps.API, cl.ctl.deps.ICE, string(cl.sid))
	if err != nil {
		return nil, err
	}
	ingest := rtc.NewIngest(cl.pool, wc, string(cl.sid))
	wc.OnICECandidate(cl.sendCandidate)
	wc.OnTrack(ingest.HandleTrack)
	wc.OnClosed(func() {
		cl.logger.Info().Msg("media connection closed")
	})
	if err := wc.Start(ctx); err != nil {
		wc.Close()
		return nil, err
	}
	cl.mc, cl.ingest = wc, ingest
	return ingest, nil
}

func (cl *client) handleOffer(ctx context.Context, data []byte) {
	type offerPayload struct {
		Type    string                           `json:"type"`
		SDP     string                           `json:"sdp"`
		Devices map[string]rtc.DeviceDescription `json:"devices,omitempty"`
	}
	var p offerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		cl.logger.Error().Err(err).Msg("bad offer payload")
		return
	}

	ingest, err := cl.connect(ctx)
	if err != nil {
		cl.logger.Error().Err(err).Msg("webrtc new pc")
		cl.sendError("webrtc_failed")
		return
	}
	ingest.Describe(p.Devices)

	answer, err := cl.mediaConn().ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	})
	if err != nil {
		cl.logger.Error().Err(err).Msg("webrtc apply offer")
		cl.sendError("webrtc_failed")
		return
	}

	cl.sendJSON(map[string]string{
		"type": "answer",
		"sdp":  answer.SDP,
	})
	cl.flushOffer(cl.mediaConn())
}

func (cl *client) handleAnswer(data []byte) {
	var p struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		cl.logger.Error().Err(err).Msg("bad answer payload")
		return
	}
	mc := cl.mediaConn()
	if mc == nil {
		cl.logger.Warn().Msg("answer: no media connection")
		return
	}
	if err := mc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		cl.logger.Error().Err(err).Msg("webrtc apply answer")
		return
	}
	cl.flushOffer(mc)
}

func (cl *client) handleCandidate(data []byte) {
	type candidatePayload struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		cl.logger.Error().Err(err).Msg("bad candidate payload")
		return
	}

	cand := webrtc.ICECandidateInit{
		Candidate: p.Candidate,
	}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex

	mc := cl.mediaConn()
	if mc == nil {
		cl.logger.Warn().Msg("candidate: no media connection")
		return
	}
	if err := mc.AddICECandidate(cand); err != nil {
		cl.logger.Error().Err(err).Msg("add ice candidate")
	}
}
