package signal

import (
	"errors"

	"github.com/dkeye/Relay/internal/app/session"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/media"
	"github.com/pion/webrtc/v4"
)

var ErrNoMediaConnection = errors.New("no media connection")

var _ session.View = (*client)(nil)

// Page events. Target is the element id the event updates.

type deviceOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type devicesEvent struct {
	Type  string         `json:"type"`
	Audio []deviceOption `json:"audio"`
	Video []deviceOption `json:"video"`
	// AudioTarget and VideoTarget name the two selectors.
	AudioTarget string `json:"audio_target"`
	VideoTarget string `json:"video_target"`
}

type localVideoEvent struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Stream string `json:"stream"`
}

type memberIDEvent struct {
	Type   string          `json:"type"`
	Target string          `json:"target"`
	ID     domain.MemberID `json:"id"`
}

type muteLabelEvent struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

type subscribeControlEvent struct {
	Type        string               `json:"type"`
	Target      string               `json:"target"`
	Publication domain.PublicationID `json:"publication"`
	Label       string               `json:"label"`
}

type mediaEvent struct {
	Type        string             `json:"type"`
	Target      string             `json:"target"`
	ID          string             `json:"id"`
	Kind        domain.ContentType `json:"kind"`
	Controls    bool               `json:"controls"`
	Autoplay    bool               `json:"autoplay"`
	PlaysInline bool               `json:"plays_inline"`
}

func options(ds []domain.Device) []deviceOption {
	out := make([]deviceOption, 0, len(ds))
	for _, d := range ds {
		out = append(out, deviceOption{ID: d.ID, Label: d.Label})
	}
	return out
}

func (cl *client) PopulateDevices(audio, video []domain.Device) {
	cl.sendJSON(devicesEvent{
		Type:        "devices",
		Audio:       options(audio),
		Video:       options(video),
		AudioTarget: session.ElementAudioSource,
		VideoTarget: session.ElementVideoSource,
	})
}

// ShowLocalVideo points the preview at the page's own capture stream.
func (cl *client) ShowLocalVideo(stream core.LocalStream) {
	id := stream.ID()
	if s, ok := stream.(*media.Stream); ok {
		id = s.DeviceID()
	}
	cl.sendJSON(localVideoEvent{Type: "local_video", Target: session.ElementLocalVideo, Stream: id})
}

func (cl *client) SetMemberID(id domain.MemberID) {
	cl.sendJSON(memberIDEvent{Type: "member_id", Target: session.ElementMyID, ID: id})
}

func (cl *client) SetMuteLabel(label string) {
	cl.sendJSON(muteLabelEvent{Type: "mute_label", Target: session.ElementMute, Label: label})
}

func (cl *client) AddSubscribeControl(pub domain.PublicationID, label string) {
	cl.sendJSON(subscribeControlEvent{
		Type:        "subscribe_control",
		Target:      session.ElementButtonArea,
		Publication: pub,
		Label:       label,
	})
}

func codecFor(kind domain.ContentType) (webrtc.RTPCodecCapability, bool) {
	switch kind {
	case domain.ContentVideo:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, true
	case domain.ContentAudio:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, true
	default:
		return webrtc.RTPCodecCapability{}, false
	}
}

// CreateMediaSink adds a send track to the peer connection. The element id is
// used as the stream id so the page can match the incoming track.
func (cl *client) CreateMediaSink(el session.MediaElement) (core.Sink, error) {
	mc := cl.mediaConn()
	if mc == nil {
		return nil, ErrNoMediaConnection
	}
	codec, ok := codecFor(el.Kind)
	if !ok {
		return nil, errors.New("unsupported element kind " + string(el.Kind))
	}
	track, err := webrtc.NewTrackLocalStaticRTP(codec, el.ID+"-"+string(el.Kind), el.ID)
	if err != nil {
		return nil, err
	}
	if _, err := mc.AddLocalTrack(track); err != nil {
		return nil, err
	}
	return track, nil
}

// AppendMedia announces the element, then renegotiates so the new track
// reaches the page.
func (cl *client) AppendMedia(el session.MediaElement) {
	cl.sendJSON(mediaEvent{
		Type:        "media",
		Target:      session.ElementRemoteMediaArea,
		ID:          el.ID,
		Kind:        el.Kind,
		Controls:    el.Controls,
		Autoplay:    el.Autoplay,
		PlaysInline: el.PlaysInline,
	})
	mc := cl.mediaConn()
	if mc == nil {
		return
	}
	offer, err := mc.CreateAndSetOffer()
	if err != nil {
		cl.logger.Error().Err(err).Msg("renegotiate")
		return
	}
	cl.sendOffer(offer)
}

// sendOffer forwards a renegotiation offer; nil means it was deferred.
func (cl *client) sendOffer(offer *webrtc.SessionDescription) {
	if offer == nil {
		return
	}
	cl.sendJSON(map[string]string{
		"type": "offer",
		"sdp":  offer.SDP,
	})
}

// flushOffer sends the offer deferred while another exchange was in flight.
func (cl *client) flushOffer(mc core.MediaConnection) {
	offer, err := mc.PendingOffer()
	if err != nil {
		cl.logger.Error().Err(err).Msg("renegotiate")
		return
	}
	cl.sendOffer(offer)
}

func (cl *client) Left() {
	cl.sendJSON(map[string]string{"type": "left"})
}
