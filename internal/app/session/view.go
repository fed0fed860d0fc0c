package session

import (
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

// Fixed element ids of the demo page.
const (
	ElementLocalVideo      = "local-video"
	ElementButtonArea      = "button-area"
	ElementRemoteMediaArea = "remote-media-area"
	ElementChannelName     = "channel-name"
	ElementMyID            = "my-id"
	ElementJoin            = "join"
	ElementMute            = "mute"
	ElementShareScreen     = "shareScreen"
	ElementLeave           = "leave"
	ElementAudioSource     = "audioSource"
	ElementVideoSource     = "videoSource"
)

const (
	LabelMute   = "mute"
	LabelUnmute = "unmute"
)

// MediaElement describes one audio or video element inserted into the
// remote media area.
type MediaElement struct {
	ID          string
	Kind        domain.ContentType
	Stream      core.RemoteStream
	Controls    bool
	Autoplay    bool
	PlaysInline bool
}

// View is the page the session drives. Implementations must not block.
type View interface {
	PopulateDevices(audio, video []domain.Device)
	ShowLocalVideo(stream core.LocalStream)
	SetMemberID(id domain.MemberID)
	SetMuteLabel(label string)
	AddSubscribeControl(pub domain.PublicationID, label string)
	// CreateMediaSink prepares the sink a subscribed stream is attached to.
	CreateMediaSink(el MediaElement) (core.Sink, error)
	AppendMedia(el MediaElement)
	Left()
}

// elementFor maps a subscribed stream to the element that plays it. Kinds
// other than audio and video get no element.
func elementFor(stream core.RemoteStream) (MediaElement, bool) {
	switch stream.Track().Kind() {
	case domain.ContentVideo:
		return MediaElement{
			ID:          stream.ID(),
			Kind:        domain.ContentVideo,
			Stream:      stream,
			Autoplay:    true,
			PlaysInline: true,
		}, true
	case domain.ContentAudio:
		return MediaElement{
			ID:       stream.ID(),
			Kind:     domain.ContentAudio,
			Stream:   stream,
			Controls: true,
			Autoplay: true,
		}, true
	default:
		return MediaElement{}, false
	}
}
