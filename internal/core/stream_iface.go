package core

import (
	"context"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// Source is satisfied by *webrtc.TrackRemote.
type Source interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Sink is satisfied by *webrtc.TrackLocalStaticRTP.
type Sink interface {
	WriteRTP(p *rtp.Packet) error
}

// KeyframeRequester is optionally implemented by local streams whose
// producer can be asked for a fresh keyframe.
type KeyframeRequester interface {
	RequestKeyframe() error
}

type Track interface {
	ID() string
	Kind() domain.ContentType
}

type LocalStream interface {
	ID() string
	ContentType() domain.ContentType
	Track() Track
	// Layers maps an encoding id to its RTP source; "" is a single-layer stream.
	Layers() map[string]Source
	Release()
}

type RemoteStream interface {
	ID() string
	Track() Track
	// Attach starts delivering the subscribed media to sink.
	Attach(sink Sink) error
	Detach()
}

type MicrophoneOptions struct {
	DeviceID string
}

type CameraOptions struct {
	DeviceID              string
	Width                 int
	Height                int
	FrameRate             int
	StopTrackWhenDisabled bool
}

type DisplayStreams struct {
	Video LocalStream
	Audio LocalStream
}

type StreamFactory interface {
	EnumerateDevices(ctx context.Context) ([]domain.Device, error)
	EnumerateInputAudioDevices(ctx context.Context) ([]domain.Device, error)
	EnumerateInputVideoDevices(ctx context.Context) ([]domain.Device, error)
	CreateMicrophoneAudioStream(ctx context.Context, opts MicrophoneOptions) (LocalStream, error)
	CreateCameraVideoStream(ctx context.Context, opts CameraOptions) (LocalStream, error)
	CreateDisplayStreams(ctx context.Context) (DisplayStreams, error)
}
