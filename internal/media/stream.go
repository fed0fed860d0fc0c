package media

import (
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/google/uuid"
)

type track struct {
	id   string
	kind domain.ContentType
}

func (t track) ID() string               { return t.id }
func (t track) Kind() domain.ContentType { return t.kind }

// Stream is a local capture stream handed out by the Pool.
type Stream struct {
	id       string
	kind     domain.ContentType
	track    track
	deviceID string
	// Settings holds the camera constraints the stream was requested with.
	Settings core.CameraOptions

	keyframe func() error

	mu       sync.Mutex
	outs     map[string]*teeOut
	released bool
}

func newStream(d *device, kind domain.ContentType) *Stream {
	s := &Stream{
		id:       uuid.NewString(),
		kind:     kind,
		track:    track{id: d.info.ID + "/" + string(kind), kind: kind},
		deviceID: d.info.ID,
		keyframe: d.keyframe,
		outs:     make(map[string]*teeOut, len(d.layers)),
	}
	for rid, t := range d.layers {
		s.outs[rid] = t.attach()
	}
	return s
}

func (s *Stream) ID() string                      { return s.id }
func (s *Stream) ContentType() domain.ContentType { return s.kind }
func (s *Stream) Track() core.Track               { return s.track }
func (s *Stream) DeviceID() string                { return s.deviceID }

func (s *Stream) Layers() map[string]core.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.Source, len(s.outs))
	for rid, o := range s.outs {
		out[rid] = o
	}
	return out
}

func (s *Stream) RequestKeyframe() error {
	if s.keyframe == nil {
		return nil
	}
	return s.keyframe()
}

// Release stops delivering capture packets to this stream.
func (s *Stream) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	for _, o := range s.outs {
		o.owner.detach(o)
	}
}

func (s *Stream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
