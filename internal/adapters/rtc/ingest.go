package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/media"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DeviceDescription is what the page tells us about one of its capture
// streams, keyed by the MediaStream id.
type DeviceDescription struct {
	Label string            `json:"label"`
	Kind  domain.DeviceKind `json:"kind"`
}

// Ingest registers the browser's capture tracks as devices in a media pool.
type Ingest struct {
	pool   *media.Pool
	mc     core.MediaConnection
	logger zerolog.Logger

	mu        sync.Mutex
	described map[string]DeviceDescription
	ssrcs     map[string][]webrtc.SSRC
}

func NewIngest(pool *media.Pool, mc core.MediaConnection, owner string) *Ingest {
	return &Ingest{
		pool:      pool,
		mc:        mc,
		logger:    log.With().Str("module", "webrtc.ingest").Str("owner", owner).Logger(),
		described: make(map[string]DeviceDescription),
		ssrcs:     make(map[string][]webrtc.SSRC),
	}
}

// Describe records labels and kinds for stream ids of the next offer.
func (in *Ingest) Describe(devices map[string]DeviceDescription) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for id, d := range devices {
		in.described[id] = d
	}
}

// deviceFor resolves the pool device of a remote track. Undescribed streams
// fall back to the track kind and the track id as label.
func deviceFor(streamID, trackID string, kind webrtc.RTPCodecType, described map[string]DeviceDescription) (domain.Device, bool) {
	d := domain.Device{ID: streamID, Label: trackID}
	desc, ok := described[streamID]
	if ok && desc.Label != "" {
		d.Label = desc.Label
	}
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		d.Kind = domain.DeviceAudioInput
	case webrtc.RTPCodecTypeVideo:
		d.Kind = domain.DeviceVideoInput
		if ok && desc.Kind == domain.DeviceDisplay {
			d.Kind = domain.DeviceDisplay
		}
	default:
		return domain.Device{}, false
	}
	return d, true
}

func (in *Ingest) HandleTrack(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	in.mu.Lock()
	dev, ok := deviceFor(track.StreamID(), track.ID(), track.Kind(), in.described)
	if ok && track.Kind() == webrtc.RTPCodecTypeVideo {
		in.ssrcs[dev.ID] = append(in.ssrcs[dev.ID], track.SSRC())
	}
	in.mu.Unlock()
	if !ok {
		in.logger.Warn().Str("stream_id", track.StreamID()).Msg("unsupported track kind")
		return
	}

	var keyframe func() error
	if dev.Kind != domain.DeviceAudioInput {
		keyframe = func() error { return in.requestKeyframe(dev.ID) }
	}
	in.pool.Register(dev, track.RID(), track, keyframe)

	go func() {
		<-ctx.Done()
		in.pool.Remove(dev.ID)
		in.mu.Lock()
		delete(in.ssrcs, dev.ID)
		in.mu.Unlock()
	}()
}

// requestKeyframe sends a PLI for every layer of the device.
func (in *Ingest) requestKeyframe(deviceID string) error {
	in.mu.Lock()
	ssrcs := append([]webrtc.SSRC(nil), in.ssrcs[deviceID]...)
	in.mu.Unlock()
	if len(ssrcs) == 0 {
		return nil
	}
	pkts := make([]rtcp.Packet, 0, len(ssrcs))
	for _, ssrc := range ssrcs {
		pkts = append(pkts, &rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)})
	}
	return in.mc.WriteRTCP(pkts)
}
