// Package media turns capture tracks offered by a browser into local
// streams the demo workflow can publish.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrNoDisplay      = errors.New("no display capture offered")
)

type device struct {
	info     domain.Device
	layers   map[string]*tee
	keyframe func() error
}

// Pool implements core.StreamFactory over registered capture devices.
type Pool struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	devices map[string]*device
	order   []string
	display string
}

func NewPool(owner string) *Pool {
	return &Pool{
		logger:  log.With().Str("module", "media.pool").Str("owner", owner).Logger(),
		devices: make(map[string]*device),
	}
}

// Register adds a capture layer for the device id, creating the device on
// first sight. rid is the simulcast layer id, "" for a single layer.
func (p *Pool) Register(info domain.Device, rid string, src core.Source, keyframe func() error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.devices[info.ID]
	if !ok {
		d = &device{info: info, layers: make(map[string]*tee)}
		p.devices[info.ID] = d
		p.order = append(p.order, info.ID)
	}
	if keyframe != nil {
		d.keyframe = keyframe
	}
	d.layers[rid] = newTee(src, p.logger.With().Str("device", info.ID).Str("rid", rid).Logger())
	if info.Kind == domain.DeviceDisplay {
		p.display = info.ID
	}
	p.logger.Info().Str("device", info.ID).Str("kind", string(info.Kind)).Str("rid", rid).Msg("capture registered")
}

func (p *Pool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.devices[id]; !ok {
		return
	}
	delete(p.devices, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if p.display == id {
		p.display = ""
	}
}

func (p *Pool) EnumerateDevices(_ context.Context) ([]domain.Device, error) {
	return p.list(""), nil
}

func (p *Pool) EnumerateInputAudioDevices(_ context.Context) ([]domain.Device, error) {
	return p.list(domain.DeviceAudioInput), nil
}

func (p *Pool) EnumerateInputVideoDevices(_ context.Context) ([]domain.Device, error) {
	return p.list(domain.DeviceVideoInput), nil
}

func (p *Pool) list(kind domain.DeviceKind) []domain.Device {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Device, 0, len(p.order))
	for _, id := range p.order {
		d := p.devices[id]
		if kind == "" || d.info.Kind == kind {
			out = append(out, d.info)
		}
	}
	return out
}

func (p *Pool) lookup(id string, kind domain.DeviceKind) (*device, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.devices[id]
	if !ok || d.info.Kind != kind {
		return nil, fmt.Errorf("%w: %s %q", ErrDeviceNotFound, kind, id)
	}
	return d, nil
}

func (p *Pool) CreateMicrophoneAudioStream(_ context.Context, opts core.MicrophoneOptions) (core.LocalStream, error) {
	d, err := p.lookup(opts.DeviceID, domain.DeviceAudioInput)
	if err != nil {
		return nil, err
	}
	return newStream(d, domain.ContentAudio), nil
}

func (p *Pool) CreateCameraVideoStream(_ context.Context, opts core.CameraOptions) (core.LocalStream, error) {
	d, err := p.lookup(opts.DeviceID, domain.DeviceVideoInput)
	if err != nil {
		return nil, err
	}
	s := newStream(d, domain.ContentVideo)
	s.Settings = opts
	return s, nil
}

func (p *Pool) CreateDisplayStreams(_ context.Context) (core.DisplayStreams, error) {
	p.mu.RLock()
	id := p.display
	p.mu.RUnlock()
	if id == "" {
		return core.DisplayStreams{}, ErrNoDisplay
	}
	d, err := p.lookup(id, domain.DeviceDisplay)
	if err != nil {
		return core.DisplayStreams{}, err
	}
	return core.DisplayStreams{Video: newStream(d, domain.ContentVideo)}, nil
}
