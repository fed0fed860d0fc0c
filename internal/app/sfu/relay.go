package sfu

import (
	"context"
	"errors"
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// Relay fans the RTP of one published stream out to every subscriber of the
// publication and of the relay publications forwarding it. Each subscriber
// receives the layer matching its preferred encoding.
type Relay struct {
	mu        sync.RWMutex
	stream    core.LocalStream
	layers    map[string]core.Source
	fallback  string
	outTracks map[domain.SubscriptionID]*OutTrack
	muted     bool
	stopped   bool

	cancel context.CancelFunc
	logger zerolog.Logger
}

func NewRelay(logger zerolog.Logger) *Relay {
	return &Relay{
		outTracks: make(map[domain.SubscriptionID]*OutTrack),
		logger:    logger,
	}
}

// SetSource replaces the stream feeding the relay and returns the previous
// one. order lists encoding ids from most to least preferred and decides the
// layer sent to subscribers whose preference the stream does not carry.
func (r *Relay) SetSource(stream core.LocalStream, order []string) core.LocalStream {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	old := r.stream
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.stream = stream
	r.layers = nil
	if stream != nil {
		r.layers = maps.Clone(stream.Layers())
	}
	r.fallback = pickFallback(r.layers, order)
	layers := maps.Clone(r.layers)
	r.mu.Unlock()

	for rid, src := range layers {
		if src == nil {
			continue
		}
		go r.loop(ctx, rid, src)
	}
	r.requestKeyframe()
	return old
}

func pickFallback(layers map[string]core.Source, order []string) string {
	for _, id := range order {
		if _, ok := layers[id]; ok {
			return id
		}
	}
	if _, ok := layers[""]; ok {
		return ""
	}
	keys := slices.Sorted(maps.Keys(layers))
	if len(keys) == 0 {
		return ""
	}
	return keys[len(keys)-1]
}

// loop reads RTP packets from one layer and forwards them to the OutTracks
// that selected it. A replaced source keeps blocking in ReadRTP until its
// producer stops, so ctx is checked after every read.
func (r *Relay) loop(ctx context.Context, rid string, src core.Source) {
	logger := r.logger.With().Str("rid", rid).Logger()
	for {
		pkt, _, err := src.ReadRTP()
		if ctx.Err() != nil {
			logger.Debug().Msg("relay source replaced, loop done")
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("relay source ended")
			} else {
				logger.Error().Err(err).Msg("relay read RTP error, stopping")
			}
			return
		}
		r.forward(rid, pkt)
	}
}

type outTarget struct {
	id domain.SubscriptionID
	ot *OutTrack
}

func (r *Relay) forward(rid string, pkt *rtp.Packet) {
	r.mu.RLock()
	targets := make([]outTarget, 0, len(r.outTracks))
	for id, ot := range r.outTracks {
		if r.layerForLocked(ot.Preferred()) == rid {
			targets = append(targets, outTarget{id: id, ot: ot})
		}
	}
	r.mu.RUnlock()

	dirty := make([]domain.SubscriptionID, 0)
	for _, t := range targets {
		switch t.ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, t.id)
		case TrackStateMuted:
		case TrackStateOk:
			if err := t.ot.Sink.WriteRTP(pkt); err != nil {
				r.logger.Error().
					Err(err).
					Str("subscription", string(t.id)).
					Msg("relay write RTP error, marking outtrack as delete")
				t.ot.MarkDelete()
				dirty = append(dirty, t.id)
			}
		}
	}

	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) layerForLocked(preferred string) string {
	if _, ok := r.layers[preferred]; ok {
		return preferred
	}
	return r.fallback
}

// LayerFor reports which layer a subscriber preferring id currently receives.
func (r *Relay) LayerFor(preferred string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.layerForLocked(preferred)
}

func (r *Relay) cleanupDeleted(dirty []domain.SubscriptionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *Relay) AddOutTrack(id domain.SubscriptionID, ot *OutTrack) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		ot.MarkDelete()
		return
	}
	if r.muted {
		ot.MarkMuted()
	}
	if old, ok := r.outTracks[id]; ok {
		old.MarkDelete()
	}
	r.outTracks[id] = ot
	r.mu.Unlock()
	r.requestKeyframe()
}

func (r *Relay) RemoveOutTrack(id domain.SubscriptionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ot, ok := r.outTracks[id]; ok {
		ot.MarkDelete()
		delete(r.outTracks, id)
	}
}

func (r *Relay) SetPreferred(id domain.SubscriptionID, encoding string) {
	r.mu.RLock()
	ot, ok := r.outTracks[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	ot.SetPreferred(encoding)
	r.requestKeyframe()
}

func (r *Relay) SetMuted(muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muted = muted
	for _, ot := range r.outTracks {
		if muted {
			ot.MarkMuted()
		} else {
			ot.MarkOk()
		}
	}
}

// Stop ends every read loop and deletes all out tracks. It returns the
// stream that was feeding the relay.
func (r *Relay) Stop() core.LocalStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
	clear(r.outTracks)
	r.stopped = true
	stream := r.stream
	r.stream = nil
	return stream
}

func (r *Relay) OutTrackCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}

func (r *Relay) requestKeyframe() {
	r.mu.RLock()
	kr, ok := r.stream.(core.KeyframeRequester)
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := kr.RequestKeyframe(); err != nil {
		r.logger.Debug().Err(err).Msg("keyframe request failed")
	}
}
