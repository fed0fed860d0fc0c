package sfu

import (
	"sync/atomic"

	"github.com/dkeye/Relay/internal/core"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// OutTrack represents a single outgoing track to a subscriber.
type OutTrack struct {
	Sink  core.Sink
	state atomic.Int32 // Zero by default (TrackStateOk)
	// preferred encoding id; the relay maps it onto the layers it has.
	preferred atomic.Value
}

func NewOutTrack(sink core.Sink, preferred string) *OutTrack {
	ot := &OutTrack{Sink: sink}
	ot.preferred.Store(preferred)
	return ot
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}

func (ot *OutTrack) Preferred() string {
	return ot.preferred.Load().(string)
}

func (ot *OutTrack) SetPreferred(id string) {
	ot.preferred.Store(id)
}
