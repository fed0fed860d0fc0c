package media

import (
	"errors"
	"io"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

const teeQueue = 256

var ErrBackpressure = errors.New("backpressure")

// tee copies one capture source to every stream created from the device,
// so two publications of the same microphone do not split its packets.
type tee struct {
	src    core.Source
	logger zerolog.Logger

	mu      sync.Mutex
	outs    map[*teeOut]struct{}
	started bool
	done    bool
}

func newTee(src core.Source, logger zerolog.Logger) *tee {
	return &tee{src: src, logger: logger, outs: make(map[*teeOut]struct{})}
}

func (t *tee) attach() *teeOut {
	o := &teeOut{ch: make(chan *rtp.Packet, teeQueue), owner: t}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		close(o.ch)
		o.closed = true
		return o
	}
	t.outs[o] = struct{}{}
	if !t.started {
		t.started = true
		go t.run()
	}
	return o
}

func (t *tee) detach(o *teeOut) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.outs[o]; !ok {
		return
	}
	delete(t.outs, o)
	o.close()
}

func (t *tee) run() {
	for {
		pkt, _, err := t.src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Warn().Err(err).Msg("capture read error")
			}
			t.finish()
			return
		}
		t.mu.Lock()
		for o := range t.outs {
			if err := o.trySend(pkt.Clone()); err != nil {
				t.logger.Debug().Err(err).Msg("dropping packet for slow stream")
			}
		}
		t.mu.Unlock()
	}
}

func (t *tee) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	for o := range t.outs {
		o.close()
	}
	clear(t.outs)
}

// teeOut implements core.Source for one stream.
type teeOut struct {
	ch     chan *rtp.Packet
	owner  *tee
	closed bool // guarded by owner.mu
}

func (o *teeOut) trySend(p *rtp.Packet) error {
	select {
	case o.ch <- p:
		return nil
	default:
		return ErrBackpressure
	}
}

func (o *teeOut) close() {
	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}

func (o *teeOut) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-o.ch
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}
