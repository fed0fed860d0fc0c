package sfu

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/auth"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

const (
	testApp    = "app-test"
	testSecret = "secret-test"
)

// chanSource counts ReadRTP calls so push can tell when the relay loop has
// finished forwarding a packet and come back for the next one.
type chanSource struct {
	pkts    chan *rtp.Packet
	sent    atomic.Int64
	entered atomic.Int64
}

func newSource() *chanSource {
	return &chanSource{pkts: make(chan *rtp.Packet)}
}

func (s *chanSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	s.entered.Add(1)
	p, ok := <-s.pkts
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

type fakeTrack struct {
	id   string
	kind domain.ContentType
}

func (t fakeTrack) ID() string               { return t.id }
func (t fakeTrack) Kind() domain.ContentType { return t.kind }

type fakeStream struct {
	id        string
	kind      domain.ContentType
	layers    map[string]core.Source
	released  atomic.Bool
	keyframes atomic.Int32
}

func newStream(id string, kind domain.ContentType, layers map[string]core.Source) *fakeStream {
	return &fakeStream{id: id, kind: kind, layers: layers}
}

func (s *fakeStream) ID() string                        { return s.id }
func (s *fakeStream) ContentType() domain.ContentType   { return s.kind }
func (s *fakeStream) Track() core.Track                 { return fakeTrack{id: s.id + "-track", kind: s.kind} }
func (s *fakeStream) Layers() map[string]core.Source    { return s.layers }
func (s *fakeStream) Release()                          { s.released.Store(true) }
func (s *fakeStream) RequestKeyframe() error            { s.keyframes.Add(1); return nil }

type sinkRecorder struct {
	mu   sync.Mutex
	seqs []uint16
}

func (s *sinkRecorder) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs = append(s.seqs, p.SequenceNumber)
	return nil
}

func (s *sinkRecorder) got() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.seqs...)
}

func pkt(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: seq}}
}

// push hands each packet to the relay loop and returns once the loop has
// forwarded it, which is when it calls ReadRTP again.
func push(t *testing.T, src *chanSource, seqs ...uint16) {
	t.Helper()
	for _, s := range seqs {
		select {
		case src.pkts <- pkt(s):
		case <-time.After(2 * time.Second):
			t.Fatalf("relay loop did not read packet %d", s)
		}
		n := src.sent.Add(1)
		require.Eventually(t, func() bool { return src.entered.Load() > n },
			2*time.Second, time.Millisecond, "relay loop did not forward packet %d", s)
	}
}

var simulcast = domain.Encodings{
	{ID: domain.EncodingLow, ScaleResolutionDownBy: 1.5, MaxBitrate: 1_000_000},
	{ID: domain.EncodingHigh, ScaleResolutionDownBy: 1, MaxBitrate: 3_000_000},
}

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	tok, err := auth.NewIssuer(testApp, testSecret, time.Hour).Issue()
	require.NoError(t, err)
	return NewService(auth.NewVerifier(testApp, testSecret)), tok
}

type peer struct {
	ctx core.Context
	ch  core.Channel
	me  core.LocalMember
	bot core.Bot
}

func joinPeer(t *testing.T, svc *Service, token string, channel domain.ChannelName) *peer {
	t.Helper()
	bg := context.Background()
	c, err := svc.CreateContext(bg, token, core.ContextOptions{})
	require.NoError(t, err)
	plugin := NewBotPlugin()
	c.RegisterPlugin(plugin)
	ch, err := c.FindOrCreateChannel(bg, channel)
	require.NoError(t, err)
	bot, err := plugin.CreateBot(bg, ch)
	require.NoError(t, err)
	me, err := ch.Join(bg, core.JoinOptions{})
	require.NoError(t, err)
	return &peer{ctx: c, ch: ch, me: me, bot: bot}
}
