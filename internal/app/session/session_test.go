package session

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/dkeye/Relay/internal/auth"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/media"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testApp    = "app-test"
	testSecret = "secret-test"
)

var bg = context.Background()

type chanSource chan *rtp.Packet

func (s chanSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-s
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

type recSink struct {
	mu   sync.Mutex
	seqs []uint16
}

func (s *recSink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs = append(s.seqs, p.SequenceNumber)
	return nil
}

func (s *recSink) got() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.seqs...)
}

type controlEvent struct {
	pub   domain.PublicationID
	label string
}

type fakeView struct {
	mu       sync.Mutex
	audio    []domain.Device
	video    []domain.Device
	local    core.LocalStream
	memberID domain.MemberID
	labels   []string
	controls []controlEvent
	elements []MediaElement
	sinks    map[string]*recSink
	left     int
}

func (v *fakeView) PopulateDevices(audio, video []domain.Device) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.audio, v.video = audio, video
}

func (v *fakeView) ShowLocalVideo(s core.LocalStream) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.local = s
}

func (v *fakeView) SetMemberID(id domain.MemberID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.memberID = id
}

func (v *fakeView) SetMuteLabel(label string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.labels = append(v.labels, label)
}

func (v *fakeView) AddSubscribeControl(pub domain.PublicationID, label string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.controls = append(v.controls, controlEvent{pub: pub, label: label})
}

func (v *fakeView) CreateMediaSink(el MediaElement) (core.Sink, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sinks == nil {
		v.sinks = make(map[string]*recSink)
	}
	sink := &recSink{}
	v.sinks[el.ID] = sink
	return sink, nil
}

func (v *fakeView) sink(id string) *recSink {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sinks[id]
}

func (v *fakeView) AppendMedia(el MediaElement) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.elements = append(v.elements, el)
}

func (v *fakeView) Left() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.left++
}

func (v *fakeView) snapshot() ([]controlEvent, []MediaElement, []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]controlEvent(nil), v.controls...),
		append([]MediaElement(nil), v.elements...),
		append([]string(nil), v.labels...)
}

type countingBackend struct {
	core.Backend
	calls atomic.Int32
}

func (b *countingBackend) CreateContext(ctx context.Context, token string, opts core.ContextOptions) (core.Context, error) {
	b.calls.Add(1)
	return b.Backend.CreateContext(ctx, token, opts)
}

type countingFactory struct {
	core.StreamFactory
	display atomic.Int32
}

func (f *countingFactory) CreateDisplayStreams(ctx context.Context) (core.DisplayStreams, error) {
	f.display.Add(1)
	return f.StreamFactory.CreateDisplayStreams(ctx)
}

type page struct {
	s       *Session
	view    *fakeView
	pool    *media.Pool
	backend *countingBackend
	streams *countingFactory
}

func newPage(t *testing.T, svc *sfu.Service, owner string, profile config.Profile) *page {
	t.Helper()
	pool := media.NewPool(owner)
	pool.Register(domain.Device{ID: owner + "-mic", Label: "Mic", Kind: domain.DeviceAudioInput}, "", make(chanSource), nil)
	pool.Register(domain.Device{ID: owner + "-cam", Label: "Cam", Kind: domain.DeviceVideoInput}, "", make(chanSource), nil)

	p := &page{
		view:    &fakeView{},
		pool:    pool,
		backend: &countingBackend{Backend: svc},
		streams: &countingFactory{StreamFactory: pool},
	}
	p.s = New(Options{
		Backend:     p.backend,
		Streams:     p.streams,
		Credentials: auth.NewIssuer(testApp, testSecret, time.Hour),
		View:        p.view,
		Profile:     profile,
		Plugin:      sfu.NewBotPlugin(),
		Owner:       owner,
	})
	require.NoError(t, p.s.Start(bg))
	return p
}

func dual() config.Profile   { return config.DefaultProfiles()[config.ProfileDual] }
func single() config.Profile { return config.DefaultProfiles()[config.ProfileSingle] }

func newService() *sfu.Service {
	return sfu.NewService(auth.NewVerifier(testApp, testSecret))
}

func TestStartPopulatesDevicesAndPreview(t *testing.T) {
	p := newPage(t, newService(), "a", dual())

	require.Len(t, p.view.audio, 1)
	require.Len(t, p.view.video, 1)
	assert.Equal(t, "a-mic", p.view.audio[0].ID)
	assert.Equal(t, "a-cam", p.view.video[0].ID)
	require.NotNil(t, p.view.local)
	cam := p.view.local.(*media.Stream)
	assert.Equal(t, 320, cam.Settings.Width)
	assert.Equal(t, 240, cam.Settings.Height)
	assert.Equal(t, 15, cam.Settings.FrameRate)
	assert.True(t, cam.Settings.StopTrackWhenDisabled)
}

func TestStartWithoutDevices(t *testing.T) {
	s := New(Options{Streams: media.NewPool("empty"), View: &fakeView{}})
	assert.ErrorIs(t, s.Start(bg), ErrNoAudioDevice)
}

func TestJoinEmptyChannelNameMakesNoCalls(t *testing.T) {
	p := newPage(t, newService(), "a", dual())

	require.NoError(t, p.s.Join(bg, ""))
	assert.Zero(t, p.backend.calls.Load())
	_, joined := p.s.MemberID()
	assert.False(t, joined)
}

func TestJoinDualPublishesMirroredLanes(t *testing.T) {
	svc := newService()
	p := newPage(t, svc, "a", dual())
	require.NoError(t, p.s.Join(bg, "room"))

	assert.Equal(t, int32(2), p.backend.calls.Load())
	id, ok := p.s.MemberID()
	require.True(t, ok)
	assert.Equal(t, id, p.view.memberID)

	info, ok := svc.Get("room")
	require.True(t, ok)
	// two members and two bots, each lane publishing audio and video plus relays
	assert.Equal(t, 4, info.MemberCount)
	assert.Equal(t, 8, info.Publications)

	controls, _, labels := p.view.snapshot()
	assert.Empty(t, controls, "own relayed publications must not be offered")
	assert.Equal(t, []string{LabelUnmute}, labels)
	assert.Equal(t, domain.PublicationDisabled, p.s.lanes[0].audioPub.State())
}

func TestJoinSingleProfile(t *testing.T) {
	svc := newService()
	p := newPage(t, svc, "a", single())
	require.NoError(t, p.s.Join(bg, "room"))

	info, _ := svc.Get("room")
	assert.Equal(t, 2, info.MemberCount)
	assert.Equal(t, 4, info.Publications)
	assert.Equal(t, domain.PublicationEnabled, p.s.lanes[0].audioPub.State())
	assert.Equal(t, LabelMute, p.s.MuteLabel())
}

func TestOffersOnlyForeignRelayedPublications(t *testing.T) {
	svc := newService()
	a := newPage(t, svc, "a", dual())
	require.NoError(t, a.s.Join(bg, "room"))
	b := newPage(t, svc, "b", single())
	require.NoError(t, b.s.Join(bg, "room"))

	bControls, _, _ := b.view.snapshot()
	aControls, _, _ := a.view.snapshot()
	assert.Len(t, bControls, 4, "a publishes audio and video from two lanes")
	assert.Len(t, aControls, 2, "b publishes audio and video from one lane")

	for _, c := range bControls {
		parts := strings.SplitN(c.label, ": ", 2)
		require.Len(t, parts, 2)
		assert.True(t, strings.HasPrefix(parts[1], "audio ") || strings.HasPrefix(parts[1], "video "), c.label)
	}
}

func TestSubscribeOncePerControl(t *testing.T) {
	svc := newService()
	a := newPage(t, svc, "a", single())
	require.NoError(t, a.s.Join(bg, "room"))
	b := newPage(t, svc, "b", single())
	require.NoError(t, b.s.Join(bg, "room"))

	controls, _, _ := b.view.snapshot()
	require.Len(t, controls, 2)
	for _, c := range controls {
		require.NoError(t, b.s.Subscribe(bg, c.pub))
		assert.ErrorIs(t, b.s.Subscribe(bg, c.pub), ErrControlUsed)
	}

	_, elements, _ := b.view.snapshot()
	require.Len(t, elements, 2)
	kinds := map[domain.ContentType]MediaElement{}
	for _, el := range elements {
		kinds[el.Kind] = el
	}
	video, audio := kinds[domain.ContentVideo], kinds[domain.ContentAudio]
	assert.True(t, video.PlaysInline)
	assert.True(t, video.Autoplay)
	assert.False(t, video.Controls)
	assert.True(t, audio.Controls)
	assert.True(t, audio.Autoplay)
	assert.Equal(t, video.Stream.ID(), video.ID)

	assert.ErrorIs(t, b.s.Subscribe(bg, "missing"), ErrUnknownControl)
}

func TestToggleEncodingAlternates(t *testing.T) {
	svc := newService()
	a := newPage(t, svc, "a", dual())
	require.NoError(t, a.s.Join(bg, "room"))
	b := newPage(t, svc, "b", single())
	require.NoError(t, b.s.Join(bg, "room"))

	controls, _, _ := b.view.snapshot()
	var videoPub domain.PublicationID
	for _, c := range controls {
		if strings.Contains(c.label, ": video ") {
			videoPub = c.pub
			break
		}
	}
	require.NotEmpty(t, videoPub)
	require.NoError(t, b.s.Subscribe(bg, videoPub))

	_, elements, _ := b.view.snapshot()
	require.Len(t, elements, 1)
	el := elements[0]

	sub := b.s.lanes[0].me.Subscriptions()[0]
	assert.Equal(t, domain.EncodingHigh, sub.PreferredEncoding())
	require.NoError(t, b.s.ToggleEncoding(bg, el.ID))
	assert.Equal(t, domain.EncodingLow, sub.PreferredEncoding())
	require.NoError(t, b.s.ToggleEncoding(bg, el.ID))
	assert.Equal(t, domain.EncodingHigh, sub.PreferredEncoding())

	require.NoError(t, b.s.ToggleEncoding(bg, "unknown-element"))
	assert.Equal(t, domain.EncodingHigh, sub.PreferredEncoding())
}

func TestToggleMuteAlternates(t *testing.T) {
	p := newPage(t, newService(), "a", dual())
	require.NoError(t, p.s.ToggleMute(bg), "before join")
	require.NoError(t, p.s.Join(bg, "room"))

	pub := p.s.lanes[0].audioPub
	require.NoError(t, p.s.ToggleMute(bg))
	assert.Equal(t, domain.PublicationEnabled, pub.State())
	assert.Equal(t, LabelMute, p.s.MuteLabel())

	require.NoError(t, p.s.ToggleMute(bg))
	assert.Equal(t, domain.PublicationDisabled, pub.State())
	assert.Equal(t, LabelUnmute, p.s.MuteLabel())

	_, _, labels := p.view.snapshot()
	assert.Equal(t, []string{LabelUnmute, LabelMute, LabelUnmute}, labels)
}

func videoControl(t *testing.T, controls []controlEvent) domain.PublicationID {
	t.Helper()
	for _, c := range controls {
		if strings.Contains(c.label, ": video ") {
			return c.pub
		}
	}
	t.Fatal("no video control offered")
	return ""
}

func TestShareScreen(t *testing.T) {
	svc := newService()
	p := newPage(t, svc, "a", single())
	screen := make(chanSource)
	p.pool.Register(domain.Device{ID: "screen", Kind: domain.DeviceDisplay}, "", screen, nil)

	require.NoError(t, p.s.ShareScreen(bg))
	assert.Zero(t, p.streams.display.Load(), "no capture before publishing")

	require.NoError(t, p.s.Join(bg, "room"))
	viewer := newPage(t, svc, "b", single())
	require.NoError(t, viewer.s.Join(bg, "room"))
	controls, _, _ := viewer.view.snapshot()
	require.NoError(t, viewer.s.Subscribe(bg, videoControl(t, controls)))
	_, elements, _ := viewer.view.snapshot()
	require.Len(t, elements, 1)
	sink := viewer.view.sink(elements[0].ID)
	require.NotNil(t, sink)

	camera := p.s.lanes[0].video.(*media.Stream)
	require.NoError(t, p.s.ShareScreen(bg))
	assert.Equal(t, int32(1), p.streams.display.Load())
	assert.False(t, camera.Released(), "camera stream stays alive")

	select {
	case screen <- &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 77}}:
	case <-time.After(2 * time.Second):
		t.Fatal("screen capture was not read")
	}
	assert.Eventually(t, func() bool {
		return slices.Contains(sink.got(), uint16(77))
	}, 2*time.Second, 5*time.Millisecond, "subscriber receives the screen")
}

func TestJoinConcurrentWithActions(t *testing.T) {
	p := newPage(t, newService(), "a", dual())
	p.pool.Register(domain.Device{ID: "screen", Kind: domain.DeviceDisplay}, "", make(chanSource), nil)

	done := make(chan error, 1)
	go func() { done <- p.s.Join(bg, "room") }()
	var joinErr error
loop:
	for {
		select {
		case joinErr = <-done:
			break loop
		default:
			_ = p.s.ToggleMute(bg)
			_ = p.s.ShareScreen(bg)
			_, _ = p.s.MemberID()
		}
	}
	require.NoError(t, joinErr)

	_, joined := p.s.MemberID()
	assert.True(t, joined)
	require.NoError(t, p.s.ToggleMute(bg))
	require.NoError(t, p.s.ShareScreen(bg))
}

func TestRejoinOffersFreshControls(t *testing.T) {
	svc := newService()
	a := newPage(t, svc, "a", single())
	require.NoError(t, a.s.Join(bg, "room"))
	b := newPage(t, svc, "b", single())
	require.NoError(t, b.s.Join(bg, "room"))

	controls, _, _ := b.view.snapshot()
	require.Len(t, controls, 2)
	pub := videoControl(t, controls)
	require.NoError(t, b.s.Subscribe(bg, pub))

	require.NoError(t, b.s.Join(bg, "room"))
	after, _, _ := b.view.snapshot()
	offered := make([]domain.PublicationID, 0, len(after)-len(controls))
	for _, c := range after[len(controls):] {
		offered = append(offered, c.pub)
	}
	assert.Contains(t, offered, pub, "the new member gets its own control")
	require.NoError(t, b.s.Subscribe(bg, pub))
	assert.ErrorIs(t, b.s.Subscribe(bg, pub), ErrControlUsed)
}

func TestSelectInputUsedByNextJoin(t *testing.T) {
	p := newPage(t, newService(), "a", single())
	p.pool.Register(domain.Device{ID: "usb-cam", Kind: domain.DeviceVideoInput}, "", make(chanSource), nil)

	require.NoError(t, p.s.SelectVideoInput(bg, "usb-cam"))
	assert.Error(t, p.s.SelectAudioInput(bg, "usb-cam"))
	require.NoError(t, p.s.Join(bg, "room"))
	assert.Equal(t, "usb-cam", p.s.lanes[0].video.(*media.Stream).DeviceID())
}

func TestLeave(t *testing.T) {
	svc := newService()
	a := newPage(t, svc, "a", dual())
	require.NoError(t, a.s.Join(bg, "room"))
	b := newPage(t, svc, "b", single())
	require.NoError(t, b.s.Join(bg, "room"))

	require.NoError(t, a.s.Leave(bg))
	assert.Equal(t, 1, a.view.left)
	_, joined := a.s.MemberID()
	assert.False(t, joined)
	require.NoError(t, a.s.Leave(bg), "second leave is a no-op")
	assert.Equal(t, 1, a.view.left)

	controls, _, _ := b.view.snapshot()
	for _, c := range controls {
		assert.Error(t, b.s.Subscribe(bg, c.pub), "publications of a are canceled")
	}
}

type dataStream struct{}

func (dataStream) ID() string              { return "data-stream" }
func (dataStream) Track() core.Track       { return dataTrack{} }
func (dataStream) Attach(core.Sink) error { return nil }
func (dataStream) Detach()                {}

type dataTrack struct{}

func (dataTrack) ID() string               { return "data" }
func (dataTrack) Kind() domain.ContentType { return domain.ContentData }

func TestElementForOtherKind(t *testing.T) {
	_, ok := elementFor(dataStream{})
	assert.False(t, ok)
}
