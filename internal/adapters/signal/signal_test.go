package signal

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/adapters/rtc"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/dkeye/Relay/internal/auth"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource chan *rtp.Packet

func (s chanSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-s
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

type recConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *recConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// take returns and clears the decoded events.
func (c *recConn) take(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	frames := c.frames
	c.frames = nil
	c.mu.Unlock()
	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func ofType(events []map[string]any, typ string) []map[string]any {
	var out []map[string]any
	for _, e := range events {
		if e["type"] == typ {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	ctl      *SignalWSController
	registry *app.Registry
}

func newHarness(t *testing.T, limiter *JoinLimiter) *harness {
	t.Helper()
	api, err := rtc.NewAPI()
	require.NoError(t, err)
	reg := app.NewRegistry()
	ctl := NewSignalWSController(Deps{
		Backend:     sfu.NewService(auth.NewVerifier("app", "secret")),
		Credentials: auth.NewIssuer("app", "secret", time.Hour),
		NewPlugin:   func() core.BotPlugin { return sfu.NewBotPlugin() },
		Profile:     config.DefaultProfiles()[config.ProfileSingle],
		API:         api,
		ICE:         rtc.WebRTCConfig(nil),
		Registry:    reg,
		Limiter:     limiter,
	})
	return &harness{ctl: ctl, registry: reg}
}

type testClient struct {
	*client
	conn     *recConn
	canceled chan struct{}
}

func (h *harness) client(t *testing.T, sid string) *testClient {
	t.Helper()
	conn := &recConn{}
	canceled := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(canceled) }) }
	cl := h.ctl.newClient(app.SessionID(sid), "token-"+sid, conn, cancel)
	h.registry.Bind(app.SessionID(sid), "token-"+sid, cancel)
	cl.pool.Register(domain.Device{ID: sid + "-mic", Label: "Mic", Kind: domain.DeviceAudioInput}, "", make(chanSource), nil)
	cl.pool.Register(domain.Device{ID: sid + "-cam", Label: "Cam", Kind: domain.DeviceVideoInput}, "", make(chanSource), nil)
	return &testClient{client: cl, conn: conn, canceled: canceled}
}

func (tc *testClient) send(msg string) {
	tc.handleSignal(context.Background(), []byte(msg))
}

func TestPingAndUnknown(t *testing.T) {
	h := newHarness(t, nil)
	a := h.client(t, "a")

	a.send(`{"type":"ping"}`)
	a.send(`{"type":"nope"}`)
	a.send(`not json`)
	events := a.conn.take(t)
	require.Len(t, events, 1)
	assert.Equal(t, "pong", events[0]["type"])
}

func TestStartAndJoin(t *testing.T) {
	h := newHarness(t, nil)
	a := h.client(t, "a")

	a.send(`{"type":"start"}`)
	events := a.conn.take(t)
	devices := ofType(events, "devices")
	require.Len(t, devices, 1)
	assert.Equal(t, "audioSource", devices[0]["audio_target"])
	assert.Len(t, devices[0]["audio"], 1)
	local := ofType(events, "local_video")
	require.Len(t, local, 1)
	assert.Equal(t, "a-cam", local[0]["stream"])
	assert.Equal(t, "local-video", local[0]["target"])

	a.send(`{"type":"join","channel":""}`)
	assert.Empty(t, a.conn.take(t))

	a.send(`{"type":"join","channel":"room"}`)
	events = a.conn.take(t)
	ids := ofType(events, "member_id")
	require.Len(t, ids, 1)
	assert.NotEmpty(t, ids[0]["id"])
	labels := ofType(events, "mute_label")
	require.Len(t, labels, 1)
	assert.Equal(t, "mute", labels[0]["label"])
	assert.Empty(t, ofType(events, "subscribe_control"))

	name, ok := h.registry.ChannelOf("a")
	require.True(t, ok)
	assert.EqualValues(t, "room", name)

	b := h.client(t, "b")
	b.send(`{"type":"start"}`)
	b.send(`{"type":"join","channel":"room"}`)
	assert.Len(t, ofType(b.conn.take(t), "subscribe_control"), 2)
	controls := ofType(a.conn.take(t), "subscribe_control")
	require.Len(t, controls, 2)
	assert.Equal(t, "button-area", controls[0]["target"])

	a.send(`{"type":"whoami"}`)
	who := ofType(a.conn.take(t), "whoami")
	require.Len(t, who, 1)
	assert.Equal(t, "room", who[0]["channel"])
	assert.Equal(t, ids[0]["id"], who[0]["id"])

	a.send(`{"type":"leave"}`)
	assert.Len(t, ofType(a.conn.take(t), "left"), 1)
	_, ok = h.registry.ChannelOf("a")
	assert.False(t, ok)
}

func TestSubscribeRenegotiates(t *testing.T) {
	h := newHarness(t, nil)
	a := h.client(t, "a")
	a.send(`{"type":"start"}`)
	a.send(`{"type":"join","channel":"room"}`)
	b := h.client(t, "b")
	b.send(`{"type":"start"}`)
	b.send(`{"type":"join","channel":"room"}`)
	controls := ofType(b.conn.take(t), "subscribe_control")
	require.Len(t, controls, 2)

	sub := func(pub any) string {
		msg, err := json.Marshal(map[string]any{"type": "subscribe", "publication": pub})
		require.NoError(t, err)
		return string(msg)
	}

	wc, err := rtc.NewWebRTCConnection(h.ctl.deps.API, h.ctl.deps.ICE, "b")
	require.NoError(t, err)
	t.Cleanup(wc.Close)
	b.mu.Lock()
	b.mc = wc
	b.mu.Unlock()

	for _, c := range controls {
		b.send(sub(c["publication"]))
	}
	events := b.conn.take(t)
	assert.Empty(t, ofType(events, "error"))
	media := ofType(events, "media")
	require.Len(t, media, 2)
	offers := ofType(events, "offer")
	require.Len(t, offers, 1, "second offer waits for the answer")
	assert.Equal(t, "remote-media-area", media[0]["target"])

	page, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = page.Close() })
	require.NoError(t, page.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offers[0]["sdp"].(string),
	}))
	answer, err := page.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, page.SetLocalDescription(answer))
	msg, err := json.Marshal(map[string]any{"type": "answer", "sdp": answer.SDP})
	require.NoError(t, err)
	b.send(string(msg))
	events = b.conn.take(t)
	assert.Empty(t, ofType(events, "error"))
	assert.Len(t, ofType(events, "offer"), 1)

	var video map[string]any
	for _, m := range media {
		if m["kind"] == "video" {
			video = m
		}
	}
	require.NotNil(t, video)
	assert.Equal(t, true, video["plays_inline"])
	msg, _ = json.Marshal(map[string]any{"type": "toggle_encoding", "element": video["id"]})
	b.send(string(msg))
	assert.Empty(t, ofType(b.conn.take(t), "error"))

	b.send(sub(controls[0]["publication"]))
	errs := ofType(b.conn.take(t), "error")
	require.Len(t, errs, 1, "a control subscribes once")
	assert.Equal(t, "subscribe_failed", errs[0]["error"])

	c := h.client(t, "c")
	c.send(`{"type":"start"}`)
	c.send(`{"type":"join","channel":"room"}`)
	cControls := ofType(c.conn.take(t), "subscribe_control")
	require.Len(t, cControls, 4)
	c.send(sub(cControls[0]["publication"]))
	errs = ofType(c.conn.take(t), "error")
	require.Len(t, errs, 1, "no peer connection yet")
	assert.Equal(t, "subscribe_failed", errs[0]["error"])
}

func TestJoinRateLimited(t *testing.T) {
	h := newHarness(t, NewJoinLimiter(0.001, 1))
	a := h.client(t, "a")
	a.send(`{"type":"start"}`)
	a.conn.take(t)

	a.send(`{"type":"join","channel":"room"}`)
	assert.Empty(t, ofType(a.conn.take(t), "error"))
	a.send(`{"type":"join","channel":"room"}`)
	errs := ofType(a.conn.take(t), "error")
	require.Len(t, errs, 1)
	assert.Equal(t, "rate_limited", errs[0]["error"])
}

func TestBackpressureKicks(t *testing.T) {
	h := newHarness(t, nil)
	a := h.client(t, "a")
	a.conn.full = true

	a.send(`{"type":"ping"}`)
	select {
	case <-a.canceled:
	case <-time.After(time.Second):
		t.Fatal("slow client was not kicked")
	}
}

func TestJoinLimiterPerClient(t *testing.T) {
	l := NewJoinLimiter(0.001, 2)
	assert.True(t, l.Allow("x"))
	assert.True(t, l.Allow("x"))
	assert.False(t, l.Allow("x"))
	assert.True(t, l.Allow("y"))
}
