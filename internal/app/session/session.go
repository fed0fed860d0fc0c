// Package session drives one demo page: local capture, joining a channel
// through relay bots, and on-demand subscription to relayed publications.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoAudioDevice  = errors.New("no audio input device")
	ErrNoVideoDevice  = errors.New("no video input device")
	ErrUnknownControl = errors.New("unknown subscribe control")
	ErrControlUsed    = errors.New("subscribe control already used")
)

// Credentials hands out tokens for new contexts.
type Credentials interface {
	Issue() (string, error)
}

// Options wires a session to its backend and its page.
type Options struct {
	Backend     core.Backend
	Streams     core.StreamFactory
	Credentials Credentials
	View        View
	Profile     config.Profile
	// Plugin creates the relay bots. Every lane registers the same plugin.
	Plugin   core.BotPlugin
	LogLevel zerolog.Level
	Owner    string
}

// lane is one context joined to the channel. The first lane is the page's
// own member; further lanes mirror its streams.
type lane struct {
	ctx       core.Context
	ch        core.Channel
	me        core.LocalMember
	bot       core.Bot
	audio     core.LocalStream
	video     core.LocalStream
	audioPub  core.Publication
	videoPub  core.Publication
	unsubPubs func()
}

type control struct {
	pub  core.Publication
	used bool
}

// Session is the state of one demo page. Its methods are the page's actions
// and may be called concurrently.
type Session struct {
	opts   Options
	logger zerolog.Logger

	mu            sync.Mutex
	audio         core.LocalStream
	video         core.LocalStream
	audioDeviceID string
	videoDeviceID string
	lanes         []*lane
	own           map[domain.MemberID]struct{}
	controls      map[domain.PublicationID]*control
	muteLabel     string
}

func New(opts Options) *Session {
	return &Session{
		opts:      opts,
		logger:    log.With().Str("module", "app.session").Str("owner", opts.Owner).Logger(),
		own:       make(map[domain.MemberID]struct{}),
		controls:  make(map[domain.PublicationID]*control),
		muteLabel: LabelMute,
	}
}

func (s *Session) cameraOptions(deviceID string) core.CameraOptions {
	cam := s.opts.Profile.Camera
	return core.CameraOptions{
		DeviceID:              deviceID,
		Width:                 cam.Width,
		Height:                cam.Height,
		FrameRate:             cam.FrameRate,
		StopTrackWhenDisabled: true,
	}
}

// Start opens the first microphone and camera, fills the device selectors and
// shows the local preview.
func (s *Session) Start(ctx context.Context) error {
	f := s.opts.Streams

	audioDevices, err := f.EnumerateInputAudioDevices(ctx)
	if err != nil {
		return s.fail("start", err)
	}
	if len(audioDevices) == 0 {
		return s.fail("start", ErrNoAudioDevice)
	}
	audio, err := f.CreateMicrophoneAudioStream(ctx, core.MicrophoneOptions{DeviceID: audioDevices[0].ID})
	if err != nil {
		return s.fail("start", err)
	}

	videoDevices, err := f.EnumerateInputVideoDevices(ctx)
	if err != nil {
		return s.fail("start", err)
	}
	if len(videoDevices) == 0 {
		return s.fail("start", ErrNoVideoDevice)
	}
	video, err := f.CreateCameraVideoStream(ctx, s.cameraOptions(videoDevices[0].ID))
	if err != nil {
		return s.fail("start", err)
	}

	s.mu.Lock()
	s.audio, s.audioDeviceID = audio, audioDevices[0].ID
	s.video, s.videoDeviceID = video, videoDevices[0].ID
	s.mu.Unlock()

	if all, err := f.EnumerateDevices(ctx); err != nil {
		s.logger.Error().Err(err).Msg("enumerate devices")
	} else {
		var a, v []domain.Device
		for _, d := range all {
			switch d.Kind {
			case domain.DeviceAudioInput:
				a = append(a, d)
			case domain.DeviceVideoInput:
				v = append(v, d)
			}
		}
		s.opts.View.PopulateDevices(a, v)
	}

	s.opts.View.ShowLocalVideo(video)
	s.logger.Info().Str("audio", audioDevices[0].ID).Str("video", videoDevices[0].ID).Msg("capture started")
	return nil
}

// SelectAudioInput replaces the stored microphone stream. It is used by the
// next join; an existing publication keeps its stream.
func (s *Session) SelectAudioInput(ctx context.Context, deviceID string) error {
	audio, err := s.opts.Streams.CreateMicrophoneAudioStream(ctx, core.MicrophoneOptions{DeviceID: deviceID})
	if err != nil {
		return s.fail("select audio", err)
	}
	s.mu.Lock()
	s.audio, s.audioDeviceID = audio, deviceID
	s.mu.Unlock()
	return nil
}

func (s *Session) SelectVideoInput(ctx context.Context, deviceID string) error {
	video, err := s.opts.Streams.CreateCameraVideoStream(ctx, s.cameraOptions(deviceID))
	if err != nil {
		return s.fail("select video", err)
	}
	s.mu.Lock()
	s.video, s.videoDeviceID = video, deviceID
	s.mu.Unlock()
	return nil
}

// ToggleMute flips the audio publication between enabled and disabled.
func (s *Session) ToggleMute(ctx context.Context) error {
	pub := s.primaryPub(func(l *lane) core.Publication { return l.audioPub })
	if pub == nil {
		return nil
	}
	var label string
	switch pub.State() {
	case domain.PublicationEnabled:
		if err := pub.Disable(ctx); err != nil {
			return s.fail("mute", err)
		}
		label = LabelUnmute
	case domain.PublicationDisabled:
		if err := pub.Enable(ctx); err != nil {
			return s.fail("unmute", err)
		}
		label = LabelMute
	default:
		return nil
	}
	s.mu.Lock()
	s.muteLabel = label
	s.mu.Unlock()
	s.opts.View.SetMuteLabel(label)
	return nil
}

// ShareScreen swaps the published camera for a display capture. The camera
// stream is kept alive.
func (s *Session) ShareScreen(ctx context.Context) error {
	if s.primaryPub(func(l *lane) core.Publication { return l.audioPub }) == nil {
		return nil
	}
	display, err := s.opts.Streams.CreateDisplayStreams(ctx)
	if err != nil {
		return s.fail("share screen", err)
	}
	pub := s.primaryPub(func(l *lane) core.Publication { return l.videoPub })
	if pub == nil {
		return nil
	}
	if err := pub.ReplaceStream(ctx, display.Video, core.ReplaceStreamOptions{ReleaseOldStream: false}); err != nil {
		return s.fail("share screen", err)
	}
	s.logger.Info().Str("publication", string(pub.ID())).Msg("screen shared")
	return nil
}

// Subscribe handles a click on a subscribe control. Each control subscribes
// at most once.
func (s *Session) Subscribe(ctx context.Context, id domain.PublicationID) error {
	s.mu.Lock()
	c, ok := s.controls[id]
	var me core.LocalMember
	if len(s.lanes) > 0 {
		me = s.lanes[0].me
	}
	switch {
	case !ok || me == nil:
		s.mu.Unlock()
		return s.fail("subscribe", fmt.Errorf("%w: %s", ErrUnknownControl, id))
	case c.used:
		s.mu.Unlock()
		return s.fail("subscribe", fmt.Errorf("%w: %s", ErrControlUsed, id))
	}
	c.used = true
	s.mu.Unlock()

	sub, err := me.Subscribe(ctx, c.pub, core.SubscribeOptions{PreferredEncodingID: domain.EncodingHigh})
	if err != nil {
		s.mu.Lock()
		c.used = false
		s.mu.Unlock()
		return s.fail("subscribe", err)
	}

	stream := sub.Stream()
	el, ok := elementFor(stream)
	if !ok {
		s.logger.Warn().Str("publication", string(id)).Str("kind", string(stream.Track().Kind())).Msg("no element for track kind")
		return nil
	}
	sink, err := s.opts.View.CreateMediaSink(el)
	if err != nil {
		return s.fail("subscribe", err)
	}
	if err := stream.Attach(sink); err != nil {
		return s.fail("subscribe", err)
	}
	s.opts.View.AppendMedia(el)
	s.logger.Info().
		Str("publication", string(id)).
		Str("element", el.ID).
		Str("kind", string(el.Kind)).
		Str("encoding", sub.PreferredEncoding()).
		Msg("subscribed")
	return nil
}

// ToggleEncoding handles a click on a video element: the subscription whose
// stream id matches flips between high and low.
func (s *Session) ToggleEncoding(_ context.Context, elementID string) error {
	s.mu.Lock()
	var me core.LocalMember
	if len(s.lanes) > 0 {
		me = s.lanes[0].me
	}
	s.mu.Unlock()
	if me == nil {
		return nil
	}
	for _, sub := range me.Subscriptions() {
		if sub.Stream().ID() != elementID {
			continue
		}
		var next string
		switch sub.PreferredEncoding() {
		case domain.EncodingHigh:
			next = domain.EncodingLow
		case domain.EncodingLow:
			next = domain.EncodingHigh
		default:
			return nil
		}
		if err := sub.ChangePreferredEncoding(next); err != nil {
			return s.fail("toggle encoding", err)
		}
		s.logger.Debug().Str("element", elementID).Str("encoding", next).Msg("preferred encoding changed")
		return nil
	}
	return nil
}

// Leave leaves the channel with every lane and disposes the handles.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	lanes := s.lanes
	s.lanes = nil
	s.own = make(map[domain.MemberID]struct{})
	s.controls = make(map[domain.PublicationID]*control)
	unsubs := make([]func(), 0, len(lanes))
	for _, l := range lanes {
		unsubs = append(unsubs, l.unsubPubs)
	}
	s.mu.Unlock()
	if len(lanes) == 0 {
		return nil
	}

	for _, unsub := range unsubs {
		unsub()
	}
	var errs []error
	for _, l := range lanes {
		if err := l.me.Leave(ctx); err != nil {
			errs = append(errs, err)
		}
		l.ch.Dispose()
		l.ctx.Dispose()
	}
	s.opts.View.Left()
	if err := errors.Join(errs...); err != nil {
		return s.fail("leave", err)
	}
	s.logger.Info().Int("lanes", len(lanes)).Msg("left")
	return nil
}

// Close leaves and releases local capture. The session is not reusable.
func (s *Session) Close(ctx context.Context) {
	_ = s.Leave(ctx)
	s.mu.Lock()
	audio, video := s.audio, s.video
	s.audio, s.video = nil, nil
	s.mu.Unlock()
	if audio != nil {
		audio.Release()
	}
	if video != nil {
		video.Release()
	}
}

func (s *Session) MemberID() (domain.MemberID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lanes) == 0 {
		return "", false
	}
	return s.lanes[0].me.ID(), true
}

func (s *Session) MuteLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muteLabel
}

func (s *Session) primaryPub(get func(*lane) core.Publication) core.Publication {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lanes) == 0 {
		return nil
	}
	return get(s.lanes[0])
}

func (s *Session) fail(action string, err error) error {
	s.logger.Error().Err(err).Str("action", action).Msg("action aborted")
	return fmt.Errorf("%s: %w", action, err)
}
