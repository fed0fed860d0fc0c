package session

import (
	"context"
	"fmt"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

// Join enters the named channel. Every lane gets a context, a relay bot and a
// member that publishes audio and video and forwards both through its bot.
// An empty name does nothing.
func (s *Session) Join(ctx context.Context, name domain.ChannelName) error {
	if name == "" {
		return nil
	}
	if err := name.Validate(); err != nil {
		return s.fail("join", err)
	}

	s.mu.Lock()
	audio, video := s.audio, s.video
	audioDevice, videoDevice := s.audioDeviceID, s.videoDeviceID
	s.mu.Unlock()

	token, err := s.opts.Credentials.Issue()
	if err != nil {
		return s.fail("join", err)
	}

	lanes := make([]*lane, 1+s.opts.Profile.Mirrors)
	for i := range lanes {
		lanes[i] = &lane{unsubPubs: func() {}}
	}
	lanes[0].audio, lanes[0].video = audio, video

	// Each step runs across all lanes before the next one starts.
	for _, l := range lanes {
		c, err := s.opts.Backend.CreateContext(ctx, token, core.ContextOptions{LogLevel: s.opts.LogLevel})
		if err != nil {
			return s.fail("join", err)
		}
		l.ctx = c
	}
	for _, l := range lanes[1:] {
		if l.audio, err = s.opts.Streams.CreateMicrophoneAudioStream(ctx, core.MicrophoneOptions{DeviceID: audioDevice}); err != nil {
			return s.fail("join", err)
		}
		if l.video, err = s.opts.Streams.CreateCameraVideoStream(ctx, s.cameraOptions(videoDevice)); err != nil {
			return s.fail("join", err)
		}
	}
	for _, l := range lanes {
		l.ctx.RegisterPlugin(s.opts.Plugin)
	}
	for _, l := range lanes {
		if l.ch, err = l.ctx.FindOrCreateChannel(ctx, name); err != nil {
			return s.fail("join", err)
		}
	}
	for _, l := range lanes {
		if l.bot, err = s.opts.Plugin.CreateBot(ctx, l.ch); err != nil {
			return s.fail("join", err)
		}
	}
	for _, l := range lanes {
		if l.me, err = l.ch.Join(ctx, core.JoinOptions{}); err != nil {
			return s.fail("join", err)
		}
	}

	// The previous lanes stop offering controls and the new members own the
	// page. Lanes are installed only once fully published.
	s.mu.Lock()
	unsubs := make([]func(), 0, len(s.lanes))
	for _, l := range s.lanes {
		unsubs = append(unsubs, l.unsubPubs)
	}
	s.lanes = nil
	s.own = make(map[domain.MemberID]struct{}, len(lanes))
	for _, l := range lanes {
		s.own[l.me.ID()] = struct{}{}
	}
	s.controls = make(map[domain.PublicationID]*control)
	s.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
	s.opts.View.SetMemberID(lanes[0].me.ID())

	profile := s.opts.Profile
	for _, l := range lanes {
		if l.audioPub, err = l.me.Publish(ctx, l.audio, core.PublishOptions{StartDisabled: profile.AudioMuted}); err != nil {
			return s.fail("publish audio", err)
		}
	}
	for _, l := range lanes {
		if l.videoPub, err = l.me.Publish(ctx, l.video, core.PublishOptions{Encodings: profile.Encodings}); err != nil {
			return s.fail("publish video", err)
		}
	}
	fwd := core.ForwardingOptions{MaxSubscribers: profile.MaxSubscribers}
	for _, l := range lanes {
		if _, err := l.bot.StartForwarding(ctx, l.audioPub, fwd); err != nil {
			return s.fail("forward audio", err)
		}
	}
	for _, l := range lanes {
		if _, err := l.bot.StartForwarding(ctx, l.videoPub, fwd); err != nil {
			return s.fail("forward video", err)
		}
	}

	label := LabelMute
	if profile.AudioMuted {
		label = LabelUnmute
	}
	primary := lanes[0]
	s.mu.Lock()
	s.muteLabel = label
	s.lanes = lanes
	s.mu.Unlock()
	s.opts.View.SetMuteLabel(label)

	unsub := primary.ch.OnStreamPublished(s.offer)
	s.mu.Lock()
	current := len(s.lanes) > 0 && s.lanes[0] == primary
	if current {
		primary.unsubPubs = unsub
	}
	s.mu.Unlock()
	if !current {
		// left or rejoined meanwhile
		unsub()
		return nil
	}
	for _, pub := range primary.ch.Publications() {
		s.offer(pub)
	}
	s.logger.Info().
		Str("channel", string(name)).
		Str("member", string(primary.me.ID())).
		Int("lanes", len(lanes)).
		Msg("joined")
	return nil
}

// offer shows a subscribe control for relayed publications whose origin is
// not one of this page's members.
func (s *Session) offer(pub core.Publication) {
	if pub.Publisher().Subtype != domain.SubtypeSFU {
		return
	}
	origin := pub.Origin()
	if origin == nil {
		return
	}

	s.mu.Lock()
	if _, mine := s.own[origin.Publisher().ID]; mine {
		s.mu.Unlock()
		return
	}
	if _, seen := s.controls[pub.ID()]; seen {
		s.mu.Unlock()
		return
	}
	s.controls[pub.ID()] = &control{pub: pub}
	s.mu.Unlock()

	label := fmt.Sprintf("%s: %s %s", pub.Publisher().ID, pub.ContentType(), origin.ID())
	s.opts.View.AddSubscribeControl(pub.ID(), label)
}
