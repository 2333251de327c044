// Package rtc implements the call media engine on pion/webrtc.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/duocall/internal/core"
	"github.com/dkeye/duocall/internal/domain"
)

var errNoAudioSender = errors.New("no audio sender, AddTrack first")

// ConfigFor builds a pion configuration with one ICE server entry per URL.
func ConfigFor(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, u := range iceServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}
	return cfg
}

// NewAPI prepares a pion API with the default codecs and pion logs routed to zerolog.
func NewAPI(logger zerolog.Logger) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	s := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(logger)}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s)), nil
}

// NewEngineFactory returns a factory creating one WebRTCConnection per call.
func NewEngineFactory(api *webrtc.API, cfg webrtc.Configuration) core.EngineFactory {
	return func() (core.MediaEngine, error) {
		c, err := NewWebRTCConnection(api, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// WebRTCConnection adapts a pion PeerConnection to core.MediaEngine.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	id     string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	audio       *webrtc.RTPSender
	onCandidate func(domain.Candidate)
	onTrack     func(core.RemoteStream)
	onFailed    func()
	closed      bool
}

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &WebRTCConnection{
		pc:     pc,
		id:     uuid.NewString()[:8],
		ctx:    ctx,
		cancel: cancel,
	}
	c.logger = log.With().Str("module", "webrtc").Str("pc", c.id).Logger()
	c.start()
	return c, nil
}

func (c *WebRTCConnection) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s != webrtc.PeerConnectionStateFailed {
			return
		}
		c.mu.Lock()
		fn := c.onFailed
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onCandidate
		c.mu.Unlock()
		if fn != nil {
			fn(fromICEInit(cand.ToJSON()))
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		rs := &RemoteTrack{id: track.ID(), kind: track.Kind().String()}
		go rs.drain(c.ctx, track)

		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(rs)
		}
	})
}

func (c *WebRTCConnection) AcquireLocalAudio(ctx context.Context, cfg domain.AudioConfig) (core.LocalSource, error) {
	src, err := NewAudioSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("source", src.ID()).Int("sample_rate", cfg.SampleRate).Msg("audio acquired")
	return src, nil
}

func (c *WebRTCConnection) CreateOffer(context.Context) (domain.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: create offer: %w", core.ErrNegotiation, err)
	}
	return fromSDP(offer), nil
}

func (c *WebRTCConnection) CreateAnswer(context.Context) (domain.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: create answer: %w", core.ErrNegotiation, err)
	}
	return fromSDP(answer), nil
}

func (c *WebRTCConnection) SetLocalDescription(d domain.SessionDescription) error {
	if err := c.pc.SetLocalDescription(toSDP(d)); err != nil {
		return fmt.Errorf("%w: set local %s: %w", core.ErrNegotiation, d.Type, err)
	}
	return nil
}

func (c *WebRTCConnection) SetRemoteDescription(d domain.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(toSDP(d)); err != nil {
		return fmt.Errorf("%w: set remote %s: %w", core.ErrNegotiation, d.Type, err)
	}
	return nil
}

func (c *WebRTCConnection) AddTrack(src core.LocalSource) error {
	s, err := asAudioSource(src)
	if err != nil {
		return err
	}
	sender, err := c.pc.AddTrack(s.Track())
	if err != nil {
		return fmt.Errorf("%w: add track: %w", core.ErrNegotiation, err)
	}
	c.mu.Lock()
	c.audio = sender
	c.mu.Unlock()

	// RTCP has to be read for the interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *WebRTCConnection) ReplaceAudioTrack(src core.LocalSource) error {
	s, err := asAudioSource(src)
	if err != nil {
		return err
	}
	c.mu.Lock()
	sender := c.audio
	c.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("%w: %w", core.ErrNegotiation, errNoAudioSender)
	}
	if err := sender.ReplaceTrack(s.Track()); err != nil {
		return fmt.Errorf("%w: replace track: %w", core.ErrNegotiation, err)
	}
	c.logger.Info().Str("source", s.ID()).Msg("audio track replaced")
	return nil
}

func (c *WebRTCConnection) AddICECandidate(cand domain.Candidate) error {
	if err := c.pc.AddICECandidate(toICEInit(cand)); err != nil {
		return fmt.Errorf("%w: %w", core.ErrCandidate, err)
	}
	return nil
}

func (c *WebRTCConnection) OnLocalICECandidate(fn func(domain.Candidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *WebRTCConnection) OnRemoteTrack(fn func(core.RemoteStream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *WebRTCConnection) OnFailed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailed = fn
}

func (c *WebRTCConnection) SignalingState() webrtc.SignalingState { return c.pc.SignalingState() }

// Close is idempotent. Callbacks are detached first so a closing connection reports nothing.
func (c *WebRTCConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.onCandidate, c.onTrack, c.onFailed = nil, nil, nil
	c.mu.Unlock()

	c.cancel()
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

// RemoteTrack is an inbound track. Its RTP is read and counted so the receive
// pipeline keeps flowing.
type RemoteTrack struct {
	id   string
	kind string

	packets atomic.Uint64
	lost    atomic.Uint64
}

func (r *RemoteTrack) ID() string   { return r.id }
func (r *RemoteTrack) Kind() string { return r.kind }

func (r *RemoteTrack) Packets() uint64 { return r.packets.Load() }
func (r *RemoteTrack) Lost() uint64    { return r.lost.Load() }

func (r *RemoteTrack) drain(ctx context.Context, track *webrtc.TrackRemote) {
	var (
		pkt  *rtp.Packet
		err  error
		last uint16
	)
	for ctx.Err() == nil {
		if pkt, _, err = track.ReadRTP(); err != nil {
			return
		}
		r.count(pkt, last)
		last = pkt.SequenceNumber
	}
}

func (r *RemoteTrack) count(pkt *rtp.Packet, last uint16) {
	n := r.packets.Add(1)
	if n == 1 {
		return
	}
	// uint16 arithmetic handles sequence wraparound.
	if gap := pkt.SequenceNumber - last; gap > 1 && gap < 1<<15 {
		r.lost.Add(uint64(gap - 1))
	}
}

func fromSDP(d webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func toSDP(d domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func fromICEInit(ci webrtc.ICECandidateInit) domain.Candidate {
	return domain.Candidate{
		Candidate:        ci.Candidate,
		SDPMid:           ci.SDPMid,
		SDPMLineIndex:    ci.SDPMLineIndex,
		UsernameFragment: ci.UsernameFragment,
	}
}

func toICEInit(c domain.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
