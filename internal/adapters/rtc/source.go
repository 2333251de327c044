package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/dkeye/duocall/internal/core"
	"github.com/dkeye/duocall/internal/domain"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is one 20 ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// opusCodec is fixed by RFC 7587: the RTP clock is always 48 kHz stereo,
// whatever the capture rate.
var opusCodec = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: 48000,
	Channels:  2,
}

// AudioSource is a generated local audio source paced at one Opus frame per 20 ms.
// Disabled sources keep their sender but write nothing.
type AudioSource struct {
	id    string
	cfg   domain.AudioConfig
	track *webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	frames  atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewAudioSource(ctx context.Context, cfg domain.AudioConfig) (*AudioSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrAcquisition, err)
	}
	if cfg.SampleRate <= 0 || cfg.ChannelCount < 1 || cfg.ChannelCount > 2 {
		return nil, fmt.Errorf("%w: unsupported audio config %d Hz x%d", core.ErrAcquisition, cfg.SampleRate, cfg.ChannelCount)
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(opusCodec, "audio-"+id, "duocall-"+id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrAcquisition, err)
	}

	// The pacer outlives the acquiring call; only Stop ends it.
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &AudioSource{
		id:     id,
		cfg:    cfg,
		track:  track,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.enabled.Store(true)
	go s.pace(pctx)
	return s, nil
}

func (s *AudioSource) pace(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.enabled.Load() {
				continue
			}
			if err := s.track.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				return
			}
			s.frames.Add(1)
		}
	}
}

func (s *AudioSource) ID() string                 { return s.id }
func (s *AudioSource) Config() domain.AudioConfig { return s.cfg }
func (s *AudioSource) Enabled() bool              { return s.enabled.Load() }
func (s *AudioSource) SetEnabled(v bool)          { s.enabled.Store(v) }

// Frames is the number of frames handed to the track so far.
func (s *AudioSource) Frames() uint64 { return s.frames.Load() }

func (s *AudioSource) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *AudioSource) Track() *webrtc.TrackLocalStaticSample { return s.track }

func asAudioSource(src core.LocalSource) (*AudioSource, error) {
	s, ok := src.(*AudioSource)
	if !ok || s == nil {
		return nil, fmt.Errorf("%w: source %T was not acquired by this engine", core.ErrAcquisition, src)
	}
	return s, nil
}
