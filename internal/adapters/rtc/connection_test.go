package rtc

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/duocall/internal/core"
	"github.com/dkeye/duocall/internal/domain"
)

func newPair(t *testing.T) (*WebRTCConnection, *WebRTCConnection) {
	t.Helper()
	api, err := NewAPI(zerolog.Nop())
	require.NoError(t, err)
	factory := NewEngineFactory(api, webrtc.Configuration{})

	a, err := factory()
	require.NoError(t, err)
	b, err := factory()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a.(*WebRTCConnection), b.(*WebRTCConnection)
}

func TestWebRTCConnection_OfferAnswer(t *testing.T) {
	ctx := context.Background()
	a, b := newPair(t)

	srcA, err := a.AcquireLocalAudio(ctx, domain.DefaultAudioConfig())
	require.NoError(t, err)
	defer srcA.Stop()
	require.NoError(t, a.AddTrack(srcA))

	offer, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.Contains(t, strings.ToLower(offer.SDP), "opus")
	require.NoError(t, a.SetLocalDescription(offer))

	srcB, err := b.AcquireLocalAudio(ctx, domain.DefaultAudioConfig())
	require.NoError(t, err)
	defer srcB.Stop()
	require.NoError(t, b.AddTrack(srcB))
	require.NoError(t, b.SetRemoteDescription(offer))

	answer, err := b.CreateAnswer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
	require.NoError(t, b.SetLocalDescription(answer))
	require.NoError(t, a.SetRemoteDescription(answer))

	assert.Equal(t, webrtc.SignalingStateStable, a.SignalingState())
	assert.Equal(t, webrtc.SignalingStateStable, b.SignalingState())
}

func TestWebRTCConnection_NegotiationErrors(t *testing.T) {
	a, _ := newPair(t)

	err := a.SetRemoteDescription(domain.SessionDescription{Type: "answer", SDP: "v=0 garbage"})
	assert.ErrorIs(t, err, core.ErrNegotiation)

	err = a.AddICECandidate(domain.Candidate{Candidate: "candidate:nonsense"})
	assert.ErrorIs(t, err, core.ErrCandidate)
}

func TestWebRTCConnection_ReplaceAudioTrack(t *testing.T) {
	ctx := context.Background()
	a, _ := newPair(t)

	first, err := a.AcquireLocalAudio(ctx, domain.DefaultAudioConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, a.ReplaceAudioTrack(first), core.ErrNegotiation, "no sender yet")
	require.NoError(t, a.AddTrack(first))

	cfg := domain.AudioConfig{SampleRate: 16000, ChannelCount: 2}
	second, err := a.AcquireLocalAudio(ctx, cfg)
	require.NoError(t, err)
	defer second.Stop()
	first.Stop()

	require.NoError(t, a.ReplaceAudioTrack(second))
	assert.Equal(t, cfg, second.Config())
}

func TestWebRTCConnection_ForeignSourceRejected(t *testing.T) {
	a, _ := newPair(t)
	err := a.AddTrack(nil)
	assert.ErrorIs(t, err, core.ErrAcquisition)
}

func TestWebRTCConnection_CloseIdempotent(t *testing.T) {
	a, _ := newPair(t)
	a.OnFailed(func() { t.Error("closing must not report failure") })
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestAudioSource_AcquireErrors(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAudioSource(canceled, domain.DefaultAudioConfig())
	assert.ErrorIs(t, err, core.ErrAcquisition)

	_, err = NewAudioSource(context.Background(), domain.AudioConfig{SampleRate: 48000, ChannelCount: 6})
	assert.ErrorIs(t, err, core.ErrAcquisition)
}

func TestAudioSource_MutedWritesNothing(t *testing.T) {
	src, err := NewAudioSource(context.Background(), domain.DefaultAudioConfig())
	require.NoError(t, err)
	defer src.Stop()

	require.Eventually(t, func() bool { return src.Frames() > 0 }, time.Second, 5*time.Millisecond)

	src.SetEnabled(false)
	assert.False(t, src.Enabled())
	time.Sleep(2 * frameDuration)
	before := src.Frames()
	time.Sleep(5 * frameDuration)
	assert.Equal(t, before, src.Frames())

	src.SetEnabled(true)
	require.Eventually(t, func() bool { return src.Frames() > before }, time.Second, 5*time.Millisecond)

	src.Stop()
	src.Stop()
}

func TestRemoteTrack_CountsLoss(t *testing.T) {
	r := &RemoteTrack{id: "x", kind: "audio"}
	seq := []uint16{65534, 65535, 0, 3}
	var last uint16
	for _, s := range seq {
		pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: s}}
		r.count(pkt, last)
		last = s
	}
	assert.Equal(t, uint64(4), r.Packets())
	assert.Equal(t, uint64(2), r.Lost())
}

func TestLoggerFactory_WritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	f := NewLoggerFactory(zerolog.New(&buf))
	f.NewLogger("ice").Warnf("gathered %d candidates", 3)

	out := buf.String()
	assert.Contains(t, out, `"scope":"ice"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, "gathered 3 candidates")
}
