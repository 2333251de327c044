package call

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/duocall/internal/core"
	"github.com/dkeye/duocall/internal/domain"
)

type fakeSource struct {
	mu      sync.Mutex
	id      string
	cfg     domain.AudioConfig
	enabled bool
	stopped bool
}

func (f *fakeSource) ID() string                 { return f.id }
func (f *fakeSource) Config() domain.AudioConfig { return f.cfg }

func (f *fakeSource) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeSource) SetEnabled(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = v
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSource) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeStream struct{ id string }

func (f fakeStream) ID() string   { return f.id }
func (f fakeStream) Kind() string { return "audio" }

type fakeEngine struct {
	mu sync.Mutex

	offerSDP  string
	answerSDP string

	acquireErr   error
	setRemoteErr error
	candidateErr error
	// gate, when set, blocks AcquireLocalAudio until closed.
	gate chan struct{}

	sources    []*fakeSource
	tracks     []core.LocalSource
	replaced   []core.LocalSource
	local      []domain.SessionDescription
	remote     []domain.SessionDescription
	candidates []domain.Candidate
	closed     bool

	onCandidate func(domain.Candidate)
	onTrack     func(core.RemoteStream)
	onFailed    func()
}

func (f *fakeEngine) AcquireLocalAudio(ctx context.Context, cfg domain.AudioConfig) (core.LocalSource, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	src := &fakeSource{id: "mic", cfg: cfg, enabled: true}
	f.sources = append(f.sources, src)
	return src, nil
}

func (f *fakeEngine) CreateOffer(context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "offer", SDP: f.offerSDP}, nil
}

func (f *fakeEngine) CreateAnswer(context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "answer", SDP: f.answerSDP}, nil
}

func (f *fakeEngine) SetLocalDescription(d domain.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = append(f.local, d)
	return nil
}

func (f *fakeEngine) SetRemoteDescription(d domain.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setRemoteErr != nil {
		return f.setRemoteErr
	}
	f.remote = append(f.remote, d)
	return nil
}

func (f *fakeEngine) AddTrack(src core.LocalSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, src)
	return nil
}

func (f *fakeEngine) ReplaceAudioTrack(src core.LocalSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = append(f.replaced, src)
	return nil
}

func (f *fakeEngine) AddICECandidate(c domain.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.candidateErr != nil {
		return f.candidateErr
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeEngine) OnLocalICECandidate(fn func(domain.Candidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeEngine) OnRemoteTrack(fn func(core.RemoteStream)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakeEngine) OnFailed(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFailed = fn
}

func (f *fakeEngine) emitCandidate(c domain.Candidate) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	fn(c)
}

func (f *fakeEngine) emitTrack(rs core.RemoteStream) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	fn(rs)
}

func (f *fakeEngine) emitFailed() {
	f.mu.Lock()
	fn := f.onFailed
	f.mu.Unlock()
	fn()
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEngine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeEngine) Remote() []domain.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SessionDescription(nil), f.remote...)
}

func (f *fakeEngine) Candidates() []domain.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Candidate(nil), f.candidates...)
}

func (f *fakeEngine) Sources() []*fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSource(nil), f.sources...)
}

func (f *fakeEngine) Replaced() []core.LocalSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.LocalSource(nil), f.replaced...)
}

// engines hands out a fresh fakeEngine per call and remembers them.
type engines struct {
	mu        sync.Mutex
	offerSDP  string
	answerSDP string
	prepare   func(*fakeEngine)
	made      []*fakeEngine
	err       error
}

func (e *engines) factory() (core.MediaEngine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	f := &fakeEngine{offerSDP: e.offerSDP, answerSDP: e.answerSDP}
	if e.prepare != nil {
		e.prepare(f)
	}
	e.made = append(e.made, f)
	return f, nil
}

func (e *engines) last() *fakeEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.made) == 0 {
		return nil
	}
	return e.made[len(e.made)-1]
}

func (e *engines) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.made)
}

type recordingSignaler struct {
	mu   sync.Mutex
	sent []domain.Envelope
	err  error
}

func (r *recordingSignaler) Send(env domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, env)
	return nil
}

func (r *recordingSignaler) Sent() []domain.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Envelope(nil), r.sent...)
}

func (r *recordingSignaler) Kinds() []domain.Kind {
	var out []domain.Kind
	for _, e := range r.Sent() {
		out = append(out, e.Type)
	}
	return out
}

type recordingView struct {
	mu       sync.Mutex
	phases   []domain.Phase
	errs     []error
	controls Controls
}

func (v *recordingView) Render(c Controls) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n := len(v.phases); n == 0 || v.phases[n-1] != c.Phase {
		v.phases = append(v.phases, c.Phase)
	}
	v.controls = c
}

func (v *recordingView) ReportError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errs = append(v.errs, err)
}

func (v *recordingView) Phases() []domain.Phase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.Phase(nil), v.phases...)
}

func (v *recordingView) Errors() []error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]error(nil), v.errs...)
}

func (v *recordingView) Controls() Controls {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.controls
}

var errNoDevice = errors.New("no audio device")
