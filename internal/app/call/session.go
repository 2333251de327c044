// Package call runs the peer-side call session: one event loop that sequences the
// offer/answer/candidate handshake against local intents and media engine callbacks.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/duocall/internal/core"
	"github.com/dkeye/duocall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	eventBuffer        = 64
	maxQueuedCandidate = 128
)

var ErrSessionClosed = errors.New("call session closed")

type Option func(*Session)

func WithView(v View) Option { return func(s *Session) { s.view = v } }

func WithAudioConfig(cfg domain.AudioConfig) Option {
	return func(s *Session) { s.st.Audio = cfg }
}

func WithLogger(l zerolog.Logger) Option { return func(s *Session) { s.logger = l } }

// Session is the single call session of a client.
type Session struct {
	newEngine core.EngineFactory
	signal    Signaler
	view      View
	logger    zerolog.Logger

	events chan event
	done   chan struct{}

	mu        sync.RWMutex
	published State

	// Owned by the Run goroutine.
	runCtx      context.Context
	st          State
	epoch       uint64
	engine      core.MediaEngine
	opsCtx      context.Context
	cancelOps   context.CancelFunc
	descSent    bool
	remoteSet   bool
	applying    bool
	localQueue  []domain.Candidate
	remoteQueue []domain.Candidate

	inflight sync.WaitGroup
}

func NewSession(newEngine core.EngineFactory, signal Signaler, opts ...Option) *Session {
	s := &Session{
		newEngine: newEngine,
		signal:    signal,
		view:      nopView{},
		logger:    log.With().Str("module", "call").Logger(),
		events:    make(chan event, eventBuffer),
		done:      make(chan struct{}),
		st:        State{Audio: domain.DefaultAudioConfig()},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.published = s.st
	return s
}

// Run processes events until ctx is done. Whatever is in flight is torn down on exit,
// including sources acquired by operations that complete after the loop stopped.
func (s *Session) Run(ctx context.Context) error {
	s.runCtx = ctx
	s.opsCtx, s.cancelOps = context.WithCancel(ctx)

	s.publish()
	for {
		select {
		case <-ctx.Done():
			s.teardown(domain.PhaseIdle)
			s.cancelOps()
			close(s.done)
			s.inflight.Wait()
			s.discardPending()
			return ctx.Err()
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

// State returns the state as of the last completed transition.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published
}

func (s *Session) Call() error    { return s.post(intentCall{}) }
func (s *Session) Accept() error  { return s.post(intentAccept{}) }
func (s *Session) Decline() error { return s.post(intentDecline{}) }
func (s *Session) End() error     { return s.post(intentEnd{}) }

func (s *Session) ToggleMute() error { return s.post(intentMute{}) }

// ApplyAudioConfig stores cfg and, when a local source exists, re-acquires it
// and swaps the outgoing audio track without renegotiating.
func (s *Session) ApplyAudioConfig(cfg domain.AudioConfig) error {
	return s.post(intentAudio{cfg: cfg})
}

// HandleMessage decodes a relayed frame. Unparseable frames are logged and dropped.
func (s *Session) HandleMessage(data []byte) {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("discarding inbound message")
		return
	}
	_ = s.Receive(env)
}

// Receive queues an already decoded envelope.
func (s *Session) Receive(env domain.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	return s.post(inbound{env: env})
}

// Sync returns once every event queued before it has been handled.
func (s *Session) Sync(ctx context.Context) error {
	b := make(barrier)
	if err := s.post(b); err != nil {
		return err
	}
	select {
	case <-b:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) post(ev event) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) dispatch(ev event) {
	switch ev := ev.(type) {
	case intentCall:
		s.onCall()
	case intentAccept:
		s.onAccept()
	case intentDecline:
		s.onDecline()
	case intentEnd:
		s.onEnd()
	case intentMute:
		s.onMute()
	case intentAudio:
		s.onAudio(ev.cfg)
	case inbound:
		s.onEnvelope(ev.env)
	case localCandidate:
		s.onLocalCandidate(ev)
	case remoteTrack:
		if ev.epoch == s.epoch {
			s.st.Remote = ev.stream
			s.publish()
		}
	case engineFailed:
		if ev.epoch == s.epoch && s.st.Phase != domain.PhaseIdle {
			s.abort(fmt.Errorf("%w: peer connection failed", core.ErrNegotiation))
		}
	case offerReady:
		s.onOfferReady(ev)
	case answerReady:
		s.onAnswerReady(ev)
	case answerApplied:
		s.onAnswerApplied(ev)
	case audioReplaced:
		s.onAudioReplaced(ev)
	case barrier:
		close(ev)
	}
}

// ---- intents ----

func (s *Session) onCall() {
	if s.st.Phase != domain.PhaseIdle {
		s.ignore("call")
		return
	}
	engine, err := s.startEngine()
	if err != nil {
		s.report(err)
		return
	}
	s.st.Role = domain.RoleCaller
	s.setPhase(domain.PhaseOffering)

	cfg := s.st.Audio
	s.spawn(func(ctx context.Context, epoch uint64) event {
		ev := offerReady{epoch: epoch}
		if ev.local, ev.err = engine.AcquireLocalAudio(ctx, cfg); ev.err != nil {
			return ev
		}
		if ev.err = engine.AddTrack(ev.local); ev.err != nil {
			return ev
		}
		if ev.desc, ev.err = engine.CreateOffer(ctx); ev.err != nil {
			return ev
		}
		ev.err = engine.SetLocalDescription(ev.desc)
		return ev
	})
}

func (s *Session) onAccept() {
	if s.st.Phase != domain.PhaseOfferReceived || s.st.PendingOffer == nil {
		s.ignore("accept")
		return
	}
	engine, err := s.startEngine()
	if err != nil {
		s.report(err)
		return
	}
	offer := *s.st.PendingOffer
	s.st.PendingOffer = nil
	s.st.Role = domain.RoleCallee
	s.setPhase(domain.PhaseAnswering)

	cfg := s.st.Audio
	s.spawn(func(ctx context.Context, epoch uint64) event {
		ev := answerReady{epoch: epoch}
		if ev.local, ev.err = engine.AcquireLocalAudio(ctx, cfg); ev.err != nil {
			return ev
		}
		if ev.err = engine.AddTrack(ev.local); ev.err != nil {
			return ev
		}
		if ev.err = engine.SetRemoteDescription(offer); ev.err != nil {
			return ev
		}
		if ev.desc, ev.err = engine.CreateAnswer(ctx); ev.err != nil {
			return ev
		}
		ev.err = engine.SetLocalDescription(ev.desc)
		return ev
	})
}

func (s *Session) onDecline() {
	if s.st.Phase != domain.PhaseOfferReceived {
		s.ignore("decline")
		return
	}
	if err := s.send(domain.Decline()); err != nil {
		s.report(err)
	}
	s.teardown(domain.PhaseDeclined)
}

func (s *Session) onEnd() {
	if s.st.Phase != domain.PhaseActive {
		s.ignore("end")
		return
	}
	if err := s.send(domain.End()); err != nil {
		s.report(err)
	}
	s.teardown(domain.PhaseEnded)
}

// onMute also works while a source is being re-acquired; the new source picks
// up the toggled state when it is installed.
func (s *Session) onMute() {
	if s.st.Phase != domain.PhaseActive || (s.st.Local == nil && !s.st.Reacquiring) {
		s.ignore("mute")
		return
	}
	s.st.Muted = !s.st.Muted
	if s.st.Local != nil {
		s.st.Local.SetEnabled(!s.st.Muted)
	}
	s.logger.Info().Bool("muted", s.st.Muted).Msg("microphone toggled")
	s.publish()
}

func (s *Session) onAudio(cfg domain.AudioConfig) {
	s.st.Audio = cfg
	// Sources still being acquired are checked against the new settings on completion.
	if s.st.Local == nil || s.engine == nil {
		s.publish()
		return
	}
	s.reacquire()
}

// catchUpAudio re-acquires when the settings changed after the current source was requested.
func (s *Session) catchUpAudio() {
	if s.st.Local != nil && s.st.Local.Config() != s.st.Audio {
		s.reacquire()
	}
}

func (s *Session) reacquire() {
	s.logger.Info().Interface("audio", s.st.Audio).Msg("reapplying audio settings")
	s.st.Local.Stop()
	s.st.Local = nil
	s.st.Reacquiring = true
	s.publish()

	engine, cfg := s.engine, s.st.Audio
	s.spawn(func(ctx context.Context, epoch uint64) event {
		ev := audioReplaced{epoch: epoch}
		if ev.local, ev.err = engine.AcquireLocalAudio(ctx, cfg); ev.err != nil {
			return ev
		}
		ev.err = engine.ReplaceAudioTrack(ev.local)
		return ev
	})
}

// ---- inbound envelopes ----

func (s *Session) onEnvelope(env domain.Envelope) {
	s.logger.Debug().Str("type", string(env.Type)).Str("phase", s.st.Phase.String()).Msg("received")

	switch env.Type {
	case domain.KindOffer:
		if s.st.Phase != domain.PhaseIdle {
			s.ignore("offer")
			return
		}
		sdp := *env.SDP
		s.st.PendingOffer = &sdp
		s.setPhase(domain.PhaseOfferReceived)

	case domain.KindAnswer:
		if s.st.Phase != domain.PhaseAwaitingAnswer || s.st.Role != domain.RoleCaller || s.applying {
			s.violation(env)
			return
		}
		s.applying = true
		engine, answer := s.engine, *env.SDP
		s.spawn(func(_ context.Context, epoch uint64) event {
			return answerApplied{epoch: epoch, err: engine.SetRemoteDescription(answer)}
		})

	case domain.KindICE:
		s.onRemoteCandidate(*env.Candidate)

	case domain.KindEnd:
		if s.st.Phase != domain.PhaseActive && !s.st.Phase.Negotiating() {
			s.ignore("end")
			return
		}
		s.logger.Info().Msg("remote ended the call")
		s.teardown(domain.PhaseEnded)

	case domain.KindDecline:
		if s.st.Phase != domain.PhaseAwaitingAnswer {
			s.ignore("decline")
			return
		}
		s.logger.Info().Msg("call was declined")
		s.teardown(domain.PhaseDeclined)
	}
}

func (s *Session) onRemoteCandidate(c domain.Candidate) {
	switch {
	case s.engine != nil && s.remoteSet:
		s.applyCandidate(c)
	case s.engine != nil || s.st.Phase == domain.PhaseOfferReceived:
		if len(s.remoteQueue) >= maxQueuedCandidate {
			s.logger.Warn().Msg("remote candidate queue full, dropping candidate")
			return
		}
		s.remoteQueue = append(s.remoteQueue, c)
	default:
		s.logger.Debug().Str("phase", s.st.Phase.String()).Msg("no peer connection, dropping candidate")
	}
}

func (s *Session) applyCandidate(c domain.Candidate) {
	if err := s.engine.AddICECandidate(c); err != nil {
		s.logger.Warn().Err(err).Msg("add ice candidate")
	}
}

func (s *Session) onLocalCandidate(ev localCandidate) {
	if ev.epoch != s.epoch {
		return
	}
	if !s.descSent {
		s.localQueue = append(s.localQueue, ev.c)
		return
	}
	if err := s.send(domain.ICE(ev.c)); err != nil {
		s.logger.Warn().Err(err).Msg("send local candidate")
	}
}

// ---- async completions ----

func (s *Session) onOfferReady(ev offerReady) {
	if ev.epoch != s.epoch {
		release(ev.local)
		return
	}
	if ev.err != nil {
		release(ev.local)
		s.abort(ev.err)
		return
	}
	s.st.Local = ev.local
	if err := s.send(domain.Offer(ev.desc)); err != nil {
		s.abort(err)
		return
	}
	s.logger.Info().Msg("offer sent")
	s.descSent = true
	s.flushLocal()
	s.setPhase(domain.PhaseAwaitingAnswer)
	s.catchUpAudio()
}

func (s *Session) onAnswerReady(ev answerReady) {
	if ev.epoch != s.epoch {
		release(ev.local)
		return
	}
	if ev.err != nil {
		release(ev.local)
		s.abort(ev.err)
		return
	}
	s.st.Local = ev.local
	s.remoteSet = true
	if err := s.send(domain.Answer(ev.desc)); err != nil {
		s.abort(err)
		return
	}
	s.logger.Info().Msg("answer sent")
	s.descSent = true
	s.flushLocal()
	s.flushRemote()
	s.setPhase(domain.PhaseActive)
	s.catchUpAudio()
}

func (s *Session) onAnswerApplied(ev answerApplied) {
	if ev.epoch != s.epoch {
		return
	}
	s.applying = false
	if ev.err != nil {
		s.abort(ev.err)
		return
	}
	s.remoteSet = true
	s.flushRemote()
	s.setPhase(domain.PhaseActive)
}

func (s *Session) onAudioReplaced(ev audioReplaced) {
	if ev.epoch != s.epoch {
		release(ev.local)
		return
	}
	s.st.Reacquiring = false
	if ev.err != nil {
		release(ev.local)
		s.report(ev.err)
		s.publish()
		return
	}
	ev.local.SetEnabled(!s.st.Muted)
	s.st.Local = ev.local
	s.logger.Info().Msg("audio settings applied")
	if s.st.Local.Config() != s.st.Audio {
		s.reacquire()
		return
	}
	s.publish()
}

// ---- helpers ----

func (s *Session) startEngine() (core.MediaEngine, error) {
	engine, err := s.newEngine()
	if err != nil {
		return nil, fmt.Errorf("%w: create peer connection: %v", core.ErrNegotiation, err)
	}
	epoch := s.epoch
	engine.OnLocalICECandidate(func(c domain.Candidate) { _ = s.post(localCandidate{epoch: epoch, c: c}) })
	engine.OnRemoteTrack(func(rs core.RemoteStream) { _ = s.post(remoteTrack{epoch: epoch, stream: rs}) })
	engine.OnFailed(func() { _ = s.post(engineFailed{epoch: epoch}) })
	s.engine = engine
	return engine, nil
}

func (s *Session) spawn(op func(ctx context.Context, epoch uint64) event) {
	ctx, epoch := s.opsCtx, s.epoch
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ev := op(ctx, epoch)
		if err := s.post(ev); err != nil {
			releaseEvent(ev)
		}
	}()
}

// discardPending releases what queued completions carry once the loop has stopped.
func (s *Session) discardPending() {
	for {
		select {
		case ev := <-s.events:
			releaseEvent(ev)
		default:
			return
		}
	}
}

func (s *Session) flushLocal() {
	queued := s.localQueue
	s.localQueue = nil
	for _, c := range queued {
		if err := s.send(domain.ICE(c)); err != nil {
			s.logger.Warn().Err(err).Msg("send local candidate")
		}
	}
}

func (s *Session) flushRemote() {
	queued := s.remoteQueue
	s.remoteQueue = nil
	for _, c := range queued {
		s.applyCandidate(c)
	}
}

func (s *Session) send(env domain.Envelope) error {
	if err := s.signal.Send(env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// abort reports err and returns to Idle, releasing whatever was acquired.
func (s *Session) abort(err error) {
	s.report(err)
	s.teardown(domain.PhaseIdle)
}

// teardown releases media, passes through the terminal outcome phase if any,
// and resets to Idle. Bumping the epoch invalidates every in-flight operation.
func (s *Session) teardown(outcome domain.Phase) {
	s.epoch++
	if s.cancelOps != nil {
		s.cancelOps()
		s.opsCtx, s.cancelOps = context.WithCancel(s.runCtx)
	}

	if s.st.Local != nil {
		s.st.Local.Stop()
	}
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close peer connection")
		}
		s.engine = nil
	}

	s.st = State{Audio: s.st.Audio}
	s.descSent, s.remoteSet, s.applying = false, false, false
	s.localQueue, s.remoteQueue = nil, nil

	if outcome != domain.PhaseIdle {
		s.setPhase(outcome)
	}
	s.setPhase(domain.PhaseIdle)
}

func (s *Session) setPhase(p domain.Phase) {
	if s.st.Phase != p {
		s.logger.Info().Str("from", s.st.Phase.String()).Str("to", p.String()).Str("role", s.st.Role.String()).Msg("phase")
	}
	s.st.Phase = p
	s.publish()
}

func (s *Session) publish() {
	s.mu.Lock()
	s.published = s.st
	s.mu.Unlock()
	s.view.Render(ControlsFor(s.st))
}

func (s *Session) report(err error) {
	s.logger.Error().Err(err).Str("phase", s.st.Phase.String()).Msg("call error")
	s.view.ReportError(err)
}

func (s *Session) ignore(what string) {
	s.logger.Debug().Str("event", what).Str("phase", s.st.Phase.String()).Msg("ignored: phase guard")
}

func (s *Session) violation(env domain.Envelope) {
	s.logger.Warn().
		Err(core.ErrProtocolViolation).
		Str("type", string(env.Type)).
		Str("phase", s.st.Phase.String()).
		Str("role", s.st.Role.String()).
		Msg("unexpected envelope dropped")
}

func release(src core.LocalSource) {
	if src != nil {
		src.Stop()
	}
}

func releaseEvent(ev event) {
	switch ev := ev.(type) {
	case offerReady:
		release(ev.local)
	case answerReady:
		release(ev.local)
	case audioReplaced:
		release(ev.local)
	}
}
