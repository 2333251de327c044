package core

import (
	"context"

	"github.com/dkeye/duocall/internal/domain"
)

// LocalSource is an acquired local audio source attached to an outgoing sender.
type LocalSource interface {
	ID() string
	Config() domain.AudioConfig
	Enabled() bool
	// SetEnabled mutes or unmutes in place; the track stays attached.
	SetEnabled(bool)
	// Stop releases the underlying device. Safe to call more than once.
	Stop()
}

// RemoteStream is an inbound media handle the UI may render.
type RemoteStream interface {
	ID() string
	Kind() string
}

// MediaEngine is the capability set a call session drives. One engine serves one call.
//
// Errors from Acquire wrap ErrAcquisition, description errors wrap ErrNegotiation and
// AddICECandidate errors wrap ErrCandidate.
type MediaEngine interface {
	AcquireLocalAudio(ctx context.Context, cfg domain.AudioConfig) (LocalSource, error)
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetLocalDescription(domain.SessionDescription) error
	SetRemoteDescription(domain.SessionDescription) error
	AddTrack(LocalSource) error
	// ReplaceAudioTrack swaps the source of the outgoing audio sender only.
	ReplaceAudioTrack(LocalSource) error
	AddICECandidate(domain.Candidate) error

	// Callbacks are registered once per engine, before negotiation starts,
	// and fire on engine goroutines.
	OnLocalICECandidate(func(domain.Candidate))
	OnRemoteTrack(func(RemoteStream))
	OnFailed(func())

	Close() error
}

type EngineFactory func() (MediaEngine, error)
