package call

import (
	"github.com/dkeye/duocall/internal/core"
	"github.com/dkeye/duocall/internal/domain"
)

type event interface{}

// UI intents.
type (
	intentCall    struct{}
	intentAccept  struct{}
	intentDecline struct{}
	intentEnd     struct{}
	intentMute    struct{}
	intentAudio   struct{ cfg domain.AudioConfig }
)

type inbound struct{ env domain.Envelope }

type barrier chan struct{}

// Engine callbacks and async completions carry the epoch they were started in.
type (
	localCandidate struct {
		epoch uint64
		c     domain.Candidate
	}
	remoteTrack struct {
		epoch  uint64
		stream core.RemoteStream
	}
	engineFailed struct{ epoch uint64 }

	offerReady struct {
		epoch uint64
		local core.LocalSource
		desc  domain.SessionDescription
		err   error
	}
	answerReady struct {
		epoch uint64
		local core.LocalSource
		desc  domain.SessionDescription
		err   error
	}
	answerApplied struct {
		epoch uint64
		err   error
	}
	audioReplaced struct {
		epoch uint64
		local core.LocalSource
		err   error
	}
)
