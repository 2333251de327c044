package domain

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOffering
	PhaseAwaitingAnswer
	PhaseOfferReceived
	PhaseAnswering
	PhaseActive
	PhaseEnded
	PhaseDeclined
)

var phaseNames = [...]string{
	PhaseIdle:           "idle",
	PhaseOffering:       "offering",
	PhaseAwaitingAnswer: "awaiting_answer",
	PhaseOfferReceived:  "offer_received",
	PhaseAnswering:      "answering",
	PhaseActive:         "active",
	PhaseEnded:          "ended",
	PhaseDeclined:       "declined",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Negotiating reports whether an offer/answer exchange is in progress.
func (p Phase) Negotiating() bool {
	switch p {
	case PhaseOffering, PhaseAwaitingAnswer, PhaseOfferReceived, PhaseAnswering:
		return true
	}
	return false
}

type Role int

const (
	RoleNone Role = iota
	RoleCaller
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	}
	return "none"
}

// AudioConfig is applied only when the local audio source is (re)acquired.
type AudioConfig struct {
	EchoCancellation bool `mapstructure:"echo_cancellation" json:"echoCancellation"`
	NoiseSuppression bool `mapstructure:"noise_suppression" json:"noiseSuppression"`
	SampleRate       int  `mapstructure:"sample_rate" json:"sampleRate"`
	ChannelCount     int  `mapstructure:"channel_count" json:"channelCount"`
}

func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		EchoCancellation: false,
		NoiseSuppression: true,
		SampleRate:       48000,
		ChannelCount:     1,
	}
}

// ConnState is the relay-side lifecycle of one transport connection.
type ConnState int32

const (
	ConnOpen ConnState = iota
	ConnClosing
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnOpen:
		return "open"
	case ConnClosing:
		return "closing"
	}
	return "closed"
}
