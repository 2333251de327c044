package call

import (
	"github.com/dkeye/duocall/internal/core"
	"github.com/dkeye/duocall/internal/domain"
)

// Signaler carries outbound envelopes to the relay.
type Signaler interface {
	Send(domain.Envelope) error
}

// View is the UI collaborator. Render is called after every transition,
// on the session goroutine.
type View interface {
	Render(Controls)
	ReportError(error)
}

// State is a point-in-time copy of the call session.
type State struct {
	Phase        domain.Phase
	Role         domain.Role
	PendingOffer *domain.SessionDescription
	Muted        bool
	Audio        domain.AudioConfig
	// Reacquiring is set while the local source is being replaced after an
	// audio settings change. Local is nil meanwhile.
	Reacquiring  bool
	Local        core.LocalSource
	Remote       core.RemoteStream
}

// Controls is what the UI should enable and show for a State.
type Controls struct {
	Phase      domain.Phase
	Role       domain.Role
	CanCall    bool
	CanAccept  bool
	CanDecline bool
	CanEnd     bool
	CanMute    bool
	CanApply   bool
	Switching  bool
	MuteLabel  string
	Local      core.LocalSource
	Remote     core.RemoteStream
}

func ControlsFor(st State) Controls {
	c := Controls{
		Phase:      st.Phase,
		Role:       st.Role,
		CanCall:    st.Phase == domain.PhaseIdle,
		CanAccept:  st.Phase == domain.PhaseOfferReceived && st.PendingOffer != nil,
		CanDecline: st.Phase == domain.PhaseOfferReceived,
		CanEnd:     st.Phase == domain.PhaseActive,
		CanMute:    st.Phase == domain.PhaseActive && (st.Local != nil || st.Reacquiring),
		CanApply:   st.Local != nil || st.Reacquiring,
		Switching:  st.Reacquiring,
		MuteLabel:  "Mute",
		Local:      st.Local,
		Remote:     st.Remote,
	}
	if st.Muted {
		c.MuteLabel = "Unmute"
	}
	return c
}

type nopView struct{}

func (nopView) Render(Controls)   {}
func (nopView) ReportError(error) {}
