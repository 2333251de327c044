package app

import (
	"fmt"

	"github.com/dkeye/duocall/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a recipient whose outbound queue is full.
type Policy interface {
	OnBackPressure(id core.ConnID, conn core.SignalConnection) BackpressureAction
}

// DropPolicy skips the slow recipient for this one message.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.ConnID, core.SignalConnection) BackpressureAction {
	return DropFrame
}

// KickPolicy disconnects the slow recipient.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.ConnID, core.SignalConnection) BackpressureAction {
	return KickMember
}

// PolicyByName maps the backpressure config value to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown backpressure policy %q", name)
}
