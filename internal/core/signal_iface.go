package core

import "github.com/dkeye/duocall/internal/domain"

// Frame is a raw signaling payload. The relay never decodes it.
type Frame []byte

type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	State() domain.ConnState
	Close()
}

// PublishResult reports delivery stats/backpressure of one broadcast.
type PublishResult struct {
	SendTo  int
	Skipped int
	Dropped []ConnID
	Limited bool
}
