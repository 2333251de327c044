package core

import "errors"

var (
	ErrTransport         = errors.New("transport error")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrAcquisition       = errors.New("media acquisition failed")
	ErrNegotiation       = errors.New("negotiation failed")
	ErrCandidate         = errors.New("ice candidate rejected")

	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)
