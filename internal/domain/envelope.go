// Package domain holds the wire envelope and call vocabulary shared by the relay and its peers.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

type Kind string

const (
	KindOffer   Kind = "offer"
	KindAnswer  Kind = "answer"
	KindICE     Kind = "ice"
	KindEnd     Kind = "end"
	KindDecline Kind = "decline"
)

func (k Kind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindICE, KindEnd, KindDecline:
		return true
	}
	return false
}

// SessionDescription mirrors the browser's RTCSessionDescriptionInit.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate mirrors the browser's RTCIceCandidateInit.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Envelope is the unit exchanged over the relay.
type Envelope struct {
	Type      Kind                `json:"type"`
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *Candidate          `json:"candidate,omitempty"`
}

func Offer(d SessionDescription) Envelope  { return Envelope{Type: KindOffer, SDP: &d} }
func Answer(d SessionDescription) Envelope { return Envelope{Type: KindAnswer, SDP: &d} }
func ICE(c Candidate) Envelope             { return Envelope{Type: KindICE, Candidate: &c} }
func End() Envelope                        { return Envelope{Type: KindEnd} }
func Decline() Envelope                    { return Envelope{Type: KindDecline} }

// Validate checks that the payload matches the kind.
func (e Envelope) Validate() error {
	switch e.Type {
	case KindOffer, KindAnswer:
		if e.SDP == nil || e.SDP.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrMalformedEnvelope, e.Type)
		}
	case KindICE:
		if e.Candidate == nil {
			return fmt.Errorf("%w: ice without candidate", ErrMalformedEnvelope)
		}
	case KindEnd, KindDecline:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, e.Type)
	}
	return nil
}

func (e Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
