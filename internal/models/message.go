package models

import (
	"encoding/json"
	"time"
)

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "ice-candidate"
)

func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeCandidate:
		return true
	}
	return false
}

// SignalMessage is one entry of a session's signaling mailbox. Never mutated
// after it is appended; Seq is its position in the mailbox.
type SignalMessage struct {
	Seq       int64           `json:"seq"`
	SessionID string          `json:"sessionId"`
	Type      SignalType      `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SDPPayload is the payload of offer and answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the payload of ice-candidate messages.
type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// EnvelopeType tags messages on the WebSocket push channel
type EnvelopeType string

const (
	EnvelopeWelcome EnvelopeType = "welcome"
	EnvelopeSession EnvelopeType = "session"
	EnvelopeSignal  EnvelopeType = "signal"
	EnvelopeCount   EnvelopeType = "count"
	EnvelopeError   EnvelopeType = "error"
)

// Envelope wraps everything exchanged over the session WebSocket
type Envelope struct {
	Type    EnvelopeType   `json:"type"`
	PeerID  string         `json:"peerId,omitempty"`
	Session *Session       `json:"session,omitempty"`
	Signal  *SignalMessage `json:"signal,omitempty"`
	Count   *int           `json:"count,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// EventKind distinguishes change feed events
type EventKind string

const (
	EventSession EventKind = "session"
	EventSignal  EventKind = "signal"
)

// Event is published on a session's change feed
type Event struct {
	Kind    EventKind      `json:"kind"`
	Session *Session       `json:"session,omitempty"`
	Signal  *SignalMessage `json:"signal,omitempty"`
}
