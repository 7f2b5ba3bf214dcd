package peer

import "github.com/mossy-p/repsync/internal/models"

// Conn is one WebRTC connection to a remote peer.
type Conn interface {
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (models.SDPPayload, error)
	// CreateAnswer applies a remote offer and returns the local answer.
	CreateAnswer(offer models.SDPPayload) (models.SDPPayload, error)
	// SetAnswer applies the remote answer to a previously sent offer.
	SetAnswer(answer models.SDPPayload) error
	AddICECandidate(candidate models.ICECandidatePayload) error
	OnICECandidate(fn func(models.ICECandidatePayload))
	OnTrack(fn func(RemoteTrack))
	Close() error
}

// Factory opens a connection to the peer with the given id.
type Factory func(remotePeerID string) (Conn, error)

// RemoteTrack describes a media track received from a remote peer.
type RemoteTrack struct {
	ID       string `json:"id"`
	StreamID string `json:"streamId"`
	Kind     string `json:"kind"`
}

// CaptureTrack is a local media source shared by every connection.
type CaptureTrack interface {
	ID() string
	Stop() error
}

// Signaler delivers signaling messages to remote peers.
type Signaler interface {
	SendSignal(msg models.SignalMessage) error
}
