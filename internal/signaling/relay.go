// Package signaling relays WebRTC offers, answers and ICE candidates between
// the peers of a session through a per-session mailbox.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/repsync/internal/metrics"
	"github.com/mossy-p/repsync/internal/models"
	"github.com/mossy-p/repsync/internal/store"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidSignal = errors.New("invalid signaling message")
	ErrUnknownPeer   = errors.New("peer is not on the session roster")
	ErrNotInitiator  = errors.New("only the host peer may send offers")
	ErrForbidden     = errors.New("peer belongs to another participant")
	ErrSessionClosed = errors.New("session is completed")
)

// SessionSource resolves the live session a message is sent to.
type SessionSource interface {
	Get(ctx context.Context, identifier string) (*models.Session, error)
}

// Relay appends messages to the session mailbox and fans them out on the
// session's change feed. Messages are never mutated or deleted once appended.
type Relay struct {
	sessions SessionSource
	store    store.Store
	metrics  *metrics.Manager
	now      func() time.Time
}

func NewRelay(sessions SessionSource, st store.Store, m *metrics.Manager) *Relay {
	return &Relay{
		sessions: sessions,
		store:    st,
		metrics:  m,
		now:      time.Now,
	}
}

// Send validates msg and appends it to the mailbox of sessionID. senderID is
// the authenticated participant; msg.From must be that participant's peer.
func (r *Relay) Send(ctx context.Context, sessionID, senderID string, msg models.SignalMessage) (models.SignalMessage, error) {
	logger := log.WithFields(log.Fields{
		"session": sessionID,
		"type":    msg.Type,
		"from":    msg.From,
		"to":      msg.To,
	})

	if err := validatePayload(msg); err != nil {
		logger.WithError(err).Warn("rejected signaling message")
		return models.SignalMessage{}, err
	}

	s, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return models.SignalMessage{}, err
	}
	if s.Status == models.StatusCompleted {
		return models.SignalMessage{}, ErrSessionClosed
	}

	sender, ok := s.ParticipantByPeer(msg.From)
	if !ok {
		return models.SignalMessage{}, fmt.Errorf("from %q: %w", msg.From, ErrUnknownPeer)
	}
	if senderID != "" && sender.ID != senderID {
		return models.SignalMessage{}, ErrForbidden
	}
	if _, ok := s.ParticipantByPeer(msg.To); !ok {
		return models.SignalMessage{}, fmt.Errorf("to %q: %w", msg.To, ErrUnknownPeer)
	}
	if msg.Type == models.SignalTypeOffer {
		if host, ok := s.Host(); !ok || host.ID != sender.ID {
			return models.SignalMessage{}, ErrNotInitiator
		}
	}

	msg.SessionID = s.ID
	msg.CreatedAt = r.now().UTC()
	stored, err := r.store.AppendSignal(ctx, s.ID, msg)
	if err != nil {
		logger.WithError(err).Error("failed to append signaling message")
		return models.SignalMessage{}, fmt.Errorf("append signal: %w", err)
	}

	if r.metrics != nil {
		r.metrics.CounterSignals.WithLabelValues(string(stored.Type)).Inc()
	}
	if err := r.store.Publish(ctx, s.ID, models.Event{Kind: models.EventSignal, Signal: &stored}); err != nil {
		// the message is in the mailbox; the recipient picks it up on replay
		logger.WithError(err).Warn("failed to publish signaling message")
	}

	logger.WithField("seq", stored.Seq).Debug("signaling message relayed")
	return stored, nil
}

// Pending returns the messages addressed to peerID with Seq greater than after.
func (r *Relay) Pending(ctx context.Context, sessionID, peerID string, after int64) ([]models.SignalMessage, error) {
	s, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	all, err := r.store.Signals(ctx, s.ID, after)
	if err != nil {
		return nil, fmt.Errorf("read mailbox: %w", err)
	}

	pending := make([]models.SignalMessage, 0, len(all))
	for _, msg := range all {
		if msg.To == peerID {
			pending = append(pending, msg)
		}
	}
	return pending, nil
}

func validatePayload(msg models.SignalMessage) error {
	if !msg.Type.Valid() {
		return fmt.Errorf("type %q: %w", msg.Type, ErrInvalidSignal)
	}
	if msg.From == "" || msg.To == "" {
		return fmt.Errorf("from and to are required: %w", ErrInvalidSignal)
	}
	if msg.From == msg.To {
		return fmt.Errorf("peer cannot signal itself: %w", ErrInvalidSignal)
	}
	if len(msg.Payload) == 0 {
		return fmt.Errorf("payload is required: %w", ErrInvalidSignal)
	}

	switch msg.Type {
	case models.SignalTypeOffer, models.SignalTypeAnswer:
		var sdp models.SDPPayload
		if err := json.Unmarshal(msg.Payload, &sdp); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSignal, err)
		}
		if sdp.SDP == "" {
			return fmt.Errorf("empty sdp: %w", ErrInvalidSignal)
		}
	case models.SignalTypeCandidate:
		var candidate models.ICECandidatePayload
		if err := json.Unmarshal(msg.Payload, &candidate); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSignal, err)
		}
	}
	return nil
}
