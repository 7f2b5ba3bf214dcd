// Package peer manages the WebRTC connections between the participants of a
// session.
package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mossy-p/repsync/internal/models"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	ErrClosed      = errors.New("peer manager is closed")
	ErrUnknownPeer = errors.New("unknown remote peer")
)

// Stream is the media of one remote participant, tagged with their live count.
type Stream struct {
	PeerID        string        `json:"peerId"`
	ParticipantID string        `json:"participantId"`
	Name          string        `json:"name"`
	Count         int           `json:"count"`
	Connected     bool          `json:"connected"`
	Tracks        []RemoteTrack `json:"tracks"`
}

type record struct {
	peerID    string
	conn      Conn
	remoteSet bool
	offered   bool
	pending   []models.ICECandidatePayload
	tracks    []RemoteTrack
}

// Manager keeps one connection per remote peer. The host initiates every
// connection; joiners only answer.
type Manager struct {
	selfPeerID string
	factory    Factory
	signaler   Signaler

	mu      sync.Mutex
	isHost  bool
	roster  map[string]*models.Participant
	records map[string]*record
	seen    map[int64]struct{}
	media   []CaptureTrack
	closed  bool
}

func NewManager(selfPeerID string, factory Factory, signaler Signaler, media ...CaptureTrack) *Manager {
	return &Manager{
		selfPeerID: selfPeerID,
		factory:    factory,
		signaler:   signaler,
		roster:     make(map[string]*models.Participant),
		records:    make(map[string]*record),
		seen:       make(map[int64]struct{}),
		media:      media,
	}
}

func (m *Manager) PeerID() string {
	return m.selfPeerID
}

// Sync reconciles connections with the session roster. Peers that left the
// roster are closed; as host, new peers get an offer.
func (m *Manager) Sync(s *models.Session) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	roster := make(map[string]*models.Participant, len(s.Participants))
	for _, p := range s.Participants {
		if p.PeerID == "" {
			continue
		}
		cp := *p
		roster[p.PeerID] = &cp
	}
	previous := m.roster
	m.roster = roster
	if self, ok := roster[m.selfPeerID]; ok {
		m.isHost = self.IsHost
	}

	// records for peers the roster has not listed yet are kept: their offer
	// may arrive before the roster update does
	var stale []Conn
	for id, rec := range m.records {
		_, listed := roster[id]
		_, wasListed := previous[id]
		if listed || !wasListed {
			continue
		}
		if rec.conn != nil {
			stale = append(stale, rec.conn)
		}
		delete(m.records, id)
		log.WithField("peer", id).Info("remote peer left, closing connection")
	}

	var outgoing []models.SignalMessage
	var errs error
	for _, id := range sortedKeys(roster) {
		if id == m.selfPeerID {
			continue
		}
		if _, ok := m.records[id]; !ok {
			m.records[id] = &record{peerID: id}
		}
		if m.isHost && !roster[id].IsHost {
			rec, err := m.ensureRecord(id)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if rec.offered {
				continue
			}
			offer, err := rec.conn.CreateOffer()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("offer to %s: %w", id, err))
				continue
			}
			rec.offered = true
			msg, err := m.newMessage(models.SignalTypeOffer, id, offer)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			outgoing = append(outgoing, msg)
		}
	}
	m.mu.Unlock()

	for _, conn := range stale {
		errs = multierr.Append(errs, conn.Close())
	}
	return multierr.Append(errs, m.send(outgoing...))
}

// HandleSignal applies a message addressed to this peer. Redelivered
// messages, repeated offers and repeated answers are ignored. Candidates that
// arrive before the remote description are queued.
func (m *Manager) HandleSignal(msg models.SignalMessage) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if msg.To != m.selfPeerID {
		m.mu.Unlock()
		return nil
	}
	if msg.Seq > 0 {
		if _, dup := m.seen[msg.Seq]; dup {
			m.mu.Unlock()
			return nil
		}
		m.seen[msg.Seq] = struct{}{}
	}

	logger := log.WithFields(log.Fields{"peer": msg.From, "type": msg.Type, "seq": msg.Seq})
	var outgoing []models.SignalMessage
	err := func() error {
		switch msg.Type {
		case models.SignalTypeOffer:
			var offer models.SDPPayload
			if err := json.Unmarshal(msg.Payload, &offer); err != nil {
				return fmt.Errorf("decode offer: %w", err)
			}
			rec, err := m.ensureRecord(msg.From)
			if err != nil {
				return err
			}
			if rec.remoteSet {
				logger.Debug("ignoring repeated offer")
				return nil
			}
			answer, err := rec.conn.CreateAnswer(offer)
			if err != nil {
				return fmt.Errorf("answer %s: %w", msg.From, err)
			}
			rec.remoteSet = true
			reply, err := m.newMessage(models.SignalTypeAnswer, msg.From, answer)
			if err != nil {
				return err
			}
			outgoing = append(outgoing, reply)
			return m.flushCandidates(rec)

		case models.SignalTypeAnswer:
			var answer models.SDPPayload
			if err := json.Unmarshal(msg.Payload, &answer); err != nil {
				return fmt.Errorf("decode answer: %w", err)
			}
			rec, ok := m.records[msg.From]
			if !ok || rec.conn == nil || !rec.offered {
				return fmt.Errorf("answer from %s: %w", msg.From, ErrUnknownPeer)
			}
			if rec.remoteSet {
				logger.Debug("ignoring repeated answer")
				return nil
			}
			if err := rec.conn.SetAnswer(answer); err != nil {
				return fmt.Errorf("apply answer from %s: %w", msg.From, err)
			}
			rec.remoteSet = true
			return m.flushCandidates(rec)

		case models.SignalTypeCandidate:
			var candidate models.ICECandidatePayload
			if err := json.Unmarshal(msg.Payload, &candidate); err != nil {
				return fmt.Errorf("decode candidate: %w", err)
			}
			rec, ok := m.records[msg.From]
			if !ok {
				rec = &record{peerID: msg.From}
				m.records[msg.From] = rec
			}
			if !rec.remoteSet {
				rec.pending = append(rec.pending, candidate)
				return nil
			}
			return rec.conn.AddICECandidate(candidate)
		}
		return fmt.Errorf("unsupported signal type %q", msg.Type)
	}()
	m.mu.Unlock()

	if err != nil {
		logger.WithError(err).Warn("failed to handle signaling message")
		return err
	}
	return m.send(outgoing...)
}

// Streams returns the remote media received so far, in roster order.
func (m *Manager) Streams() []Stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	streams := make([]Stream, 0, len(m.records))
	for _, id := range sortedKeys(m.records) {
		rec := m.records[id]
		st := Stream{
			PeerID:    id,
			Connected: rec.remoteSet,
			Tracks:    append([]RemoteTrack(nil), rec.tracks...),
		}
		if p, ok := m.roster[id]; ok {
			st.ParticipantID = p.ID
			st.Name = p.Name
			st.Count = p.Count
		}
		streams = append(streams, st)
	}
	return streams
}

// Close closes every connection and stops every local capture track.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := make([]Conn, 0, len(m.records))
	for _, rec := range m.records {
		if rec.conn != nil {
			conns = append(conns, rec.conn)
		}
	}
	m.records = make(map[string]*record)
	media := m.media
	m.media = nil
	m.mu.Unlock()

	var errs error
	for _, conn := range conns {
		errs = multierr.Append(errs, conn.Close())
	}
	for _, track := range media {
		if err := track.Stop(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop track %s: %w", track.ID(), err))
		}
	}
	return errs
}

// ensureRecord returns the record for peerID, opening its connection if
// needed. Callers hold m.mu.
func (m *Manager) ensureRecord(peerID string) (*record, error) {
	rec, ok := m.records[peerID]
	if !ok {
		rec = &record{peerID: peerID}
		m.records[peerID] = rec
	}
	if rec.conn != nil {
		return rec, nil
	}

	conn, err := m.factory(peerID)
	if err != nil {
		return nil, fmt.Errorf("open connection to %s: %w", peerID, err)
	}
	conn.OnICECandidate(func(c models.ICECandidatePayload) {
		msg, err := m.newMessage(models.SignalTypeCandidate, peerID, c)
		if err == nil {
			err = m.send(msg)
		}
		if err != nil {
			log.WithError(err).WithField("peer", peerID).Warn("failed to send ice candidate")
		}
	})
	conn.OnTrack(func(t RemoteTrack) {
		m.addTrack(peerID, t)
	})
	rec.conn = conn
	log.WithField("peer", peerID).Debug("peer connection opened")
	return rec, nil
}

func (m *Manager) addTrack(peerID string, t RemoteTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[peerID]
	if !ok {
		return
	}
	rec.tracks = append(rec.tracks, t)
	log.WithFields(log.Fields{"peer": peerID, "kind": t.Kind}).Info("remote track received")
}

// flushCandidates applies candidates queued before the remote description.
// Callers hold m.mu.
func (m *Manager) flushCandidates(rec *record) error {
	pending := rec.pending
	rec.pending = nil
	var errs error
	for _, c := range pending {
		errs = multierr.Append(errs, rec.conn.AddICECandidate(c))
	}
	return errs
}

func (m *Manager) newMessage(t models.SignalType, to string, payload any) (models.SignalMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.SignalMessage{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return models.SignalMessage{
		Type:    t,
		From:    m.selfPeerID,
		To:      to,
		Payload: data,
	}, nil
}

func (m *Manager) send(msgs ...models.SignalMessage) error {
	var errs error
	for _, msg := range msgs {
		if err := m.signaler.SendSignal(msg); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("send %s to %s: %w", msg.Type, msg.To, err))
		}
	}
	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
