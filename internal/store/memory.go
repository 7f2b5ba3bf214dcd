package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/mossy-p/repsync/internal/models"
)

const subscriberBuffer = 64

// Memory is a single-process Store used by tests and the local dev mode.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	codes    map[string]string
	signals  map[string][]models.SignalMessage
	subs     map[string]map[*memorySub]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*models.Session),
		codes:    make(map[string]string),
		signals:  make(map[string][]models.SignalMessage),
		subs:     make(map[string]map[*memorySub]struct{}),
	}
}

func (m *Memory) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s: %w", s.ID, ErrConflict)
	}
	if _, exists := m.codes[s.Code]; exists {
		return fmt.Errorf("code %s: %w", s.Code, ErrConflict)
	}
	m.sessions[s.ID] = s.Clone()
	m.codes[s.Code] = s.ID
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *Memory) ResolveCode(_ context.Context, code string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.codes[code]
	if !ok {
		return "", fmt.Errorf("code %s: %w", code, ErrNotFound)
	}
	return id, nil
}

func (m *Memory) UpdateMeta(_ context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	updated := s.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.Participants = s.Participants
	m.sessions[id] = updated
	return updated.Clone(), nil
}

func (m *Memory) AddParticipant(_ context.Context, id string, p *models.Participant, limit int) (*models.Participant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if existing, ok := s.Participants[p.ID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	if limit > 0 && len(s.Participants) >= limit {
		return nil, false, fmt.Errorf("session %s: %w", id, ErrFull)
	}
	cp := *p
	s.Participants[p.ID] = &cp
	out := cp
	return &out, true, nil
}

func (m *Memory) UpdateParticipant(_ context.Context, id, participantID string, fn func(*models.Session, *models.Participant) error) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	p, ok := s.Participants[participantID]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", participantID, ErrNoParticipant)
	}
	updated := *p
	if err := fn(s.Clone(), &updated); err != nil {
		return nil, err
	}
	s.Participants[participantID] = &updated
	out := updated
	return &out, nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	delete(m.codes, s.Code)
	delete(m.sessions, id)
	delete(m.signals, id)
	return nil
}

func (m *Memory) AppendSignal(_ context.Context, id string, msg models.SignalMessage) (models.SignalMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return models.SignalMessage{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	msg.Seq = int64(len(m.signals[id]) + 1)
	m.signals[id] = append(m.signals[id], msg)
	return msg, nil
}

func (m *Memory) Signals(_ context.Context, id string, after int64) ([]models.SignalMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[id]; !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	all := m.signals[id]
	if after < 0 {
		after = 0
	}
	if after >= int64(len(all)) {
		return nil, nil
	}
	out := make([]models.SignalMessage, len(all)-int(after))
	copy(out, all[after:])
	return out, nil
}

func (m *Memory) Publish(_ context.Context, id string, ev models.Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for sub := range m.subs[id] {
		sub.deliver(ev)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, id string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &memorySub{
		store: m,
		id:    id,
		ch:    make(chan models.Event, subscriberBuffer),
	}
	if m.subs[id] == nil {
		m.subs[id] = make(map[*memorySub]struct{})
	}
	m.subs[id][sub] = struct{}{}
	return sub, nil
}

type memorySub struct {
	store *Memory
	id    string

	mu     sync.Mutex
	ch     chan models.Event
	closed bool
}

func (s *memorySub) Events() <-chan models.Event {
	return s.ch
}

// deliver drops the event when the subscriber is not keeping up, like a
// pub/sub channel would.
func (s *memorySub) deliver(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *memorySub) Close() error {
	s.store.mu.Lock()
	delete(s.store.subs[s.id], s)
	if len(s.store.subs[s.id]) == 0 {
		delete(s.store.subs, s.id)
	}
	s.store.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
