// Package session coordinates the lifecycle, roster and authority of shared
// workout sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/repsync/internal/exercise"
	"github.com/mossy-p/repsync/internal/metrics"
	"github.com/mossy-p/repsync/internal/models"
	"github.com/mossy-p/repsync/internal/results"
	"github.com/mossy-p/repsync/internal/store"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxParticipants = 8
	maxCodeAttempts        = 5
)

// Recorder persists the final roster of a completed session.
type Recorder interface {
	Save(ctx context.Context, r *results.Result) error
}

// Member identifies a user joining or creating a session.
type Member struct {
	ID        string
	Name      string
	AvatarURL string
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithMaxParticipants(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxParticipants = n
		}
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithIDs overrides session id and join code generation.
func WithIDs(newID, newCode func() string) Option {
	return func(c *Coordinator) {
		c.newID = newID
		c.newCode = newCode
	}
}

// Coordinator owns session state transitions. Every mutation is followed by a
// session event on the store's change feed.
type Coordinator struct {
	store           store.Store
	recorder        Recorder
	metrics         *metrics.Manager
	now             func() time.Time
	newID           func() string
	newCode         func() string
	maxParticipants int
}

func NewCoordinator(st store.Store, recorder Recorder, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:           st,
		recorder:        recorder,
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },
		newCode:         generateCode,
		maxParticipants: defaultMaxParticipants,
	}
	if recorder == nil {
		c.recorder = nopRecorder{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type nopRecorder struct{}

func (nopRecorder) Save(context.Context, *results.Result) error { return nil }

// CreateSession creates a waiting session whose only participant is the host.
func (c *Coordinator) CreateSession(ctx context.Context, host Member, name, exerciseType string) (*models.Session, error) {
	if host.ID == "" {
		return nil, fmt.Errorf("host id is required: %w", ErrInvalidInput)
	}
	kind, err := exercise.ParseKind(exerciseType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", ErrInvalidInput)
	}

	now := c.now().UTC()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		s := &models.Session{
			ID:           c.newID(),
			Code:         c.newCode(),
			Name:         name,
			Status:       models.StatusWaiting,
			HostID:       host.ID,
			ExerciseType: kind.String(),
			CreatedAt:    now,
			Participants: map[string]*models.Participant{
				host.ID: {
					ID:        host.ID,
					Name:      displayName(host),
					AvatarURL: host.AvatarURL,
					IsHost:    true,
					JoinedAt:  now,
				},
			},
		}

		err := c.store.CreateSession(ctx, s)
		if errors.Is(err, store.ErrConflict) {
			log.WithField("code", s.Code).Debug("join code collision, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}

		if c.metrics != nil {
			c.metrics.CounterSessionsCreated.Inc()
		}
		log.WithFields(log.Fields{
			"session":  s.ID,
			"code":     s.Code,
			"host":     host.ID,
			"exercise": s.ExerciseType,
		}).Info("session created")
		return s, nil
	}
	return nil, fmt.Errorf("create session: no free join code after %d attempts", maxCodeAttempts)
}

// Get returns a session by id or join code.
func (c *Coordinator) Get(ctx context.Context, identifier string) (*models.Session, error) {
	id, err := c.resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	s, err := c.store.GetSession(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return s, nil
}

func (c *Coordinator) resolve(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", ErrNotFound
	}
	if !looksLikeCode(identifier) {
		return identifier, nil
	}
	id, err := c.store.ResolveCode(ctx, strings.ToUpper(identifier))
	if err != nil {
		return "", mapStoreErr(err)
	}
	return id, nil
}

// JoinSession adds member to the roster with a zero count. A member already on
// the roster gets the existing record back, progress included.
func (c *Coordinator) JoinSession(ctx context.Context, identifier string, member Member) (*models.Session, error) {
	if member.ID == "" {
		return nil, fmt.Errorf("participant id is required: %w", ErrInvalidInput)
	}
	s, err := c.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if s.Status == models.StatusCompleted {
		return nil, ErrSessionClosed
	}

	_, created, err := c.store.AddParticipant(ctx, s.ID, &models.Participant{
		ID:        member.ID,
		Name:      displayName(member),
		AvatarURL: member.AvatarURL,
		JoinedAt:  c.now().UTC(),
	}, c.maxParticipants)
	if errors.Is(err, store.ErrFull) {
		return nil, ErrSessionFull
	}
	if err != nil {
		return nil, mapStoreErr(err)
	}

	logger := log.WithFields(log.Fields{"session": s.ID, "participant": member.ID})
	if !created {
		logger.Info("participant rejoined")
		return c.Get(ctx, s.ID)
	}
	logger.Info("participant joined")
	return c.notify(ctx, s.ID)
}

// StartSession moves a waiting session to active. Only the host may call it.
func (c *Coordinator) StartSession(ctx context.Context, id, callerID string) (*models.Session, error) {
	sessionID, err := c.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	_, err = c.store.UpdateMeta(ctx, sessionID, func(s *models.Session) error {
		if s.HostID != callerID {
			return ErrForbidden
		}
		if next, ok := s.Status.Next(); !ok || next != models.StatusActive {
			return fmt.Errorf("%s -> %s: %w", s.Status, models.StatusActive, ErrInvalidTransition)
		}
		now := c.now().UTC()
		s.Status = models.StatusActive
		s.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	log.WithFields(log.Fields{"session": sessionID, "host": callerID}).Info("session started")
	return c.notify(ctx, sessionID)
}

// EndSession completes an active session, persists the final roster and
// discards the live record. When persistence fails the completed record is
// kept and calling EndSession again retries the save.
func (c *Coordinator) EndSession(ctx context.Context, id, callerID string) (*results.Result, error) {
	sessionID, err := c.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	retry := false
	s, err := c.store.UpdateMeta(ctx, sessionID, func(s *models.Session) error {
		if s.HostID != callerID {
			return ErrForbidden
		}
		if s.Status == models.StatusCompleted {
			retry = true
			return nil
		}
		if next, ok := s.Status.Next(); !ok || next != models.StatusCompleted {
			return fmt.Errorf("%s -> %s: %w", s.Status, models.StatusCompleted, ErrInvalidTransition)
		}
		now := c.now().UTC()
		s.Status = models.StatusCompleted
		s.EndedAt = &now
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	res := buildResult(s)
	logger := log.WithFields(log.Fields{"session": sessionID, "host": callerID})
	if !retry {
		logger.WithField("reps", res.TotalReps()).Info("session completed")
		c.publish(ctx, sessionID, s)
	}

	if err := c.recorder.Save(ctx, res); err != nil {
		if c.metrics != nil {
			c.metrics.CounterSessionsEnded.WithLabelValues("persist_failed").Inc()
		}
		logger.WithError(err).Error("failed to persist session results")
		return res, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	if c.metrics != nil {
		c.metrics.CounterSessionsEnded.WithLabelValues("persisted").Inc()
	}

	if err := c.store.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.WithError(err).Warn("failed to discard live session")
	}
	return res, nil
}

// UpdateCount records participantID's own count. Counts only move up, except
// for an explicit reset to zero.
func (c *Coordinator) UpdateCount(ctx context.Context, id, participantID string, count int) (*models.Participant, error) {
	if count < 0 {
		return nil, fmt.Errorf("negative count %d: %w", count, ErrInvalidCount)
	}
	sessionID, err := c.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	// The status check runs inside the update so a count can never land on a
	// session that EndSession already completed.
	p, err := c.store.UpdateParticipant(ctx, sessionID, participantID, func(s *models.Session, p *models.Participant) error {
		if s.Status != models.StatusActive {
			return ErrNotActive
		}
		if count != 0 && count < p.Count {
			return fmt.Errorf("%d after %d: %w", count, p.Count, ErrInvalidCount)
		}
		p.Count = count
		return nil
	})
	if err != nil {
		return nil, mapParticipantErr(err)
	}

	if c.metrics != nil {
		c.metrics.CounterCountUpdates.Inc()
	}
	log.WithFields(log.Fields{"session": sessionID, "participant": participantID, "count": count}).Debug("count updated")
	c.notify(ctx, sessionID)
	return p, nil
}

// AttachPeer records the WebRTC peer id a participant is reachable under.
func (c *Coordinator) AttachPeer(ctx context.Context, id, participantID, peerID string) (*models.Session, error) {
	_, err := c.store.UpdateParticipant(ctx, id, participantID, func(_ *models.Session, p *models.Participant) error {
		p.PeerID = peerID
		return nil
	})
	if err != nil {
		return nil, mapParticipantErr(err)
	}
	return c.notify(ctx, id)
}

// DetachPeer clears the participant's peer id if it still equals peerID.
func (c *Coordinator) DetachPeer(ctx context.Context, id, participantID, peerID string) error {
	changed := false
	_, err := c.store.UpdateParticipant(ctx, id, participantID, func(_ *models.Session, p *models.Participant) error {
		if p.PeerID == peerID {
			p.PeerID = ""
			changed = true
		}
		return nil
	})
	if err != nil {
		return mapStoreErr(err)
	}
	if changed {
		c.notify(ctx, id)
	}
	return nil
}

// Subscribe opens the session's change feed.
func (c *Coordinator) Subscribe(ctx context.Context, id string) (store.Subscription, error) {
	return c.store.Subscribe(ctx, id)
}

// notify reloads the session and publishes it. Publish failures are logged:
// subscribers converge on the next change.
func (c *Coordinator) notify(ctx context.Context, id string) (*models.Session, error) {
	s, err := c.store.GetSession(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	c.publish(ctx, id, s)
	return s, nil
}

func (c *Coordinator) publish(ctx context.Context, id string, s *models.Session) {
	if err := c.store.Publish(ctx, id, models.Event{Kind: models.EventSession, Session: s.Clone()}); err != nil {
		log.WithError(err).WithField("session", id).Warn("failed to publish session event")
	}
}

func buildResult(s *models.Session) *results.Result {
	res := &results.Result{
		SessionID:    s.ID,
		ExerciseType: s.ExerciseType,
		HostID:       s.HostID,
	}
	if s.EndedAt != nil {
		res.EndedAt = *s.EndedAt
	}
	if s.StartedAt != nil {
		res.StartedAt = *s.StartedAt
	} else {
		res.StartedAt = res.EndedAt
	}
	res.TimeSpent = int64(res.EndedAt.Sub(res.StartedAt).Seconds())

	for _, p := range s.Roster() {
		res.Participants = append(res.Participants, results.ParticipantResult{
			UserID: p.ID,
			Name:   p.Name,
			Count:  p.Count,
		})
	}
	return res
}

func displayName(m Member) string {
	if name := strings.TrimSpace(m.Name); name != "" {
		return name
	}
	return m.ID
}

// mapParticipantErr distinguishes a vanished session from a caller missing
// from the roster.
func mapParticipantErr(err error) error {
	if errors.Is(err, store.ErrNoParticipant) {
		return ErrNotParticipant
	}
	return mapStoreErr(err)
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
