// Package store persists live sessions, their roster and their signaling
// mailbox, and carries the per-session change feed.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mossy-p/repsync/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrFull     = errors.New("roster full")

	ErrNoParticipant = fmt.Errorf("participant %w", ErrNotFound)
)

// Store is the live session backend. Implementations are safe for concurrent use.
type Store interface {
	// CreateSession stores a new session with its initial participants.
	// ErrConflict is returned when the id or join code is taken.
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ResolveCode(ctx context.Context, code string) (string, error)
	// UpdateMeta applies fn to the session's status and timestamps. Changes fn
	// makes to participants are not persisted.
	UpdateMeta(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error)
	// AddParticipant inserts p unless a participant with the same id exists, in
	// which case the stored record is returned with created=false. When limit is
	// positive and the roster already holds limit participants, ErrFull is
	// returned.
	AddParticipant(ctx context.Context, id string, p *models.Participant, limit int) (_ *models.Participant, created bool, _ error)
	// UpdateParticipant applies fn to one roster entry. fn also sees the
	// session metadata as of the update; the check and the write are atomic.
	UpdateParticipant(ctx context.Context, id, participantID string, fn func(s *models.Session, p *models.Participant) error) (*models.Participant, error)
	DeleteSession(ctx context.Context, id string) error

	// AppendSignal adds msg to the session mailbox and returns it with its Seq.
	AppendSignal(ctx context.Context, id string, msg models.SignalMessage) (models.SignalMessage, error)
	// Signals returns mailbox entries with Seq greater than after.
	Signals(ctx context.Context, id string, after int64) ([]models.SignalMessage, error)

	Publish(ctx context.Context, id string, ev models.Event) error
	Subscribe(ctx context.Context, id string) (Subscription, error)
}

// Subscription delivers change feed events until closed.
type Subscription interface {
	Events() <-chan models.Event
	Close() error
}
