package results

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("result not found")
	ErrInvalidResult = errors.New("invalid result")
	// ErrConflict is returned when a result for the session was already
	// recorded by a different host.
	ErrConflict = errors.New("result recorded by another host")
)

// ParticipantResult is one participant's final tally.
type ParticipantResult struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Count  int    `json:"count"`
}

// Result is the durable record of a completed session.
type Result struct {
	SessionID    string              `json:"sessionId"`
	ExerciseType string              `json:"exerciseType"`
	HostID       string              `json:"hostId"`
	Participants []ParticipantResult `json:"participants"`
	TimeSpent    int64               `json:"timeSpent"` // seconds
	StartedAt    time.Time           `json:"startedAt"`
	EndedAt      time.Time           `json:"endedAt"`
}

func (r *Result) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("sessionId is required: %w", ErrInvalidResult)
	}
	if r.ExerciseType == "" {
		return fmt.Errorf("exerciseType is required: %w", ErrInvalidResult)
	}
	if r.EndedAt.Before(r.StartedAt) {
		return fmt.Errorf("endedAt before startedAt: %w", ErrInvalidResult)
	}
	if r.TimeSpent < 0 {
		return fmt.Errorf("negative timeSpent: %w", ErrInvalidResult)
	}
	seen := make(map[string]struct{}, len(r.Participants))
	for _, p := range r.Participants {
		if p.UserID == "" {
			return fmt.Errorf("participant without userId: %w", ErrInvalidResult)
		}
		if p.Count < 0 {
			return fmt.Errorf("participant %s: negative count: %w", p.UserID, ErrInvalidResult)
		}
		if _, dup := seen[p.UserID]; dup {
			return fmt.Errorf("participant %s listed twice: %w", p.UserID, ErrInvalidResult)
		}
		seen[p.UserID] = struct{}{}
	}
	return nil
}

// TotalReps sums every participant's count.
func (r *Result) TotalReps() int {
	total := 0
	for _, p := range r.Participants {
		total += p.Count
	}
	return total
}

// Includes reports whether userID hosted or took part in the session.
func (r *Result) Includes(userID string) bool {
	if r.HostID == userID {
		return true
	}
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Repo stores and queries durable results.
type Repo interface {
	// Save records r. Saving again for the same session replaces the record
	// only when the host matches; otherwise ErrConflict is returned.
	Save(ctx context.Context, r *Result) error
	Get(ctx context.Context, sessionID string) (*Result, error)
	ListByUser(ctx context.Context, userID string) ([]*Result, error)
}
