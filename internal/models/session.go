package models

import (
	"sort"
	"time"
)

// SessionStatus only moves forward: waiting -> active -> completed
type SessionStatus string

const (
	StatusWaiting   SessionStatus = "waiting"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Next returns the status that follows s, if any.
func (s SessionStatus) Next() (SessionStatus, bool) {
	switch s {
	case StatusWaiting:
		return StatusActive, true
	case StatusActive:
		return StatusCompleted, true
	}
	return "", false
}

// Participant is one roster entry
type Participant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Count     int       `json:"count"`
	IsHost    bool      `json:"isHost"`
	PeerID    string    `json:"peerId,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Session is the live, shared workout record
type Session struct {
	ID           string                  `json:"id"`
	Code         string                  `json:"code"`       // Short, shareable join code
	Name         string                  `json:"name"`
	Status       SessionStatus           `json:"status"`
	HostID       string                  `json:"hostId"`     // User ID from JWT who created the session
	ExerciseType string                  `json:"exerciseType"`
	CreatedAt    time.Time               `json:"createdAt"`
	StartedAt    *time.Time              `json:"startedAt,omitempty"`
	EndedAt      *time.Time              `json:"endedAt,omitempty"`
	Participants map[string]*Participant `json:"participants"`
}

// Roster returns participants ordered host first, then by join time.
func (s *Session) Roster() []*Participant {
	out := make([]*Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsHost != out[j].IsHost {
			return out[i].IsHost
		}
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ParticipantByPeer resolves a WebRTC peer id to its roster entry.
func (s *Session) ParticipantByPeer(peerID string) (*Participant, bool) {
	if peerID == "" {
		return nil, false
	}
	for _, p := range s.Participants {
		if p.PeerID == peerID {
			return p, true
		}
	}
	return nil, false
}

// Host returns the host's roster entry.
func (s *Session) Host() (*Participant, bool) {
	p, ok := s.Participants[s.HostID]
	return p, ok
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	c.Participants = make(map[string]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		cp := *p
		c.Participants[id] = &cp
	}
	return &c
}

// CreateSessionRequest is the request body for creating a session
type CreateSessionRequest struct {
	Name         string `json:"name" binding:"required,max=80"`
	ExerciseType string `json:"exerciseType" binding:"required"`
	DisplayName  string `json:"displayName" binding:"max=80"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
}

// JoinSessionRequest contains optional data when joining a session
type JoinSessionRequest struct {
	DisplayName string `json:"displayName,omitempty" binding:"max=80"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// UpdateCountRequest is the body of a count update
type UpdateCountRequest struct {
	Count *int `json:"count" binding:"required"`
}
