package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatus_Next(t *testing.T) {
	next, ok := StatusWaiting.Next()
	require.True(t, ok)
	assert.Equal(t, StatusActive, next)

	next, ok = StatusActive.Next()
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, next)

	_, ok = StatusCompleted.Next()
	assert.False(t, ok)
}

func TestSession_RosterAndLookup(t *testing.T) {
	now := time.Now()
	s := &Session{
		HostID: "host",
		Participants: map[string]*Participant{
			"b":    {ID: "b", JoinedAt: now.Add(2 * time.Second), PeerID: "peer-b"},
			"a":    {ID: "a", JoinedAt: now.Add(time.Second)},
			"host": {ID: "host", IsHost: true, JoinedAt: now, PeerID: "peer-host"},
		},
	}

	roster := s.Roster()
	require.Len(t, roster, 3)
	assert.Equal(t, []string{"host", "a", "b"}, []string{roster[0].ID, roster[1].ID, roster[2].ID})

	p, ok := s.ParticipantByPeer("peer-b")
	require.True(t, ok)
	assert.Equal(t, "b", p.ID)

	_, ok = s.ParticipantByPeer("")
	assert.False(t, ok)

	host, ok := s.Host()
	require.True(t, ok)
	assert.True(t, host.IsHost)
}

func TestSession_CloneIsDeep(t *testing.T) {
	started := time.Now()
	s := &Session{
		ID:           "s1",
		StartedAt:    &started,
		Participants: map[string]*Participant{"a": {ID: "a", Count: 1}},
	}

	c := s.Clone()
	c.Participants["a"].Count = 5
	*c.StartedAt = started.Add(time.Hour)

	assert.Equal(t, 1, s.Participants["a"].Count)
	assert.Equal(t, started, *s.StartedAt)
	assert.Nil(t, (*Session)(nil).Clone())
}

func TestSignalType_Valid(t *testing.T) {
	assert.True(t, SignalTypeOffer.Valid())
	assert.True(t, SignalTypeAnswer.Valid())
	assert.True(t, SignalTypeCandidate.Valid())
	assert.False(t, SignalType("join").Valid())
}
