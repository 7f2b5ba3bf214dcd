package results

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResult(id string, started time.Time, participants ...ParticipantResult) *Result {
	return &Result{
		SessionID:    id,
		ExerciseType: "bicep-curl",
		HostID:       "host",
		Participants: participants,
		TimeSpent:    90,
		StartedAt:    started,
		EndedAt:      started.Add(90 * time.Second),
	}
}

func TestResult_Validate(t *testing.T) {
	now := time.Now()
	valid := testResult("s1", now, ParticipantResult{UserID: "host", Count: 3})
	require.NoError(t, valid.Validate())

	cases := map[string]func(r *Result){
		"no session":        func(r *Result) { r.SessionID = "" },
		"no exercise":       func(r *Result) { r.ExerciseType = "" },
		"ends before start": func(r *Result) { r.EndedAt = r.StartedAt.Add(-time.Second) },
		"negative time":     func(r *Result) { r.TimeSpent = -1 },
		"no user":           func(r *Result) { r.Participants = []ParticipantResult{{Name: "x"}} },
		"negative count":    func(r *Result) { r.Participants = []ParticipantResult{{UserID: "a", Count: -2}} },
		"duplicate": func(r *Result) {
			r.Participants = []ParticipantResult{{UserID: "a"}, {UserID: "a"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := testResult("s1", now)
			mutate(r)
			assert.ErrorIs(t, r.Validate(), ErrInvalidResult)
		})
	}
}

func TestResult_TotalsAndMembership(t *testing.T) {
	r := testResult("s1", time.Now(),
		ParticipantResult{UserID: "host", Count: 3},
		ParticipantResult{UserID: "joe", Count: 5},
	)
	assert.Equal(t, 8, r.TotalReps())
	assert.True(t, r.Includes("joe"))
	assert.True(t, r.Includes("host"))
	assert.False(t, r.Includes("ann"))
}

func TestMemoryRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, testResult("old", base, ParticipantResult{UserID: "joe", Count: 1})))
	require.NoError(t, repo.Save(ctx, testResult("new", base.Add(time.Hour), ParticipantResult{UserID: "joe", Count: 2})))
	require.NoError(t, repo.Save(ctx, testResult("other", base, ParticipantResult{UserID: "ann", Count: 2})))
	assert.ErrorIs(t, repo.Save(ctx, &Result{}), ErrInvalidResult)

	got, err := repo.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Participants[0].Count)

	got.Participants[0].Count = 100
	again, err := repo.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Participants[0].Count)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	joe, err := repo.ListByUser(ctx, "joe")
	require.NoError(t, err)
	require.Len(t, joe, 2)
	assert.Equal(t, "new", joe[0].SessionID)
	assert.Equal(t, "old", joe[1].SessionID)

	host, err := repo.ListByUser(ctx, "host")
	require.NoError(t, err)
	assert.Len(t, host, 3)
}

type countingRepo struct {
	Repo
	gets int
}

func (r *countingRepo) Get(ctx context.Context, sessionID string) (*Result, error) {
	r.gets++
	return r.Repo.Get(ctx, sessionID)
}

func TestCachedRepo(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{Repo: NewMemoryRepo()}
	repo := NewCachedRepo(inner)

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	name := gofakeit.Name()
	require.NoError(t, repo.Save(ctx, testResult("s1", started, ParticipantResult{UserID: "u1", Name: name, Count: 12})))

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, name, got.Participants[0].Name)
	assert.Equal(t, 12, got.TotalReps())
	assert.Zero(t, inner.gets, "saved results are served from cache")

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, inner.gets)

	listed, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestMemoryRepo_SaveKeepsHost(t *testing.T) {
	ctx := context.Background()
	repo := NewCachedRepo(NewMemoryRepo())
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	original := testResult("s1", started, ParticipantResult{UserID: "host", Count: 12})
	require.NoError(t, repo.Save(ctx, original))
	// retrying with the same host replaces the record
	original.Participants[0].Count = 13
	require.NoError(t, repo.Save(ctx, original))

	forged := testResult("s1", started, ParticipantResult{UserID: "mallory", Count: 999})
	forged.HostID = "mallory"
	assert.ErrorIs(t, repo.Save(ctx, forged), ErrConflict)

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "host", got.HostID)
	assert.Equal(t, 13, got.TotalReps())
}
