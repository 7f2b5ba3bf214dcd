package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/mossy-p/repsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_GetSession(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()
	r := NewRedis(db, time.Hour)

	s := newTestSession("s1", "ABC234")
	meta, err := encodeMeta(s)
	require.NoError(t, err)
	host, err := json.Marshal(s.Participants["host"])
	require.NoError(t, err)

	mock.ExpectGet("session:s1").SetVal(string(meta))
	mock.ExpectHGetAll("session:s1:participants").SetVal(map[string]string{
		"host":   string(host),
		"broken": "{not json",
	})

	got, err := r.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "ABC234", got.Code)
	assert.Equal(t, models.StatusWaiting, got.Status)
	require.Len(t, got.Participants, 1)
	assert.True(t, got.Participants["host"].IsHost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_GetSessionNotFound(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()
	r := NewRedis(db, time.Hour)

	mock.ExpectGet("session:nope").RedisNil()
	_, err := r.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectGet("code:ZZZZ22").RedisNil()
	_, err = r.ResolveCode(context.Background(), "ZZZZ22")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectGet("code:ABC234").SetVal("s1")
	id, err := r.ResolveCode(context.Background(), "ABC234")
	require.NoError(t, err)
	assert.Equal(t, "s1", id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_CreateSessionCodeTaken(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()
	r := NewRedis(db, time.Hour)

	mock.ExpectSetNX("code:ABC234", "s1", time.Hour).SetVal(false)
	err := r.CreateSession(context.Background(), newTestSession("s1", "ABC234"))
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_AppendSignal(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()
	r := NewRedis(db, 30*time.Minute)

	msg := models.SignalMessage{
		SessionID: "s1",
		Type:      models.SignalTypeOffer,
		From:      "peer-host",
		To:        "peer-joe",
		Payload:   json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	mock.ExpectWatch("session:s1")
	mock.ExpectPTTL("session:s1").SetVal(12 * time.Minute)
	mock.ExpectTxPipeline()
	mock.ExpectRPush("session:s1:signaling", string(data)).SetVal(3)
	mock.ExpectPExpire("session:s1:signaling", 12*time.Minute).SetVal(true)
	mock.ExpectTxPipelineExec()

	stored, err := r.AppendSignal(context.Background(), "s1", msg)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Seq)
	assert.Equal(t, msg.To, stored.To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_AppendSignalDeletedSession(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()
	r := NewRedis(db, 30*time.Minute)

	mock.ExpectWatch("session:s1")
	mock.ExpectPTTL("session:s1").SetVal(keyMissing)

	_, err := r.AppendSignal(context.Background(), "s1", models.SignalMessage{Type: models.SignalTypeCandidate})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_AddParticipantFull(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()
	r := NewRedis(db, time.Hour)

	mock.ExpectWatch("session:s1", "session:s1:participants")
	mock.ExpectExists("session:s1").SetVal(1)
	mock.ExpectHGet("session:s1:participants", "kim").RedisNil()
	mock.ExpectHLen("session:s1:participants").SetVal(2)

	_, _, err := r.AddParticipant(context.Background(), "s1", &models.Participant{ID: "kim"}, 2)
	assert.ErrorIs(t, err, ErrFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_AddParticipantDeletedSession(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()
	r := NewRedis(db, time.Hour)

	mock.ExpectWatch("session:s1", "session:s1:participants")
	mock.ExpectExists("session:s1").SetVal(0)

	_, _, err := r.AddParticipant(context.Background(), "s1", &models.Participant{ID: "kim"}, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Signals(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()
	r := NewRedis(db, time.Hour)

	first, err := json.Marshal(models.SignalMessage{Type: models.SignalTypeAnswer, From: "b", To: "a"})
	require.NoError(t, err)
	second, err := json.Marshal(models.SignalMessage{Type: models.SignalTypeCandidate, From: "b", To: "a"})
	require.NoError(t, err)

	mock.ExpectLRange("session:s1:signaling", 4, -1).SetVal([]string{string(first), string(second)})

	msgs, err := r.Signals(context.Background(), "s1", 4)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(5), msgs[0].Seq)
	assert.Equal(t, models.SignalTypeAnswer, msgs[0].Type)
	assert.Equal(t, int64(6), msgs[1].Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()
	r := NewRedis(db, time.Hour)

	ev := models.Event{Kind: models.EventSignal, Signal: &models.SignalMessage{Seq: 1, Type: models.SignalTypeOffer}}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectPublish("session:s1:events", string(data)).SetVal(2)
	require.NoError(t, r.Publish(context.Background(), "s1", ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}
