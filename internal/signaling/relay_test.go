package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mossy-p/repsync/internal/metrics"
	"github.com/mossy-p/repsync/internal/models"
	"github.com/mossy-p/repsync/internal/session"
	"github.com/mossy-p/repsync/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setup struct {
	relay   *Relay
	coord   *session.Coordinator
	store   *store.Memory
	metrics *metrics.Manager
	session *models.Session
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	mgr, _ := metrics.NewTestManagerAndRegistry()
	coord := session.NewCoordinator(st, nil)

	s, err := coord.CreateSession(ctx, session.Member{ID: "host"}, "Squats", "squat")
	require.NoError(t, err)
	_, err = coord.JoinSession(ctx, s.ID, session.Member{ID: "guest"})
	require.NoError(t, err)
	_, err = coord.AttachPeer(ctx, s.ID, "host", "peer-host")
	require.NoError(t, err)
	s, err = coord.AttachPeer(ctx, s.ID, "guest", "peer-guest")
	require.NoError(t, err)

	return &setup{
		relay:   NewRelay(coord, st, mgr),
		coord:   coord,
		store:   st,
		metrics: mgr,
		session: s,
	}
}

func sdp(t *testing.T, kind string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(models.SDPPayload{Type: kind, SDP: "v=0\r\n"})
	require.NoError(t, err)
	return data
}

func TestRelay_SendAndPending(t *testing.T) {
	su := newSetup(t)
	ctx := context.Background()

	sub, err := su.store.Subscribe(ctx, su.session.ID)
	require.NoError(t, err)
	defer sub.Close()

	offer, err := su.relay.Send(ctx, su.session.ID, "host", models.SignalMessage{
		Type:    models.SignalTypeOffer,
		From:    "peer-host",
		To:      "peer-guest",
		Payload: sdp(t, "offer"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), offer.Seq)
	assert.Equal(t, su.session.ID, offer.SessionID)
	assert.False(t, offer.CreatedAt.IsZero())

	answer, err := su.relay.Send(ctx, su.session.ID, "guest", models.SignalMessage{
		Type:    models.SignalTypeAnswer,
		From:    "peer-guest",
		To:      "peer-host",
		Payload: sdp(t, "answer"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), answer.Seq)

	_, err = su.relay.Send(ctx, su.session.ID, "host", models.SignalMessage{
		Type:    models.SignalTypeCandidate,
		From:    "peer-host",
		To:      "peer-guest",
		Payload: json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 10.0.0.2 54321 typ host","sdpMid":"0"}`),
	})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, models.EventSignal, ev.Kind)
		require.NotNil(t, ev.Signal)
		assert.Equal(t, int64(1), ev.Signal.Seq)
	case <-time.After(time.Second):
		t.Fatal("no signal event")
	}

	forGuest, err := su.relay.Pending(ctx, su.session.ID, "peer-guest", 0)
	require.NoError(t, err)
	require.Len(t, forGuest, 2)
	assert.Equal(t, models.SignalTypeOffer, forGuest[0].Type)
	assert.Equal(t, models.SignalTypeCandidate, forGuest[1].Type)

	afterOffer, err := su.relay.Pending(ctx, su.session.ID, "peer-guest", 1)
	require.NoError(t, err)
	require.Len(t, afterOffer, 1)
	assert.Equal(t, int64(3), afterOffer[0].Seq)

	forHost, err := su.relay.Pending(ctx, su.session.Code, "peer-host", 0)
	require.NoError(t, err)
	require.Len(t, forHost, 1)
	assert.Equal(t, models.SignalTypeAnswer, forHost[0].Type)

	assert.Equal(t, float64(1), testutil.ToFloat64(su.metrics.CounterSignals.WithLabelValues("offer")))
	assert.Equal(t, float64(1), testutil.ToFloat64(su.metrics.CounterSignals.WithLabelValues("ice-candidate")))
}

func TestRelay_Rejections(t *testing.T) {
	su := newSetup(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		sender string
		msg    models.SignalMessage
		want   error
	}{
		{
			name:   "unknown type",
			sender: "host",
			msg:    models.SignalMessage{Type: "renegotiate", From: "peer-host", To: "peer-guest", Payload: sdp(t, "offer")},
			want:   ErrInvalidSignal,
		},
		{
			name:   "missing payload",
			sender: "host",
			msg:    models.SignalMessage{Type: models.SignalTypeOffer, From: "peer-host", To: "peer-guest"},
			want:   ErrInvalidSignal,
		},
		{
			name:   "empty sdp",
			sender: "host",
			msg:    models.SignalMessage{Type: models.SignalTypeOffer, From: "peer-host", To: "peer-guest", Payload: json.RawMessage(`{"type":"offer"}`)},
			want:   ErrInvalidSignal,
		},
		{
			name:   "self addressed",
			sender: "host",
			msg:    models.SignalMessage{Type: models.SignalTypeOffer, From: "peer-host", To: "peer-host", Payload: sdp(t, "offer")},
			want:   ErrInvalidSignal,
		},
		{
			name:   "unknown recipient",
			sender: "host",
			msg:    models.SignalMessage{Type: models.SignalTypeOffer, From: "peer-host", To: "peer-nobody", Payload: sdp(t, "offer")},
			want:   ErrUnknownPeer,
		},
		{
			name:   "unknown sender",
			sender: "host",
			msg:    models.SignalMessage{Type: models.SignalTypeOffer, From: "peer-nobody", To: "peer-guest", Payload: sdp(t, "offer")},
			want:   ErrUnknownPeer,
		},
		{
			name:   "spoofed sender",
			sender: "guest",
			msg:    models.SignalMessage{Type: models.SignalTypeOffer, From: "peer-host", To: "peer-guest", Payload: sdp(t, "offer")},
			want:   ErrForbidden,
		},
		{
			name:   "offer from joiner",
			sender: "guest",
			msg:    models.SignalMessage{Type: models.SignalTypeOffer, From: "peer-guest", To: "peer-host", Payload: sdp(t, "offer")},
			want:   ErrNotInitiator,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := su.relay.Send(ctx, su.session.ID, tt.sender, tt.msg)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	pending, err := su.relay.Pending(ctx, su.session.ID, "peer-guest", 0)
	require.NoError(t, err)
	assert.Empty(t, pending, "rejected messages never reach the mailbox")
}

func TestRelay_UnknownSession(t *testing.T) {
	su := newSetup(t)
	ctx := context.Background()

	_, err := su.relay.Send(ctx, "missing", "host", models.SignalMessage{
		Type: models.SignalTypeOffer, From: "peer-host", To: "peer-guest", Payload: sdp(t, "offer"),
	})
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = su.relay.Pending(ctx, "missing", "peer-guest", 0)
	assert.ErrorIs(t, err, session.ErrNotFound)
}
