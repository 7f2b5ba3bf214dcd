package peer

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mossy-p/repsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeConn struct {
	remote      string
	offers      int
	answers     int
	setAnswers  int
	candidates  []models.ICECandidatePayload
	closed      bool
	closeErr    error
	onCandidate func(models.ICECandidatePayload)
	onTrack     func(RemoteTrack)
}

func (c *fakeConn) CreateOffer() (models.SDPPayload, error) {
	c.offers++
	return models.SDPPayload{Type: "offer", SDP: "offer-to-" + c.remote}, nil
}

func (c *fakeConn) CreateAnswer(offer models.SDPPayload) (models.SDPPayload, error) {
	c.answers++
	return models.SDPPayload{Type: "answer", SDP: "answer-to-" + offer.SDP}, nil
}

func (c *fakeConn) SetAnswer(models.SDPPayload) error {
	c.setAnswers++
	return nil
}

func (c *fakeConn) AddICECandidate(candidate models.ICECandidatePayload) error {
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(models.ICECandidatePayload)) { c.onCandidate = fn }
func (c *fakeConn) OnTrack(fn func(RemoteTrack))                     { c.onTrack = fn }

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

type fakeNetwork struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
	sent  []models.SignalMessage
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{conns: make(map[string]*fakeConn)}
}

func (n *fakeNetwork) factory(remote string) (Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := &fakeConn{remote: remote}
	n.conns[remote] = c
	return c, nil
}

func (n *fakeNetwork) SendSignal(msg models.SignalMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type fakeTrack struct {
	id      string
	stopped bool
}

func (t *fakeTrack) ID() string { return t.id }
func (t *fakeTrack) Stop() error {
	t.stopped = true
	return nil
}

func testSession() *models.Session {
	return &models.Session{
		ID:     "s1",
		HostID: "host",
		Participants: map[string]*models.Participant{
			"host":  {ID: "host", Name: "Hana", IsHost: true, PeerID: "peer-host"},
			"guest": {ID: "guest", Name: "Gus", Count: 4, PeerID: "peer-guest"},
			"late":  {ID: "late", Name: "Lou"},
		},
	}
}

func signal(t *testing.T, seq int64, typ models.SignalType, from, to string, payload any) models.SignalMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return models.SignalMessage{Seq: seq, Type: typ, From: from, To: to, Payload: data}
}

func TestManager_HostOffersOnSync(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := newFakeNetwork()
	m := NewManager("peer-host", net.factory, net)

	require.NoError(t, m.Sync(testSession()))
	require.Len(t, net.sent, 1)
	offer := net.sent[0]
	assert.Equal(t, models.SignalTypeOffer, offer.Type)
	assert.Equal(t, "peer-host", offer.From)
	assert.Equal(t, "peer-guest", offer.To)

	// a second sync does not renegotiate
	require.NoError(t, m.Sync(testSession()))
	assert.Len(t, net.sent, 1)
	assert.Equal(t, 1, net.conns["peer-guest"].offers)

	answer := signal(t, 2, models.SignalTypeAnswer, "peer-guest", "peer-host", models.SDPPayload{Type: "answer", SDP: "a"})
	require.NoError(t, m.HandleSignal(answer))
	answer.Seq = 3
	require.NoError(t, m.HandleSignal(answer), "repeated answer is ignored")
	assert.Equal(t, 1, net.conns["peer-guest"].setAnswers)

	require.NoError(t, m.Close())
}

func TestManager_JoinerNeverInitiates(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := newFakeNetwork()
	m := NewManager("peer-guest", net.factory, net)

	require.NoError(t, m.Sync(testSession()))
	assert.Empty(t, net.sent)
	assert.Empty(t, net.conns)

	streams := m.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, "host", streams[0].ParticipantID)
	assert.False(t, streams[0].Connected)

	require.NoError(t, m.Close())
}

func TestManager_AnswersOfferOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := newFakeNetwork()
	m := NewManager("peer-guest", net.factory, net)
	require.NoError(t, m.Sync(testSession()))

	offer := signal(t, 1, models.SignalTypeOffer, "peer-host", "peer-guest", models.SDPPayload{Type: "offer", SDP: "o"})
	require.NoError(t, m.HandleSignal(offer))
	require.NoError(t, m.HandleSignal(offer), "redelivered seq is ignored")

	offer.Seq = 5
	require.NoError(t, m.HandleSignal(offer), "offer after remote description is ignored")

	conn := net.conns["peer-host"]
	require.NotNil(t, conn)
	assert.Equal(t, 1, conn.answers)
	require.Len(t, net.sent, 1)
	assert.Equal(t, models.SignalTypeAnswer, net.sent[0].Type)
	assert.Equal(t, "peer-host", net.sent[0].To)

	var payload models.SDPPayload
	require.NoError(t, json.Unmarshal(net.sent[0].Payload, &payload))
	assert.Equal(t, "answer-to-o", payload.SDP)

	require.NoError(t, m.Close())
}

func TestManager_QueuesEarlyCandidates(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := newFakeNetwork()
	m := NewManager("peer-guest", net.factory, net)
	require.NoError(t, m.Sync(testSession()))

	mid := "0"
	early := signal(t, 1, models.SignalTypeCandidate, "peer-host", "peer-guest", models.ICECandidatePayload{Candidate: "c1", SDPMid: &mid})
	require.NoError(t, m.HandleSignal(early))

	offer := signal(t, 2, models.SignalTypeOffer, "peer-host", "peer-guest", models.SDPPayload{Type: "offer", SDP: "o"})
	require.NoError(t, m.HandleSignal(offer))

	conn := net.conns["peer-host"]
	require.Len(t, conn.candidates, 1, "queued candidate is applied after the offer")
	assert.Equal(t, "c1", conn.candidates[0].Candidate)

	late := signal(t, 3, models.SignalTypeCandidate, "peer-host", "peer-guest", models.ICECandidatePayload{Candidate: "c2"})
	require.NoError(t, m.HandleSignal(late))
	assert.Len(t, conn.candidates, 2)

	require.NoError(t, m.Close())
}

func TestManager_IgnoresMessagesForOtherPeers(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := newFakeNetwork()
	m := NewManager("peer-guest", net.factory, net)

	msg := signal(t, 1, models.SignalTypeOffer, "peer-host", "peer-late", models.SDPPayload{Type: "offer", SDP: "o"})
	require.NoError(t, m.HandleSignal(msg))
	assert.Empty(t, net.conns)
	require.NoError(t, m.Close())
}

func TestManager_UnexpectedAnswer(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := newFakeNetwork()
	m := NewManager("peer-guest", net.factory, net)

	msg := signal(t, 1, models.SignalTypeAnswer, "peer-host", "peer-guest", models.SDPPayload{Type: "answer", SDP: "a"})
	assert.ErrorIs(t, m.HandleSignal(msg), ErrUnknownPeer)
	require.NoError(t, m.Close())
}

func TestManager_LocalCandidatesAreSignaled(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := newFakeNetwork()
	m := NewManager("peer-host", net.factory, net)
	require.NoError(t, m.Sync(testSession()))

	net.conns["peer-guest"].onCandidate(models.ICECandidatePayload{Candidate: "local"})
	require.Len(t, net.sent, 2)
	assert.Equal(t, models.SignalTypeCandidate, net.sent[1].Type)
	assert.Equal(t, "peer-guest", net.sent[1].To)

	require.NoError(t, m.Close())
}

func TestManager_StreamsTaggedWithCount(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := newFakeNetwork()
	m := NewManager("peer-host", net.factory, net)
	s := testSession()
	require.NoError(t, m.Sync(s))

	net.conns["peer-guest"].onTrack(RemoteTrack{ID: "v", StreamID: "cam", Kind: "video"})

	s.Participants["guest"].Count = 9
	require.NoError(t, m.Sync(s))

	streams := m.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, "guest", streams[0].ParticipantID)
	assert.Equal(t, "Gus", streams[0].Name)
	assert.Equal(t, 9, streams[0].Count)
	require.Len(t, streams[0].Tracks, 1)
	assert.Equal(t, "video", streams[0].Tracks[0].Kind)

	require.NoError(t, m.Close())
}

func TestManager_SyncClosesDepartedPeers(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := newFakeNetwork()
	m := NewManager("peer-host", net.factory, net)
	s := testSession()
	require.NoError(t, m.Sync(s))

	s.Participants["guest"].PeerID = "peer-guest-2"
	require.NoError(t, m.Sync(s))

	assert.True(t, net.conns["peer-guest"].closed)
	require.NotNil(t, net.conns["peer-guest-2"])
	assert.Equal(t, 1, net.conns["peer-guest-2"].offers, "reconnected peer gets a fresh offer")

	require.NoError(t, m.Close())
}

func TestManager_CloseTearsDownEverything(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := newFakeNetwork()
	camera := &fakeTrack{id: "camera"}
	mic := &fakeTrack{id: "mic"}
	m := NewManager("peer-host", net.factory, net, camera, mic)

	s := testSession()
	s.Participants["late"].PeerID = "peer-late"
	require.NoError(t, m.Sync(s))
	net.conns["peer-late"].closeErr = errors.New("already gone")

	err := m.Close()
	assert.ErrorContains(t, err, "already gone")
	assert.True(t, net.conns["peer-guest"].closed)
	assert.True(t, net.conns["peer-late"].closed)
	assert.True(t, camera.stopped)
	assert.True(t, mic.stopped)

	assert.NoError(t, m.Close(), "second close is a no-op")
	assert.ErrorIs(t, m.Sync(s), ErrClosed)
	assert.ErrorIs(t, m.HandleSignal(models.SignalMessage{To: "peer-host"}), ErrClosed)
}
