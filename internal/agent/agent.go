package agent

import (
	"context"
	"sync"

	"github.com/mossy-p/repsync/internal/models"
	"github.com/mossy-p/repsync/internal/peer"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Connection is the push channel an Agent runs on.
type Connection interface {
	SendSignal(msg models.SignalMessage) error
	SendCount(count int) error
	Close() error
}

// Agent is one participant's presence in a session. It handles server
// envelopes, keeps the peer connections in step with the roster and reports
// the local count.
type Agent struct {
	factory peer.Factory
	media   []peer.CaptureTrack

	mu        sync.Mutex
	conn      Connection
	peers     *peer.Manager
	publisher *Publisher
	session   *models.Session
	// signals that arrived before the welcome, handled once it does
	early []models.SignalMessage

	ready     chan struct{}
	readyOnce sync.Once
	ended     chan struct{}
	endOnce   sync.Once
}

func New(factory peer.Factory, media ...peer.CaptureTrack) *Agent {
	return &Agent{
		factory: factory,
		media:   media,
		ready:   make(chan struct{}),
		ended:   make(chan struct{}),
	}
}

// Connect dials the session socket. The agent is ready once the server's
// welcome has been handled.
func (a *Agent) Connect(ctx context.Context, wsURL, token string) error {
	client, err := Dial(ctx, wsURL, token, a)
	if err != nil {
		return err
	}
	a.Attach(client)
	client.Listen()
	go func() {
		<-client.Done()
		a.finish()
	}()
	return nil
}

// Attach runs the agent on an established connection.
func (a *Agent) Attach(conn Connection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = conn
	a.publisher = NewPublisher(conn)
}

// Ready is closed once the agent knows its peer id.
func (a *Agent) Ready() <-chan struct{} {
	return a.ready
}

// Ended is closed when the session completes or the connection drops.
func (a *Agent) Ended() <-chan struct{} {
	return a.ended
}

// Publisher reports counts to the session. Nil before Connect.
func (a *Agent) Publisher() *Publisher {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.publisher
}

// Session returns the last roster snapshot received.
func (a *Agent) Session() *models.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	return a.session.Clone()
}

// Streams returns the remote participants' media.
func (a *Agent) Streams() []peer.Stream {
	a.mu.Lock()
	peers := a.peers
	a.mu.Unlock()
	if peers == nil {
		return nil
	}
	return peers.Streams()
}

func (a *Agent) OnWelcome(peerID string, s *models.Session) {
	a.mu.Lock()
	if a.peers == nil {
		a.peers = peer.NewManager(peerID, a.factory, a.conn, a.media...)
	}
	a.mu.Unlock()

	log.WithFields(log.Fields{"session": s.ID, "peer": peerID}).Info("joined session")
	a.readyOnce.Do(func() { close(a.ready) })
	a.OnSession(s)

	a.mu.Lock()
	early := a.early
	a.early = nil
	a.mu.Unlock()
	for _, msg := range early {
		a.OnSignal(msg)
	}
}

func (a *Agent) OnSession(s *models.Session) {
	a.mu.Lock()
	a.session = s.Clone()
	peers := a.peers
	a.mu.Unlock()

	if s.Status == models.StatusCompleted {
		log.WithField("session", s.ID).Info("session completed")
		a.finish()
		return
	}
	if peers == nil {
		return
	}
	if err := peers.Sync(s); err != nil {
		log.WithError(err).Warn("failed to sync peer connections")
	}
}

func (a *Agent) OnSignal(msg models.SignalMessage) {
	a.mu.Lock()
	peers := a.peers
	if peers == nil {
		a.early = append(a.early, msg)
		a.mu.Unlock()
		log.WithField("seq", msg.Seq).Debug("signal before welcome, holding")
		return
	}
	a.mu.Unlock()
	// failures are logged by the manager; the relay does not retry
	_ = peers.HandleSignal(msg)
}

func (a *Agent) OnError(message string) {
	log.WithField("error", message).Warn("server rejected a message")
}

func (a *Agent) finish() {
	a.endOnce.Do(func() { close(a.ended) })
}

// Shutdown flushes the count, closes every peer connection and stops local
// media, then closes the session socket.
func (a *Agent) Shutdown() error {
	a.mu.Lock()
	publisher, peers, conn := a.publisher, a.peers, a.conn
	a.mu.Unlock()

	var errs error
	if publisher != nil {
		publisher.Close()
	}
	if peers != nil {
		errs = multierr.Append(errs, peers.Close())
	} else {
		for _, track := range a.media {
			errs = multierr.Append(errs, track.Stop())
		}
	}
	if conn != nil {
		errs = multierr.Append(errs, conn.Close())
	}
	a.finish()
	return errs
}
