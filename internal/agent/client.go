// Package agent is the participant side of a shared session: it counts reps
// locally, reports the count and connects to the other participants' media.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/repsync/internal/models"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

var ErrDisconnected = errors.New("session connection is closed")

// Handler receives envelopes pushed by the server.
type Handler interface {
	OnWelcome(peerID string, s *models.Session)
	OnSession(s *models.Session)
	OnSignal(msg models.SignalMessage)
	OnError(message string)
}

// Client is the push channel to the server for one session.
type Client struct {
	conn    *websocket.Conn
	handler Handler
	send    chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// Dial connects to the session socket at wsURL, authenticating with token.
// Envelopes are dispatched once Listen is called.
func Dial(ctx context.Context, wsURL, token string, handler Handler) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	log.WithField("url", u.String()).Info("connecting to session")
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &Client{
		conn:    conn,
		handler: handler,
		send:    make(chan []byte, sendBuffer),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.writePump()
	return c, nil
}

// Listen starts dispatching server envelopes to the handler.
func (c *Client) Listen() {
	go c.readPump()
}

// SendSignal queues a signaling message for the server relay.
func (c *Client) SendSignal(msg models.SignalMessage) error {
	return c.sendEnvelope(models.Envelope{Type: models.EnvelopeSignal, Signal: &msg})
}

// SendCount queues the participant's current count.
func (c *Client) SendCount(count int) error {
	return c.sendEnvelope(models.Envelope{Type: models.EnvelopeCount, Count: &count})
}

func (c *Client) sendEnvelope(env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}
	select {
	case <-c.closed:
		return ErrDisconnected
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return ErrDisconnected
	}
}

// Done is closed once the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame, waits briefly for the server to acknowledge it
// and releases the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		select {
		case <-c.done:
			// the server hung up first
			err = c.conn.Close()
			return
		default:
		}
		werr := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		if errors.Is(werr, websocket.ErrCloseSent) {
			werr = nil
		}
		select {
		case <-c.done:
		case <-time.After(writeWait):
		}
		err = multierr.Combine(werr, c.conn.Close())
	})
	return err
}

func (c *Client) readPump() {
	defer close(c.done)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("session socket closed unexpectedly")
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.WithError(err).Warn("failed to parse envelope")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env models.Envelope) {
	switch env.Type {
	case models.EnvelopeWelcome:
		if env.Session == nil || env.PeerID == "" {
			log.Warn("welcome without session or peer id")
			return
		}
		c.handler.OnWelcome(env.PeerID, env.Session)
	case models.EnvelopeSession:
		if env.Session != nil {
			c.handler.OnSession(env.Session)
		}
	case models.EnvelopeSignal:
		if env.Signal != nil {
			c.handler.OnSignal(*env.Signal)
		}
	case models.EnvelopeError:
		c.handler.OnError(env.Error)
	default:
		log.WithField("type", env.Type).Debug("unhandled envelope")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.WithError(err).Warn("failed to write envelope")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		case <-c.done:
			return
		}
	}
}
