package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/repsync/internal/metrics"
	"github.com/mossy-p/repsync/internal/middleware"
	"github.com/mossy-p/repsync/internal/models"
	"github.com/mossy-p/repsync/internal/session"
	"github.com/mossy-p/repsync/internal/signaling"
	"github.com/mossy-p/repsync/internal/store"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Hub tracks the session sockets connected to this instance. Every session
// with at least one local socket has a Room subscribed to its change feed.
type Hub struct {
	coord   *session.Coordinator
	relay   *signaling.Relay
	metrics *metrics.Manager

	mu    sync.Mutex
	rooms map[string]*Room
}

// Room manages the local peers of one session
type Room struct {
	ID    string
	Peers map[string]*Client
	mu    sync.RWMutex
	sub   store.Subscription
}

// Client represents a WebSocket client connection
type Client struct {
	ID     string // peer id
	UserID string
	RoomID string
	Conn   *websocket.Conn
	Send   chan []byte

	mu     sync.Mutex
	closed bool
}

func NewHub(coord *session.Coordinator, relay *signaling.Relay, m *metrics.Manager) *Hub {
	return &Hub{
		coord:   coord,
		relay:   relay,
		metrics: m,
		rooms:   make(map[string]*Room),
	}
}

// HandleSession upgrades a participant's connection to the session push
// channel. A reconnecting client may pass its previous peerId and the last
// signal seq it saw (after) to resume and receive what it missed.
func (h *Hub) HandleSession(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	ctx := c.Request.Context()

	s, err := h.coord.Get(ctx, c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	self, ok := s.Participants[userID]
	if !ok {
		respondError(c, session.ErrNotParticipant)
		return
	}
	if s.Status == models.StatusCompleted {
		respondError(c, session.ErrSessionClosed)
		return
	}

	// Generate unique peer ID unless the caller resumes its current one
	peerID := uuid.New().String()
	resumed := false
	var after int64
	if resume := c.Query("peerId"); resume != "" && resume == self.PeerID {
		peerID = resume
		resumed = true
		after, _ = strconv.ParseInt(c.Query("after"), 10, 64)
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("failed to upgrade connection")
		return
	}

	client := &Client{
		ID:     peerID,
		UserID: userID,
		RoomID: s.ID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
	}

	// The welcome is queued before the client enters the room, so it precedes
	// every broadcast and signal, including offers triggered by the attach.
	welcome := s.Clone()
	welcome.Participants[userID].PeerID = peerID
	client.sendEnvelope(models.Envelope{
		Type:    models.EnvelopeWelcome,
		PeerID:  peerID,
		Session: welcome,
	})

	room, err := h.join(client)
	if err != nil {
		log.WithError(err).WithField("session", s.ID).Error("failed to subscribe to session feed")
		conn.Close()
		return
	}

	// the join is broadcast to everyone through the change feed
	attached, err := h.coord.AttachPeer(context.Background(), s.ID, userID, peerID)
	if err != nil {
		log.WithError(err).WithField("session", s.ID).Error("failed to attach peer")
		h.leave(room, client)
		conn.Close()
		return
	}

	logger := log.WithFields(log.Fields{"session": s.ID, "peer": peerID, "user": userID})
	logger.Infof("peer joined session (code: %s) - %d participants", s.Code, len(attached.Participants))

	if resumed {
		h.replay(client, after)
	}

	// Start goroutines for reading and writing
	go client.writePump()
	go h.readPump(room, client)
}

func (h *Hub) replay(client *Client, after int64) {
	pending, err := h.relay.Pending(context.Background(), client.RoomID, client.ID, after)
	if err != nil {
		log.WithError(err).WithField("peer", client.ID).Warn("failed to replay signaling messages")
		return
	}
	for i := range pending {
		client.sendEnvelope(models.Envelope{Type: models.EnvelopeSignal, Signal: &pending[i]})
	}
}

// join adds the client to its session's room, subscribing the room to the
// session feed when it is the first local client.
func (h *Hub) join(client *Client) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, exists := h.rooms[client.RoomID]
	if !exists {
		sub, err := h.coord.Subscribe(context.Background(), client.RoomID)
		if err != nil {
			return nil, err
		}
		room = &Room{
			ID:    client.RoomID,
			Peers: make(map[string]*Client),
			sub:   sub,
		}
		h.rooms[client.RoomID] = room
		go room.run()
		log.WithField("session", room.ID).Debug("created room")
	}
	if replaced := room.addClient(client); !replaced && h.metrics != nil {
		h.metrics.GaugeSockets.Inc()
	}
	return room, nil
}

// leave removes the client from its room. It reports false when the client
// had already been replaced by a resumed connection.
func (h *Hub) leave(room *Room, client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !room.removeClient(client) {
		return false
	}
	if h.metrics != nil {
		h.metrics.GaugeSockets.Dec()
	}

	// Clean up room if empty
	if room.size() == 0 && h.rooms[room.ID] == room {
		delete(h.rooms, room.ID)
		if err := room.sub.Close(); err != nil {
			log.WithError(err).WithField("session", room.ID).Warn("failed to close session feed")
		}
		log.WithField("session", room.ID).Debug("removed empty room")
	}
	return true
}

// Close disconnects every socket.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	for _, room := range rooms {
		room.mu.RLock()
		for _, client := range room.Peers {
			client.Conn.Close()
		}
		room.mu.RUnlock()
	}
}

// run fans the session feed out to the local peers until the feed closes.
func (r *Room) run() {
	for ev := range r.sub.Events() {
		switch ev.Kind {
		case models.EventSession:
			if ev.Session != nil {
				r.broadcast(models.Envelope{Type: models.EnvelopeSession, Session: ev.Session})
			}
		case models.EventSignal:
			if ev.Signal != nil {
				r.sendToClient(models.Envelope{Type: models.EnvelopeSignal, Signal: ev.Signal}, ev.Signal.To)
			}
		}
	}
}

func (r *Room) addClient(client *Client) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.Peers[client.ID]; ok {
		// a resumed peer replaces its stale socket
		old.close()
		replaced = true
	}
	r.Peers[client.ID] = client
	return replaced
}

func (r *Room) removeClient(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Peers[client.ID] != client {
		return false
	}
	delete(r.Peers, client.ID)
	client.close()
	return true
}

func (r *Room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Peers)
}

func (r *Room) broadcast(env models.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.WithError(err).Error("failed to marshal envelope")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, client := range r.Peers {
		client.queue(data)
	}
}

func (r *Room) sendToClient(env models.Envelope, targetPeerID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.Peers[targetPeerID]
	if !exists {
		// the target is connected to another instance, or will replay later
		return
	}
	client.sendEnvelope(env)
}

func (h *Hub) readPump(room *Room, c *Client) {
	logger := log.WithFields(log.Fields{"session": c.RoomID, "peer": c.ID, "user": c.UserID})
	defer func() {
		removed := h.leave(room, c)
		c.Conn.Close()
		if !removed {
			logger.Info("peer socket replaced")
			return
		}
		if err := h.coord.DetachPeer(context.Background(), c.RoomID, c.UserID, c.ID); err != nil {
			logger.WithError(err).Debug("failed to detach peer")
		}
		logger.Info("peer left session")
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.WithError(err).Warn("websocket error")
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			logger.WithError(err).Warn("failed to parse envelope")
			continue
		}

		ctx := context.Background()
		switch env.Type {
		case models.EnvelopeSignal:
			if env.Signal == nil {
				c.sendError("signal envelope without signal")
				continue
			}
			// Set the sender
			msg := *env.Signal
			msg.From = c.ID
			if _, err := h.relay.Send(ctx, c.RoomID, c.UserID, msg); err != nil {
				c.sendError(err.Error())
			}
		case models.EnvelopeCount:
			if env.Count == nil {
				c.sendError("count envelope without count")
				continue
			}
			if _, err := h.coord.UpdateCount(ctx, c.RoomID, c.UserID, *env.Count); err != nil {
				c.sendError(err.Error())
			}
		default:
			logger.Debugf("unknown envelope type: %s", env.Type)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.WithError(err).WithField("peer", c.ID).Warn("failed to write message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendEnvelope queues env without blocking. Envelopes for a closed client
// are dropped.
func (c *Client) sendEnvelope(env models.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.WithError(err).Error("failed to marshal envelope")
		return
	}
	c.queue(data)
}

func (c *Client) queue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warnf("failed to send envelope to peer %s, buffer full", c.ID)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) sendError(message string) {
	c.sendEnvelope(models.Envelope{Type: models.EnvelopeError, Error: message})
}
