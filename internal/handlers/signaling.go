package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/repsync/internal/middleware"
	"github.com/mossy-p/repsync/internal/models"
	"github.com/mossy-p/repsync/internal/session"
	"github.com/mossy-p/repsync/internal/signaling"
)

// ICEServers tells clients which STUN/TURN servers to use
func ICEServers(urls []string) gin.HandlerFunc {
	if urls == nil {
		urls = []string{}
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": urls})
	}
}

// SendSignal appends a signaling message to the session mailbox
func SendSignal(relay *signaling.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var msg models.SignalMessage
		if err := c.ShouldBindJSON(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		stored, err := relay.Send(c.Request.Context(), c.Param("sessionId"), userID, msg)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, stored)
	}
}

// PendingSignals replays the messages addressed to one of the caller's peers.
// Query: peerId (required), after (last seen seq, default 0).
func PendingSignals(coord *session.Coordinator, relay *signaling.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		peerID := c.Query("peerId")
		if peerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "peerId is required"})
			return
		}
		after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
		if err != nil || after < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a non-negative integer"})
			return
		}

		s, err := coord.Get(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			respondError(c, err)
			return
		}
		if p, ok := s.ParticipantByPeer(peerID); !ok || p.ID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "peer belongs to another participant"})
			return
		}

		pending, err := relay.Pending(c.Request.Context(), s.ID, peerID, after)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": pending})
	}
}
