package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/repsync/internal/middleware"
	"github.com/mossy-p/repsync/internal/models"
	"github.com/mossy-p/repsync/internal/session"
)

// CreateSession creates a new session hosted by the caller
func CreateSession(coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req models.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		s, err := coord.CreateSession(c.Request.Context(), session.Member{
			ID:        userID,
			Name:      req.DisplayName,
			AvatarURL: req.AvatarURL,
		}, req.Name, req.ExerciseType)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, s)
	}
}

// GetSession returns session info by ID or code (public endpoint)
func GetSession(coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := coord.Get(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

// JoinSession adds the caller to the roster. The body is optional.
func JoinSession(coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req models.JoinSessionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		s, err := coord.JoinSession(c.Request.Context(), c.Param("sessionId"), session.Member{
			ID:        userID,
			Name:      req.DisplayName,
			AvatarURL: req.AvatarURL,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

// StartSession moves the session to active (host only)
func StartSession(coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		s, err := coord.StartSession(c.Request.Context(), c.Param("sessionId"), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

// EndSession completes the session and returns its results (host only).
// When the results cannot be stored the response still carries them.
func EndSession(coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		res, err := coord.EndSession(c.Request.Context(), c.Param("sessionId"), userID)
		if err != nil {
			if res != nil {
				c.JSON(statusFor(err), gin.H{"error": err.Error(), "result": res})
				return
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// UpdateCount records the caller's own rep count
func UpdateCount(coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req models.UpdateCountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		p, err := coord.UpdateCount(c.Request.Context(), c.Param("sessionId"), userID, *req.Count)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}
