package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/repsync/internal/middleware"
	"github.com/mossy-p/repsync/internal/results"
	"github.com/mossy-p/repsync/internal/session"
)

// SaveResult stores results for a session the caller hosted, typically a solo
// workout. The caller is recorded as host. Live sessions are persisted by the
// coordinator when they end and cannot be written here.
func SaveResult(repo results.Repo, coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var res results.Result
		if err := c.ShouldBindJSON(&res); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res.HostID = userID
		if err := res.Validate(); err != nil {
			respondError(c, err)
			return
		}
		_, err := coord.Get(c.Request.Context(), res.SessionID)
		switch {
		case err == nil:
			c.JSON(http.StatusConflict, gin.H{"error": "session is still live"})
			return
		case !errors.Is(err, session.ErrNotFound):
			respondError(c, err)
			return
		}
		if res.TimeSpent == 0 {
			res.TimeSpent = int64(res.EndedAt.Sub(res.StartedAt).Seconds())
		}

		if err := repo.Save(c.Request.Context(), &res); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"sessionId": res.SessionID})
	}
}

// ListResults returns one session's results when sessionId is given,
// otherwise the caller's history.
func ListResults(repo results.Repo) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		if sessionID := c.Query("sessionId"); sessionID != "" {
			res, err := repo.Get(c.Request.Context(), sessionID)
			if err != nil {
				respondError(c, err)
				return
			}
			if !res.Includes(userID) {
				c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this session"})
				return
			}
			c.JSON(http.StatusOK, res)
			return
		}

		history, err := repo.ListByUser(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		if history == nil {
			history = []*results.Result{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": history})
	}
}
