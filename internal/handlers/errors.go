package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/repsync/internal/results"
	"github.com/mossy-p/repsync/internal/session"
	"github.com/mossy-p/repsync/internal/signaling"
	log "github.com/sirupsen/logrus"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, results.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrForbidden),
		errors.Is(err, session.ErrNotParticipant),
		errors.Is(err, signaling.ErrForbidden),
		errors.Is(err, signaling.ErrNotInitiator):
		return http.StatusForbidden
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, session.ErrSessionFull),
		errors.Is(err, signaling.ErrSessionClosed),
		errors.Is(err, results.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidCount),
		errors.Is(err, session.ErrInvalidInput),
		errors.Is(err, signaling.ErrInvalidSignal),
		errors.Is(err, signaling.ErrUnknownPeer),
		errors.Is(err, results.ErrInvalidResult):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrPersistFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
