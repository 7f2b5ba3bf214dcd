package session

import "errors"

var (
	ErrNotFound          = errors.New("session not found")
	ErrForbidden         = errors.New("only the host can do that")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotActive         = errors.New("session is not active")
	ErrSessionClosed     = errors.New("session is completed")
	ErrSessionFull       = errors.New("session is full")
	ErrNotParticipant    = errors.New("not a participant of this session")
	ErrInvalidCount      = errors.New("invalid count")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPersistFailed     = errors.New("failed to persist session results")
)
