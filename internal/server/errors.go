package server

import (
	"errors"
	"net/http"
)

// Per-event error taxonomy. Every error is recovered at the event
// boundary and reported back to the originating connection only.
var (
	errInvalidEvent      = errors.New("invalid event format")
	errEmptyContent      = errors.New("message content cannot be empty")
	errMissingFileRef    = errors.New("file reference is required for non-text messages")
	errForbidden         = errors.New("not a member of this channel")
	errStorage           = errors.New("failed to store message")
	errTargetUnavailable = errors.New("target user is not connected")
	errChannelNotFound   = errors.New("channel not found")
)

// responseFor maps a taxonomy error to the wire response sent to the
// originating client.
func responseFor(id int, err error) *ServerEvent {
	switch {
	case errors.Is(err, errEmptyContent), errors.Is(err, errMissingFileRef), errors.Is(err, errInvalidEvent):
		return errEvent(id, http.StatusBadRequest, err.Error())
	case errors.Is(err, errForbidden):
		return errEvent(id, http.StatusForbidden, errForbidden.Error())
	case errors.Is(err, errChannelNotFound):
		return errEvent(id, http.StatusNotFound, errChannelNotFound.Error())
	case errors.Is(err, errTargetUnavailable):
		return errEvent(id, http.StatusNotFound, errTargetUnavailable.Error())
	default:
		return errEvent(id, http.StatusInternalServerError, "internal server error")
	}
}

func ErrServiceUnavailable(id int) *ServerEvent {
	return errEvent(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidEvent(id int) *ServerEvent {
	if id < 0 {
		id = 0
	}
	return errEvent(id, http.StatusBadRequest, errInvalidEvent.Error())
}
