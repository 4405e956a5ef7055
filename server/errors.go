package server

import (
	"errors"
	"net/http"

	"github.com/alejzeis/kinetic-relay/common"
)

// Auth Gate failures. An unparsable client version is reported as common.ErrInvalidVersion.
var (
	ErrMissingHeader       = errors.New("missing header")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrTimestampOutOfRange = errors.New("request timestamp out of range")
	ErrInvalidToken        = errors.New("invalid client token")
	ErrVersionTooOld       = errors.New("client version too old")
)

// Room Registry failures
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomAlreadyExists = errors.New("room already exists")
	ErrRoomFull          = errors.New("room is full")
	ErrRoomInvalidToken  = errors.New("invalid room token")
)

// Relay failures
var (
	ErrUpstreamConnectFailed = errors.New("failed to connect to signaling backend")
	ErrTransportClosed       = errors.New("transport closed")
)

// AuthError is a rejected registry request, Status is the HTTP status the gate answers with
type AuthError struct {
	Kind    error
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Kind
}

func newAuthError(kind error, message string) *AuthError {
	status := http.StatusUnauthorized
	switch kind {
	case ErrMissingHeader, ErrInvalidTimestamp, common.ErrInvalidVersion:
		status = http.StatusBadRequest
	case ErrVersionTooOld:
		status = http.StatusUpgradeRequired
	}
	return &AuthError{Kind: kind, Status: status, Message: message}
}
