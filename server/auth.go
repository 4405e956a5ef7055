package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alejzeis/kinetic-relay/common"

	log "github.com/sirupsen/logrus"
)

// maxClockSkew is the accepted distance, in minutes, between X-Client-Time and the server clock
const maxClockSkew = 5

// AuthGate validates the HMAC headers and the client version on every registry request
type AuthGate struct {
	secret     []byte
	minVersion common.ProtocolVersion
	now        func() time.Time
}

// NewAuthGate creates a gate for the given shared secret and minimum client version
func NewAuthGate(secret []byte, minVersion string) (*AuthGate, error) {
	min, err := common.ParseVersion(minVersion)
	if err != nil {
		return nil, err
	}
	return &AuthGate{secret: secret, minVersion: min, now: time.Now}, nil
}

// Check runs the four gate checks in order: headers present, timestamp in window, digest, version
func (gate *AuthGate) Check(header http.Header) *AuthError {
	version := header.Get(common.HeaderClientVersion)
	timeStr := header.Get(common.HeaderClientTime)
	token := header.Get(common.HeaderClientToken)

	switch {
	case version == "":
		return newAuthError(ErrMissingHeader, "Missing "+common.HeaderClientVersion+" header")
	case timeStr == "":
		return newAuthError(ErrMissingHeader, "Missing "+common.HeaderClientTime+" header")
	case token == "":
		return newAuthError(ErrMissingHeader, "Missing "+common.HeaderClientToken+" header")
	}

	timestamp, err := strconv.ParseInt(timeStr, 10, 64)
	if err != nil {
		return newAuthError(ErrInvalidTimestamp, "Invalid timestamp format")
	}

	skew := common.UnixMinutes(gate.now()) - timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > maxClockSkew {
		return newAuthError(ErrTimestampOutOfRange, "Request timestamp out of range")
	}

	if !common.ValidateHMAC(version, timestamp, token, gate.secret) {
		return newAuthError(ErrInvalidToken, "Invalid client token")
	}

	client, err := common.ParseVersion(version)
	if err != nil {
		return newAuthError(common.ErrInvalidVersion, "Invalid client version format")
	}
	if client.Less(gate.minVersion) {
		return newAuthError(ErrVersionTooOld, fmt.Sprintf("Client version %s is too old. Minimum required: %s", client, gate.minVersion))
	}
	return nil
}

// Middleware rejects requests failing Check before they reach the wrapped handler, usable with mux's Router.Use
func (gate *AuthGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authErr := gate.Check(r.Header); authErr != nil {
			log.WithFields(log.Fields{
				"address": r.RemoteAddr,
				"url":     r.URL.Path,
				"status":  authErr.Status,
			}).WithError(authErr).Warn("Rejected registry request")

			http.Error(w, authErr.Message, authErr.Status)
			return
		}
		next.ServeHTTP(w, r)
	})
}
