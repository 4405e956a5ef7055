package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alejzeis/kinetic-relay/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func newTestGate(t *testing.T, minVersion string, now time.Time) *AuthGate {
	gate, err := NewAuthGate(testSecret, minVersion)
	require.NoError(t, err, "A valid minimum version should create a gate")
	gate.now = func() time.Time { return now }
	return gate
}

func headersFor(version string, timestamp int64, secret []byte) http.Header {
	header := http.Header{}
	header.Set(common.HeaderClientVersion, version)
	header.Set(common.HeaderClientTime, strconv.FormatInt(timestamp, 10))
	header.Set(common.HeaderClientToken, common.ComputeHMAC(version, timestamp, secret))
	return header
}

func TestNewAuthGateRejectsBadMinimum(t *testing.T) {
	_, err := NewAuthGate(testSecret, "1.0")
	assert.ErrorIs(t, err, common.ErrInvalidVersion, "An unparsable minimum version should be refused")
}

func TestAuthGateCheck(t *testing.T) {
	now := time.Unix(1700000000, 0)
	minute := common.UnixMinutes(now)
	gate := newTestGate(t, "0.7.1", now)

	assert.Nil(t, gate.Check(headersFor("0.7.1", minute, testSecret)), "Valid headers should pass")
	assert.Nil(t, gate.Check(headersFor("0.8.0", minute-5, testSecret)), "Five minutes of skew should pass")
	assert.Nil(t, gate.Check(headersFor("1.0.0", minute+5, testSecret)), "Five minutes of skew ahead should pass")

	tests := []struct {
		name   string
		header http.Header
		kind   error
		status int
	}{
		{"missing everything", http.Header{}, ErrMissingHeader, http.StatusBadRequest},
		{"missing token", func() http.Header {
			h := headersFor("0.7.1", minute, testSecret)
			h.Del(common.HeaderClientToken)
			return h
		}(), ErrMissingHeader, http.StatusBadRequest},
		{"bad timestamp", func() http.Header {
			h := headersFor("0.7.1", minute, testSecret)
			h.Set(common.HeaderClientTime, "soon")
			return h
		}(), ErrInvalidTimestamp, http.StatusBadRequest},
		{"old timestamp", headersFor("0.7.1", minute-6, testSecret), ErrTimestampOutOfRange, http.StatusUnauthorized},
		{"future timestamp", headersFor("0.7.1", minute+6, testSecret), ErrTimestampOutOfRange, http.StatusUnauthorized},
		{"wrong secret", headersFor("0.7.1", minute, []byte("nope")), ErrInvalidToken, http.StatusUnauthorized},
		{"bad version", headersFor("0.7", minute, testSecret), common.ErrInvalidVersion, http.StatusBadRequest},
		{"old version", headersFor("0.6.0", minute, testSecret), ErrVersionTooOld, http.StatusUpgradeRequired},
	}

	for _, tt := range tests {
		authErr := gate.Check(tt.header)
		require.NotNil(t, authErr, "Case %q should be rejected", tt.name)
		assert.ErrorIs(t, authErr, tt.kind, "Case %q should fail with the right kind", tt.name)
		assert.Equal(t, tt.status, authErr.Status, "Case %q should map to the right status", tt.name)
	}
}

func TestAuthGateMiddleware(t *testing.T) {
	now := time.Now()
	gate := newTestGate(t, "0.7.1", now)

	reached := false
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	request := httptest.NewRequest("GET", "/api/rooms", nil)
	request.Header = headersFor("0.6.0", common.UnixMinutes(now), testSecret)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	assert.False(t, reached, "A rejected request must not reach the handler")
	assert.Equal(t, http.StatusUpgradeRequired, recorder.Code, "An old client should be told to upgrade")
	body, _ := io.ReadAll(recorder.Body)
	assert.Contains(t, string(body), "0.7.1", "The body should quote the minimum version")

	request = httptest.NewRequest("GET", "/api/rooms", nil)
	request.Header = headersFor("0.7.1", common.UnixMinutes(now), testSecret)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	assert.True(t, reached, "An accepted request should reach the handler")
	assert.Equal(t, http.StatusOK, recorder.Code, "The handler's status should be returned")
}
