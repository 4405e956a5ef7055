package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alejzeis/kinetic-relay/common"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEnvelope(t *testing.T, conn *websocket.Conn) common.Envelope {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "The backend should deliver an envelope")
	envelope, err := common.DecodeEnvelope(data)
	require.NoError(t, err, "The backend should deliver well formed envelopes")
	return envelope
}

func TestBackendBrokersPeers(t *testing.T) {
	backend := NewBackend()
	server := httptest.NewServer(backend.Router())
	defer server.Close()
	defer backend.Shutdown()
	roomURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/r1"

	first, _, err := websocket.DefaultDialer.Dial(roomURL, nil)
	require.NoError(t, err, "The first peer should connect")
	defer first.Close()
	assert.Eventually(t, func() bool { return backend.PeerCount("r1") == 1 }, 2*time.Second, 10*time.Millisecond,
		"The first peer should be in the room")

	second, _, err := websocket.DefaultDialer.Dial(roomURL, nil)
	require.NoError(t, err, "The second peer should connect")
	assert.Eventually(t, func() bool { return backend.PeerCount("r1") == 2 }, 2*time.Second, 10*time.Millisecond,
		"Both peers should be in the room")
	assert.Zero(t, backend.PeerCount("r2"), "Other rooms should be empty")

	joined := readEnvelope(t, first)
	assert.Equal(t, common.EnvelopePeerJoined, joined.Kind, "The first peer should learn about the second")
	secondID := joined.Peer

	joined = readEnvelope(t, second)
	assert.Equal(t, common.EnvelopePeerJoined, joined.Kind, "The second peer should learn about the first")
	firstID := joined.Peer
	assert.NotEqual(t, firstID, secondID, "Every peer should get its own id")

	packet := common.Envelope{Kind: common.EnvelopePacket, Channel: common.ControlChannel, Peer: firstID, Data: []byte("hello")}
	require.NoError(t, second.WriteMessage(websocket.BinaryMessage, packet.Encode()), "The second peer should send a packet")

	delivered := readEnvelope(t, first)
	assert.Equal(t, common.EnvelopePacket, delivered.Kind, "The packet should be delivered")
	assert.Equal(t, secondID, delivered.Peer, "The delivered packet should name its sender")
	assert.Equal(t, "hello", string(delivered.Data), "The payload should be delivered unchanged")

	stray := common.Envelope{Kind: common.EnvelopePacket, Channel: common.DataChannel, Peer: uuid.New(), Data: []byte("lost")}
	require.NoError(t, second.WriteMessage(websocket.BinaryMessage, stray.Encode()), "A packet for an unknown peer should be accepted")

	second.Close()
	left := readEnvelope(t, first)
	assert.Equal(t, common.EnvelopePeerLeft, left.Kind, "The first peer should learn the second left, and nothing about the stray packet")
	assert.Equal(t, secondID, left.Peer, "The departure should name the peer that left")
	assert.Eventually(t, func() bool { return backend.PeerCount("r1") == 1 }, 2*time.Second, 10*time.Millisecond,
		"The departed peer should be removed from the room")
}
