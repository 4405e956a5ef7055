package common

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Channel selects one of the two logical sub-streams multiplexed over a session connection
type Channel uint8

const (
	// ControlChannel is reliable and ordered
	ControlChannel Channel = 0
	// DataChannel is best-effort, loss and reordering are tolerated by consumers
	DataChannel Channel = 1
)

func (c Channel) String() string {
	if c == ControlChannel {
		return "control"
	}
	return "data"
}

// EnvelopeKind tells the signaling backend and the session socket what an envelope carries
type EnvelopeKind uint8

const (
	EnvelopePacket EnvelopeKind = iota
	EnvelopePeerJoined
	EnvelopePeerLeft
)

const envelopeHeaderSize = 2 + 16

var errEnvelopeTooShort = errors.New("envelope too short")

// Envelope is the frame exchanged between session sockets and the signaling backend.
// For packets sent by a socket Peer is the destination, for packets delivered by the backend it is the sender.
type Envelope struct {
	Kind    EnvelopeKind
	Channel Channel
	Peer    uuid.UUID
	Data    []byte
}

// DecodeEnvelope parses a binary frame. Data references the input slice.
func DecodeEnvelope(data []byte) (Envelope, error) {
	if len(data) < envelopeHeaderSize {
		return Envelope{}, errEnvelopeTooShort
	}
	if EnvelopeKind(data[0]) > EnvelopePeerLeft {
		return Envelope{}, fmt.Errorf("unknown envelope kind %d", data[0])
	}
	if Channel(data[1]) > DataChannel {
		return Envelope{}, fmt.Errorf("unknown channel %d", data[1])
	}

	var peer uuid.UUID
	copy(peer[:], data[2:envelopeHeaderSize])

	return Envelope{
		Kind:    EnvelopeKind(data[0]),
		Channel: Channel(data[1]),
		Peer:    peer,
		Data:    data[envelopeHeaderSize:],
	}, nil
}

// Encode serializes the envelope: kind, channel, 16 byte peer id, payload
func (envelope *Envelope) Encode() []byte {
	out := make([]byte, envelopeHeaderSize+len(envelope.Data))
	out[0] = byte(envelope.Kind)
	out[1] = byte(envelope.Channel)
	copy(out[2:envelopeHeaderSize], envelope.Peer[:])
	copy(out[envelopeHeaderSize:], envelope.Data)
	return out
}

// Represents a connection capable of sending full messages between each other
// This is an abstracted type of websocket connections used by the session code, primarily to allow mocks for testing purposes
type MessageConnection interface {
	// Reads a message, blocking
	ReadMessage() ([]byte, error)
	// Sends a message
	WriteMessage(data []byte) error
	// Sends a closing message and closes the connection
	CloseWithMessage(msg string) error
	// Closes the underlying socket
	Close() error
	// Determine if the connection has been closed or not
	IsClosed() bool
}

type WebsocketMessageConnection struct {
	socket *websocket.Conn
	closed bool

	isClosedMutex *sync.RWMutex
}

// NewWebsocketMessageConnection wraps an established websocket connection
func NewWebsocketMessageConnection(socket *websocket.Conn) *WebsocketMessageConnection {
	return &WebsocketMessageConnection{
		socket:        socket,
		isClosedMutex: new(sync.RWMutex),
	}
}

func (connection *WebsocketMessageConnection) ReadMessage() ([]byte, error) {
	_, data, err := connection.socket.ReadMessage()
	if err != nil && websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		connection.isClosedMutex.Lock()
		connection.closed = true
		connection.isClosedMutex.Unlock()
	}
	return data, err
}

func (connection *WebsocketMessageConnection) WriteMessage(data []byte) error {
	return connection.socket.WriteMessage(websocket.BinaryMessage, data)
}

func (connection *WebsocketMessageConnection) CloseWithMessage(msg string) error {
	err := connection.socket.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, msg), time.Now().Add(time.Second))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		_ = connection.Close()
		return err
	}
	return connection.Close()
}

func (connection *WebsocketMessageConnection) Close() error {
	connection.isClosedMutex.Lock()
	defer connection.isClosedMutex.Unlock()

	if !connection.closed {
		connection.closed = true
		return connection.socket.Close()
	}
	// A peer-initiated close already marked us closed, the socket still needs releasing
	_ = connection.socket.Close()
	return nil
}

func (connection *WebsocketMessageConnection) IsClosed() bool {
	connection.isClosedMutex.RLock()
	defer connection.isClosedMutex.RUnlock()

	return connection.closed
}

// Represents a source for creating MessageConnections to remote addresses
type MessageConnectionProvider interface {
	// Creates and returns a new MessageConnection that is connected to the specified address
	DialForConnection(address string) (MessageConnection, error)
}

// Implements MessageConnectionProvider with websocket connections
type RelayMessageConnectionProvider struct {
	Dialer *websocket.Dialer
}

// HTTPStatusError is returned by DialForConnection when the relay refused the upgrade with an HTTP error
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("relay refused connection: %d %s", e.StatusCode, e.Body)
}

func (provider *RelayMessageConnectionProvider) DialForConnection(address string) (MessageConnection, error) {
	dialer := provider.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	webConn, response, err := dialer.Dial(address, nil)
	if err != nil {
		if response != nil && response.StatusCode != http.StatusSwitchingProtocols {
			body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
			_ = response.Body.Close()
			return nil, &HTTPStatusError{StatusCode: response.StatusCode, Body: string(body)}
		}
		return nil, err
	}
	return NewWebsocketMessageConnection(webConn), nil
}
