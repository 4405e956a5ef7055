package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

type sentMessage struct {
	peer    uuid.UUID
	message Message
}

// recordingSocket remembers everything sent through it and delivers events pushed by the test
type recordingSocket struct {
	mutex  sync.Mutex
	sent   []sentMessage
	events chan Event
	closed bool
}

func newRecordingSocket() *recordingSocket {
	return &recordingSocket{events: make(chan Event, 64)}
}

func (socket *recordingSocket) Events() <-chan Event {
	return socket.events
}

func (socket *recordingSocket) Send(peer uuid.UUID, message Message) error {
	socket.mutex.Lock()
	defer socket.mutex.Unlock()

	if socket.closed {
		return ErrSocketClosed
	}
	socket.sent = append(socket.sent, sentMessage{peer, message})
	return nil
}

func (socket *recordingSocket) Close() error {
	socket.mutex.Lock()
	defer socket.mutex.Unlock()

	if !socket.closed {
		socket.closed = true
		close(socket.events)
	}
	return nil
}

// sentTo returns the messages sent to peer, optionally only those of one type
func (socket *recordingSocket) sentTo(peer uuid.UUID, messageType MessageType) []Message {
	socket.mutex.Lock()
	defer socket.mutex.Unlock()

	var messages []Message
	for _, sent := range socket.sent {
		if sent.peer == peer && (messageType == "" || sent.message.Type() == messageType) {
			messages = append(messages, sent.message)
		}
	}
	return messages
}

func (socket *recordingSocket) reset() {
	socket.mutex.Lock()
	defer socket.mutex.Unlock()
	socket.sent = nil
}

// memoryHub routes messages between memorySockets the way the signaling backend does,
// passing every message through Encode and Decode
type memoryHub struct {
	mutex   sync.Mutex
	sockets map[uuid.UUID]*memorySocket
}

type memorySocket struct {
	hub    *memoryHub
	id     uuid.UUID
	events chan Event
}

func newMemoryHub() *memoryHub {
	return &memoryHub{sockets: make(map[uuid.UUID]*memorySocket)}
}

// connect adds a socket and announces it to, and introduces it to, every socket already present
func (hub *memoryHub) connect() *memorySocket {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	socket := &memorySocket{hub: hub, id: uuid.New(), events: make(chan Event, 256)}
	for _, other := range hub.sockets {
		other.events <- Event{Kind: PeerConnected, Peer: socket.id}
		socket.events <- Event{Kind: PeerConnected, Peer: other.id}
	}
	hub.sockets[socket.id] = socket
	return socket
}

func (socket *memorySocket) Events() <-chan Event {
	return socket.events
}

func (socket *memorySocket) Send(peer uuid.UUID, message Message) error {
	data, err := Encode(message)
	if err != nil {
		return err
	}
	decoded, err := Decode(message.Channel(), data)
	if err != nil {
		return err
	}

	socket.hub.mutex.Lock()
	defer socket.hub.mutex.Unlock()

	destination, ok := socket.hub.sockets[peer]
	if !ok {
		return errors.New("unknown peer")
	}
	destination.events <- Event{Kind: MessageReceived, Peer: socket.id, Message: decoded}
	return nil
}

func (socket *memorySocket) Close() error {
	return nil
}
