package session

import (
	"errors"
	"sync"

	"github.com/alejzeis/kinetic-relay/common"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrSocketClosed is returned when sending on a closed socket
var ErrSocketClosed = errors.New("socket closed")

const (
	socketSendQueue  = 256
	socketEventQueue = 256
)

// EventKind distinguishes the events a Socket delivers
type EventKind int

const (
	PeerConnected EventKind = iota
	PeerDisconnected
	MessageReceived
)

// Event is a peer appearing, a peer leaving, or a decoded message from a peer
type Event struct {
	Kind    EventKind
	Peer    uuid.UUID
	Message Message
}

// Socket carries session messages to and from the other peers of a room
type Socket interface {
	// Events is closed once the socket's connection ends
	Events() <-chan Event
	// Send queues a message for a peer. Control messages wait for queue space, data messages are dropped when it's full.
	Send(peer uuid.UUID, message Message) error
	Close() error
}

// RelaySocket is a Socket over a relayed connection to the signaling backend
type RelaySocket struct {
	conn common.MessageConnection

	events chan Event
	send   chan []byte
	done   chan struct{}

	// closed by writeLoop once it has stopped writing
	flushed chan struct{}

	closeOnce sync.Once
}

// NewRelaySocket starts reading and writing on conn
func NewRelaySocket(conn common.MessageConnection) *RelaySocket {
	socket := &RelaySocket{
		conn:    conn,
		events:  make(chan Event, socketEventQueue),
		send:    make(chan []byte, socketSendQueue),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
	go socket.readLoop()
	go socket.writeLoop()
	return socket
}

func (socket *RelaySocket) Events() <-chan Event {
	return socket.events
}

func (socket *RelaySocket) Send(peer uuid.UUID, message Message) error {
	data, err := Encode(message)
	if err != nil {
		return err
	}

	envelope := common.Envelope{Kind: common.EnvelopePacket, Channel: message.Channel(), Peer: peer, Data: data}
	frame := envelope.Encode()

	select {
	case <-socket.done:
		return ErrSocketClosed
	default:
	}

	if message.Channel() == common.DataChannel {
		select {
		case socket.send <- frame:
		case <-socket.done:
			return ErrSocketClosed
		default:
		}
		return nil
	}

	select {
	case socket.send <- frame:
		return nil
	case <-socket.done:
		return ErrSocketClosed
	}
}

// Close writes out whatever is already queued, then closes the connection
func (socket *RelaySocket) Close() error {
	var err error
	socket.closeOnce.Do(func() {
		close(socket.done)
		<-socket.flushed
		err = socket.conn.CloseWithMessage("session closed")
	})
	return err
}

func (socket *RelaySocket) writeLoop() {
	defer close(socket.flushed)

	for {
		select {
		case frame := <-socket.send:
			if err := socket.conn.WriteMessage(frame); err != nil {
				log.WithError(err).Warn("Failed to write to relay, closing socket")
				go socket.Close()
				return
			}
		case <-socket.done:
			socket.flush()
			return
		}
	}
}

func (socket *RelaySocket) flush() {
	for {
		select {
		case frame := <-socket.send:
			if err := socket.conn.WriteMessage(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (socket *RelaySocket) readLoop() {
	defer close(socket.events)
	defer socket.Close()

	for {
		data, err := socket.conn.ReadMessage()
		if err != nil {
			select {
			case <-socket.done:
			default:
				log.WithError(err).Info("Relay connection ended")
			}
			return
		}

		envelope, err := common.DecodeEnvelope(data)
		if err != nil {
			log.WithError(err).Warn("Dropping malformed envelope")
			continue
		}

		var event Event
		switch envelope.Kind {
		case common.EnvelopePeerJoined:
			event = Event{Kind: PeerConnected, Peer: envelope.Peer}
		case common.EnvelopePeerLeft:
			event = Event{Kind: PeerDisconnected, Peer: envelope.Peer}
		default:
			message, err := Decode(envelope.Channel, envelope.Data)
			if err != nil {
				// malformed data channel frames are dropped silently
				if envelope.Channel == common.ControlChannel {
					log.WithField("peer", envelope.Peer).WithError(err).Warn("Dropping malformed control message")
				}
				continue
			}
			event = Event{Kind: MessageReceived, Peer: envelope.Peer, Message: message}
		}

		if !socket.deliver(event) {
			return
		}
	}
}

// deliver hands an event to the session loop. Data messages are dropped rather than stalling the read loop.
func (socket *RelaySocket) deliver(event Event) bool {
	if event.Kind == MessageReceived && event.Message.Channel() == common.DataChannel {
		select {
		case socket.events <- event:
		case <-socket.done:
			return false
		default:
		}
		return true
	}

	select {
	case socket.events <- event:
		return true
	case <-socket.done:
		return false
	}
}
