package session

import (
	"context"
	"time"

	"github.com/alejzeis/kinetic-relay/common"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	clientUpdateQueue  = 256
	clientCommandQueue = 64
)

// HandshakeState is where one local player is in joining the host
type HandshakeState int

const (
	Connecting HandshakeState = iota
	AwaitingWelcome
	AwaitingReady
	Admitted
	Closed
)

func (state HandshakeState) String() string {
	switch state {
	case Connecting:
		return "connecting"
	case AwaitingWelcome:
		return "awaiting welcome"
	case AwaitingReady:
		return "awaiting ready"
	case Admitted:
		return "admitted"
	default:
		return "closed"
	}
}

// LocalPlayer is one player joined through this client's connection
type LocalPlayer struct {
	Index    uint8
	Name     string
	State    HandshakeState
	PlayerID PlayerID
}

// Update is something the render side needs to know about: a host message, or the host going away
type Update struct {
	Message  Message
	HostLost bool
}

// ClientSession runs the handshake for every local player on one connection and forwards
// host messages to the render side through Updates.
type ClientSession struct {
	socket  Socket
	version string

	players     []*LocalPlayer
	joinedPeers map[uuid.UUID]bool
	host        uuid.UUID
	hostBound   bool

	updates  chan Update
	commands chan func()
	done     chan struct{}
}

// NewClientSession creates a session joining one player per name, in order of local index
func NewClientSession(socket Socket, clientVersion string, names []string) *ClientSession {
	session := &ClientSession{
		socket:      socket,
		version:     clientVersion,
		joinedPeers: make(map[uuid.UUID]bool),
		updates:     make(chan Update, clientUpdateQueue),
		commands:    make(chan func(), clientCommandQueue),
		done:        make(chan struct{}),
	}
	for i, name := range names {
		session.players = append(session.players, &LocalPlayer{Index: uint8(i), Name: name, State: Connecting})
	}
	return session
}

// Updates delivers host messages to the render side. It is closed when Run returns.
func (session *ClientSession) Updates() <-chan Update {
	return session.updates
}

// Players returns a copy of the local players' handshake state.
// Not safe to call while Run is active, use the Welcome and PlayerDisconnected updates instead.
func (session *ClientSession) Players() []LocalPlayer {
	players := make([]LocalPlayer, len(session.players))
	for i, player := range session.players {
		players[i] = *player
	}
	return players
}

// Host returns the peer bound as the host, false until the first Welcome. Same restriction as Players.
func (session *ClientSession) Host() (uuid.UUID, bool) {
	return session.host, session.hostBound
}

// Run processes socket events until ctx is done or the socket closes
func (session *ClientSession) Run(ctx context.Context) error {
	defer close(session.updates)
	defer close(session.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-session.socket.Events():
			if !ok {
				session.closeAll()
				return ErrSocketClosed
			}
			session.HandleEvent(event)
		case command := <-session.commands:
			command()
		}
	}
}

// HandleEvent applies one socket event
func (session *ClientSession) HandleEvent(event Event) {
	switch event.Kind {
	case PeerConnected:
		session.handlePeer(event.Peer)
	case PeerDisconnected:
		if session.hostBound && event.Peer == session.host {
			log.WithField("peer", event.Peer).Warn("Host disconnected")
			session.closeAll()
			session.emit(Update{HostLost: true})
		}
	case MessageReceived:
		session.handleMessage(event.Peer, event.Message)
	}
}

// handlePeer sends a Join for every local player to a newly discovered peer, until the host is known
func (session *ClientSession) handlePeer(peer uuid.UUID) {
	if session.hostBound || session.joinedPeers[peer] {
		return
	}
	session.joinedPeers[peer] = true

	for _, player := range session.players {
		if player.State != Connecting && player.State != AwaitingWelcome {
			continue
		}
		player.State = AwaitingWelcome
		session.send(peer, &Join{PlayerName: player.Name, ClientVersion: session.version, LocalIndex: player.Index})
	}
}

func (session *ClientSession) handleMessage(peer uuid.UUID, message Message) {
	if welcome, ok := message.(*Welcome); ok {
		if !session.hostBound {
			session.host = peer
			session.hostBound = true
			log.WithField("peer", peer).Info("Bound host peer")
		}
		if peer != session.host {
			return
		}
		session.handleWelcome(welcome)
		return
	}

	// Only the host is listened to. Before a host is bound a VersionMismatch can come from any peer answering our Join.
	if session.hostBound && peer != session.host {
		return
	}

	switch m := message.(type) {
	case *VersionMismatch:
		log.WithFields(log.Fields{
			"peer":     peer,
			"version":  m.ClientVersion,
			"required": m.MinRequired,
		}).Error("Host rejected our version")
		for _, player := range session.players {
			if player.State == AwaitingWelcome {
				player.State = Closed
			}
		}
		session.emit(Update{Message: m})
	case *Error:
		log.WithField("peer", peer).Error("Host error: " + m.Message)
		session.closeAll()
		session.emit(Update{Message: m})
	case *PlayerDisconnected:
		if player := session.playerByID(m.PlayerID); player != nil {
			player.State = Closed
		}
		session.emit(Update{Message: m})
	case *SlotsUpdated, *GameState, *Pong:
		session.emit(Update{Message: m})
	}
}

func (session *ClientSession) handleWelcome(welcome *Welcome) {
	player := session.playerForWelcome(welcome.LocalIndex)
	if player == nil {
		log.WithField("player", welcome.PlayerID).Warn("Welcome for no waiting local player")
		return
	}

	player.PlayerID = welcome.PlayerID
	player.State = AwaitingReady
	log.WithFields(log.Fields{
		"player": welcome.PlayerID,
		"local":  player.Index,
	}).Info("Welcomed by host")
	session.emit(Update{Message: welcome})

	session.send(session.host, &Ready{PlayerID: welcome.PlayerID})
	player.State = Admitted
}

// playerForWelcome finds the waiting player with the echoed index, or else the next waiting one
func (session *ClientSession) playerForWelcome(localIndex uint8) *LocalPlayer {
	if int(localIndex) < len(session.players) && session.players[localIndex].State == AwaitingWelcome {
		return session.players[localIndex]
	}
	for _, player := range session.players {
		if player.State == AwaitingWelcome {
			return player
		}
	}
	return nil
}

func (session *ClientSession) playerByID(id PlayerID) *LocalPlayer {
	for _, player := range session.players {
		if player.PlayerID == id && player.State != Connecting && player.State != AwaitingWelcome {
			return player
		}
	}
	return nil
}

func (session *ClientSession) closeAll() {
	for _, player := range session.players {
		player.State = Closed
	}
}

// SendInput sends a local player's input to the host. Only admitted players send input.
// Like the other commands below it is safe to call from any goroutine while Run is active.
func (session *ClientSession) SendInput(id PlayerID, input InputState) {
	select {
	case session.commands <- func() { session.sendInput(id, input) }:
	default:
	}
}

// Ping asks the host for a Pong carrying now
func (session *ClientSession) Ping(now time.Time) {
	select {
	case session.commands <- func() { session.ping(now) }:
	default:
	}
}

// Leave takes one local player out of the room
func (session *ClientSession) Leave(id PlayerID) {
	session.enqueue(func() { session.leave(id) })
}

// LeaveAll takes every admitted local player out of the room. It returns once the Leaves are queued on the socket.
func (session *ClientSession) LeaveAll() {
	queued := make(chan struct{})
	session.enqueue(func() {
		for _, player := range session.players {
			if player.State == Admitted {
				session.leave(player.PlayerID)
			}
		}
		close(queued)
	})

	select {
	case <-queued:
	case <-session.done:
	}
}

// SendAdmin sends an administrative message, the host decides whether we're allowed
func (session *ClientSession) SendAdmin(message Message) {
	session.enqueue(func() {
		if session.hostBound {
			session.send(session.host, message)
		}
	})
}

func (session *ClientSession) enqueue(command func()) {
	select {
	case session.commands <- command:
	case <-session.done:
	}
}

func (session *ClientSession) sendInput(id PlayerID, input InputState) {
	if player := session.playerByID(id); session.hostBound && player != nil && player.State == Admitted {
		session.send(session.host, &Input{PlayerID: id, Input: input})
	}
}

func (session *ClientSession) ping(now time.Time) {
	if session.hostBound {
		session.send(session.host, &Ping{Timestamp: uint64(now.UnixMilli())})
	}
}

func (session *ClientSession) leave(id PlayerID) {
	player := session.playerByID(id)
	if player == nil || player.State == Closed {
		return
	}
	session.send(session.host, &Leave{PlayerID: id})
	player.State = Closed
}

// emit waits for the render side for control updates and drops data updates it isn't keeping up with
func (session *ClientSession) emit(update Update) {
	if update.Message != nil && update.Message.Channel() == common.DataChannel {
		select {
		case session.updates <- update:
		default:
		}
		return
	}

	select {
	case session.updates <- update:
	case <-session.done:
	}
}

func (session *ClientSession) send(peer uuid.UUID, message Message) {
	if err := session.socket.Send(peer, message); err != nil {
		log.WithFields(log.Fields{
			"peer": peer,
			"type": message.Type(),
		}).WithError(err).Warn("Failed to send message")
	}
}
