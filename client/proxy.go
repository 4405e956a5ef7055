package client

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/alejzeis/kinetic-relay/common"
	"github.com/alejzeis/kinetic-relay/session"

	log "github.com/sirupsen/logrus"
)

const (
	frameInterval = time.Second / 60
	pingInterval  = time.Second

	// unchanged input is sent again after this many frames, Input travels on the data channel and may be lost
	inputResendFrames = 15
)

// sentInput is the last state sent for a local player and how many frames ago it went out
type sentInput struct {
	state session.InputState
	age   int
}

// joinedRoom is a room this client joined through the relay. The session goroutine owns the network side,
// the render goroutine owns the World, and they only share the session's update and command queues.
type joinedRoom struct {
	roomID string

	socket  *session.RelaySocket
	session *session.ClientSession

	mutex  sync.Mutex
	world  *World
	inputs map[session.PlayerID]*session.LocalInputSource
	sent   map[session.PlayerID]sentInput

	cancel context.CancelFunc
	done   chan struct{}
}

// joinRoom connects to the room through the relay and starts the handshake for every name, one local player each
func joinRoom(ctx context.Context, serverURL string, provider common.MessageConnectionProvider, roomID string, names []string) (*joinedRoom, error) {
	relayURL, err := websocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	conn, err := provider.DialForConnection(relayURL + "/" + url.PathEscape(roomID))
	if err != nil {
		log.WithFields(log.Fields{
			"room": roomID,
			"url":  relayURL,
		}).WithError(err).Error("Failed to join room")
		return nil, err
	}

	socket := session.NewRelaySocket(conn)
	ctx, cancel := context.WithCancel(ctx)
	room := &joinedRoom{
		roomID:  roomID,
		socket:  socket,
		session: session.NewClientSession(socket, common.SoftwareVersion, names),
		world:   NewWorld(),
		inputs:  make(map[session.PlayerID]*session.LocalInputSource),
		sent:    make(map[session.PlayerID]sentInput),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		if err := room.session.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithField("room", roomID).WithError(err).Warn("Session ended")
		}
	}()
	go room.renderLoop(ctx, sessionDone)

	log.WithField("room", roomID).Info("Joining room")
	return room, nil
}

// renderLoop drains session updates into the World once per frame, steps it, and sends local input
func (room *joinedRoom) renderLoop(ctx context.Context, sessionDone <-chan struct{}) {
	defer close(room.done)

	frames := time.NewTicker(frameInterval)
	defer frames.Stop()
	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			<-sessionDone
			return
		case <-sessionDone:
			return
		case now := <-pings.C:
			room.session.Ping(now)
		case now := <-frames.C:
			if !room.drainUpdates() {
				<-sessionDone
				return
			}

			room.mutex.Lock()
			room.world.Step(float32(now.Sub(last).Seconds()))
			room.sendInputs(room.session.SendInput)
			room.mutex.Unlock()
			last = now
		}
	}
}

// sendInputs ends the frame for every local input and sends the ones that changed.
// Must be called with the mutex held.
func (room *joinedRoom) sendInputs(send func(session.PlayerID, session.InputState)) {
	for id, input := range room.inputs {
		input.Update()
		state := input.State()

		last, ok := room.sent[id]
		if ok && last.state == state && last.age < inputResendFrames {
			room.sent[id] = sentInput{state: state, age: last.age + 1}
			continue
		}
		send(id, state)
		room.sent[id] = sentInput{state: state}
	}
}

// drainUpdates takes every update queued since the last frame, false once the session has ended
func (room *joinedRoom) drainUpdates() bool {
	room.mutex.Lock()
	defer room.mutex.Unlock()

	for {
		select {
		case update, ok := <-room.session.Updates():
			if !ok {
				return false
			}
			room.handleUpdate(update)
		default:
			return true
		}
	}
}

func (room *joinedRoom) handleUpdate(update session.Update) {
	room.world.HandleUpdate(update)

	switch m := update.Message.(type) {
	case *session.Welcome:
		room.inputs[m.PlayerID] = session.NewLocalInputSource()
	case *session.PlayerDisconnected:
		delete(room.inputs, m.PlayerID)
		delete(room.sent, m.PlayerID)
	case *session.VersionMismatch:
		log.WithFields(log.Fields{
			"room":     room.roomID,
			"required": m.MinRequired,
		}).Error("The host requires a newer client")
	case *session.Pong:
		rtt := time.Since(time.UnixMilli(int64(m.ClientTimestamp)))
		log.WithFields(log.Fields{
			"room": room.roomID,
			"rtt":  rtt,
		}).Debug("Pong")
	}
	if update.HostLost {
		room.inputs = make(map[session.PlayerID]*session.LocalInputSource)
		room.sent = make(map[session.PlayerID]sentInput)
		log.WithField("room", room.roomID).Warn("Host left the room")
	}
}

// players returns the displayed players and the last tick applied
func (room *joinedRoom) players() ([]Entity, uint32) {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	return room.world.Players(), room.world.Tick()
}

// input returns the input source of an admitted local player
func (room *joinedRoom) input(id session.PlayerID) (*session.LocalInputSource, bool) {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	input, ok := room.inputs[id]
	return input, ok
}

// leave takes every local player out of the room and closes the connection
func (room *joinedRoom) leave() {
	room.session.LeaveAll()
	room.cancel()
	<-room.done
	_ = room.socket.Close()
	log.WithField("room", room.roomID).Info("Left room")
}
