package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const controlWriteWait = time.Second

// Relay handles relaying all the frames from hosts and clients to the signaling backend and back again.
// Every relayed connection is one relaySession made of two relay legs.
type Relay struct {
	registry   *Registry
	backendURL string
	rateLimit  *RateLimitConfig

	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	mutex    sync.Mutex
	sessions map[string]map[*relaySession]struct{} // room id -> live sessions
	closed   bool
}

// NewRelay creates a relay forwarding to backendURL/{room_id}
func NewRelay(registry *Registry, backendURL string, rateLimit *RateLimitConfig, handshakeTimeout time.Duration) *Relay {
	return &Relay{
		registry:   registry,
		backendURL: strings.TrimSuffix(backendURL, "/"),
		rateLimit:  rateLimit,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		sessions: make(map[string]map[*relaySession]struct{}),
	}
}

// relaySession is one relayed connection: the local websocket and its matched upstream websocket
type relaySession struct {
	roomID   string
	host     bool
	local    *websocket.Conn
	upstream *websocket.Conn

	closeOnce sync.Once
}

func (session *relaySession) close() {
	session.closeOnce.Do(func() {
		_ = session.local.Close()
		_ = session.upstream.Close()
	})
}

// HandleHost is the host path, /connect?token=...
// HTTP Responses (before upgrading):
//   - 401 Unauthorized: the token doesn't resolve to a live room
//   - 502 Bad Gateway: the signaling backend couldn't be reached
func (relay *Relay) HandleHost(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	roomID, valid := relay.registry.ValidateToken(token)
	if !valid {
		log.WithField("address", r.RemoteAddr).Warn("Host connection rejected, invalid token")
		// An HTTP error rather than an upgraded-then-closed socket, the host's signaling client
		// treats a bare close as a protocol violation
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	// A host that never got a session hasn't left the room, it may retry /connect
	if !relay.serve(w, r, roomID, true) {
		return
	}

	relay.registry.DeleteRoomByHost(roomID)
	relay.closeRoom(roomID)
}

// HandleClient is the client path, /{room_id}
// HTTP Responses (before upgrading):
//   - 404 Not Found: no room with that id
//   - 409 Conflict: the room is full or closed
//   - 502 Bad Gateway: the signaling backend couldn't be reached
func (relay *Relay) HandleClient(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]

	if err := relay.registry.ReserveConnection(roomID); err != nil {
		log.WithFields(log.Fields{
			"room":    roomID,
			"address": r.RemoteAddr,
		}).WithError(err).Warn("Client connection rejected")

		if errors.Is(err, ErrRoomFull) {
			http.Error(w, "Room is full", http.StatusConflict)
		} else {
			http.Error(w, "Room not found", http.StatusNotFound)
		}
		return
	}
	defer relay.registry.RemoveConnection(roomID)

	relay.serve(w, r, roomID, false)
}

// serve dials the backend, upgrades the request and relays until either leg ends.
// It reports whether a relay session was started at all.
func (relay *Relay) serve(w http.ResponseWriter, r *http.Request, roomID string, host bool) bool {
	logger := log.WithFields(log.Fields{
		"room":    roomID,
		"address": r.RemoteAddr,
		"host":    host,
	})

	upstreamURL := relay.backendURL + "/" + roomID
	upstream, _, err := relay.dialer.Dial(upstreamURL, nil)
	if err != nil {
		logger.WithField("url", upstreamURL).WithError(fmt.Errorf("%w: %v", ErrUpstreamConnectFailed, err)).Error("Failed to open upstream connection")
		http.Error(w, "Signaling backend unavailable", http.StatusBadGateway)
		return false
	}

	local, err := relay.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error
		logger.WithError(err).Warn("Failed to upgrade relay connection")
		_ = upstream.Close()
		return false
	}

	session := &relaySession{roomID: roomID, host: host, local: local, upstream: upstream}
	if !relay.track(session) {
		session.close()
		return false
	}
	defer relay.untrack(session)

	logger.Info("Relay session started")
	err = relay.pump(session)
	if err != nil && !errors.Is(err, ErrTransportClosed) {
		logger.WithError(err).Warn("Relay session ended with an error")
	} else {
		logger.Info("Relay session ended")
	}
	return true
}

// pump races the two relay legs, whichever finishes first tears down the other
func (relay *Relay) pump(session *relaySession) error {
	forwardControlFrames(session.local, session.upstream)
	forwardControlFrames(session.upstream, session.local)

	errc := make(chan error, 2)
	// Host connections are never limited, their tick traffic grows with the number of peers
	var limiter *rate.Limiter
	if !session.host {
		limiter = relay.rateLimit.newLimiter()
	}
	go func() { errc <- relayLeg(session.local, session.upstream, limiter) }()
	go func() { errc <- relayLeg(session.upstream, session.local, nil) }()

	err := <-errc
	session.close()
	<-errc
	return err
}

// forwardControlFrames makes pings and pongs read from src reach dst unchanged.
// WriteControl is safe to call concurrently with the leg writing to dst.
func forwardControlFrames(src *websocket.Conn, dst *websocket.Conn) {
	src.SetPingHandler(func(data string) error {
		err := dst.WriteControl(websocket.PingMessage, []byte(data), time.Now().Add(controlWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	src.SetPongHandler(func(data string) error {
		err := dst.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
}

// relayLeg copies text and binary frames from src to dst until either side fails.
// A close frame from src is passed on to dst and reported as ErrTransportClosed.
// Frames over the limiter's rate are dropped, the connection stays open.
func relayLeg(src *websocket.Conn, dst *websocket.Conn, limiter *rate.Limiter) error {
	for {
		messageType, data, err := src.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				// 1005 and 1006 are never sent on the wire
				var message []byte
				switch closeErr.Code {
				case websocket.CloseNoStatusReceived:
					message = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				case websocket.CloseAbnormalClosure:
					message = websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
				default:
					message = websocket.FormatCloseMessage(closeErr.Code, closeErr.Text)
				}
				_ = dst.WriteControl(websocket.CloseMessage, message, time.Now().Add(controlWriteWait))
				return fmt.Errorf("%w: %v", ErrTransportClosed, err)
			}
			return err
		}

		if limiter != nil && !limiter.Allow() {
			log.WithField("address", src.RemoteAddr()).Debug("Rate limit exceeded, dropping frame")
			continue
		}

		if err := dst.WriteMessage(messageType, data); err != nil {
			return err
		}
	}
}

func (relay *Relay) track(session *relaySession) bool {
	relay.mutex.Lock()
	defer relay.mutex.Unlock()

	if relay.closed {
		return false
	}
	room, exists := relay.sessions[session.roomID]
	if !exists {
		room = make(map[*relaySession]struct{})
		relay.sessions[session.roomID] = room
	}
	room[session] = struct{}{}
	return true
}

func (relay *Relay) untrack(session *relaySession) {
	relay.mutex.Lock()
	defer relay.mutex.Unlock()

	if room, exists := relay.sessions[session.roomID]; exists {
		delete(room, session)
		if len(room) == 0 {
			delete(relay.sessions, session.roomID)
		}
	}
}

// closeRoom ends every client session of a room whose host went away
func (relay *Relay) closeRoom(roomID string) {
	relay.mutex.Lock()
	defer relay.mutex.Unlock()

	for session := range relay.sessions[roomID] {
		session.close()
	}
}

// SessionCount returns the number of live relay sessions for a room
func (relay *Relay) SessionCount(roomID string) int {
	relay.mutex.Lock()
	defer relay.mutex.Unlock()

	return len(relay.sessions[roomID])
}

// Shutdown closes every live relay session and refuses new ones
func (relay *Relay) Shutdown() {
	relay.mutex.Lock()
	defer relay.mutex.Unlock()

	relay.closed = true
	for _, room := range relay.sessions {
		for session := range room {
			session.close()
		}
	}
}
