package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/alejzeis/kinetic-relay/common"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const backendSendQueue = 256

// Backend is the signaling backend the relay forwards to. It brokers envelopes between the peers of a room:
// every peer learns about the others through PeerJoined/PeerLeft and addresses packets to them by peer id.
type Backend struct {
	upgrader websocket.Upgrader

	mutex sync.RWMutex
	rooms map[string]map[uuid.UUID]*backendPeer
}

type backendPeer struct {
	id     uuid.UUID
	roomID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}

	closeOnce sync.Once
}

func (peer *backendPeer) close() {
	peer.closeOnce.Do(func() {
		close(peer.done)
		_ = peer.conn.Close()
	})
}

// enqueue queues a frame for the peer. Control frames wait for space, data frames are dropped when the queue is full.
func (peer *backendPeer) enqueue(frame []byte, channel common.Channel) bool {
	if channel == common.DataChannel {
		select {
		case peer.send <- frame:
			return true
		case <-peer.done:
			return false
		default:
			return false
		}
	}

	select {
	case peer.send <- frame:
		return true
	case <-peer.done:
		return false
	}
}

func (peer *backendPeer) writePump() {
	for {
		select {
		case frame := <-peer.send:
			if err := peer.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				peer.close()
				return
			}
		case <-peer.done:
			return
		}
	}
}

// NewBackend creates an empty backend
func NewBackend() *Backend {
	return &Backend{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]map[uuid.UUID]*backendPeer),
	}
}

// Router returns the backend's routes, /{room_id}
func (backend *Backend) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/{room_id}", backend.HandlePeer).Methods("GET")
	return router
}

// HandlePeer upgrades the request and keeps the peer in its room until the connection ends
func (backend *Backend) HandlePeer(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]

	conn, err := backend.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("room", roomID).WithError(err).Warn("Failed to upgrade backend connection")
		return
	}

	peer := &backendPeer{
		id:     uuid.New(),
		roomID: roomID,
		conn:   conn,
		send:   make(chan []byte, backendSendQueue),
		done:   make(chan struct{}),
	}
	logger := log.WithFields(log.Fields{
		"room": roomID,
		"peer": peer.id,
	})

	backend.join(peer)
	logger.Debug("Peer joined backend room")
	go peer.writePump()

	defer func() {
		backend.leave(peer)
		peer.close()
		logger.Debug("Peer left backend room")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		envelope, err := common.DecodeEnvelope(data)
		if err != nil || envelope.Kind != common.EnvelopePacket {
			logger.WithError(err).Debug("Dropping malformed envelope")
			continue
		}

		destination := backend.peer(roomID, envelope.Peer)
		if destination == nil {
			continue
		}

		envelope.Peer = peer.id
		destination.enqueue(envelope.Encode(), envelope.Channel)
	}
}

func (backend *Backend) peer(roomID string, id uuid.UUID) *backendPeer {
	backend.mutex.RLock()
	defer backend.mutex.RUnlock()

	return backend.rooms[roomID][id]
}

// join announces the new peer to the room and the room to the new peer
func (backend *Backend) join(peer *backendPeer) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	room, exists := backend.rooms[peer.roomID]
	if !exists {
		room = make(map[uuid.UUID]*backendPeer)
		backend.rooms[peer.roomID] = room
	}

	for _, other := range room {
		announce(other, common.EnvelopePeerJoined, peer.id)
		announce(peer, common.EnvelopePeerJoined, other.id)
	}
	room[peer.id] = peer
}

func (backend *Backend) leave(peer *backendPeer) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	room := backend.rooms[peer.roomID]
	delete(room, peer.id)
	for _, other := range room {
		announce(other, common.EnvelopePeerLeft, peer.id)
	}
	if len(room) == 0 {
		delete(backend.rooms, peer.roomID)
	}
}

// announce never blocks, it's called with the backend lock held
func announce(to *backendPeer, kind common.EnvelopeKind, about uuid.UUID) {
	envelope := common.Envelope{Kind: kind, Channel: common.ControlChannel, Peer: about}
	select {
	case to.send <- envelope.Encode():
	default:
		log.WithFields(log.Fields{
			"room": to.roomID,
			"peer": to.id,
		}).Warn("Send queue full, dropping peer announcement")
	}
}

// PeerCount returns the number of peers connected to a backend room
func (backend *Backend) PeerCount(roomID string) int {
	backend.mutex.RLock()
	defer backend.mutex.RUnlock()

	return len(backend.rooms[roomID])
}

// Shutdown disconnects every peer
func (backend *Backend) Shutdown() {
	backend.mutex.RLock()
	defer backend.mutex.RUnlock()

	for _, room := range backend.rooms {
		for _, peer := range room {
			peer.close()
		}
	}
}

// StartBackend serves the signaling backend on the configured port until ctx is cancelled
func StartBackend(ctx context.Context, config *Config) error {
	backend := NewBackend()
	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(config.Backend.Port),
		Handler: backend.Router(),
	}

	log.WithField("port", config.Backend.Port).Info("Starting signaling backend...")
	return serveUntilDone(ctx, httpServer, backend.Shutdown)
}

// serveUntilDone runs httpServer until ctx is cancelled, then calls cleanup and shuts it down
func serveUntilDone(ctx context.Context, httpServer *http.Server, cleanup func()) error {
	errc := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	cleanup()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
