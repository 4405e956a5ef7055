package server

import (
	"fmt"
	"sync"

	"github.com/alejzeis/kinetic-relay/common"

	log "github.com/sirupsen/logrus"
)

// Registry is the authoritative in-memory store of rooms, their management tokens and live connection counts.
//
// The three maps are locked independently. Any method touching more than one acquires them
// in the order rooms -> tokens -> connections and releases them only once every map is consistent,
// so no reader can observe a partially registered or partially deleted room.
type Registry struct {
	roomsMutex sync.RWMutex
	rooms      map[string]*common.RoomInfo

	tokensMutex sync.RWMutex
	tokens      map[string]string // token -> room id

	connectionsMutex sync.RWMutex
	connections      map[string]uint // room id -> relayed client connections

	issuer *roomTokenIssuer
}

// NewRegistry creates an empty registry whose tokens are signed with tokenSecret
func NewRegistry(tokenSecret string) *Registry {
	return &Registry{
		rooms:       make(map[string]*common.RoomInfo),
		tokens:      make(map[string]string),
		connections: make(map[string]uint),
		issuer:      newRoomTokenIssuer(tokenSecret),
	}
}

// RegisterRoom inserts an open, empty room and returns a fresh management token for it
func (registry *Registry) RegisterRoom(request common.CreateRoomRequest) (string, error) {
	registry.roomsMutex.Lock()
	defer registry.roomsMutex.Unlock()

	if _, exists := registry.rooms[request.RoomID]; exists {
		return "", fmt.Errorf("%w: %q", ErrRoomAlreadyExists, request.RoomID)
	}

	token, err := registry.issuer.issue(request.RoomID)
	if err != nil {
		return "", err
	}

	registry.tokensMutex.Lock()
	defer registry.tokensMutex.Unlock()

	registry.rooms[request.RoomID] = &common.RoomInfo{
		RoomID:     request.RoomID,
		Name:       request.Name,
		MaxPlayers: request.MaxPlayers,
		MapName:    request.MapName,
		Status:     common.RoomOpen,
	}
	registry.tokens[token] = request.RoomID

	log.WithFields(log.Fields{
		"room":       request.RoomID,
		"name":       request.Name,
		"maxPlayers": request.MaxPlayers,
	}).Info("Room registered")

	return token, nil
}

// ListRooms returns copies of every open or full room, in no particular order
func (registry *Registry) ListRooms() []common.RoomInfo {
	registry.roomsMutex.RLock()
	defer registry.roomsMutex.RUnlock()

	rooms := make([]common.RoomInfo, 0, len(registry.rooms))
	for _, room := range registry.rooms {
		if room.Status == common.RoomOpen || room.Status == common.RoomFull {
			rooms = append(rooms, *room)
		}
	}
	return rooms
}

// GetRoom returns a copy of the room, or ErrRoomNotFound
func (registry *Registry) GetRoom(roomID string) (common.RoomInfo, error) {
	registry.roomsMutex.RLock()
	defer registry.roomsMutex.RUnlock()

	room, exists := registry.rooms[roomID]
	if !exists {
		return common.RoomInfo{}, fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
	}
	return *room, nil
}

// RoomCount returns the number of registered rooms
func (registry *Registry) RoomCount() int {
	registry.roomsMutex.RLock()
	defer registry.roomsMutex.RUnlock()

	return len(registry.rooms)
}

// ValidateToken resolves a management token to its room id without mutating anything
func (registry *Registry) ValidateToken(token string) (string, bool) {
	if _, ok := registry.issuer.verify(token); !ok {
		return "", false
	}

	registry.tokensMutex.RLock()
	defer registry.tokensMutex.RUnlock()

	roomID, exists := registry.tokens[token]
	return roomID, exists
}

// CanJoinRoom reports whether a client could join right now
func (registry *Registry) CanJoinRoom(roomID string) error {
	registry.roomsMutex.RLock()
	defer registry.roomsMutex.RUnlock()

	room, exists := registry.rooms[roomID]
	if !exists {
		return fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
	}
	if !room.HasCapacity() {
		return fmt.Errorf("%w: %q", ErrRoomFull, roomID)
	}
	return nil
}

// ReserveConnection is CanJoinRoom and AddConnection in one critical section,
// so two clients racing for the last slot can't both get it
func (registry *Registry) ReserveConnection(roomID string) error {
	registry.roomsMutex.Lock()
	defer registry.roomsMutex.Unlock()

	room, exists := registry.rooms[roomID]
	if !exists {
		return fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
	}
	if !room.HasCapacity() {
		return fmt.Errorf("%w: %q", ErrRoomFull, roomID)
	}

	registry.connectionsMutex.Lock()
	defer registry.connectionsMutex.Unlock()

	registry.connections[roomID]++
	room.AddPlayer()
	return nil
}

// AddConnection counts one more relayed connection for the room. Unknown rooms are ignored.
func (registry *Registry) AddConnection(roomID string) {
	registry.roomsMutex.Lock()
	defer registry.roomsMutex.Unlock()

	room, exists := registry.rooms[roomID]
	if !exists {
		return
	}

	registry.connectionsMutex.Lock()
	defer registry.connectionsMutex.Unlock()

	registry.connections[roomID]++
	room.AddPlayer()
}

// RemoveConnection undoes AddConnection, never going below zero. Unknown rooms are ignored.
func (registry *Registry) RemoveConnection(roomID string) {
	registry.roomsMutex.Lock()
	defer registry.roomsMutex.Unlock()

	room, exists := registry.rooms[roomID]
	if !exists {
		return
	}

	registry.connectionsMutex.Lock()
	defer registry.connectionsMutex.Unlock()

	if registry.connections[roomID] > 0 {
		registry.connections[roomID]--
	}
	room.RemovePlayer()
}

// ConnectionCount returns the relay's bookkeeping count for a room
func (registry *Registry) ConnectionCount(roomID string) uint {
	registry.connectionsMutex.RLock()
	defer registry.connectionsMutex.RUnlock()

	return registry.connections[roomID]
}

// DeleteRoom removes the room only if token currently resolves to it
func (registry *Registry) DeleteRoom(roomID string, token string) error {
	registry.roomsMutex.Lock()
	defer registry.roomsMutex.Unlock()
	registry.tokensMutex.Lock()
	defer registry.tokensMutex.Unlock()
	registry.connectionsMutex.Lock()
	defer registry.connectionsMutex.Unlock()

	if owner, exists := registry.tokens[token]; !exists || owner != roomID {
		return fmt.Errorf("%w for room %q", ErrRoomInvalidToken, roomID)
	}

	registry.deleteLocked(roomID)
	log.WithField("room", roomID).Info("Room deleted")
	return nil
}

// DeleteRoomByHost removes the room without a token, used when the host's relay connection ends
func (registry *Registry) DeleteRoomByHost(roomID string) {
	registry.roomsMutex.Lock()
	defer registry.roomsMutex.Unlock()
	registry.tokensMutex.Lock()
	defer registry.tokensMutex.Unlock()
	registry.connectionsMutex.Lock()
	defer registry.connectionsMutex.Unlock()

	if _, exists := registry.rooms[roomID]; exists {
		log.WithField("room", roomID).Info("Room deleted (host disconnected)")
	}
	registry.deleteLocked(roomID)
}

// caller holds all three locks
func (registry *Registry) deleteLocked(roomID string) {
	delete(registry.rooms, roomID)
	for token, owner := range registry.tokens {
		if owner == roomID {
			delete(registry.tokens, token)
		}
	}
	delete(registry.connections, roomID)
}
