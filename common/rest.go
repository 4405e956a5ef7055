package common

// SoftwareName is the name of this software
const SoftwareName = "kinetic-relay"

// SoftwareVersion is the version of this software, also sent as the client version to the registry
const SoftwareVersion = "0.7.1"

// APIVersion is the version of the REST API implemented by the registry
const APIVersion uint = 2

// Headers required by the Auth Gate on every registry request
const (
	HeaderClientVersion = "X-Client-Version"
	HeaderClientTime    = "X-Client-Time"
	HeaderClientToken   = "X-Client-Token"
)

// RoomStatus is the lifecycle status of a room in the registry
type RoomStatus string

const (
	RoomOpen   RoomStatus = "open"
	RoomFull   RoomStatus = "full"
	RoomClosed RoomStatus = "closed"
)

// InfoResponse is the JSON response to the /info REST method
type InfoResponse struct {
	Software string `json:"software"`
	Version  string `json:"version"`
	API      uint   `json:"apiVersion"`
	Rooms    int    `json:"rooms"`
}

// RoomInfo is the registry's view of a room, returned by the /api/rooms methods
type RoomInfo struct {
	RoomID         string     `json:"room_id"`
	Name           string     `json:"name"`
	MaxPlayers     uint8      `json:"max_players"`
	CurrentPlayers uint8      `json:"current_players"`
	MapName        *string    `json:"map_name,omitempty"`
	Status         RoomStatus `json:"status"`
}

// HasCapacity reports whether another client may join the room
func (room *RoomInfo) HasCapacity() bool {
	return room.Status == RoomOpen && room.CurrentPlayers < room.MaxPlayers
}

// AddPlayer increments the player count and recomputes the status
func (room *RoomInfo) AddPlayer() {
	if room.CurrentPlayers < ^uint8(0) {
		room.CurrentPlayers++
	}
	room.updateStatus()
}

// RemovePlayer decrements the player count, never below zero, and recomputes the status
func (room *RoomInfo) RemovePlayer() {
	if room.CurrentPlayers > 0 {
		room.CurrentPlayers--
	}
	room.updateStatus()
}

func (room *RoomInfo) updateStatus() {
	if room.Status == RoomClosed {
		return
	}
	if room.CurrentPlayers >= room.MaxPlayers {
		room.Status = RoomFull
	} else {
		room.Status = RoomOpen
	}
}

// CreateRoomRequest is the JSON body of POST /api/rooms.
// RoomID ends up as a path segment of the relay, so it can't hold URL delimiters or name a fixed route.
type CreateRoomRequest struct {
	RoomID     string  `json:"room_id" validate:"required,excludesall=/?#,ne=connect,ne=info,ne=api"`
	Name       string  `json:"name" validate:"required"`
	MaxPlayers uint8   `json:"max_players" validate:"gt=0"`
	MapName    *string `json:"map_name,omitempty"`
}

// CreateRoomResponse is the JSON response to POST /api/rooms
type CreateRoomResponse struct {
	Token string `json:"token"`
}
