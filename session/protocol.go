package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alejzeis/kinetic-relay/common"
)

// Protocol errors
var (
	ErrDeserializeFailed = errors.New("failed to deserialize message")
	ErrVersionMismatch   = errors.New("client version not accepted by host")
)

// PlayerID is allocated by the host, starting at 1. 0 is never a valid player.
type PlayerID uint32

// MessageType tags every message on the wire
type MessageType string

// Control channel messages
const (
	TypeJoin               MessageType = "join"
	TypeWelcome            MessageType = "welcome"
	TypeReady              MessageType = "ready"
	TypePlayerDisconnected MessageType = "player_disconnected"
	TypeVersionMismatch    MessageType = "version_mismatch"
	TypeError              MessageType = "error"
	TypeMovePlayer         MessageType = "move_player"
	TypeKickPlayer         MessageType = "kick_player"
	TypeToggleAdmin        MessageType = "toggle_admin"
	TypeLeave              MessageType = "leave"
	TypeSlotsUpdated       MessageType = "slots_updated"
)

// Data channel messages
const (
	TypeInput     MessageType = "input"
	TypePing      MessageType = "ping"
	TypeGameState MessageType = "game_state"
	TypePong      MessageType = "pong"
)

// Message is one member of the session protocol's tagged union
type Message interface {
	Type() MessageType
	Channel() common.Channel
}

type controlMessage struct{}

func (controlMessage) Channel() common.Channel { return common.ControlChannel }

type dataMessage struct{}

func (dataMessage) Channel() common.Channel { return common.DataChannel }

// Join is sent by a client once per local player to every peer it discovers
type Join struct {
	controlMessage
	PlayerName    string `json:"player_name"`
	ClientVersion string `json:"client_version"`
	// Identifies the local player on the client's connection, echoed back in Welcome
	LocalIndex uint8 `json:"local_index"`
}

// Welcome answers an accepted Join
type Welcome struct {
	controlMessage
	PlayerID    PlayerID        `json:"player_id"`
	LocalIndex  uint8           `json:"local_index"`
	MapSnapshot json.RawMessage `json:"map_snapshot,omitempty"`
}

// Ready admits a welcomed player into tick broadcasts
type Ready struct {
	controlMessage
	PlayerID PlayerID `json:"player_id"`
}

type PlayerDisconnected struct {
	controlMessage
	PlayerID PlayerID `json:"player_id"`
}

// VersionMismatch answers a Join whose version is below the host's minimum. No Welcome follows.
type VersionMismatch struct {
	controlMessage
	ClientVersion string `json:"client_version"`
	MinRequired   string `json:"min_required"`
	Message       string `json:"message"`
}

type Error struct {
	controlMessage
	Message string `json:"message"`
}

// MovePlayer moves a player to a team's starters or substitutes, or to spectators when TeamIndex is nil
type MovePlayer struct {
	controlMessage
	PlayerID  PlayerID `json:"player_id"`
	TeamIndex *uint8   `json:"team_index,omitempty"`
	IsStarter *bool    `json:"is_starter,omitempty"`
}

type KickPlayer struct {
	controlMessage
	PlayerID PlayerID `json:"player_id"`
}

type ToggleAdmin struct {
	controlMessage
	PlayerID PlayerID `json:"player_id"`
	IsAdmin  bool     `json:"is_admin"`
}

// Leave removes one of the sender's own local players
type Leave struct {
	controlMessage
	PlayerID PlayerID `json:"player_id"`
}

type SlotsUpdated struct {
	controlMessage
	MatchSlots *MatchSlots `json:"match_slots"`
}

type Input struct {
	dataMessage
	PlayerID PlayerID   `json:"player_id"`
	Input    InputState `json:"input_state"`
}

type Ping struct {
	dataMessage
	Timestamp uint64 `json:"timestamp"`
}

// GameState is one authoritative tick. Players holds the starters only.
type GameState struct {
	dataMessage
	Tick      uint32        `json:"tick"`
	Timestamp uint64        `json:"timestamp"`
	Players   []PlayerState `json:"players"`
	Ball      BallState     `json:"ball"`
}

type Pong struct {
	dataMessage
	ClientTimestamp uint64 `json:"client_timestamp"`
	ServerTimestamp uint64 `json:"server_timestamp"`
}

func (*Join) Type() MessageType               { return TypeJoin }
func (*Welcome) Type() MessageType            { return TypeWelcome }
func (*Ready) Type() MessageType              { return TypeReady }
func (*PlayerDisconnected) Type() MessageType { return TypePlayerDisconnected }
func (*VersionMismatch) Type() MessageType    { return TypeVersionMismatch }
func (*Error) Type() MessageType              { return TypeError }
func (*MovePlayer) Type() MessageType         { return TypeMovePlayer }
func (*KickPlayer) Type() MessageType         { return TypeKickPlayer }
func (*ToggleAdmin) Type() MessageType        { return TypeToggleAdmin }
func (*Leave) Type() MessageType              { return TypeLeave }
func (*SlotsUpdated) Type() MessageType       { return TypeSlotsUpdated }
func (*Input) Type() MessageType              { return TypeInput }
func (*Ping) Type() MessageType               { return TypePing }
func (*GameState) Type() MessageType          { return TypeGameState }
func (*Pong) Type() MessageType               { return TypePong }

var messageFactories = map[MessageType]func() Message{
	TypeJoin:               func() Message { return new(Join) },
	TypeWelcome:            func() Message { return new(Welcome) },
	TypeReady:              func() Message { return new(Ready) },
	TypePlayerDisconnected: func() Message { return new(PlayerDisconnected) },
	TypeVersionMismatch:    func() Message { return new(VersionMismatch) },
	TypeError:              func() Message { return new(Error) },
	TypeMovePlayer:         func() Message { return new(MovePlayer) },
	TypeKickPlayer:         func() Message { return new(KickPlayer) },
	TypeToggleAdmin:        func() Message { return new(ToggleAdmin) },
	TypeLeave:              func() Message { return new(Leave) },
	TypeSlotsUpdated:       func() Message { return new(SlotsUpdated) },
	TypeInput:              func() Message { return new(Input) },
	TypePing:               func() Message { return new(Ping) },
	TypeGameState:          func() Message { return new(GameState) },
	TypePong:               func() Message { return new(Pong) },
}

// wireMessage is the envelope every message travels in
type wireMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes a message with its type tag
func Encode(message Message) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Type: message.Type(), Data: data})
}

// Decode parses a message received on channel. Unknown tags, bad payloads and
// messages arriving on the wrong channel all fail with ErrDeserializeFailed.
func Decode(channel common.Channel, data []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializeFailed, err)
	}

	factory, known := messageFactories[wire.Type]
	if !known {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrDeserializeFailed, wire.Type)
	}

	message := factory()
	if message.Channel() != channel {
		return nil, fmt.Errorf("%w: %s message on the %s channel", ErrDeserializeFailed, wire.Type, channel)
	}
	if len(wire.Data) > 0 {
		if err := json.Unmarshal(wire.Data, message); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDeserializeFailed, wire.Type, err)
		}
	}
	return message, nil
}

// Vec2 is a 2D vector in arena units
type Vec2 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2              { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2              { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Scale(s float32) Vec2         { return Vec2{v.X * s, v.Y * s} }
func (v Vec2) Lerp(to Vec2, t float32) Vec2 { return v.Add(to.Sub(v).Scale(t)) }

// PlayerState is one player's authoritative state in a tick
type PlayerState struct {
	ID           PlayerID `json:"id"`
	Name         string   `json:"name"`
	Position     Vec2     `json:"position"`
	Velocity     Vec2     `json:"velocity"`
	Rotation     float32  `json:"rotation"`
	TeamIndex    uint8    `json:"team_index"`
	KickCharging bool     `json:"kick_charging"`
	IsSliding    bool     `json:"is_sliding"`
	Stamina      float32  `json:"stamina"`
}

type BallState struct {
	Position        Vec2    `json:"position"`
	Velocity        Vec2    `json:"velocity"`
	Rotation        float32 `json:"rotation"`
	AngularVelocity float32 `json:"angular_velocity"`
}

// InputState is the full set of actions held by one player in one frame
type InputState struct {
	MoveUp       bool `json:"move_up"`
	MoveDown     bool `json:"move_down"`
	MoveLeft     bool `json:"move_left"`
	MoveRight    bool `json:"move_right"`
	Kick         bool `json:"kick"`
	CurveLeft    bool `json:"curve_left"`
	CurveRight   bool `json:"curve_right"`
	StopInteract bool `json:"stop_interact"`
	Sprint       bool `json:"sprint"`
	Slide        bool `json:"slide"`
}
