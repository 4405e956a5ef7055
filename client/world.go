package client

import (
	"math"
	"sort"

	"github.com/alejzeis/kinetic-relay/session"

	log "github.com/sirupsen/logrus"
)

// Smoothing constants, higher converges faster
const (
	BallSmoothing   float32 = 20
	PlayerSmoothing float32 = 15
)

// Entity is the locally displayed state of a player or the ball, converging on the last authoritative state received
type Entity struct {
	ID   session.PlayerID
	Name string
	Team uint8

	Position Vec2
	Rotation float32

	TargetPosition Vec2
	TargetVelocity Vec2
	TargetRotation float32
	Smoothing      float32

	// Generation changes every time the entity is spawned, so presentation bound at spawn time can be rebuilt
	Generation uint64
}

// Vec2 is session.Vec2, aliased to keep world code short
type Vec2 = session.Vec2

// step moves the entity toward its velocity extrapolated target and turns it along the shortest arc
func (entity *Entity) step(dt float32) {
	factor := clamp01(dt * entity.Smoothing)

	target := entity.TargetPosition.Add(entity.TargetVelocity.Scale(dt))
	entity.Position = entity.Position.Lerp(target, factor)
	entity.Rotation += shortestAngle(entity.TargetRotation-entity.Rotation) * factor
}

func clamp01(value float32) float32 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// shortestAngle normalizes a rotation delta into (-π, π]
func shortestAngle(delta float32) float32 {
	d := math.Mod(float64(delta), 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	} else if d <= -math.Pi {
		d += 2 * math.Pi
	}
	return float32(d)
}

// World reconciles authoritative ticks into smoothed entities. It belongs to the render loop and is not safe for concurrent use.
type World struct {
	players map[session.PlayerID]*Entity
	ball    *Entity

	pending     *session.GameState
	appliedTick uint32
	generation  uint64
}

func NewWorld() *World {
	return &World{players: make(map[session.PlayerID]*Entity)}
}

// HandleUpdate takes in what the client session forwarded
func (world *World) HandleUpdate(update session.Update) {
	switch m := update.Message.(type) {
	case *session.GameState:
		world.Receive(m)
	case *session.PlayerDisconnected:
		world.remove(m.PlayerID)
	}
	if update.HostLost {
		world.Clear()
	}
}

// Receive queues a tick for the next Step. Only the newest tick received between two steps is kept.
func (world *World) Receive(state *session.GameState) {
	if world.pending == nil || state.Tick > world.pending.Tick {
		world.pending = state
	}
}

// Step applies the newest pending tick, if it's newer than the last one applied, then advances every entity by dt seconds
func (world *World) Step(dt float32) {
	if world.pending != nil {
		if world.pending.Tick > world.appliedTick {
			world.apply(world.pending)
		}
		world.pending = nil
	}

	for _, entity := range world.players {
		entity.step(dt)
	}
	if world.ball != nil {
		world.ball.step(dt)
	}
}

func (world *World) apply(state *session.GameState) {
	world.appliedTick = state.Tick

	starters := make(map[session.PlayerID]bool, len(state.Players))
	for _, player := range state.Players {
		starters[player.ID] = true

		entity, ok := world.players[player.ID]
		if ok && entity.Team != player.TeamIndex {
			log.WithFields(log.Fields{
				"player": player.ID,
				"team":   player.TeamIndex,
			}).Debug("Respawning player after team change")
			ok = false
		}
		if !ok {
			entity = world.spawn(player.Position, player.Rotation, PlayerSmoothing)
			entity.ID = player.ID
			world.players[player.ID] = entity
		}

		entity.Name = player.Name
		entity.Team = player.TeamIndex
		entity.TargetPosition = player.Position
		entity.TargetVelocity = player.Velocity
		entity.TargetRotation = player.Rotation
	}

	for id := range world.players {
		if !starters[id] {
			world.remove(id)
		}
	}

	if world.ball == nil {
		world.ball = world.spawn(state.Ball.Position, state.Ball.Rotation, BallSmoothing)
	}
	world.ball.TargetPosition = state.Ball.Position
	world.ball.TargetVelocity = state.Ball.Velocity
	world.ball.TargetRotation = state.Ball.Rotation
}

// spawn places a new entity directly on its first authoritative state
func (world *World) spawn(position Vec2, rotation float32, smoothing float32) *Entity {
	world.generation++
	return &Entity{
		Position:       position,
		Rotation:       rotation,
		TargetPosition: position,
		TargetRotation: rotation,
		Smoothing:      smoothing,
		Generation:     world.generation,
	}
}

func (world *World) remove(id session.PlayerID) {
	delete(world.players, id)
}

// Clear drops every entity, used when the host goes away
func (world *World) Clear() {
	world.players = make(map[session.PlayerID]*Entity)
	world.ball = nil
	world.pending = nil
	world.appliedTick = 0
}

// Player returns a copy of one displayed player
func (world *World) Player(id session.PlayerID) (Entity, bool) {
	entity, ok := world.players[id]
	if !ok {
		return Entity{}, false
	}
	return *entity, true
}

// Players returns copies of every displayed player, ordered by id
func (world *World) Players() []Entity {
	players := make([]Entity, 0, len(world.players))
	for _, entity := range world.players {
		players = append(players, *entity)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players
}

// Ball returns the displayed ball, false before the first tick
func (world *World) Ball() (Entity, bool) {
	if world.ball == nil {
		return Entity{}, false
	}
	return *world.ball, true
}

// Tick is the last tick applied
func (world *World) Tick() uint32 {
	return world.appliedTick
}
