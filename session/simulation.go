package session

import (
	"math"
	"sort"
)

// Simulation is the game world driven by the host. Physics and gameplay rules live behind it.
type Simulation interface {
	AddPlayer(id PlayerID, name string, teamIndex uint8)
	RemovePlayer(id PlayerID)
	SetTeam(id PlayerID, teamIndex uint8)
	// Step advances the world by dt seconds using each player's input
	Step(dt float32, inputs map[PlayerID]InputSource)
	// Snapshot returns every player in ascending id order, and the ball
	Snapshot() ([]PlayerState, BallState)
}

// KinematicConfig holds the tunables of KinematicSimulation
type KinematicConfig struct {
	ArenaWidth   float32
	ArenaHeight  float32
	PlayerSpeed  float32
	SprintFactor float32
	KickRange    float32
	KickForce    float32
	BallDamping  float32
}

// DefaultKinematicConfig matches the default arena
func DefaultKinematicConfig() KinematicConfig {
	return KinematicConfig{
		ArenaWidth:   8000,
		ArenaHeight:  4500,
		PlayerSpeed:  385,
		SprintFactor: 1.43,
		KickRange:    100,
		KickForce:    1200,
		BallDamping:  1.5,
	}
}

type kinematicPlayer struct {
	state PlayerState
}

// KinematicSimulation moves players straight from their inputs and lets the ball roll with damping.
// It has no collisions, it only keeps a headless host's ticks meaningful.
type KinematicSimulation struct {
	config  KinematicConfig
	players map[PlayerID]*kinematicPlayer
	ball    BallState
}

func NewKinematicSimulation(config KinematicConfig) *KinematicSimulation {
	return &KinematicSimulation{
		config:  config,
		players: make(map[PlayerID]*kinematicPlayer),
	}
}

func (sim *KinematicSimulation) kickoffPosition(teamIndex uint8) Vec2 {
	x := -sim.config.ArenaWidth / 4
	if teamIndex == 1 {
		x = -x
	}
	return Vec2{X: x}
}

func (sim *KinematicSimulation) AddPlayer(id PlayerID, name string, teamIndex uint8) {
	sim.players[id] = &kinematicPlayer{state: PlayerState{
		ID:        id,
		Name:      name,
		Position:  sim.kickoffPosition(teamIndex),
		TeamIndex: teamIndex,
		Stamina:   1,
	}}
}

func (sim *KinematicSimulation) RemovePlayer(id PlayerID) {
	delete(sim.players, id)
}

func (sim *KinematicSimulation) SetTeam(id PlayerID, teamIndex uint8) {
	if player, ok := sim.players[id]; ok && player.state.TeamIndex != teamIndex {
		player.state.TeamIndex = teamIndex
		player.state.Position = sim.kickoffPosition(teamIndex)
		player.state.Velocity = Vec2{}
	}
}

func (sim *KinematicSimulation) Step(dt float32, inputs map[PlayerID]InputSource) {
	halfW, halfH := sim.config.ArenaWidth/2, sim.config.ArenaHeight/2

	for id, player := range sim.players {
		input, ok := inputs[id]
		if !ok {
			player.state.Velocity = Vec2{}
			continue
		}

		var direction Vec2
		if input.IsPressed(MoveUp) {
			direction.Y++
		}
		if input.IsPressed(MoveDown) {
			direction.Y--
		}
		if input.IsPressed(MoveLeft) {
			direction.X--
		}
		if input.IsPressed(MoveRight) {
			direction.X++
		}

		speed := sim.config.PlayerSpeed
		if input.IsPressed(Sprint) {
			speed *= sim.config.SprintFactor
		}
		if length := float32(math.Hypot(float64(direction.X), float64(direction.Y))); length > 0 {
			direction = direction.Scale(1 / length)
			player.state.Rotation = float32(math.Atan2(float64(direction.Y), float64(direction.X)))
		}

		player.state.Velocity = direction.Scale(speed)
		player.state.Position = clampToArena(player.state.Position.Add(player.state.Velocity.Scale(dt)), halfW, halfH)
		player.state.KickCharging = input.IsPressed(Kick)
		player.state.IsSliding = input.IsPressed(Slide)

		if input.JustReleased(Kick) {
			sim.kick(player.state.Position)
		}
	}

	sim.ball.Position = clampToArena(sim.ball.Position.Add(sim.ball.Velocity.Scale(dt)), halfW, halfH)
	sim.ball.Rotation = float32(math.Remainder(float64(sim.ball.Rotation+sim.ball.AngularVelocity*dt), 2*math.Pi))
	damping := float32(math.Exp(float64(-sim.config.BallDamping * dt)))
	sim.ball.Velocity = sim.ball.Velocity.Scale(damping)
	sim.ball.AngularVelocity *= damping
}

func (sim *KinematicSimulation) kick(from Vec2) {
	offset := sim.ball.Position.Sub(from)
	distance := float32(math.Hypot(float64(offset.X), float64(offset.Y)))
	if distance == 0 || distance > sim.config.KickRange {
		return
	}
	sim.ball.Velocity = sim.ball.Velocity.Add(offset.Scale(sim.config.KickForce / distance))
	sim.ball.AngularVelocity += offset.X / distance
}

func (sim *KinematicSimulation) Snapshot() ([]PlayerState, BallState) {
	players := make([]PlayerState, 0, len(sim.players))
	for _, player := range sim.players {
		players = append(players, player.state)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players, sim.ball
}

func clampToArena(position Vec2, halfW, halfH float32) Vec2 {
	return Vec2{
		X: float32(math.Max(float64(-halfW), math.Min(float64(halfW), float64(position.X)))),
		Y: float32(math.Max(float64(-halfH), math.Min(float64(halfH), float64(position.Y)))),
	}
}
