package client

import (
	"math"
	"testing"

	"github.com/alejzeis/kinetic-relay/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(number uint32, players ...session.PlayerState) *session.GameState {
	return &session.GameState{Tick: number, Players: players}
}

func TestWorldSpawnsLazily(t *testing.T) {
	world := NewWorld()
	_, ok := world.Ball()
	assert.False(t, ok, "There should be no ball before the first tick")

	world.Receive(tick(1, session.PlayerState{ID: 1, Name: "Alice", Position: Vec2{X: 100, Y: 50}}))
	world.Step(0)

	player, ok := world.Player(1)
	require.True(t, ok, "Player 1 should spawn on its first tick")
	assert.Equal(t, Vec2{X: 100, Y: 50}, player.Position, "A new entity should start on its authoritative position")
	assert.Equal(t, PlayerSmoothing, player.Smoothing, "Players use the player smoothing")

	ball, ok := world.Ball()
	require.True(t, ok, "The ball should spawn with the first tick")
	assert.Equal(t, BallSmoothing, ball.Smoothing, "The ball uses the ball smoothing")
}

func TestWorldAppliesOnlyNewestTick(t *testing.T) {
	world := NewWorld()
	world.Receive(tick(5, session.PlayerState{ID: 1, Position: Vec2{X: 5}}))
	world.Receive(tick(7, session.PlayerState{ID: 1, Position: Vec2{X: 7}}))
	world.Receive(tick(6, session.PlayerState{ID: 1, Position: Vec2{X: 6}}))
	world.Step(0)

	assert.Equal(t, uint32(7), world.Tick(), "The newest tick received should be applied")
	player, _ := world.Player(1)
	assert.Equal(t, float32(7), player.TargetPosition.X, "The newest tick's state should be the target")

	world.Receive(tick(4, session.PlayerState{ID: 1, Position: Vec2{X: 4}}))
	world.Step(0)
	assert.Equal(t, uint32(7), world.Tick(), "A stale tick must never be applied")
	player, _ = world.Player(1)
	assert.Equal(t, float32(7), player.TargetPosition.X, "A stale tick must not move the target")
}

func TestWorldConvergesWithExtrapolation(t *testing.T) {
	world := NewWorld()
	world.Receive(tick(1, session.PlayerState{ID: 1}))
	world.Step(0)

	world.Receive(tick(2, session.PlayerState{ID: 1, Position: Vec2{X: 100}, Velocity: Vec2{X: 10}}))
	world.Step(0.01)

	player, _ := world.Player(1)
	// factor 0.15 toward 100 + 10*0.01
	assert.InDelta(t, 15.015, player.Position.X, 0.001, "One step should cover dt*smoothing of the way to the extrapolated target")

	for i := 0; i < 200; i++ {
		world.Step(0.01)
	}
	player, _ = world.Player(1)
	assert.InDelta(t, 100.1, player.Position.X, 0.01, "The entity should settle on the extrapolated target")

	world.Step(1)
	player, _ = world.Player(1)
	assert.InDelta(t, 110, player.Position.X, 0.01, "A long frame should land on the target, never overshoot it")
}

func TestWorldRotatesAlongShortestArc(t *testing.T) {
	world := NewWorld()
	world.Receive(tick(1, session.PlayerState{ID: 1, Rotation: 3}))
	world.Step(0)

	world.Receive(tick(2, session.PlayerState{ID: 1, Rotation: -3}))
	world.Step(0.01)

	player, _ := world.Player(1)
	assert.Greater(t, player.Rotation, float32(3), "Turning from 3 to -3 should go forward through π, not back through 0")
}

func TestShortestAngle(t *testing.T) {
	assert.InDelta(t, 0.5, shortestAngle(0.5), 1e-6, "Small deltas are unchanged")
	assert.InDelta(t, -0.5, shortestAngle(2*math.Pi-0.5), 1e-5, "Deltas past π wrap backwards")
	assert.InDelta(t, math.Pi, shortestAngle(-math.Pi), 1e-5, "-π normalizes to π")
	assert.InDelta(t, 0.25, shortestAngle(4*math.Pi+0.25), 1e-5, "Whole turns are removed")
}

func TestWorldRemovesAndRespawns(t *testing.T) {
	world := NewWorld()
	world.Receive(tick(1,
		session.PlayerState{ID: 1, TeamIndex: 0},
		session.PlayerState{ID: 2, TeamIndex: 1},
		session.PlayerState{ID: 3, TeamIndex: 0},
	))
	world.Step(0)
	require.Len(t, world.Players(), 3, "All starters should be displayed")
	first, _ := world.Player(1)

	world.HandleUpdate(session.Update{Message: &session.PlayerDisconnected{PlayerID: 2}})
	_, ok := world.Player(2)
	assert.False(t, ok, "A disconnected player should be removed at once")

	world.Receive(tick(2, session.PlayerState{ID: 1, TeamIndex: 1}))
	world.Step(0)

	_, ok = world.Player(3)
	assert.False(t, ok, "A player no longer among the starters should be removed")
	moved, ok := world.Player(1)
	require.True(t, ok, "Player 1 is still a starter")
	assert.Equal(t, uint8(1), moved.Team, "Player 1 should be on the new team")
	assert.NotEqual(t, first.Generation, moved.Generation, "A team change should respawn the entity")

	world.Receive(tick(3, session.PlayerState{ID: 1, TeamIndex: 1, Position: Vec2{X: 5}}))
	world.Step(0)
	same, _ := world.Player(1)
	assert.Equal(t, moved.Generation, same.Generation, "A plain update must not respawn the entity")

	world.HandleUpdate(session.Update{HostLost: true})
	assert.Empty(t, world.Players(), "Losing the host should clear the world")
}
