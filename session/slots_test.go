package session

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slotCount returns how many slots hold the player, which must never be more than one
func slotCount(slots *MatchSlots, id PlayerID) int {
	count := 0
	for _, team := range slots.Teams {
		if team.Starters.Contains(id) {
			count++
		}
		if team.Substitutes.Contains(id) {
			count++
		}
	}
	if slots.Spectators.Contains(id) {
		count++
	}
	return count
}

func TestMovePlayerKeepsSingleSlot(t *testing.T) {
	slots := NewMatchSlots()
	random := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		id := PlayerID(random.Intn(6) + 1)

		var teamIndex *uint8
		var isStarter *bool
		if random.Intn(3) > 0 {
			team := uint8(random.Intn(TeamCount))
			teamIndex = &team
		}
		if random.Intn(3) > 0 {
			starter := random.Intn(2) == 0
			isStarter = &starter
		}
		require.NoError(t, slots.MovePlayer(id, teamIndex, isStarter), "Moving to a valid slot should succeed")

		assert.Equal(t, 1, slotCount(slots, id), "Player %d should be in exactly one slot", id)
		team, starter := slots.FindPlayer(id)
		if teamIndex == nil || isStarter == nil {
			assert.True(t, slots.IsSpectator(id), "A move without team and role should land in spectators")
			assert.Nil(t, team, "A spectator has no team")
		} else {
			require.NotNil(t, team, "A team move should be found on its team")
			assert.Equal(t, *teamIndex, *team, "The player should be on the requested team")
			assert.Equal(t, *isStarter, *starter, "The player should have the requested role")
		}
	}
}

func TestMovePlayerRejectsInvalidTeam(t *testing.T) {
	slots := NewMatchSlots()
	slots.AddSpectator(1)

	team := uint8(TeamCount)
	starter := true
	err := slots.MovePlayer(1, &team, &starter)

	assert.ErrorIs(t, err, ErrInvalidTeam, "Team indexes past the last team should be rejected")
	assert.True(t, slots.IsSpectator(1), "A rejected move must leave the player where they were")
}

func TestSmallestTeam(t *testing.T) {
	slots := NewMatchSlots()
	assert.Equal(t, uint8(0), slots.SmallestTeam(), "Ties should go to team 0")

	require.NoError(t, slots.AddStarter(1, 0))
	assert.Equal(t, uint8(1), slots.SmallestTeam(), "Team 1 should be smaller")

	require.NoError(t, slots.AddStarter(2, 1))
	assert.Equal(t, uint8(0), slots.SmallestTeam(), "Ties should go to team 0")

	assert.Equal(t, []PlayerID{1, 2}, slots.AllStarters(), "Starters of both teams should be listed in order")
}

func TestApplyRequiresAdmin(t *testing.T) {
	slots := NewMatchSlots()
	require.NoError(t, slots.AddStarter(1, 0))
	require.NoError(t, slots.AddStarter(2, 1))
	slots.AddAdmin(1)

	handled, err := slots.Apply(2, &KickPlayer{PlayerID: 1})
	assert.True(t, handled, "KickPlayer is administrative")
	assert.ErrorIs(t, err, ErrNotAdmin, "A non admin must not kick")
	assert.True(t, slots.Contains(1), "A rejected kick must not remove anyone")

	_, err = slots.Apply(1, &KickPlayer{PlayerID: 42})
	assert.ErrorIs(t, err, ErrUnknownPlayer, "Kicking an unknown player should fail")

	team := uint8(0)
	starter := false
	_, err = slots.Apply(1, &MovePlayer{PlayerID: 2, TeamIndex: &team, IsStarter: &starter})
	require.NoError(t, err, "The admin should be able to move players")
	assert.True(t, slots.IsSubstitute(2), "Player 2 should now be a substitute")

	_, err = slots.Apply(1, &ToggleAdmin{PlayerID: 2, IsAdmin: true})
	require.NoError(t, err, "The admin should be able to promote players")
	assert.True(t, slots.IsAdmin(2), "Player 2 should be an admin")

	_, err = slots.Apply(2, &KickPlayer{PlayerID: 1})
	require.NoError(t, err, "The new admin should be able to kick")
	assert.False(t, slots.Contains(1), "The kicked player should hold no slot")
	assert.False(t, slots.IsAdmin(1), "The kicked player should lose admin")

	handled, err = slots.Apply(2, &Ping{})
	assert.False(t, handled, "Ping is not administrative")
	assert.NoError(t, err, "Non administrative messages are not errors")
}

func TestMatchSlotsJSONIsSorted(t *testing.T) {
	slots := NewMatchSlots()
	for _, id := range []PlayerID{9, 3, 5} {
		slots.AddSpectator(id)
	}
	require.NoError(t, slots.AddStarter(4, 1))
	slots.AddAdmin(4)

	data, err := json.Marshal(slots)
	require.NoError(t, err, "MatchSlots should marshal")
	assert.JSONEq(t, `{
		"teams": [
			{"starters": [], "substitutes": []},
			{"starters": [4], "substitutes": []}
		],
		"spectators": [3, 5, 9],
		"admins": [4]
	}`, string(data), "Player sets should serialize as sorted arrays")

	var decoded MatchSlots
	require.NoError(t, json.Unmarshal(data, &decoded), "MatchSlots should unmarshal")
	assert.True(t, decoded.IsStarter(4), "Starters should survive a round trip")
	assert.True(t, decoded.IsSpectator(9), "Spectators should survive a round trip")
}

func TestCloneIsIndependent(t *testing.T) {
	slots := NewMatchSlots()
	slots.AddSpectator(1)

	clone := slots.Clone()
	require.NoError(t, slots.AddStarter(1, 0))

	assert.True(t, clone.IsSpectator(1), "Changes after cloning must not reach the clone")
}
