package session

import (
	"testing"

	"github.com/alejzeis/kinetic-relay/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJoin(t *testing.T) {
	data, err := Encode(&Join{PlayerName: "Alice", ClientVersion: "1.2.0", LocalIndex: 1})
	require.NoError(t, err, "Join should encode")

	message, err := Decode(common.ControlChannel, data)
	require.NoError(t, err, "Join should decode on the control channel")
	join, ok := message.(*Join)
	require.True(t, ok, "The decoded message should be a Join")
	assert.Equal(t, "Alice", join.PlayerName, "The name should survive")
	assert.Equal(t, "1.2.0", join.ClientVersion, "The version should survive")
	assert.Equal(t, uint8(1), join.LocalIndex, "The local index should survive")
}

func TestDecodeRejectsWrongChannel(t *testing.T) {
	data, err := Encode(&Input{PlayerID: 1})
	require.NoError(t, err, "Input should encode")

	_, err = Decode(common.ControlChannel, data)
	assert.ErrorIs(t, err, ErrDeserializeFailed, "Input on the control channel should be rejected")

	_, err = Decode(common.DataChannel, data)
	assert.NoError(t, err, "Input on the data channel should be accepted")
}

func TestDecodeFailures(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"type":`,
		"unknown type": `{"type":"teleport","data":{}}`,
		"bad payload":  `{"type":"ready","data":{"player_id":"one"}}`,
	}

	for name, data := range cases {
		_, err := Decode(common.ControlChannel, []byte(data))
		assert.ErrorIs(t, err, ErrDeserializeFailed, "%s should fail to deserialize", name)
	}
}

func TestMovePlayerWireFormat(t *testing.T) {
	data, err := Encode(&MovePlayer{PlayerID: 3})
	require.NoError(t, err, "MovePlayer should encode")
	assert.JSONEq(t, `{"type":"move_player","data":{"player_id":3}}`, string(data),
		"A move to spectators should omit team and role")

	team := uint8(1)
	starter := true
	data, err = Encode(&MovePlayer{PlayerID: 3, TeamIndex: &team, IsStarter: &starter})
	require.NoError(t, err, "MovePlayer should encode")

	message, err := Decode(common.ControlChannel, data)
	require.NoError(t, err, "MovePlayer should decode")
	move := message.(*MovePlayer)
	require.NotNil(t, move.TeamIndex, "The team should survive")
	assert.Equal(t, uint8(1), *move.TeamIndex, "The team should survive")
	assert.True(t, *move.IsStarter, "The role should survive")
}

func TestEveryMessageTypeIsRegistered(t *testing.T) {
	for messageType, factory := range messageFactories {
		message := factory()
		assert.Equal(t, messageType, message.Type(), "The factory for %s should build that type", messageType)

		data, err := Encode(message)
		require.NoError(t, err, "An empty %s should encode", messageType)
		_, err = Decode(message.Channel(), data)
		assert.NoError(t, err, "An empty %s should decode", messageType)
	}
}

func TestVec2Lerp(t *testing.T) {
	from := Vec2{0, 0}
	to := Vec2{10, -4}

	assert.Equal(t, from, from.Lerp(to, 0), "Lerp by 0 should stay put")
	assert.Equal(t, to, from.Lerp(to, 1), "Lerp by 1 should arrive")
	assert.Equal(t, Vec2{5, -2}, from.Lerp(to, 0.5), "Lerp by half should land halfway")
}
