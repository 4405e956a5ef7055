package client

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alejzeis/kinetic-relay/common"
	"github.com/alejzeis/kinetic-relay/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketURL(t *testing.T) {
	address, err := websocketURL("http://localhost:3537/")
	require.NoError(t, err, "http addresses should convert")
	assert.Equal(t, "ws://localhost:3537", address, "http should become ws")

	address, err = websocketURL("https://relay.example.com")
	require.NoError(t, err, "https addresses should convert")
	assert.Equal(t, "wss://relay.example.com", address, "https should become wss")

	_, err = websocketURL("relay.example.com")
	assert.Error(t, err, "Addresses without a scheme should be refused")
}

// TestHostAndJoinThroughRelay registers a room, hosts it and joins it through a real relay and backend
func TestHostAndJoinThroughRelay(t *testing.T) {
	serverURL := startServers(t)
	rest := createRestClient(serverURL, common.SoftwareVersion, []byte(testSecret))
	provider := &common.RelayMessageConnectionProvider{}
	ctx := context.Background()

	hosted, err := hostRoom(ctx, rest, provider, common.CreateRoomRequest{RoomID: "pitch", Name: "Pitch", MaxPlayers: 2})
	require.NoError(t, err, "Hosting should succeed")

	joined, err := joinRoom(ctx, serverURL, provider, "pitch", []string{"Alice", "Bob"})
	require.NoError(t, err, "Joining should succeed")

	assert.Eventually(t, func() bool {
		players, _ := joined.players()
		return len(players) == 2
	}, 5*time.Second, 20*time.Millisecond, "Both local players should appear in the reconciled world")

	players, tick := joined.players()
	assert.NotZero(t, tick, "A tick should have been applied")
	if assert.Len(t, players, 2, "Both local players should be displayed") {
		assert.ElementsMatch(t, []string{"Alice", "Bob"}, []string{players[0].Name, players[1].Name}, "The players should carry their names")
		assert.NotEqual(t, players[0].Team, players[1].Team, "The two players should be balanced across teams")
	}
	_, ok := joined.input(players[0].ID)
	assert.True(t, ok, "Every admitted local player should have an input source")

	rooms, err := rest.listRooms()
	require.NoError(t, err, "Listing rooms should succeed")
	require.Len(t, rooms, 1, "The hosted room should be listed")
	assert.Equal(t, uint8(1), rooms[0].CurrentPlayers, "The joined connection should be counted")
	assert.Equal(t, common.RoomOpen, rooms[0].Status, "The room should still be open")

	joined.leave()
	assert.Eventually(t, func() bool {
		rooms, err := rest.listRooms()
		return err == nil && len(rooms) == 1 && rooms[0].CurrentPlayers == 0
	}, 5*time.Second, 20*time.Millisecond, "Leaving should release the connection")

	hosted.stop()
	rooms, err = rest.listRooms()
	require.NoError(t, err, "Listing rooms should succeed")
	assert.Empty(t, rooms, "Stopping the host should delete the room")
}

func TestJoinUnknownRoomFails(t *testing.T) {
	serverURL := startServers(t)

	_, err := joinRoom(context.Background(), serverURL, &common.RelayMessageConnectionProvider{}, "nowhere", []string{"Alice"})
	var statusErr *common.HTTPStatusError
	require.ErrorAs(t, err, &statusErr, "The relay should refuse the upgrade")
	assert.Equal(t, 404, statusErr.StatusCode, "An unknown room should be 404")
}

func TestCommandLoop(t *testing.T) {
	t.Setenv("KB_HMAC_SECRET", testSecret)
	serverURL := startServers(t)

	out := new(bytes.Buffer)
	loop := newCommandLoop(context.Background(), out)
	defer loop.leave()

	assert.True(t, loop.execute("rooms"), "Commands before connecting should not exit")
	assert.Nil(t, loop.rest, "Nothing should be connected yet")

	require.True(t, loop.execute("connect "+serverURL), "connect should not exit")
	require.NotNil(t, loop.rest, "connect should set up the registry client")

	loop.execute("host lobby Lobby 4 classic")
	require.NotNil(t, loop.hosted, "host should start hosting")

	out.Reset()
	loop.execute("rooms")
	assert.Contains(t, out.String(), "lobby\tLobby\t0/4\tclassic\topen", "rooms should list the hosted room")

	loop.execute("host other Other many")
	assert.NotNil(t, loop.hosted, "A bad max players should leave the current room alone")
	assert.Equal(t, "lobby", loop.hosted.roomID, "A bad max players should leave the current room alone")

	loop.execute("leave")
	assert.Nil(t, loop.hosted, "leave should stop hosting")

	out.Reset()
	loop.execute("rooms")
	assert.Contains(t, out.String(), "No rooms", "The room should be deleted after leaving")

	assert.False(t, loop.execute("quit"), "quit should exit")
}

func TestSendInputsOnlyOnChange(t *testing.T) {
	input := session.NewLocalInputSource()
	room := &joinedRoom{
		inputs: map[session.PlayerID]*session.LocalInputSource{1: input},
		sent:   make(map[session.PlayerID]sentInput),
	}

	var sent []session.InputState
	send := func(id session.PlayerID, state session.InputState) {
		assert.Equal(t, session.PlayerID(1), id, "Only the local player's input should be sent")
		sent = append(sent, state)
	}

	room.sendInputs(send)
	require.Len(t, sent, 1, "The first frame should always send the input")

	for i := 0; i < 5; i++ {
		room.sendInputs(send)
	}
	assert.Len(t, sent, 1, "An unchanged input should not be sent every frame")

	input.Press(session.Kick)
	room.sendInputs(send)
	require.Len(t, sent, 2, "A changed input should be sent on the next frame")
	assert.True(t, sent[1].Kick, "The sent input should carry the new press")

	for i := 0; i <= inputResendFrames; i++ {
		room.sendInputs(send)
	}
	assert.Len(t, sent, 3, "An unchanged input should be sent again once it's old enough")

	for i := 0; i < 600; i++ {
		room.sendInputs(send)
	}
	assert.Less(t, len(sent), 60, "Ten seconds of idle frames should send far fewer inputs than frames")
}
