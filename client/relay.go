package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/alejzeis/kinetic-relay/common"
	"github.com/alejzeis/kinetic-relay/session"

	log "github.com/sirupsen/logrus"
)

// websocketURL turns the registry's http(s) address into the relay's ws(s) address
func websocketURL(address string) (string, error) {
	address = strings.TrimSuffix(address, "/")
	if strings.HasPrefix(address, "http://") {
		return "ws://" + strings.TrimPrefix(address, "http://"), nil
	} else if strings.HasPrefix(address, "https://") {
		return "wss://" + strings.TrimPrefix(address, "https://"), nil
	}
	return "", errors.New("invalid address " + address + ", expected http:// or https://")
}

// hostedRoom is a room registered by this client, with a HostSession running over the relay
type hostedRoom struct {
	roomID string
	token  string

	rest   *restClient
	socket *session.RelaySocket
	host   *session.HostSession

	cancel context.CancelFunc
	done   chan struct{}
}

// hostRoom registers the room, connects to the relay as its host and starts the host session
func hostRoom(ctx context.Context, rest *restClient, provider common.MessageConnectionProvider, request common.CreateRoomRequest) (*hostedRoom, error) {
	relayURL, err := websocketURL(rest.serverURL)
	if err != nil {
		return nil, err
	}

	token, err := rest.createRoom(request)
	if err != nil {
		return nil, err
	}

	conn, err := provider.DialForConnection(relayURL + "/connect?token=" + url.QueryEscape(token))
	if err != nil {
		log.WithFields(log.Fields{
			"room": request.RoomID,
			"url":  relayURL,
		}).WithError(err).Error("Failed to connect to the relay as host")
		_ = rest.deleteRoom(request.RoomID, token)
		return nil, err
	}

	config := session.HostConfig{MinVersion: common.CurrentVersion()}
	if request.MapName != nil {
		config.MapSnapshot, _ = json.Marshal(map[string]string{"name": *request.MapName})
	}

	socket := session.NewRelaySocket(conn)
	ctx, cancel := context.WithCancel(ctx)
	room := &hostedRoom{
		roomID: request.RoomID,
		token:  token,
		rest:   rest,
		socket: socket,
		host:   session.NewHostSession(socket, config),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go room.run(ctx)
	log.WithField("room", request.RoomID).Info("Now hosting room")
	return room, nil
}

func (room *hostedRoom) run(ctx context.Context) {
	defer close(room.done)

	err := room.host.Run(ctx)
	if errors.Is(err, session.ErrSocketClosed) {
		log.WithField("room", room.roomID).Warn("Relay connection lost, the room is gone")
		return
	}

	// deleting the room first makes the relay close our leg, rather than treating it as a host failure
	_ = room.rest.deleteRoom(room.roomID, room.token)
	_ = room.socket.Close()
}

// stop ends the host session and deletes the room, waiting until both are done
func (room *hostedRoom) stop() {
	room.cancel()
	<-room.done
	log.WithField("room", room.roomID).Info("Stopped hosting room")
}
