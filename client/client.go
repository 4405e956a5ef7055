package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/alejzeis/kinetic-relay/common"

	log "github.com/sirupsen/logrus"
)

var errNotConnected = errors.New("not connected to a server, use \"connect [URL]\" first")

// commandLoop holds what the interactive client is doing: the registry it talks to and the room it's in, if any
type commandLoop struct {
	ctx      context.Context
	out      io.Writer
	provider common.MessageConnectionProvider

	rest   *restClient
	hosted *hostedRoom
	joined *joinedRoom
}

func newCommandLoop(ctx context.Context, out io.Writer) *commandLoop {
	return &commandLoop{
		ctx:      ctx,
		out:      out,
		provider: &common.RelayMessageConnectionProvider{},
	}
}

// RunClient is the main method for running the client code
func RunClient(ctx context.Context) {
	log.Info("Client ready for commands.")
	loop := newCommandLoop(ctx, os.Stdout)
	defer loop.leave()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")

		select {
		case <-ctx.Done():
			return
		case text, ok := <-lines:
			if !ok || !loop.execute(text) {
				return
			}
		}
	}
}

// execute runs one command line, false when the client should exit
func (loop *commandLoop) execute(text string) bool {
	exploded := strings.Fields(text)
	if len(exploded) == 0 {
		return true
	}

	var err error
	switch exploded[0] {
	case "connect":
		// connect [server]
		if len(exploded) != 2 {
			log.Error("Usage: \"connect [URL]\"")
			return true
		}
		err = loop.connect(exploded[1])
	case "rooms":
		err = loop.rooms()
	case "host":
		// host [id] [name] [max players] (map)
		if len(exploded) < 4 || len(exploded) > 5 {
			log.Error("Usage: \"host [ID] [NAME] [MAX PLAYERS] (MAP)\"")
			return true
		}
		err = loop.host(exploded[1], exploded[2], exploded[3], exploded[4:])
	case "join":
		// join [id] [player names...]
		if len(exploded) < 3 {
			log.Error("Usage: \"join [ID] [PLAYER NAME]...\"")
			return true
		}
		err = loop.join(exploded[1], exploded[2:])
	case "players":
		err = loop.players()
	case "leave":
		loop.leave()
	case "quit", "exit":
		return false
	default:
		log.WithField("command", exploded[0]).Error("Unknown command")
	}

	if err != nil {
		log.WithField("command", exploded[0]).WithError(err).Error("Command failed")
	}
	return true
}

func (loop *commandLoop) connect(serverURL string) error {
	if _, err := websocketURL(serverURL); err != nil {
		return err
	}

	rest := createRestClient(strings.TrimSuffix(serverURL, "/"), common.SoftwareVersion, common.HMACSecret())
	info, err := rest.info()
	if err != nil {
		return err
	}
	if info.API != common.APIVersion {
		return fmt.Errorf("server speaks API version %d, this client speaks %d", info.API, common.APIVersion)
	}

	loop.leave()
	loop.rest = rest
	log.WithFields(log.Fields{
		"url":      serverURL,
		"software": info.Software,
		"version":  info.Version,
		"rooms":    info.Rooms,
	}).Info("Connected to server")
	return nil
}

func (loop *commandLoop) rooms() error {
	if loop.rest == nil {
		return errNotConnected
	}

	rooms, err := loop.rest.listRooms()
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		fmt.Fprintln(loop.out, "No rooms")
	}
	for _, room := range rooms {
		mapName := "-"
		if room.MapName != nil {
			mapName = *room.MapName
		}
		fmt.Fprintf(loop.out, "%s\t%s\t%d/%d\t%s\t%s\n", room.RoomID, room.Name, room.CurrentPlayers, room.MaxPlayers, mapName, room.Status)
	}
	return nil
}

func (loop *commandLoop) host(roomID string, name string, maxPlayers string, mapName []string) error {
	if loop.rest == nil {
		return errNotConnected
	}

	limit, err := strconv.ParseUint(maxPlayers, 10, 8)
	if err != nil {
		return fmt.Errorf("invalid max players %q: %w", maxPlayers, err)
	}

	request := common.CreateRoomRequest{RoomID: roomID, Name: name, MaxPlayers: uint8(limit)}
	if len(mapName) > 0 {
		request.MapName = &mapName[0]
	}

	loop.leave()
	room, err := hostRoom(loop.ctx, loop.rest, loop.provider, request)
	if err != nil {
		return err
	}
	loop.hosted = room
	return nil
}

func (loop *commandLoop) join(roomID string, names []string) error {
	if loop.rest == nil {
		return errNotConnected
	}

	loop.leave()
	room, err := joinRoom(loop.ctx, loop.rest.serverURL, loop.provider, roomID, names)
	if err != nil {
		return err
	}
	loop.joined = room
	return nil
}

func (loop *commandLoop) players() error {
	if loop.joined == nil {
		return errors.New("not in a room")
	}

	players, tick := loop.joined.players()
	fmt.Fprintf(loop.out, "Tick %d\n", tick)
	for _, player := range players {
		fmt.Fprintf(loop.out, "%d\t%s\tteam %d\t(%.0f, %.0f)\n", player.ID, player.Name, player.Team, player.Position.X, player.Position.Y)
	}
	return nil
}

// leave stops hosting or leaves the joined room, whichever applies
func (loop *commandLoop) leave() {
	if loop.hosted != nil {
		loop.hosted.stop()
		loop.hosted = nil
	}
	if loop.joined != nil {
		loop.joined.leave()
		loop.joined = nil
	}
}
