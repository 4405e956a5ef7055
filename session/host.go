package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejzeis/kinetic-relay/common"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultTickRate is how often the host steps the simulation and broadcasts a GameState
const DefaultTickRate = time.Second / 60

// HostConfig configures a HostSession
type HostConfig struct {
	MinVersion  common.ProtocolVersion
	TickRate    time.Duration
	MapSnapshot json.RawMessage
	Simulation  Simulation
}

type hostPlayer struct {
	id         PlayerID
	peer       uuid.UUID
	name       string
	localIndex uint8
	ready      bool
	input      *NetworkInputSource
}

// HostSession is the authoritative side of a room. It answers Joins, admits Ready players,
// applies administrative messages to the MatchSlots and broadcasts ticks.
// All of its state is owned by the goroutine calling Run, or by the caller of HandleEvent and Tick.
type HostSession struct {
	socket Socket
	config HostConfig
	sim    Simulation

	nextPlayerID PlayerID
	players      map[PlayerID]*hostPlayer
	slots        *MatchSlots
	tick         uint32

	now func() time.Time
}

// NewHostSession creates a host sending through socket
func NewHostSession(socket Socket, config HostConfig) *HostSession {
	if config.TickRate <= 0 {
		config.TickRate = DefaultTickRate
	}
	sim := config.Simulation
	if sim == nil {
		sim = NewKinematicSimulation(DefaultKinematicConfig())
	}

	return &HostSession{
		socket:       socket,
		config:       config,
		sim:          sim,
		nextPlayerID: 1,
		players:      make(map[PlayerID]*hostPlayer),
		slots:        NewMatchSlots(),
		now:          time.Now,
	}
}

// Slots returns the live MatchSlots, only safe to read from the session's goroutine
func (host *HostSession) Slots() *MatchSlots {
	return host.slots
}

// Run processes socket events and ticks until ctx is done or the socket closes
func (host *HostSession) Run(ctx context.Context) error {
	ticker := time.NewTicker(host.config.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-host.socket.Events():
			if !ok {
				return ErrSocketClosed
			}
			host.HandleEvent(event)
		case <-ticker.C:
			host.Tick()
		}
	}
}

// HandleEvent applies one socket event
func (host *HostSession) HandleEvent(event Event) {
	switch event.Kind {
	case PeerConnected:
		log.WithField("peer", event.Peer).Debug("Peer connected")
	case PeerDisconnected:
		log.WithField("peer", event.Peer).Info("Peer disconnected")
		for _, player := range host.playersOf(event.Peer) {
			host.removePlayer(player.id)
		}
	case MessageReceived:
		host.handleMessage(event.Peer, event.Message)
	}
}

func (host *HostSession) handleMessage(peer uuid.UUID, message Message) {
	logger := log.WithField("peer", peer)

	switch m := message.(type) {
	case *Join:
		host.handleJoin(peer, m)
	case *Ready:
		host.handleReady(peer, m)
	case *Leave:
		if player, ok := host.players[m.PlayerID]; ok && player.peer == peer {
			host.removePlayer(m.PlayerID)
		}
	case *MovePlayer, *KickPlayer, *ToggleAdmin:
		host.handleAdmin(peer, message)
	case *Input:
		if player, ok := host.players[m.PlayerID]; ok && player.peer == peer && player.ready {
			player.input.SetInput(m.Input)
		}
	case *Ping:
		host.send(peer, &Pong{ClientTimestamp: m.Timestamp, ServerTimestamp: uint64(host.now().UnixMilli())})
	default:
		logger.WithField("type", message.Type()).Debug("Ignoring message not meant for the host")
	}
}

func (host *HostSession) handleJoin(peer uuid.UUID, join *Join) {
	logger := log.WithFields(log.Fields{
		"peer":    peer,
		"name":    join.PlayerName,
		"version": join.ClientVersion,
	})

	version, err := common.ParseVersion(join.ClientVersion)
	if err != nil || version.Less(host.config.MinVersion) {
		logger.WithError(ErrVersionMismatch).Warn("Rejected join")
		host.send(peer, &VersionMismatch{
			ClientVersion: join.ClientVersion,
			MinRequired:   host.config.MinVersion.String(),
			Message:       fmt.Sprintf("Client version %s is not supported, minimum required is %s", join.ClientVersion, host.config.MinVersion),
		})
		return
	}

	id := host.nextPlayerID
	host.nextPlayerID++
	host.players[id] = &hostPlayer{
		id:         id,
		peer:       peer,
		name:       join.PlayerName,
		localIndex: join.LocalIndex,
		input:      NewNetworkInputSource(),
	}

	logger.WithField("player", id).Info("Player joined")
	host.send(peer, &Welcome{PlayerID: id, LocalIndex: join.LocalIndex, MapSnapshot: host.config.MapSnapshot})
}

func (host *HostSession) handleReady(peer uuid.UUID, ready *Ready) {
	player, ok := host.players[ready.PlayerID]
	if !ok || player.peer != peer {
		host.send(peer, &Error{Message: fmt.Sprintf("unknown player %d", ready.PlayerID)})
		return
	}
	if player.ready {
		return
	}
	player.ready = true

	if len(host.slots.Admins) == 0 {
		host.slots.AddAdmin(player.id)
	}
	team := host.slots.SmallestTeam()
	_ = host.slots.AddStarter(player.id, team)
	host.sim.AddPlayer(player.id, player.name, team)

	log.WithFields(log.Fields{
		"peer":   peer,
		"player": player.id,
		"team":   team,
	}).Info("Player ready")
	host.broadcastSlots()
}

func (host *HostSession) handleAdmin(peer uuid.UUID, message Message) {
	actor := host.actorFor(peer)
	logger := log.WithFields(log.Fields{
		"peer":   peer,
		"player": actor,
		"type":   message.Type(),
	})

	if _, err := host.slots.Apply(actor, message); err != nil {
		logger.WithError(err).Warn("Rejected administrative message")
		return
	}

	switch m := message.(type) {
	case *KickPlayer:
		logger.WithField("target", m.PlayerID).Info("Player kicked")
		host.removePlayer(m.PlayerID)
		return
	case *MovePlayer:
		if team, ok := host.slots.TeamIndex(m.PlayerID); ok {
			host.sim.SetTeam(m.PlayerID, team)
		}
	}
	host.broadcastSlots()
}

// actorFor returns the sender's admin player if it has one, otherwise any of its players
func (host *HostSession) actorFor(peer uuid.UUID) PlayerID {
	var actor PlayerID
	for _, player := range host.playersOf(peer) {
		if host.slots.IsAdmin(player.id) {
			return player.id
		}
		actor = player.id
	}
	return actor
}

func (host *HostSession) playersOf(peer uuid.UUID) []*hostPlayer {
	var players []*hostPlayer
	for _, player := range host.players {
		if player.peer == peer {
			players = append(players, player)
		}
	}
	return players
}

func (host *HostSession) hasReadyPlayer(peer uuid.UUID) bool {
	for _, player := range host.players {
		if player.peer == peer && player.ready {
			return true
		}
	}
	return false
}

func (host *HostSession) removePlayer(id PlayerID) {
	player, ok := host.players[id]
	if !ok {
		return
	}

	delete(host.players, id)
	host.slots.RemovePlayer(id)
	host.slots.RemoveAdmin(id)
	host.sim.RemovePlayer(id)

	log.WithFields(log.Fields{
		"peer":   player.peer,
		"player": id,
	}).Info("Player removed")

	host.broadcast(&PlayerDisconnected{PlayerID: id})
	if !host.hasReadyPlayer(player.peer) {
		// the owner no longer receives broadcasts
		host.send(player.peer, &PlayerDisconnected{PlayerID: id})
	}
	host.broadcastSlots()
}

// Tick steps the simulation and sends the GameState to every peer with a ready player
func (host *HostSession) Tick() *GameState {
	inputs := make(map[PlayerID]InputSource, len(host.players))
	for id, player := range host.players {
		if player.ready {
			inputs[id] = player.input
		}
	}

	host.sim.Step(float32(host.config.TickRate.Seconds()), inputs)
	for _, input := range inputs {
		input.Update()
	}

	host.tick++
	all, ball := host.sim.Snapshot()
	state := &GameState{
		Tick:      host.tick,
		Timestamp: uint64(host.now().UnixMilli()),
		Players:   make([]PlayerState, 0, len(all)),
		Ball:      ball,
	}
	simulated := make(map[PlayerID]PlayerState, len(all))
	for _, player := range all {
		simulated[player.ID] = player
	}
	for _, id := range host.slots.AllStarters() {
		if player, ok := simulated[id]; ok {
			state.Players = append(state.Players, player)
		}
	}

	host.broadcast(state)
	return state
}

func (host *HostSession) broadcastSlots() {
	host.broadcast(&SlotsUpdated{MatchSlots: host.slots.Clone()})
}

// broadcast sends once to every peer that has a ready player
func (host *HostSession) broadcast(message Message) {
	sent := make(map[uuid.UUID]bool)
	for _, player := range host.players {
		if player.ready && !sent[player.peer] {
			sent[player.peer] = true
			host.send(player.peer, message)
		}
	}
}

func (host *HostSession) send(peer uuid.UUID, message Message) {
	if err := host.socket.Send(peer, message); err != nil {
		log.WithFields(log.Fields{
			"peer": peer,
			"type": message.Type(),
		}).WithError(err).Warn("Failed to send message")
	}
}
