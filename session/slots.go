package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Membership errors
var (
	ErrNotAdmin      = errors.New("sender is not an admin")
	ErrInvalidTeam   = errors.New("invalid team index")
	ErrUnknownPlayer = errors.New("unknown player")
)

// TeamCount is the number of teams in a match
const TeamCount = 2

// PlayerSet is a set of player ids, serialized as a sorted array
type PlayerSet map[PlayerID]struct{}

func (set PlayerSet) Contains(id PlayerID) bool {
	_, ok := set[id]
	return ok
}

// Sorted returns the members in ascending order
func (set PlayerSet) Sorted() []PlayerID {
	ids := make([]PlayerID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (set PlayerSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(set.Sorted())
}

func (set *PlayerSet) UnmarshalJSON(data []byte) error {
	var ids []PlayerID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*set = make(PlayerSet, len(ids))
	for _, id := range ids {
		(*set)[id] = struct{}{}
	}
	return nil
}

func (set PlayerSet) clone() PlayerSet {
	out := make(PlayerSet, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out
}

type Team struct {
	Starters    PlayerSet `json:"starters"`
	Substitutes PlayerSet `json:"substitutes"`
}

// MatchSlots assigns every player in a room to exactly one of: a team's starters, a team's substitutes, or spectators.
// Admins is an overlay and has no effect on slot membership.
type MatchSlots struct {
	Teams      [TeamCount]Team `json:"teams"`
	Spectators PlayerSet       `json:"spectators"`
	Admins     PlayerSet       `json:"admins"`
}

// NewMatchSlots returns empty slots
func NewMatchSlots() *MatchSlots {
	slots := &MatchSlots{}
	slots.init()
	return slots
}

func (slots *MatchSlots) init() {
	for i := range slots.Teams {
		if slots.Teams[i].Starters == nil {
			slots.Teams[i].Starters = make(PlayerSet)
		}
		if slots.Teams[i].Substitutes == nil {
			slots.Teams[i].Substitutes = make(PlayerSet)
		}
	}
	if slots.Spectators == nil {
		slots.Spectators = make(PlayerSet)
	}
	if slots.Admins == nil {
		slots.Admins = make(PlayerSet)
	}
}

// Clone returns a deep copy, used for SlotsUpdated snapshots
func (slots *MatchSlots) Clone() *MatchSlots {
	out := &MatchSlots{
		Spectators: slots.Spectators.clone(),
		Admins:     slots.Admins.clone(),
	}
	for i, team := range slots.Teams {
		out.Teams[i] = Team{Starters: team.Starters.clone(), Substitutes: team.Substitutes.clone()}
	}
	return out
}

// FindPlayer returns the player's team and whether they start. Both are nil for spectators and unknown players.
func (slots *MatchSlots) FindPlayer(id PlayerID) (teamIndex *uint8, isStarter *bool) {
	for i, team := range slots.Teams {
		index := uint8(i)
		if team.Starters.Contains(id) {
			starter := true
			return &index, &starter
		}
		if team.Substitutes.Contains(id) {
			starter := false
			return &index, &starter
		}
	}
	return nil, nil
}

// Contains reports whether the player holds any slot
func (slots *MatchSlots) Contains(id PlayerID) bool {
	return slots.Spectators.Contains(id) || slots.IsStarter(id) || slots.IsSubstitute(id)
}

// RemovePlayer takes the player out of every slot. Admin status is left alone.
func (slots *MatchSlots) RemovePlayer(id PlayerID) {
	for _, team := range slots.Teams {
		delete(team.Starters, id)
		delete(team.Substitutes, id)
	}
	delete(slots.Spectators, id)
}

// MovePlayer removes the player from every slot and then inserts them into the requested one.
// A nil teamIndex, or a nil isStarter, means spectators.
func (slots *MatchSlots) MovePlayer(id PlayerID, teamIndex *uint8, isStarter *bool) error {
	if teamIndex != nil && int(*teamIndex) >= TeamCount {
		return fmt.Errorf("%w: %d", ErrInvalidTeam, *teamIndex)
	}
	slots.init()
	slots.RemovePlayer(id)

	switch {
	case teamIndex != nil && isStarter != nil && *isStarter:
		slots.Teams[*teamIndex].Starters[id] = struct{}{}
	case teamIndex != nil && isStarter != nil:
		slots.Teams[*teamIndex].Substitutes[id] = struct{}{}
	default:
		slots.Spectators[id] = struct{}{}
	}
	return nil
}

// AddSpectator puts the player in spectators, leaving any previous slot
func (slots *MatchSlots) AddSpectator(id PlayerID) {
	_ = slots.MovePlayer(id, nil, nil)
}

// AddStarter puts the player in a team's starters, leaving any previous slot
func (slots *MatchSlots) AddStarter(id PlayerID, teamIndex uint8) error {
	starter := true
	return slots.MovePlayer(id, &teamIndex, &starter)
}

func (slots *MatchSlots) AddAdmin(id PlayerID) {
	slots.init()
	slots.Admins[id] = struct{}{}
}

func (slots *MatchSlots) RemoveAdmin(id PlayerID) {
	delete(slots.Admins, id)
}

func (slots *MatchSlots) IsAdmin(id PlayerID) bool {
	return slots.Admins.Contains(id)
}

func (slots *MatchSlots) IsStarter(id PlayerID) bool {
	for _, team := range slots.Teams {
		if team.Starters.Contains(id) {
			return true
		}
	}
	return false
}

func (slots *MatchSlots) IsSubstitute(id PlayerID) bool {
	for _, team := range slots.Teams {
		if team.Substitutes.Contains(id) {
			return true
		}
	}
	return false
}

func (slots *MatchSlots) IsSpectator(id PlayerID) bool {
	return slots.Spectators.Contains(id)
}

// AllStarters returns the starters of both teams in ascending order
func (slots *MatchSlots) AllStarters() []PlayerID {
	all := make(PlayerSet)
	for _, team := range slots.Teams {
		for id := range team.Starters {
			all[id] = struct{}{}
		}
	}
	return all.Sorted()
}

// TeamIndex returns the player's team, false for spectators and unknown players
func (slots *MatchSlots) TeamIndex(id PlayerID) (uint8, bool) {
	teamIndex, _ := slots.FindPlayer(id)
	if teamIndex == nil {
		return 0, false
	}
	return *teamIndex, true
}

// SmallestTeam returns the team with the fewest starters, team 0 on a tie
func (slots *MatchSlots) SmallestTeam() uint8 {
	smallest := 0
	for i := 1; i < TeamCount; i++ {
		if len(slots.Teams[i].Starters) < len(slots.Teams[smallest].Starters) {
			smallest = i
		}
	}
	return uint8(smallest)
}

// Apply performs an administrative message on behalf of actor. Only admins may issue them.
// The returned bool is false when message isn't administrative.
func (slots *MatchSlots) Apply(actor PlayerID, message Message) (bool, error) {
	switch message.(type) {
	case *MovePlayer, *KickPlayer, *ToggleAdmin:
	default:
		return false, nil
	}

	if !slots.IsAdmin(actor) {
		return true, fmt.Errorf("%w: player %d", ErrNotAdmin, actor)
	}

	switch m := message.(type) {
	case *MovePlayer:
		if !slots.Contains(m.PlayerID) {
			return true, fmt.Errorf("%w: %d", ErrUnknownPlayer, m.PlayerID)
		}
		return true, slots.MovePlayer(m.PlayerID, m.TeamIndex, m.IsStarter)
	case *KickPlayer:
		if !slots.Contains(m.PlayerID) {
			return true, fmt.Errorf("%w: %d", ErrUnknownPlayer, m.PlayerID)
		}
		slots.RemovePlayer(m.PlayerID)
		slots.RemoveAdmin(m.PlayerID)
	case *ToggleAdmin:
		if !slots.Contains(m.PlayerID) {
			return true, fmt.Errorf("%w: %d", ErrUnknownPlayer, m.PlayerID)
		}
		if m.IsAdmin {
			slots.AddAdmin(m.PlayerID)
		} else {
			slots.RemoveAdmin(m.PlayerID)
		}
	}
	return true, nil
}
