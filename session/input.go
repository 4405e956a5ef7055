package session

import "sync"

// GameAction is one of the actions a player can hold down
type GameAction uint8

const (
	MoveUp GameAction = iota
	MoveDown
	MoveLeft
	MoveRight
	Kick
	CurveLeft
	CurveRight
	StopInteract
	Sprint
	Slide
)

// InputSource exposes a player's actions to the simulation, whatever device or connection they come from.
// JustPressed and JustReleased compare against the state captured by the last Update.
type InputSource interface {
	IsPressed(action GameAction) bool
	JustPressed(action GameAction) bool
	JustReleased(action GameAction) bool
	// Update ends the frame, the current state becomes the previous one
	Update()
}

type actionSet uint16

func (set actionSet) has(action GameAction) bool {
	return set&(1<<action) != 0
}

func (set *actionSet) set(action GameAction, pressed bool) {
	if pressed {
		*set |= 1 << action
	} else {
		*set &^= 1 << action
	}
}

func actionsFromState(state InputState) actionSet {
	var set actionSet
	set.set(MoveUp, state.MoveUp)
	set.set(MoveDown, state.MoveDown)
	set.set(MoveLeft, state.MoveLeft)
	set.set(MoveRight, state.MoveRight)
	set.set(Kick, state.Kick)
	set.set(CurveLeft, state.CurveLeft)
	set.set(CurveRight, state.CurveRight)
	set.set(StopInteract, state.StopInteract)
	set.set(Sprint, state.Sprint)
	set.set(Slide, state.Slide)
	return set
}

func (set actionSet) state() InputState {
	return InputState{
		MoveUp:       set.has(MoveUp),
		MoveDown:     set.has(MoveDown),
		MoveLeft:     set.has(MoveLeft),
		MoveRight:    set.has(MoveRight),
		Kick:         set.has(Kick),
		CurveLeft:    set.has(CurveLeft),
		CurveRight:   set.has(CurveRight),
		StopInteract: set.has(StopInteract),
		Sprint:       set.has(Sprint),
		Slide:        set.has(Slide),
	}
}

// frameInput holds the current and previous frame's actions
type frameInput struct {
	current  actionSet
	previous actionSet
}

func (input *frameInput) IsPressed(action GameAction) bool {
	return input.current.has(action)
}

func (input *frameInput) JustPressed(action GameAction) bool {
	return input.current.has(action) && !input.previous.has(action)
}

func (input *frameInput) JustReleased(action GameAction) bool {
	return !input.current.has(action) && input.previous.has(action)
}

func (input *frameInput) Update() {
	input.previous = input.current
}

// NetworkInputSource is fed by Input messages from a remote player
type NetworkInputSource struct {
	frameInput
}

func NewNetworkInputSource() *NetworkInputSource {
	return &NetworkInputSource{}
}

// SetInput replaces the current state with the latest one received
func (input *NetworkInputSource) SetInput(state InputState) {
	input.current = actionsFromState(state)
}

// LocalInputSource is fed by the local device layer. Press and Release may be called from another goroutine
// than the one reading the source.
type LocalInputSource struct {
	mutex sync.Mutex
	frameInput
	pending actionSet
}

func NewLocalInputSource() *LocalInputSource {
	return &LocalInputSource{}
}

func (input *LocalInputSource) Press(action GameAction) {
	input.mutex.Lock()
	defer input.mutex.Unlock()
	input.pending.set(action, true)
}

func (input *LocalInputSource) Release(action GameAction) {
	input.mutex.Lock()
	defer input.mutex.Unlock()
	input.pending.set(action, false)
}

func (input *LocalInputSource) IsPressed(action GameAction) bool {
	input.mutex.Lock()
	defer input.mutex.Unlock()
	return input.frameInput.IsPressed(action)
}

func (input *LocalInputSource) JustPressed(action GameAction) bool {
	input.mutex.Lock()
	defer input.mutex.Unlock()
	return input.frameInput.JustPressed(action)
}

func (input *LocalInputSource) JustReleased(action GameAction) bool {
	input.mutex.Lock()
	defer input.mutex.Unlock()
	return input.frameInput.JustReleased(action)
}

// Update ends the frame and takes in everything pressed or released since the last one
func (input *LocalInputSource) Update() {
	input.mutex.Lock()
	defer input.mutex.Unlock()
	input.previous = input.current
	input.current = input.pending
}

// State returns the current frame's actions, ready to be sent as an Input message
func (input *LocalInputSource) State() InputState {
	input.mutex.Lock()
	defer input.mutex.Unlock()
	return input.current.state()
}
