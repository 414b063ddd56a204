package callflow

// State is the position of a live call within its flow. A session always
// starts in StateInitializing and can only move along the edges listed in
// the transitions table below.
type State string

const (
	StateInitializing         State = "INITIALIZING"
	StatePermissionRequesting State = "PERMISSION_REQUESTING"
	StateWaiting              State = "WAITING"
	StateRecording            State = "RECORDING"
	StateProcessing           State = "PROCESSING"
	StateResponsePlaying      State = "RESPONSE_PLAYING"
	StateCallEnding           State = "CALL_ENDING"
	StateCallCompleted        State = "CALL_COMPLETED"
	StateError                State = "ERROR"
)

// transitions holds the closed set of legal successors per state.
// StateCallCompleted is terminal and has no entry on purpose.
var transitions = map[State][]State{
	StateInitializing:         {StatePermissionRequesting, StateWaiting, StateError},
	StatePermissionRequesting: {StateWaiting, StateError},
	StateWaiting:              {StateRecording, StateCallEnding, StateError},
	StateRecording:            {StateProcessing, StateWaiting, StateError},
	StateProcessing:           {StateResponsePlaying, StateWaiting, StateError},
	StateResponsePlaying:      {StateWaiting, StateError},
	StateCallEnding:           {StateCallCompleted},
	StateError:                {StateWaiting, StateCallEnding, StateInitializing},
	StateCallCompleted:        {},
}

// Valid reports whether s is one of the defined call states.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s State) String() string {
	return string(s)
}

// CanTransition reports whether the edge from -> to is present in the
// transition table.
func CanTransition(from, to State) bool {
	successors, ok := transitions[from]
	if !ok {
		return false
	}
	for _, next := range successors {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns to if the edge from -> to is legal. On an illegal edge
// the returned error is a *TransitionError and the caller must keep its
// current state untouched.
func Transition(from, to State) (State, error) {
	if !CanTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}

// ParseState converts a wire value into a State.
func ParseState(s string) (State, error) {
	state := State(s)
	if !state.Valid() {
		return StateError, &UnknownStateError{Value: s}
	}
	return state, nil
}
