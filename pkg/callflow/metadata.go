package callflow

// Per-state metadata consumed by the protocol handler and any presentation
// layer. Kept apart from the transition table so display concerns never leak
// into legality checks.

var labels = map[State]string{
	StateInitializing:         "Initializing call",
	StatePermissionRequesting: "Requesting permissions",
	StateWaiting:              "Waiting",
	StateRecording:            "Recording",
	StateProcessing:           "Processing recording",
	StateResponsePlaying:      "Playing response",
	StateCallEnding:           "Ending call",
	StateCallCompleted:        "Call completed",
	StateError:                "Error",
}

// stable states are long-lived resting conditions; everything else is
// expected to resolve quickly.
var stable = map[State]bool{
	StateWaiting:         true,
	StateResponsePlaying: true,
	StateCallCompleted:   true,
}

// Label returns the human-readable name of the state.
func (s State) Label() string {
	return labels[s]
}

// Stable reports whether the state is a long-lived resting condition.
func (s State) Stable() bool {
	return stable[s]
}

// IsError reports whether the state represents an error condition.
func (s State) IsError() bool {
	return s == StateError
}

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}
