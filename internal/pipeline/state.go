package pipeline

import "fmt"

// State is the lifecycle position of a run.
type State int

const (
	Idle State = iota
	Loading
	Encoding
	Training
	Saving
	Documenting
	Complete
	Failed
)

var stateNames = [...]string{
	Idle:        "idle",
	Loading:     "loading",
	Encoding:    "encoding",
	Training:    "training",
	Saving:      "saving",
	Documenting: "documenting",
	Complete:    "complete",
	Failed:      "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == Complete || s == Failed
}

// next is the single forward successor of every non-terminal state.
var next = map[State]State{
	Idle:        Loading,
	Loading:     Encoding,
	Encoding:    Training,
	Training:    Saving,
	Saving:      Documenting,
	Documenting: Complete,
}

// allowed reports whether a run may move from one state to another: one
// step forward, or to Failed from any non-terminal state after Idle.
func allowed(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == Failed {
		return from != Idle
	}
	return next[from] == to
}
