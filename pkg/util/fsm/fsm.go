// Package fsm provides a small explicit state machine, using the same
// State/Event/Transition vocabulary as the teacher's pkg/util/fsm
// (match.go), but without that package's reflection-based wildcard
// pattern expansion: only match.go (the wildcard-matching helper) was
// available in the example pack, not the base Machine type that applies
// expanded patterns, and the session status table (spec §4.1) is small
// and fully enumerable, so a plain map-based machine is the grounded,
// right-sized adaptation.
package fsm

// State is a state of the machine (e.g. a Session status).
type State interface{}

// Event is a transition trigger (e.g. "statement starts").
type Event interface{}

// Transition is the destination reached by applying an Event to a State,
// plus an optional Action run during the transition.
type Transition struct {
	Next   State
	Action func()
}

// Pattern maps (State, Event) pairs to Transitions, mirroring the
// teacher's fsm.Pattern type.
type Pattern map[State]map[Event]Transition

// Machine applies events to a current state according to a Pattern.
type Machine struct {
	pattern Pattern
	state   State
}

// NewMachine builds a Machine starting in the given initial state.
func NewMachine(pattern Pattern, initial State) *Machine {
	return &Machine{pattern: pattern, state: initial}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Apply looks up the Transition for (current state, event). If found, it
// runs the transition's Action (if any) and moves the machine to Next,
// returning (Next, true). If no transition is defined, the machine does
// not move and Apply returns (current state, false).
func (m *Machine) Apply(event Event) (State, bool) {
	transitions, ok := m.pattern[m.state]
	if !ok {
		return m.state, false
	}
	t, ok := transitions[event]
	if !ok {
		return m.state, false
	}
	if t.Action != nil {
		t.Action()
	}
	m.state = t.Next
	return m.state, true
}

// ForceState sets the current state directly, bypassing the pattern.
// The session uses it to resynchronise the machine with a status that
// was assigned directly rather than through a named Event.
func (m *Machine) ForceState(s State) {
	m.state = s
}
