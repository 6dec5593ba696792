package resolver

import (
	"fmt"
	"sync"
)

// State is the lifecycle stage of the browser pool.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateReady
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var validTransitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateReady, StateStopped},
	StateReady:    {StateStopping},
	StateStopping: {StateStopped},
}

// TransitionError reports a transition requested from the wrong state.
type TransitionError struct {
	Current State
	From    State
	To      State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid pool transition %s -> %s (pool is %s)", e.From, e.To, e.Current)
}

// stateMachine serialises pool transitions. Every transition closes the
// current changed channel so waiters can re-check the state.
type stateMachine struct {
	mu      sync.Mutex
	state   State
	changed chan struct{}
	observe func(from, to State)
}

func newStateMachine(observe func(from, to State)) *stateMachine {
	return &stateMachine{
		state:   StateStopped,
		changed: make(chan struct{}),
		observe: observe,
	}
}

func (m *stateMachine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// watch returns the state together with a channel closed on the next transition.
func (m *stateMachine) watch() (State, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.changed
}

func (m *stateMachine) transition(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != from || !allowed(from, to) {
		return &TransitionError{Current: m.state, From: from, To: to}
	}
	m.state = to
	close(m.changed)
	m.changed = make(chan struct{})
	if m.observe != nil {
		m.observe(from, to)
	}
	return nil
}

func allowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
