package realtime

import (
	"sync"

	"chat-sync/internal/observability"
)

// State is the realtime channel lifecycle state.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Degraded     State = "degraded"
)

// allowed transitions; teardown to Disconnected is legal from any state.
var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Degraded},
	Connected:    {Degraded},
	Degraded:     {Connecting},
}

func stateGauge(s State) int {
	switch s {
	case Connecting:
		return 1
	case Connected:
		return 2
	case Degraded:
		return 3
	default:
		return 0
	}
}

// StateMachine tracks the channel lifecycle and notifies observers on every
// transition. Illegal transitions are ignored rather than applied.
type StateMachine struct {
	mu           sync.Mutex
	state        State
	observers    map[int]func(State)
	nextObserver int
}

// NewStateMachine starts in Disconnected.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: Disconnected, observers: make(map[int]func(State))}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To attempts a transition and reports whether it was applied.
func (m *StateMachine) To(next State) bool {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return false
	}
	if next != Disconnected {
		legal := false
		for _, s := range transitions[m.state] {
			if s == next {
				legal = true
				break
			}
		}
		if !legal {
			m.mu.Unlock()
			return false
		}
	}
	m.state = next
	fns := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	observability.SetConnectionState(stateGauge(next))
	for _, fn := range fns {
		fn(next)
	}
	return true
}

// OnChange registers an observer; the returned function removes it.
func (m *StateMachine) OnChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}
