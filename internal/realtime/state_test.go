package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineHappyPath(t *testing.T) {
	sm := NewStateMachine()
	require.Equal(t, Disconnected, sm.State())

	assert.True(t, sm.To(Connecting))
	assert.True(t, sm.To(Connected))
	assert.True(t, sm.To(Degraded))
	assert.True(t, sm.To(Connecting))
	assert.True(t, sm.To(Connected))
}

func TestStateMachineRejectsIllegalTransitions(t *testing.T) {
	sm := NewStateMachine()

	assert.False(t, sm.To(Connected), "disconnected cannot jump to connected")
	assert.Equal(t, Disconnected, sm.State())

	sm.To(Connecting)
	sm.To(Connected)
	assert.False(t, sm.To(Connecting), "connected cannot go back to connecting directly")
	assert.Equal(t, Connected, sm.State())
}

func TestStateMachineTeardownFromAnyState(t *testing.T) {
	for _, from := range []State{Connecting, Connected, Degraded} {
		sm := NewStateMachine()
		sm.To(Connecting)
		if from == Connected || from == Degraded {
			sm.To(Connected)
		}
		if from == Degraded {
			sm.To(Degraded)
		}
		require.Equal(t, from, sm.State())
		assert.True(t, sm.To(Disconnected))
	}
}

func TestStateMachineNotifiesObservers(t *testing.T) {
	sm := NewStateMachine()
	var seen []State
	unsubscribe := sm.OnChange(func(s State) { seen = append(seen, s) })

	sm.To(Connecting)
	sm.To(Connected)
	require.Equal(t, []State{Connecting, Connected}, seen)

	unsubscribe()
	sm.To(Degraded)
	assert.Len(t, seen, 2)
}

func TestStateMachineIgnoresSelfTransition(t *testing.T) {
	sm := NewStateMachine()
	sm.To(Connecting)
	calls := 0
	sm.OnChange(func(State) { calls++ })

	assert.False(t, sm.To(Connecting))
	assert.Equal(t, 0, calls)
}
