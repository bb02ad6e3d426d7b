package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestEmitReachesWorkspaceSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("ws1")
	bus.Emit("ws1", CycleStarted, map[string]any{"cycle_id": 1})

	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, CycleStarted, got[0].Type)
	assert.Equal(t, "ws1", got[0].WorkspaceID)
	assert.Equal(t, 1, got[0].Data["cycle_id"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestEmitIsolatedByWorkspace(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	other := bus.Subscribe("ws2")
	bus.Emit("ws1", NodeCreated, nil)
	assert.Empty(t, drain(other))
}

func TestGlobalSubscriberSeesAllWorkspaces(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	global := bus.Subscribe("")
	bus.Emit("ws1", CycleStep, nil)
	bus.Emit("ws2", CycleStep, nil)

	got := drain(global)
	require.Len(t, got, 2)
	assert.Equal(t, "ws1", got[0].WorkspaceID)
	assert.Equal(t, "ws2", got[1].WorkspaceID)
}

func TestSequenceNumbersIncrease(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("ws1")
	for i := 0; i < 5; i++ {
		bus.Emit("ws1", CycleStep, nil)
	}
	got := drain(sub)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("ws1")
	bus.Unsubscribe(sub)

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, bus.SubscriberCount())

	// Double unsubscribe is a no-op.
	bus.Unsubscribe(sub)

	// Emitting after unsubscribe must not panic.
	bus.Emit("ws1", CycleCompleted, nil)
}

func TestSlowSubscriberDoesNotBlockEmitter(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("ws1")
	for i := 0; i < 200; i++ {
		bus.Emit("ws1", AgentSearch, nil)
	}
	// Channel capacity is 64; the rest are dropped, not blocked on.
	got := drain(sub)
	assert.Len(t, got, 64)
}
