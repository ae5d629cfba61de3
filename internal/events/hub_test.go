package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spork/internal/spork"
)

func TestHubRingKeepsNewest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("tick", map[string]int{"n": i})
	}

	all := h.Since(0)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})
	assert.JSONEq(t, `{"n":4}`, string(all[2].Data))

	assert.Len(t, h.Since(4), 1)
	assert.Empty(t, h.Since(5))
}

func TestHubSubscribe(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()

	h.Publish("tick", nil)
	select {
	case ev := <-ch:
		assert.Equal(t, "tick", ev.Type)
		assert.JSONEq(t, `{}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic.
	h.Publish("tick", nil)
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(10)
	h.subBuffer = 1
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish("tick", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestDispatchObserver(t *testing.T) {
	h := NewHub(10)
	o := NewDispatchObserver(h)

	o.ObserveDispatch(spork.Event{ID: "a", Pattern: spork.ForkExec, Strategy: spork.DirectSpawn, PID: 42, Target: "/bin/echo"})
	o.ObserveDispatch(spork.Event{ID: "b", Strategy: spork.PrimedSpawn, PID: -1, Err: spork.Wrap(spork.KindTransportUnavailable, errors.New("disk full"))})
	o.PublishExit(42, 0)

	evs := h.Since(0)
	require.Len(t, evs, 3)
	assert.Equal(t, TypeDispatchCompleted, evs[0].Type)
	assert.Equal(t, TypeDispatchFailed, evs[1].Type)
	assert.Equal(t, TypeProcessExited, evs[2].Type)

	var p DispatchPayload
	require.NoError(t, json.Unmarshal(evs[0].Data, &p))
	assert.Equal(t, "fork-exec", p.Pattern)
	assert.Equal(t, "direct-spawn", p.Strategy)
	assert.Equal(t, 42, p.PID)

	require.NoError(t, json.Unmarshal(evs[1].Data, &p))
	assert.Equal(t, "transport_unavailable", p.ErrorKind)

	var x ExitPayload
	require.NoError(t, json.Unmarshal(evs[2].Data, &x))
	assert.Equal(t, ExitPayload{PID: 42}, x)
}
