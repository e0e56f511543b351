package registry

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrison/counter-deck/internal/ipc"
)

type recordingWindow struct {
	id      int
	events  []ipc.Event
	sendErr error
}

func (w *recordingWindow) ID() int { return w.id }

func (w *recordingWindow) Send(ev ipc.Event) error {
	w.events = append(w.events, ev)
	return w.sendErr
}

func (w *recordingWindow) idUpdates() [][]int {
	var out [][]int
	for _, ev := range w.events {
		if u, ok := ev.(ipc.UpdateWindowIDs); ok {
			out = append(out, u.IDs)
		}
	}
	return out
}

func TestRegistry_CreateCreateClose(t *testing.T) {
	r := New(zerolog.Nop())
	a := &recordingWindow{id: 1}
	b := &recordingWindow{id: 2}

	r.Insert(a)
	assert.Equal(t, []int{1}, r.IDs())
	assert.Equal(t, [][]int{{1}}, a.idUpdates())

	r.Insert(b)
	assert.Equal(t, []int{1, 2}, r.IDs())
	assert.Equal(t, [][]int{{1}, {1, 2}}, a.idUpdates())
	assert.Equal(t, [][]int{{1, 2}}, b.idUpdates())

	require.True(t, r.OnWindowClosed(1))
	assert.Equal(t, []int{2}, r.IDs())
	assert.Equal(t, [][]int{{1, 2}, {2}}, b.idUpdates())
	// A is gone and must not hear about its own closure.
	assert.Len(t, a.idUpdates(), 2)
}

func TestRegistry_CloseUnknownIsNoop(t *testing.T) {
	r := New(zerolog.Nop())
	a := &recordingWindow{id: 4}
	r.Insert(a)

	assert.False(t, r.OnWindowClosed(9))
	assert.Len(t, a.idUpdates(), 1)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_BroadcastExcludes(t *testing.T) {
	r := New(zerolog.Nop())
	a := &recordingWindow{id: 1}
	b := &recordingWindow{id: 2}
	r.Insert(a)
	r.Insert(b)
	a.events, b.events = nil, nil

	sent := r.BroadcastIdentifiers(2)
	assert.Equal(t, 1, sent)
	assert.Equal(t, [][]int{{1, 2}}, a.idUpdates())
	assert.Empty(t, b.idUpdates())

	sent = r.BroadcastIdentifiers(NoExclude)
	assert.Equal(t, 2, sent)
}

func TestRegistry_SendFailureDoesNotStopFanOut(t *testing.T) {
	r := New(zerolog.Nop())
	broken := &recordingWindow{id: 1, sendErr: errors.New("pipe closed")}
	ok := &recordingWindow{id: 2}
	r.Insert(broken)
	r.Insert(ok)

	assert.Equal(t, [][]int{{1, 2}}, ok.idUpdates())
}

func TestRegistry_OneMessagePerLiveWindow(t *testing.T) {
	r := New(zerolog.Nop())
	windows := make([]*recordingWindow, 5)
	for i := range windows {
		windows[i] = &recordingWindow{id: i + 1}
		r.Insert(windows[i])
	}
	for _, w := range windows {
		w.events = nil
	}

	r.OnWindowClosed(3)
	for _, w := range windows {
		if w.id == 3 {
			assert.Empty(t, w.events)
			continue
		}
		assert.Len(t, w.events, 1, "window %d", w.id)
	}
}

// Any sequence of creates and closes leaves exactly created minus closed.
func TestRegistry_SetMatchesCreatedMinusClosed(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	r := New(zerolog.Nop())
	want := map[int]bool{}
	nextID := 1

	for step := 0; step < 500; step++ {
		if len(want) == 0 || rng.Intn(3) > 0 {
			r.Insert(&recordingWindow{id: nextID})
			want[nextID] = true
			nextID++
			continue
		}
		victim := rng.Intn(nextID) + 1
		closed := r.OnWindowClosed(victim)
		assert.Equal(t, want[victim], closed)
		delete(want, victim)
	}

	got := map[int]bool{}
	for _, id := range r.IDs() {
		got[id] = true
	}
	assert.Equal(t, want, got)
}
