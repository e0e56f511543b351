// Package registry tracks the live secondary windows of the host process and
// keeps them informed of each other's identifiers.
package registry

import (
	"slices"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/myrison/counter-deck/internal/ipc"
)

// NoExclude can be passed to BroadcastIdentifiers to reach every window.
// Window ids are always positive.
const NoExclude = 0

// Window is a non-owning handle to a UI window.
type Window interface {
	ID() int
	Send(ev ipc.Event) error
}

// Registry maps window ids to handles. It is not safe for concurrent use;
// the coordinator loop is its only caller.
type Registry struct {
	windows map[int]Window
	logger  zerolog.Logger
}

// New returns an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		windows: make(map[int]Window),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// Insert records a newly created window and sends the updated id list to
// every open window, the new one included.
func (r *Registry) Insert(w Window) {
	r.windows[w.ID()] = w
	r.logger.Debug().Int("window", w.ID()).Int("open", len(r.windows)).Msg("window added")
	r.BroadcastIdentifiers(NoExclude)
}

// OnWindowClosed drops id and tells the remaining windows. It reports whether
// the id was present; unknown ids cause no broadcast.
func (r *Registry) OnWindowClosed(id int) bool {
	if _, ok := r.windows[id]; !ok {
		return false
	}
	delete(r.windows, id)
	r.logger.Debug().Int("window", id).Int("open", len(r.windows)).Msg("window closed")
	r.BroadcastIdentifiers(id)
	return true
}

// BroadcastIdentifiers sends the ordered id list to every window except
// excludeID and returns how many windows it was sent to. Send failures are
// logged and do not stop the fan-out.
func (r *Registry) BroadcastIdentifiers(excludeID int) int {
	ev := ipc.UpdateWindowIDs{IDs: r.IDs()}
	sent := 0
	r.Each(func(w Window) {
		if w.ID() == excludeID {
			return
		}
		sent++
		if err := w.Send(ev); err != nil {
			r.logger.Warn().Err(err).Int("window", w.ID()).Msg("failed to send window ids")
		}
	})
	return sent
}

// IDs returns the live window ids in ascending order.
func (r *Registry) IDs() []int {
	ids := lo.Keys(r.windows)
	slices.Sort(ids)
	return ids
}

// Get returns the handle for id.
func (r *Registry) Get(id int) (Window, bool) {
	w, ok := r.windows[id]
	return w, ok
}

// Len returns the number of open windows.
func (r *Registry) Len() int {
	return len(r.windows)
}

// Each calls fn for every window in ascending id order.
func (r *Registry) Each(fn func(Window)) {
	for _, id := range r.IDs() {
		fn(r.windows[id])
	}
}
