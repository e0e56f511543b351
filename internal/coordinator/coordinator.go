// Package coordinator is the privileged side of the window channel. A single
// loop owns the window registry and the counter store and executes every
// inbound command to completion before taking the next one.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/myrison/counter-deck/internal/ipc"
	"github.com/myrison/counter-deck/internal/registry"
	"github.com/myrison/counter-deck/internal/store"
)

var (
	// ErrStopped is returned once the loop has exited.
	ErrStopped = errors.New("coordinator stopped")
	// ErrPrimaryWindowGone is returned when the primary window is used after
	// it was closed.
	ErrPrimaryWindowGone = errors.New(`primary window is not defined`)
)

// Spawner is the windowing subsystem: it opens a window and reports the id
// it assigned through the returned handle.
type Spawner interface {
	Spawn(ctx context.Context) (registry.Window, error)
}

// Dialog shows host-level dialogs.
type Dialog interface {
	ShowError(title, message string) error
}

// Options configures a Coordinator.
type Options struct {
	Store   *store.Store
	Spawner Spawner
	Dialog  Dialog
	// RelayDir is the base for relative write-to-file names.
	RelayDir string
	// OnAllClosed runs on the loop when the last secondary window closes
	// after the primary window is gone.
	OnAllClosed func()
	Logger      zerolog.Logger
	// QueueSize bounds pending commands. Default 64.
	QueueSize int
}

// Coordinator serialises all registry and store mutation.
type Coordinator struct {
	registry    *registry.Registry
	store       *store.Store
	spawner     Spawner
	dialog      Dialog
	relayDir    string
	onAllClosed func()
	logger      zerolog.Logger

	primary     registry.Window
	primarySeen bool

	tasks    chan func(context.Context)
	stopped  chan struct{}
	stopOnce sync.Once
	// relays tracks file writes running off the loop.
	relays sync.WaitGroup
}

// New builds a coordinator and subscribes it to counter changes.
func New(opts Options) *Coordinator {
	size := opts.QueueSize
	if size <= 0 {
		size = 64
	}
	logger := opts.Logger.With().Str("component", "coordinator").Logger()
	c := &Coordinator{
		registry:    registry.New(opts.Logger),
		store:       opts.Store,
		spawner:     opts.Spawner,
		dialog:      opts.Dialog,
		relayDir:    opts.RelayDir,
		onAllClosed: opts.OnAllClosed,
		logger:      logger,
		tasks:       make(chan func(context.Context), size),
		stopped:     make(chan struct{}),
	}
	c.store.OnChange(store.CounterKey, c.broadcastCounter)
	return c
}

// Run executes queued tasks until ctx is done. It waits for in-flight file
// relays to finish before returning.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Debug().Msg("loop started")
	defer func() {
		c.stopOnce.Do(func() { close(c.stopped) })
		c.relays.Wait()
		c.logger.Debug().Msg("loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-c.tasks:
			c.runTask(ctx, task)
		}
	}
}

func (c *Coordinator) runTask(ctx context.Context, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("command handler panicked")
		}
	}()
	task(ctx)
}

// post queues fn without waiting for it to run.
func (c *Coordinator) post(ctx context.Context, fn func(context.Context)) error {
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	select {
	case c.tasks <- fn:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do queues fn and waits until the loop has run it.
func (c *Coordinator) do(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	err := c.post(ctx, func(loopCtx context.Context) {
		defer close(done)
		fn(loopCtx)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch queues a one-way command from sender. sender may be nil for
// commands that do not originate in a window.
func (c *Coordinator) Dispatch(ctx context.Context, sender registry.Window, cmd ipc.Command) error {
	if _, ok := cmd.(ipc.GetCounter); ok {
		return fmt.Errorf("%w: %s is a request, use Invoke", ipc.ErrBadPayload, cmd.Channel())
	}
	return c.post(ctx, func(loopCtx context.Context) {
		c.handle(loopCtx, sender, cmd)
	})
}

// Invoke answers a get-counter request.
func (c *Coordinator) Invoke(ctx context.Context, sender registry.Window, req ipc.GetCounter) (int, error) {
	var (
		value  int
		getErr error
	)
	err := c.do(ctx, func(context.Context) {
		value, getErr = c.store.Get(req.Key)
	})
	if err != nil {
		return 0, err
	}
	if getErr != nil {
		c.logger.Warn().Err(getErr).Str("key", req.Key).Int("window", windowID(sender)).Msg("get-counter failed")
	}
	return value, getErr
}

// WindowClosed reports that the window with id has gone away.
func (c *Coordinator) WindowClosed(id int) {
	err := c.post(context.Background(), func(context.Context) {
		c.onWindowClosed(id)
	})
	if err != nil {
		c.logger.Debug().Err(err).Int("window", id).Msg("window closed after shutdown")
	}
}

// SetPrimary installs the host's own window. It receives counter broadcasts
// and replies addressed to it but is not part of the registry.
func (c *Coordinator) SetPrimary(ctx context.Context, w registry.Window) error {
	return c.do(ctx, func(context.Context) {
		c.primary = w
		c.primarySeen = true
	})
}

// Primary returns the primary window, or ErrPrimaryWindowGone after it was
// closed.
func (c *Coordinator) Primary(ctx context.Context) (registry.Window, error) {
	var w registry.Window
	if err := c.do(ctx, func(context.Context) { w = c.primary }); err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrPrimaryWindowGone
	}
	return w, nil
}

// PrimaryClosed drops the primary window and returns how many secondary
// windows remain. The caller decides whether to quit when none remain;
// OnAllClosed only fires later, when the last secondary window closes.
func (c *Coordinator) PrimaryClosed(ctx context.Context) (int, error) {
	remaining := 0
	err := c.do(ctx, func(context.Context) {
		c.primary = nil
		remaining = c.registry.Len()
		c.logger.Info().Int("remaining", remaining).Msg("primary window closed")
	})
	return remaining, err
}

// WindowIDs returns the ids currently in the registry.
func (c *Coordinator) WindowIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := c.do(ctx, func(context.Context) { ids = c.registry.IDs() })
	return ids, err
}

// ReloadStore re-reads the store on the loop, broadcasting any external
// change through the usual counter observer.
func (c *Coordinator) ReloadStore() {
	err := c.post(context.Background(), func(context.Context) {
		if err := c.store.Reload(); err != nil {
			c.logger.Warn().Err(err).Msg("store reload failed")
		}
	})
	if err != nil {
		c.logger.Debug().Err(err).Msg("store reload after shutdown")
	}
}

func (c *Coordinator) handle(ctx context.Context, sender registry.Window, cmd ipc.Command) {
	log := c.logger.With().Str("channel", cmd.Channel()).Int("window", windowID(sender)).Logger()
	log.Debug().Msg("command")

	switch cmd := cmd.(type) {
	case ipc.Notify:
		c.notify()
	case ipc.WriteToFile:
		c.writeToFile(sender, cmd)
	case ipc.CreateNewWindow:
		c.createWindow(ctx)
	case ipc.ChangeStore:
		if err := c.store.Set(cmd.Key, cmd.Value); err != nil {
			log.Error().Err(err).Str("key", cmd.Key).Int("value", cmd.Value).Msg("change-store rejected")
		}
	default:
		log.Error().Msgf("unhandled command %T", cmd)
	}
}

// createWindow asks the windowing subsystem for a window and registers it.
// Failures are logged; the requesting window is not told.
func (c *Coordinator) createWindow(ctx context.Context) {
	w, err := c.spawner.Spawn(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to create window")
		return
	}
	c.logger.Info().Int("window", w.ID()).Msg("window created")
	c.registry.Insert(w)
}

func (c *Coordinator) onWindowClosed(id int) {
	if !c.registry.OnWindowClosed(id) {
		return
	}
	c.logger.Info().Int("window", id).Msg("window closed")
	if c.registry.Len() == 0 && c.primarySeen && c.primary == nil {
		c.allClosed()
	}
}

func (c *Coordinator) allClosed() {
	c.logger.Info().Msg("all windows closed")
	if c.onAllClosed != nil {
		c.onAllClosed()
	}
}

// broadcastCounter is the store observer. It runs on the loop because every
// Set and Reload happens there.
func (c *Coordinator) broadcastCounter(oldValue, newValue int) {
	c.logger.Info().Int("old", oldValue).Int("new", newValue).Msg("counter changed")
	ev := ipc.NewCounter{Value: newValue}
	if c.primary != nil {
		if err := c.primary.Send(ev); err != nil {
			c.logger.Warn().Err(err).Int("window", c.primary.ID()).Msg("failed to send counter")
		}
	}
	c.registry.Each(func(w registry.Window) {
		if err := w.Send(ev); err != nil {
			c.logger.Warn().Err(err).Int("window", w.ID()).Msg("failed to send counter")
		}
	})
}

func windowID(w registry.Window) int {
	if w == nil {
		return 0
	}
	return w.ID()
}
