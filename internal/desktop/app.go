// Package desktop binds the Wails window of this process to the rest of
// Counter Deck. The host process owns the primary window and talks to the
// coordinator directly; spawned window processes go through the hub client.
package desktop

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/myrison/counter-deck/internal/coordinator"
	"github.com/myrison/counter-deck/internal/hub"
	"github.com/myrison/counter-deck/internal/ipc"
	"github.com/myrison/counter-deck/internal/registry"
)

// Version is set at build time via ldflags
var Version = "0.1.0-dev"

// Window geometry shared by every window.
const (
	WindowWidth  = 1024
	WindowHeight = 728
)

var errNoRuntime = errors.New("wails runtime not started")

// Host is the part of the coordinator the primary window uses.
type Host interface {
	Dispatch(ctx context.Context, sender registry.Window, cmd ipc.Command) error
	Invoke(ctx context.Context, sender registry.Window, req ipc.GetCounter) (int, error)
	SetPrimary(ctx context.Context, w registry.Window) error
	Primary(ctx context.Context) (registry.Window, error)
	PrimaryClosed(ctx context.Context) (int, error)
}

// Remote is the hub connection a spawned window uses.
type Remote interface {
	WindowID() int
	Send(ctx context.Context, cmd ipc.Command) error
	GetCounter(ctx context.Context, key string) (int, error)
	Listen(ctx context.Context, onEvent func(ipc.Event)) error
	Close() error
}

var _ Host = (*coordinator.Coordinator)(nil)
var _ Remote = (*hub.Client)(nil)

// App is bound to the frontend. Exactly one of host and remote is set.
type App struct {
	logger zerolog.Logger

	host           Host
	dialog         *WailsDialog
	startMinimized bool

	remote Remote

	mu       sync.Mutex
	ctx      context.Context
	self     *WailsWindow
	listen   chan struct{}
	shutdown bool
}

// NewHostApp returns the app for the primary window. dialog must be the one
// handed to the coordinator so it can be bound on startup.
func NewHostApp(host Host, dialog *WailsDialog, logger zerolog.Logger, startMinimized bool) *App {
	return &App{
		logger:         logger.With().Str("component", "desktop").Int("window", hub.PrimaryWindowID).Logger(),
		host:           host,
		dialog:         dialog,
		startMinimized: startMinimized,
	}
}

// NewWindowApp returns the app for a spawned window process.
func NewWindowApp(remote Remote, logger zerolog.Logger) *App {
	return &App{
		logger: logger.With().Str("component", "desktop").Int("window", remote.WindowID()).Logger(),
		remote: remote,
	}
}

// NewWailsDialog returns a dialog that works once a host app has started.
func NewWailsDialog() *WailsDialog {
	return &WailsDialog{}
}

// IsHost reports whether this app owns the primary window.
func (a *App) IsHost() bool {
	return a.host != nil
}

// Startup is called when the app starts. The context is saved
// so we can call the runtime methods
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	if a.IsHost() {
		a.startHost(ctx)
		return
	}
	a.startWindow(ctx)
}

func (a *App) startHost(ctx context.Context) {
	self := NewWailsWindow(ctx, hub.PrimaryWindowID)
	a.mu.Lock()
	a.self = self
	a.mu.Unlock()

	if a.dialog != nil {
		a.dialog.bind(ctx)
	}
	if err := a.host.SetPrimary(ctx, self); err != nil {
		a.logger.Error().Err(err).Msg("failed to register primary window")
	}
}

func (a *App) startWindow(ctx context.Context) {
	self := NewWailsWindow(ctx, a.remote.WindowID())
	done := make(chan struct{})
	a.mu.Lock()
	a.self = self
	a.listen = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		err := a.remote.Listen(ctx, func(ev ipc.Event) {
			if err := self.Send(ev); err != nil {
				a.logger.Warn().Err(err).Str("channel", ev.Channel()).Msg("failed to emit event")
			}
		})
		if a.shuttingDown() || ctx.Err() != nil {
			return
		}
		if err != nil {
			a.logger.Error().Err(err).Msg("lost connection to host")
		} else {
			a.logger.Info().Msg("host closed connection")
		}
		// Without the host this window has nothing to show.
		quit(ctx)
	}()
}

// DomReady shows the primary window once its page has loaded, minimised when
// START_MINIMIZED was set.
func (a *App) DomReady(ctx context.Context) {
	if !a.IsHost() {
		return
	}
	if _, err := a.host.Primary(ctx); err != nil {
		a.logger.Error().Err(err).Msg("primary window not ready")
		return
	}
	if a.startMinimized {
		windowMinimise(ctx)
		return
	}
	windowShow(ctx)
}

// BeforeClose keeps the host alive while secondary windows remain: the
// primary window is hidden instead of closed.
func (a *App) BeforeClose(ctx context.Context) (prevent bool) {
	if !a.IsHost() {
		return false
	}
	remaining, err := a.host.PrimaryClosed(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("coordinator unavailable on close")
		return false
	}
	if remaining > 0 {
		a.logger.Info().Int("remaining", remaining).Msg("hiding primary window")
		windowHide(ctx)
		return true
	}
	return false
}

// Shutdown is called when the app is shutting down
func (a *App) Shutdown(ctx context.Context) {
	if a.IsHost() {
		return
	}
	a.mu.Lock()
	a.shutdown = true
	a.mu.Unlock()
	if err := a.remote.Close(); err != nil {
		a.logger.Debug().Err(err).Msg("close host connection")
	}
	a.mu.Lock()
	done := a.listen
	a.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Quit ends the app. The coordinator calls it once every window is gone.
func (a *App) Quit() {
	ctx := a.runtimeContext()
	if ctx == nil {
		return
	}
	a.logger.Info().Msg("all windows closed, quitting")
	quit(ctx)
}

func (a *App) runtimeContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

func (a *App) shuttingDown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shutdown
}

func (a *App) sender() registry.Window {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.self
}

func (a *App) send(cmd ipc.Command) error {
	ctx := a.runtimeContext()
	if ctx == nil {
		return errNoRuntime
	}
	if a.IsHost() {
		return a.host.Dispatch(ctx, a.sender(), cmd)
	}
	return a.remote.Send(ctx, cmd)
}

// GetVersion returns the application version
func (a *App) GetVersion() string {
	return Version
}

// GetWindowID returns the id of this process's window.
func (a *App) GetWindowID() int {
	if a.IsHost() {
		return hub.PrimaryWindowID
	}
	return a.remote.WindowID()
}

// Notify shows the error dialog.
func (a *App) Notify() error {
	return a.send(ipc.Notify{})
}

// WriteToFile writes message to fileName; its contents are then relayed
// back to every window. message is a pointer so a null from the frontend is
// rejected rather than truncating the file.
func (a *App) WriteToFile(fileName string, message *string) error {
	if fileName == "" || message == nil {
		return ipc.ErrBadPayload
	}
	return a.send(ipc.WriteToFile{FileName: fileName, Message: *message})
}

// CreateNewWindow opens another window.
func (a *App) CreateNewWindow() error {
	return a.send(ipc.CreateNewWindow{})
}

// ChangeStore sets a stored value. Rejected values leave the store as it was.
// A null value from the frontend arrives as nil and is rejected.
func (a *App) ChangeStore(key string, value *int) error {
	if value == nil {
		return ipc.ErrBadPayload
	}
	return a.send(ipc.ChangeStore{Key: key, Value: *value})
}

// GetCounter returns the stored value under key.
func (a *App) GetCounter(key string) (int, error) {
	ctx := a.runtimeContext()
	if ctx == nil {
		return 0, errNoRuntime
	}
	if a.IsHost() {
		return a.host.Invoke(ctx, a.sender(), ipc.GetCounter{Key: key})
	}
	return a.remote.GetCounter(ctx, key)
}

// OpenExternal opens url in the user's browser instead of a new window.
func (a *App) OpenExternal(url string) error {
	ctx := a.runtimeContext()
	if ctx == nil {
		return errNoRuntime
	}
	browserOpenURL(ctx, url)
	return nil
}
