package desktop

import (
	"context"
	"sync"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/myrison/counter-deck/internal/ipc"
)

// Package-level hooks over the Wails runtime. The runtime functions need a
// context created by wails.Run, so tests replace these.
var (
	eventsEmit     = wailsRuntime.EventsEmit
	messageDialog  = wailsRuntime.MessageDialog
	windowShow     = wailsRuntime.WindowShow
	windowHide     = wailsRuntime.WindowHide
	windowMinimise = wailsRuntime.WindowMinimise
	browserOpenURL = wailsRuntime.BrowserOpenURL
	quit           = wailsRuntime.Quit
)

// WailsWindow is a window living in this process, reached through Wails
// events.
type WailsWindow struct {
	ctx context.Context
	id  int
}

// NewWailsWindow wraps the Wails runtime context of this process's window.
func NewWailsWindow(ctx context.Context, id int) *WailsWindow {
	return &WailsWindow{ctx: ctx, id: id}
}

// ID returns the window id.
func (w *WailsWindow) ID() int {
	return w.id
}

// Send emits ev to the frontend on the event's channel.
func (w *WailsWindow) Send(ev ipc.Event) error {
	eventsEmit(w.ctx, ev.Channel(), ev.Payload())
	return nil
}

// WailsDialog shows native dialogs once the runtime context is known.
type WailsDialog struct {
	mu  sync.Mutex
	ctx context.Context
}

func (d *WailsDialog) bind(ctx context.Context) {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()
}

// ShowError shows a modal error box.
func (d *WailsDialog) ShowError(title, message string) error {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil {
		return errNoRuntime
	}
	_, err := messageDialog(ctx, wailsRuntime.MessageDialogOptions{
		Type:    wailsRuntime.ErrorDialog,
		Title:   title,
		Message: message,
	})
	return err
}
