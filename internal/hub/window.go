package hub

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/myrison/counter-deck/internal/ipc"
)

// ErrWindowClosed is returned when sending to a window that has gone away.
var ErrWindowClosed = errors.New("window closed")

const writeWait = 5 * time.Second

// RemoteWindow is the host's handle to a window running in another process.
// Messages sent before the process connects are queued and flushed on
// connect, in order.
type RemoteWindow struct {
	id int

	mu      sync.Mutex
	conn    *websocket.Conn
	pending []ipc.Envelope
	closed  bool
	process *os.Process

	closeOnce sync.Once
	onClose   func(id int)
}

func newRemoteWindow(id int, onClose func(id int)) *RemoteWindow {
	return &RemoteWindow{id: id, onClose: onClose}
}

// ID returns the window id assigned at spawn.
func (w *RemoteWindow) ID() int {
	return w.id
}

// Send delivers ev to the window, or queues it until the window connects.
func (w *RemoteWindow) Send(ev ipc.Event) error {
	env, err := ipc.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return w.write(env)
}

// Connected reports whether the window process has attached.
func (w *RemoteWindow) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

func (w *RemoteWindow) write(env ipc.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("window %d: %w", w.id, ErrWindowClosed)
	}
	if w.conn == nil {
		w.pending = append(w.pending, env)
		return nil
	}
	return w.writeLocked(env)
}

func (w *RemoteWindow) writeLocked(env ipc.Envelope) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("window %d: %w", w.id, err)
	}
	return nil
}

// attach binds the connection and flushes anything queued.
func (w *RemoteWindow) attach(conn *websocket.Conn) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("window %d: %w", w.id, ErrWindowClosed)
	}
	if w.conn != nil {
		return fmt.Errorf("window %d already connected", w.id)
	}
	w.conn = conn
	pending := w.pending
	w.pending = nil
	for _, env := range pending {
		if err := w.writeLocked(env); err != nil {
			return err
		}
	}
	return nil
}

func (w *RemoteWindow) setProcess(p *os.Process) {
	w.mu.Lock()
	w.process = p
	w.mu.Unlock()
}

// markClosed reports the window closed exactly once, whether the trigger was
// a dropped connection, process exit or an explicit Close.
func (w *RemoteWindow) markClosed() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.pending = nil
		conn := w.conn
		w.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		if w.onClose != nil {
			w.onClose(w.id)
		}
	})
}

// Close disconnects the window and terminates its process.
func (w *RemoteWindow) Close() {
	w.mu.Lock()
	conn := w.conn
	process := w.process
	w.mu.Unlock()

	if conn != nil {
		w.mu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "host shutting down"))
		w.mu.Unlock()
	}
	if process != nil {
		_ = process.Kill()
	}
	w.markClosed()
}
