// Package hub connects the host process to windows running in child
// processes. The host side listens on loopback and spawns windows; the window
// side dials back and relays commands and events.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/myrison/counter-deck/internal/ipc"
	"github.com/myrison/counter-deck/internal/registry"
)

// Environment passed to spawned window processes.
const (
	EnvHostURL  = "COUNTER_DECK_HOST_URL"
	EnvWindowID = "COUNTER_DECK_WINDOW_ID"
)

// PrimaryWindowID is the id of the host's own window. Spawned windows start
// after it.
const PrimaryWindowID = 1

const helloWait = 10 * time.Second

// Package-level hooks for testing.
var (
	startProcess   = func(cmd *exec.Cmd) error { return cmd.Start() }
	executablePath = os.Executable
)

// Handler receives what windows send. The coordinator implements it.
type Handler interface {
	Dispatch(ctx context.Context, sender registry.Window, cmd ipc.Command) error
	Invoke(ctx context.Context, sender registry.Window, req ipc.GetCounter) (int, error)
	WindowClosed(id int)
}

// Options configures a Server.
type Options struct {
	// ListenAddr defaults to 127.0.0.1:0.
	ListenAddr string
	// Args are passed to spawned window processes.
	Args   []string
	Logger zerolog.Logger
}

// Server accepts window connections and spawns window processes. It is the
// windowing subsystem for secondary windows: it assigns their ids.
type Server struct {
	listenAddr string
	args       []string
	logger     zerolog.Logger
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	handler  Handler
	ctx      context.Context
	listener net.Listener
	http     *http.Server
	windows  map[int]*RemoteWindow
	nextID   int
}

// NewServer returns a server that is not yet listening.
func NewServer(opts Options) *Server {
	addr := opts.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	return &Server{
		listenAddr: addr,
		args:       opts.Args,
		logger:     opts.Logger.With().Str("component", "hub").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Window processes are not browsers; they send no Origin.
			CheckOrigin: func(r *http.Request) bool { return r.Header.Get("Origin") == "" },
		},
		windows: make(map[int]*RemoteWindow),
		nextID:  PrimaryWindowID + 1,
	}
}

// Start listens and serves in the background until ctx is done or Close is
// called.
func (s *Server) Start(ctx context.Context, handler Handler) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listenAddr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.mu.Lock()
	s.handler = handler
	s.ctx = ctx
	s.listener = ln
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := s.http
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("serve failed")
		}
	}()
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.logger.Info().Str("url", s.URL()).Msg("listening for windows")
	return nil
}

// URL is the websocket address handed to window processes.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return "ws://" + s.listener.Addr().String() + "/ws"
}

// Spawn starts a new window process and returns its handle. The handle is
// usable immediately; messages queue until the process connects.
func (s *Server) Spawn(ctx context.Context) (registry.Window, error) {
	url := s.URL()
	if url == "" {
		return nil, errors.New("hub not started")
	}
	exe, err := executablePath()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	w := newRemoteWindow(id, s.windowGone)
	s.windows[id] = w
	s.mu.Unlock()

	cmd := exec.CommandContext(ctx, exe, s.args...)
	cmd.Env = append(os.Environ(),
		EnvHostURL+"="+url,
		EnvWindowID+"="+strconv.Itoa(id),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := startProcess(cmd); err != nil {
		s.mu.Lock()
		delete(s.windows, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("start window %d: %w", id, err)
	}

	log := s.logger.With().Int("window", id).Logger()
	if cmd.Process != nil {
		w.setProcess(cmd.Process)
		log.Debug().Int("pid", cmd.Process.Pid).Msg("window process started")
		go func() {
			err := cmd.Wait()
			log.Debug().Err(err).Msg("window process exited")
			w.markClosed()
		}()
	}
	return w, nil
}

// windowGone runs once per window when it closes for any reason.
func (s *Server) windowGone(id int) {
	s.mu.Lock()
	delete(s.windows, id)
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler.WindowClosed(id)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(helloWait))
	var hello ipc.Envelope
	if err := conn.ReadJSON(&hello); err != nil {
		s.logger.Warn().Err(err).Msg("no hello from window")
		conn.Close()
		return
	}
	id, err := ipc.DecodeHello(hello)
	if err != nil {
		s.logger.Warn().Err(err).Msg("bad hello from window")
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	rw := s.windows[id]
	handler := s.handler
	ctx := s.ctx
	s.mu.Unlock()

	if rw == nil {
		s.logger.Warn().Int("window", id).Msg("connection for unknown window")
		conn.Close()
		return
	}
	if err := rw.attach(conn); err != nil {
		s.logger.Warn().Err(err).Int("window", id).Msg("attach failed")
		conn.Close()
		return
	}
	s.logger.Info().Int("window", id).Msg("window connected")

	s.readLoop(ctx, handler, rw, conn)
	rw.markClosed()
}

func (s *Server) readLoop(ctx context.Context, handler Handler, rw *RemoteWindow, conn *websocket.Conn) {
	log := s.logger.With().Int("window", rw.ID()).Logger()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("window connection lost")
			}
			return
		}

		var env ipc.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("malformed frame")
			continue
		}

		cmd, err := ipc.DecodeCommand(env)
		if err != nil {
			log.Warn().Err(err).Str("channel", env.Channel).Msg("rejected command")
			if env.ID != "" {
				_ = rw.write(ipc.Reply(env.ID, nil, err))
			}
			continue
		}

		if req, ok := cmd.(ipc.GetCounter); ok {
			value, err := handler.Invoke(ctx, rw, req)
			if env.ID == "" {
				log.Warn().Msg("get-counter without request id")
				continue
			}
			if werr := rw.write(ipc.Reply(env.ID, value, err)); werr != nil {
				log.Warn().Err(werr).Msg("failed to reply")
			}
			continue
		}

		if err := handler.Dispatch(ctx, rw, cmd); err != nil {
			log.Warn().Err(err).Str("channel", cmd.Channel()).Msg("dispatch failed")
		}
	}
}

// Close stops listening and closes every window, terminating their
// processes.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	windows := make([]*RemoteWindow, 0, len(s.windows))
	for _, w := range s.windows {
		windows = append(windows, w)
	}
	s.mu.Unlock()

	for _, w := range windows {
		w.Close()
	}
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
