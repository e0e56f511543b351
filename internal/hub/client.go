package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/myrison/counter-deck/internal/ipc"
)

// ErrDisconnected is returned for requests pending when the host goes away.
var ErrDisconnected = errors.New("disconnected from host")

// DialAttempts and DialDelay bound how long a new window waits for the host.
var (
	DialAttempts uint = 10
	DialDelay         = 200 * time.Millisecond
)

// LaunchInfo is what a spawned window process learns from its environment.
type LaunchInfo struct {
	HostURL  string
	WindowID int
}

// LaunchInfoFromEnv returns the launch info if this process was spawned as
// a window. ok is false for a normal (host) launch.
func LaunchInfoFromEnv(getenv func(string) string) (info LaunchInfo, ok bool, err error) {
	url := getenv(EnvHostURL)
	if url == "" {
		return LaunchInfo{}, false, nil
	}
	id, err := strconv.Atoi(getenv(EnvWindowID))
	if err != nil || id <= PrimaryWindowID {
		return LaunchInfo{}, true, fmt.Errorf("invalid %s %q", EnvWindowID, getenv(EnvWindowID))
	}
	return LaunchInfo{HostURL: url, WindowID: id}, true, nil
}

// Client is the window-process end of the connection.
type Client struct {
	conn     *websocket.Conn
	windowID int
	logger   zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan ipc.Envelope
	done     chan struct{}
	doneOnce sync.Once
}

// Dial connects to the host, retrying while it comes up, and introduces the
// window.
func Dial(ctx context.Context, info LaunchInfo, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().Str("component", "hub-client").Int("window", info.WindowID).Logger()

	conn, err := retry.DoWithData(func() (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, info.HostURL, nil)
		return conn, err
	},
		retry.Attempts(DialAttempts),
		retry.Delay(DialDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().
				Err(err).
				Uint("retry_number", n).
				Msg("retrying host connection")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial host %s: %w", info.HostURL, err)
	}

	c := &Client{
		conn:     conn,
		windowID: info.WindowID,
		logger:   logger,
		pending:  make(map[string]chan ipc.Envelope),
		done:     make(chan struct{}),
	}
	if err := c.write(ipc.Hello(info.WindowID)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	logger.Info().Msg("connected to host")
	return c, nil
}

// WindowID returns the id this window was launched with.
func (c *Client) WindowID() int {
	return c.windowID
}

// Send sends a one-way command.
func (c *Client) Send(_ context.Context, cmd ipc.Command) error {
	env, err := ipc.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return c.write(env)
}

// GetCounter asks the host for the value under key and waits for the reply.
// Listen must be running.
func (c *Client) GetCounter(ctx context.Context, key string) (int, error) {
	env, err := ipc.EncodeCommand(ipc.GetCounter{Key: key})
	if err != nil {
		return 0, err
	}
	env.ID = uuid.New().String()

	reply := make(chan ipc.Envelope, 1)
	c.mu.Lock()
	c.pending[env.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
	}()

	if err := c.write(env); err != nil {
		return 0, err
	}

	select {
	case r := <-reply:
		if r.Error != "" {
			return 0, errors.New(r.Error)
		}
		var v int
		if err := json.Unmarshal(r.Result, &v); err != nil {
			return 0, fmt.Errorf("%w: get-counter result: %v", ipc.ErrBadPayload, err)
		}
		return v, nil
	case <-c.done:
		return 0, ErrDisconnected
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Listen reads from the host until the connection ends, passing events to
// onEvent and routing replies to waiting requests. It returns nil when the
// host closed the connection normally.
func (c *Client) Listen(ctx context.Context, onEvent func(ipc.Event)) error {
	defer c.doneOnce.Do(func() { close(c.done) })

	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-c.done:
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read from host: %w", err)
		}

		var env ipc.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn().Err(err).Msg("malformed frame from host")
			continue
		}

		if env.IsReply() {
			c.deliver(env)
			continue
		}

		ev, err := ipc.DecodeEvent(env)
		if err != nil {
			c.logger.Warn().Err(err).Str("channel", env.Channel).Msg("rejected event")
			continue
		}
		onEvent(ev)
	}
}

// deliver hands a reply to the request waiting on it. A duplicate or late
// reply is dropped so the read loop never blocks.
func (c *Client) deliver(env ipc.Envelope) {
	c.mu.Lock()
	reply, ok := c.pending[env.ReplyTo]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Str("reply_to", env.ReplyTo).Msg("reply for no pending request")
		return
	}
	select {
	case reply <- env:
	default:
		c.logger.Warn().Str("reply_to", env.ReplyTo).Msg("dropping duplicate reply")
	}
}

// Close tells the host this window is going away.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) write(env ipc.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write to host: %w", err)
	}
	return nil
}
