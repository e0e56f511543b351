package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownChannel is returned for envelopes naming a channel outside the
	// closed command or event set.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrBadPayload is returned when the arguments do not match the channel.
	ErrBadPayload = errors.New("bad payload")
)

// Envelope is the JSON frame carried over the window connection.
//
// Commands and events use Channel and Args. A request sets ID and the answer
// comes back as an envelope with ReplyTo set to that ID and either Result or
// Error filled in.
type Envelope struct {
	Channel string            `json:"channel,omitempty"`
	Args    []json.RawMessage `json:"args,omitempty"`
	ID      string            `json:"id,omitempty"`
	ReplyTo string            `json:"replyTo,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// IsReply reports whether the envelope answers an earlier request.
func (e Envelope) IsReply() bool {
	return e.ReplyTo != ""
}

// EncodeCommand turns a command into its wire form.
func EncodeCommand(cmd Command) (Envelope, error) {
	var args []any
	switch c := cmd.(type) {
	case Notify, CreateNewWindow:
	case WriteToFile:
		args = []any{c.FileName, c.Message}
	case GetCounter:
		args = []any{c.Key}
	case ChangeStore:
		args = []any{c.Key, c.Value}
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownChannel, cmd)
	}
	raw, err := marshalArgs(args)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Channel: cmd.Channel(), Args: raw}, nil
}

// DecodeCommand validates an inbound envelope and returns the command it
// carries. Argument count and types must match the channel exactly.
func DecodeCommand(env Envelope) (Command, error) {
	switch env.Channel {
	case ChannelNotify:
		if err := wantArgs(env, 0); err != nil {
			return nil, err
		}
		return Notify{}, nil

	case ChannelCreateNewWindow:
		if err := wantArgs(env, 0); err != nil {
			return nil, err
		}
		return CreateNewWindow{}, nil

	case ChannelWriteToFile:
		if err := wantArgs(env, 2); err != nil {
			return nil, err
		}
		var cmd WriteToFile
		if err := decodeArg(env, 0, &cmd.FileName); err != nil {
			return nil, err
		}
		if err := decodeArg(env, 1, &cmd.Message); err != nil {
			return nil, err
		}
		if cmd.FileName == "" {
			return nil, fmt.Errorf("%w: %s: empty file name", ErrBadPayload, env.Channel)
		}
		return cmd, nil

	case ChannelGetCounter:
		if err := wantArgs(env, 1); err != nil {
			return nil, err
		}
		var cmd GetCounter
		if err := decodeArg(env, 0, &cmd.Key); err != nil {
			return nil, err
		}
		return cmd, nil

	case ChannelChangeStore:
		if err := wantArgs(env, 2); err != nil {
			return nil, err
		}
		var cmd ChangeStore
		if err := decodeArg(env, 0, &cmd.Key); err != nil {
			return nil, err
		}
		if err := decodeArg(env, 1, &cmd.Value); err != nil {
			return nil, err
		}
		return cmd, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, env.Channel)
}

// EncodeEvent turns an event into its wire form with a single argument.
func EncodeEvent(ev Event) (Envelope, error) {
	raw, err := marshalArgs([]any{ev.Payload()})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Channel: ev.Channel(), Args: raw}, nil
}

// DecodeEvent validates an outbound envelope received by a window.
func DecodeEvent(env Envelope) (Event, error) {
	if err := wantArgs(env, 1); err != nil {
		return nil, err
	}
	switch env.Channel {
	case ChannelGetMessage:
		var ev GetMessage
		if err := decodeArg(env, 0, &ev.Contents); err != nil {
			return nil, err
		}
		return ev, nil
	case ChannelGetNewCounter:
		var ev NewCounter
		if err := decodeArg(env, 0, &ev.Value); err != nil {
			return nil, err
		}
		return ev, nil
	case ChannelUpdateWindowIDs:
		var ev UpdateWindowIDs
		if err := decodeArg(env, 0, &ev.IDs); err != nil {
			return nil, err
		}
		return ev, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, env.Channel)
}

// Hello builds the handshake envelope a window sends after connecting.
func Hello(windowID int) Envelope {
	raw, _ := json.Marshal(windowID)
	return Envelope{Channel: ChannelHello, Args: []json.RawMessage{raw}}
}

// DecodeHello extracts the window id from a handshake envelope.
func DecodeHello(env Envelope) (int, error) {
	if env.Channel != ChannelHello {
		return 0, fmt.Errorf("%w: expected %q, got %q", ErrBadPayload, ChannelHello, env.Channel)
	}
	if err := wantArgs(env, 1); err != nil {
		return 0, err
	}
	var id int
	if err := decodeArg(env, 0, &id); err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: window id %d", ErrBadPayload, id)
	}
	return id, nil
}

// Reply builds the answer to a request envelope.
func Reply(requestID string, result any, err error) Envelope {
	env := Envelope{ReplyTo: requestID}
	if err != nil {
		env.Error = err.Error()
		return env
	}
	raw, mErr := json.Marshal(result)
	if mErr != nil {
		env.Error = mErr.Error()
		return env
	}
	env.Result = raw
	return env
}

func marshalArgs(args []any) ([]json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal arg %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

func wantArgs(env Envelope, n int) error {
	if len(env.Args) != n {
		return fmt.Errorf("%w: %s takes %d args, got %d", ErrBadPayload, env.Channel, n, len(env.Args))
	}
	return nil
}

var jsonNull = []byte("null")

// decodeArg unmarshals argument i into v. A null argument is rejected, since
// it would otherwise leave v at its zero value.
func decodeArg(env Envelope, i int, v any) error {
	if bytes.Equal(bytes.TrimSpace(env.Args[i]), jsonNull) {
		return fmt.Errorf("%w: %s arg %d is null", ErrBadPayload, env.Channel, i)
	}
	if err := json.Unmarshal(env.Args[i], v); err != nil {
		return fmt.Errorf("%w: %s arg %d: %v", ErrBadPayload, env.Channel, i, err)
	}
	return nil
}
