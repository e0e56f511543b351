package ipc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawArgs(t *testing.T, args ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		raw, err := json.Marshal(a)
		require.NoError(t, err)
		out[i] = raw
	}
	return out
}

func TestDecodeCommand_AllChannels(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want Command
	}{
		{"notify", Envelope{Channel: ChannelNotify}, Notify{}},
		{"create window", Envelope{Channel: ChannelCreateNewWindow}, CreateNewWindow{}},
		{"write file", Envelope{Channel: ChannelWriteToFile, Args: rawArgs(t, "x.txt", "hello")}, WriteToFile{FileName: "x.txt", Message: "hello"}},
		{"get counter", Envelope{Channel: ChannelGetCounter, Args: rawArgs(t, "counter")}, GetCounter{Key: "counter"}},
		{"change store", Envelope{Channel: ChannelChangeStore, Args: rawArgs(t, "counter", 11)}, ChangeStore{Key: "counter", Value: 11}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCommand(tt.env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeCommand_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr error
	}{
		{"unknown channel", Envelope{Channel: "rm-rf"}, ErrUnknownChannel},
		{"outbound channel inbound", Envelope{Channel: ChannelGetMessage, Args: rawArgs(t, "x")}, ErrUnknownChannel},
		{"notify with args", Envelope{Channel: ChannelNotify, Args: rawArgs(t, 1)}, ErrBadPayload},
		{"write missing message", Envelope{Channel: ChannelWriteToFile, Args: rawArgs(t, "x.txt")}, ErrBadPayload},
		{"write empty name", Envelope{Channel: ChannelWriteToFile, Args: rawArgs(t, "", "hi")}, ErrBadPayload},
		{"write numeric name", Envelope{Channel: ChannelWriteToFile, Args: rawArgs(t, 3, "hi")}, ErrBadPayload},
		{"change store fractional", Envelope{Channel: ChannelChangeStore, Args: rawArgs(t, "counter", 42.5)}, ErrBadPayload},
		{"change store string value", Envelope{Channel: ChannelChangeStore, Args: rawArgs(t, "counter", "42")}, ErrBadPayload},
		{"get counter no key", Envelope{Channel: ChannelGetCounter}, ErrBadPayload},
		{"change store null value", Envelope{Channel: ChannelChangeStore, Args: rawArgs(t, "counter", nil)}, ErrBadPayload},
		{"change store null key", Envelope{Channel: ChannelChangeStore, Args: rawArgs(t, nil, 42)}, ErrBadPayload},
		{"write null message", Envelope{Channel: ChannelWriteToFile, Args: rawArgs(t, "x.txt", nil)}, ErrBadPayload},
		{"write null name", Envelope{Channel: ChannelWriteToFile, Args: rawArgs(t, nil, "hi")}, ErrBadPayload},
		{"get counter null key", Envelope{Channel: ChannelGetCounter, Args: rawArgs(t, nil)}, ErrBadPayload},
		{"change store padded null", Envelope{Channel: ChannelChangeStore, Args: []json.RawMessage{json.RawMessage(`"counter"`), json.RawMessage(" null ")}}, ErrBadPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCommand(tt.env)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestEncodeCommand_RoundTripsThroughDecode(t *testing.T) {
	cmds := []Command{
		Notify{},
		CreateNewWindow{},
		WriteToFile{FileName: "helloworld.txt", Message: "hi there"},
		GetCounter{Key: "counter"},
		ChangeStore{Key: "counter", Value: 99},
	}
	for _, cmd := range cmds {
		env, err := EncodeCommand(cmd)
		require.NoError(t, err)
		assert.Equal(t, cmd.Channel(), env.Channel)

		got, err := DecodeCommand(env)
		require.NoError(t, err)
		assert.Equal(t, cmd, got)
	}
}

func TestEncodeEvent_SingleArgument(t *testing.T) {
	env, err := EncodeEvent(UpdateWindowIDs{IDs: []int{2, 3}})
	require.NoError(t, err)
	assert.Equal(t, ChannelUpdateWindowIDs, env.Channel)
	require.Len(t, env.Args, 1)
	assert.JSONEq(t, `[2,3]`, string(env.Args[0]))

	ev, err := DecodeEvent(env)
	require.NoError(t, err)
	assert.Equal(t, UpdateWindowIDs{IDs: []int{2, 3}}, ev)
}

func TestUpdateWindowIDs_EmptyListIsNotNull(t *testing.T) {
	env, err := EncodeEvent(UpdateWindowIDs{})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(env.Args[0]))
}

func TestDecodeEvent_RejectsCommands(t *testing.T) {
	_, err := DecodeEvent(Envelope{Channel: ChannelChangeStore, Args: rawArgs(t, "counter")})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestHello(t *testing.T) {
	id, err := DecodeHello(Hello(7))
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	_, err = DecodeHello(Hello(0))
	assert.ErrorIs(t, err, ErrBadPayload)

	_, err = DecodeHello(Envelope{Channel: ChannelNotify})
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestReply(t *testing.T) {
	ok := Reply("req-1", 42, nil)
	assert.True(t, ok.IsReply())
	assert.Equal(t, "req-1", ok.ReplyTo)
	assert.JSONEq(t, `42`, string(ok.Result))
	assert.Empty(t, ok.Error)

	failed := Reply("req-2", nil, errors.New("boom"))
	assert.Equal(t, "boom", failed.Error)
	assert.Nil(t, failed.Result)
}
