// Package ipc defines the messages exchanged between the host process and its
// UI windows.
//
// Inbound messages (window to host) are Commands; outbound messages (host to
// window) are Events. Both are closed sets: anything arriving on the wire is
// decoded into one of the concrete types below or rejected.
package ipc

// Inbound channels.
const (
	ChannelNotify          = "notify"
	ChannelWriteToFile     = "write-to-file"
	ChannelCreateNewWindow = "create-new-window"
	ChannelGetCounter      = "get-counter"
	ChannelChangeStore     = "change-store"
)

// Outbound channels.
const (
	ChannelGetMessage      = "get-message"
	ChannelGetNewCounter   = "get-new-counter"
	ChannelUpdateWindowIDs = "UpdateWindowIds"
)

// ChannelHello is sent once by a window process right after it connects,
// carrying the window id it was launched with.
const ChannelHello = "hello"

// Command is a request sent by a window to the host.
type Command interface {
	Channel() string
	isCommand()
}

// Notify asks the host to show its error dialog.
type Notify struct{}

// WriteToFile asks the host to write Message to FileName and relay the
// read-back contents to every window.
type WriteToFile struct {
	FileName string
	Message  string
}

// CreateNewWindow asks the host to open another window.
type CreateNewWindow struct{}

// GetCounter requests the current value stored under Key. It is the only
// request/response command.
type GetCounter struct {
	Key string
}

// ChangeStore asks the host to store Value under Key.
type ChangeStore struct {
	Key   string
	Value int
}

func (Notify) Channel() string          { return ChannelNotify }
func (WriteToFile) Channel() string     { return ChannelWriteToFile }
func (CreateNewWindow) Channel() string { return ChannelCreateNewWindow }
func (GetCounter) Channel() string      { return ChannelGetCounter }
func (ChangeStore) Channel() string     { return ChannelChangeStore }

func (Notify) isCommand()          {}
func (WriteToFile) isCommand()     {}
func (CreateNewWindow) isCommand() {}
func (GetCounter) isCommand()      {}
func (ChangeStore) isCommand()     {}

// Event is a one-way notification sent by the host to a window.
type Event interface {
	Channel() string
	// Payload is the single value delivered to the window's listener.
	Payload() any
	isEvent()
}

// GetMessage carries file contents read back after a write.
type GetMessage struct {
	Contents string
}

// NewCounter carries the counter value after a change.
type NewCounter struct {
	Value int
}

// UpdateWindowIDs carries the ordered ids of all live windows.
type UpdateWindowIDs struct {
	IDs []int
}

func (GetMessage) Channel() string      { return ChannelGetMessage }
func (NewCounter) Channel() string      { return ChannelGetNewCounter }
func (UpdateWindowIDs) Channel() string { return ChannelUpdateWindowIDs }

func (e GetMessage) Payload() any { return e.Contents }
func (e NewCounter) Payload() any { return e.Value }
func (e UpdateWindowIDs) Payload() any {
	if e.IDs == nil {
		return []int{}
	}
	return e.IDs
}

func (GetMessage) isEvent()      {}
func (NewCounter) isEvent()      {}
func (UpdateWindowIDs) isEvent() {}
