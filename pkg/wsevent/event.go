package wsevent

import "github.com/aviatorsys/wsreactor/pkg/wsframe"

// Handle is an opaque, small, copyable reference to a live connection. It
// is monotonically assigned and is only ever reused after the connection
// it named has been fully torn down.
type Handle uint32

// EventKind identifies the variant of an Event.
type EventKind int

const (
	EventConnect EventKind = iota
	EventClose
	EventTextMessage
	EventBinaryMessage
	EventPing
	EventPong
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventClose:
		return "close"
	case EventTextMessage:
		return "text_message"
	case EventBinaryMessage:
		return "binary_message"
	case EventPing:
		return "ping"
	case EventPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Event is something that happened on a connection, or something a host
// wants to send to one (when wrapped in a Send Command). Which fields are
// meaningful depends on Kind: Status is set only for EventClose, Text only
// for EventTextMessage, and Data for EventBinaryMessage/EventPing/EventPong.
type Event struct {
	Kind   EventKind
	Handle Handle
	Status wsframe.StatusCode
	Text   string
	Data   []byte
}

func Connect(h Handle) Event {
	return Event{Kind: EventConnect, Handle: h}
}

func Close(h Handle, status wsframe.StatusCode) Event {
	return Event{Kind: EventClose, Handle: h, Status: status}
}

func TextMessage(h Handle, text string) Event {
	return Event{Kind: EventTextMessage, Handle: h, Text: text}
}

func BinaryMessage(h Handle, data []byte) Event {
	return Event{Kind: EventBinaryMessage, Handle: h, Data: data}
}

func Ping(h Handle, data []byte) Event {
	return Event{Kind: EventPing, Handle: h, Data: data}
}

func Pong(h Handle, data []byte) Event {
	return Event{Kind: EventPong, Handle: h, Data: data}
}

// CommandKind identifies the variant of a Command.
type CommandKind int

const (
	// CommandSend asks the reactor to queue Event on its connection for
	// delivery to the peer.
	CommandSend CommandKind = iota
	// CommandListConnections asks the reactor to report every live handle
	// on Reply.
	CommandListConnections
	// CommandReregister asks the reactor to recompute and re-register a
	// connection's interest set. Useful when a sender outside the reactor
	// thread queues a message between poll cycles; in this implementation
	// every Send already reconciles interest inline, so this is rarely
	// needed, but remains a valid, handled command.
	CommandReregister
)

// Command is submitted by the host over the reactor's command channel.
type Command struct {
	Kind   CommandKind
	Event  Event   // CommandSend
	Handle Handle  // CommandReregister
	Reply  chan<- []Handle // CommandListConnections
}
