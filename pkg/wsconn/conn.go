package wsconn

import (
	"bytes"
	"errors"
	"log/slog"

	"github.com/aviatorsys/wsreactor/pkg/wsevent"
	"github.com/aviatorsys/wsreactor/pkg/wsframe"
	"github.com/aviatorsys/wsreactor/pkg/wshandshake"
)

// ErrWouldBlock is returned by a Socket's Read/Write when the operation
// would block; the engine treats this as "yield back to the reactor", not
// as a failure.
var ErrWouldBlock = errors.New("wsconn: operation would block")

// Socket is the non-blocking I/O surface an Engine needs. The reactor
// package supplies an implementation backed by a raw, epoll-registered
// file descriptor; tests supply an in-memory one.
type Socket interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	CloseWrite() error
	Close() error
}

// State is a connection engine's position in its lifecycle.
//
// AwaitingHandshake -> HandshakeResponse -> Connected -> Closing -> Closed
type State int

const (
	StateAwaitingHandshake State = iota
	StateHandshakeResponse
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateHandshakeResponse:
		return "handshake_response"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Interest is the set of readiness conditions a connection currently wants
// to be notified about. Readable and writable are never both set at once,
// except transiently within a single reactor callback; Hangup is reserved
// for terminal connections and excludes the other two.
type Interest uint8

const (
	InterestReadable Interest = 1 << iota
	InterestWritable
	InterestHangup
)

// Config bounds an Engine's resource usage.
type Config struct {
	// MaxFrameSize rejects inbound frames whose payload exceeds this many
	// bytes with a close status of 1009 (message too big). Zero means
	// unlimited.
	MaxFrameSize uint64
	// ReadBufferSize is how many bytes to request per Socket.Read call.
	// Defaults to 16 KiB if zero.
	ReadBufferSize int
}

const defaultReadBufferSize = 16 * 1024

// Engine is one connection's protocol state machine. All of its methods
// must be called from a single goroutine (the reactor's), matching the
// reactor's single-owner concurrency model; an Engine has no internal
// locking.
type Engine struct {
	handle wsevent.Handle
	socket Socket
	logger *slog.Logger
	cfg    Config

	state State

	hs     *wshandshake.Parser
	reader *wsframe.Reader

	// pendingFrameBytes holds bytes a client pipelined immediately after its
	// handshake request, in the same read as the request itself. They are
	// fed to reader once the connection reaches StateConnected.
	pendingFrameBytes []byte

	fragmenting bool
	fragOpcode  wsframe.Opcode
	fragBuf     bytes.Buffer

	outbound      []wsframe.Frame
	outboundBytes []byte

	closeQueued       bool
	peerClosed        bool
	closeEventEmitted bool

	events chan<- wsevent.Event
}

// NewEngine creates an Engine in StateAwaitingHandshake for a freshly
// accepted socket.
func NewEngine(handle wsevent.Handle, socket Socket, events chan<- wsevent.Event, cfg Config, logger *slog.Logger) *Engine {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		handle: handle,
		socket: socket,
		logger: logger,
		cfg:    cfg,
		state:  StateAwaitingHandshake,
		hs:     wshandshake.NewParser(),
		reader: wsframe.NewReader(cfg.MaxFrameSize),
		events: events,
	}
}

// Handle returns the connection's handle.
func (e *Engine) Handle() wsevent.Handle {
	return e.handle
}

// State returns the engine's current state, chiefly for diagnostics and
// tests.
func (e *Engine) State() State {
	return e.state
}

// IsTerminal reports whether the engine has reached StateClosed: the
// reactor should tear it down (deregister its socket, close it, free its
// handle) once this is true.
func (e *Engine) IsTerminal() bool {
	return e.state == StateClosed
}

// DesiredInterest computes the readiness conditions the engine currently
// needs, per the invariant that an outbound queue or in-flight write
// buffer always implies writable interest.
func (e *Engine) DesiredInterest() Interest {
	if e.state == StateClosed {
		return InterestHangup
	}
	if len(e.outboundBytes) > 0 || len(e.outbound) > 0 {
		return InterestWritable
	}
	return InterestReadable
}

func (e *Engine) emit(ev wsevent.Event) {
	e.events <- ev
}

// Queue accepts a host-originated Event to deliver to the peer. Only
// EventTextMessage, EventBinaryMessage, EventPing, EventPong and EventClose
// are meaningful; anything else is ignored.
func (e *Engine) Queue(ev wsevent.Event) {
	if e.state != StateConnected {
		// A send that arrives after we've already started closing (or
		// before the handshake finished) has nowhere sensible to go.
		return
	}

	switch ev.Kind {
	case wsevent.EventTextMessage:
		e.outbound = append(e.outbound, wsframe.Frame{Fin: true, Opcode: wsframe.OpcodeText, Payload: []byte(ev.Text)})
	case wsevent.EventBinaryMessage:
		e.outbound = append(e.outbound, wsframe.Frame{Fin: true, Opcode: wsframe.OpcodeBinary, Payload: ev.Data})
	case wsevent.EventPing:
		e.outbound = append(e.outbound, wsframe.Frame{Fin: true, Opcode: wsframe.OpcodePing, Payload: ev.Data})
	case wsevent.EventPong:
		e.outbound = append(e.outbound, wsframe.Frame{Fin: true, Opcode: wsframe.OpcodePong, Payload: ev.Data})
	case wsevent.EventClose:
		e.queueClose(ev.Status, "")
	}
}

// queueClose appends a close frame (if one hasn't already been queued) and
// arranges for the write side to shut down once it's flushed.
func (e *Engine) queueClose(status wsframe.StatusCode, reason string) {
	e.queueCloseFrame(wsframe.CloseFrame(status, reason))
}

// queueCloseFrame is queueClose's underlying primitive: it exists
// separately so a "no status received" reply (RFC 6455 forbids ever
// putting 1005 on the wire) can queue a literal empty-payload close frame
// instead of one carrying an encoded status.
func (e *Engine) queueCloseFrame(f wsframe.Frame) {
	if e.closeQueued {
		return
	}
	e.closeQueued = true
	e.outbound = append(e.outbound, f)
	if e.state == StateConnected {
		e.state = StateClosing
	}
}

// failProtocol is the shared path for any locally detected protocol
// violation: it queues a close frame carrying status, and makes sure the
// host still sees a terminating Close event for the connection even though
// the peer never sent one (every connection's event stream ends in
// Connect, ..., Close).
func (e *Engine) failProtocol(status wsframe.StatusCode, reason string) {
	e.logger.Warn("closing connection after protocol violation",
		slog.Uint64("handle", uint64(e.handle)), slog.String("reason", reason), slog.String("status", status.String()))
	e.queueClose(status, reason)
	e.emitCloseOnce(status)
}

func (e *Engine) emitCloseOnce(status wsframe.StatusCode) {
	if e.closeEventEmitted {
		return
	}
	e.closeEventEmitted = true
	e.emit(wsevent.Close(e.handle, status))
}

// terminateAbnormally is used when the socket itself fails or EOFs in a
// way that leaves no chance of an orderly close handshake.
func (e *Engine) terminateAbnormally(status wsframe.StatusCode) {
	e.emitCloseOnce(status)
	e.state = StateClosed
}

// writeBestEffort is used only for the pre-handshake 400 response, which
// per spec is sent best-effort: a single attempt, no retry loop, and the
// connection is torn down regardless of whether it fully landed.
func (e *Engine) writeBestEffort(b []byte) {
	_, _ = e.socket.Write(b)
	_ = e.socket.Close()
	e.state = StateClosed
}

