package websocket

import (
	"context"
	"fmt"
	"time"

	"github.com/aviatorsys/wsreactor/internal/logger"
	"github.com/aviatorsys/wsreactor/pkg/wsevent"
	"github.com/aviatorsys/wsreactor/pkg/wsframe"
	"github.com/aviatorsys/wsreactor/pkg/wsreactor"
)

// Re-exported so callers of this package never need to import
// pkg/wsevent, pkg/wsframe, or pkg/wsreactor directly.
type (
	Handle     = wsevent.Handle
	Event      = wsevent.Event
	EventKind  = wsevent.EventKind
	StatusCode = wsframe.StatusCode
	Config     = wsreactor.Config
	Option     = wsreactor.Option
)

const (
	EventConnect       = wsevent.EventConnect
	EventClose         = wsevent.EventClose
	EventTextMessage   = wsevent.EventTextMessage
	EventBinaryMessage = wsevent.EventBinaryMessage
	EventPing          = wsevent.EventPing
	EventPong          = wsevent.EventPong
)

const (
	StatusNormalClosure           = wsframe.StatusNormalClosure
	StatusGoingAway               = wsframe.StatusGoingAway
	StatusProtocolError           = wsframe.StatusProtocolError
	StatusUnsupportedData         = wsframe.StatusUnsupportedData
	StatusInvalidFramePayloadData = wsframe.StatusInvalidFramePayloadData
	StatusPolicyViolation         = wsframe.StatusPolicyViolation
	StatusMessageTooBig           = wsframe.StatusMessageTooBig
)

var (
	// WithListenAddr, WithMaxFrameSize, WithReadBufferSize and WithBacklog
	// configure a Config passed to ListenConfig; DefaultConfig and
	// LoadConfig build one.
	WithListenAddr     = wsreactor.WithListenAddr
	WithMaxFrameSize   = wsreactor.WithMaxFrameSize
	WithReadBufferSize = wsreactor.WithReadBufferSize
	WithBacklog        = wsreactor.WithBacklog
	DefaultConfig      = wsreactor.DefaultConfig
	LoadConfig         = wsreactor.LoadConfig
)

// TextMessage builds an Event carrying a host-originated text message, for
// use with Server.Send.
func TextMessage(h Handle, text string) Event { return wsevent.TextMessage(h, text) }

// BinaryMessage builds an Event carrying a host-originated binary message.
func BinaryMessage(h Handle, data []byte) Event { return wsevent.BinaryMessage(h, data) }

// PingMessage builds an Event carrying a host-originated ping.
func PingMessage(h Handle, data []byte) Event { return wsevent.Ping(h, data) }

// CloseMessage builds an Event that asks a connection to close with the
// given status.
func CloseMessage(h Handle, status StatusCode) Event { return wsevent.Close(h, status) }

const commandRetryInterval = 10 * time.Millisecond

// Server is the host-facing handle onto a running reactor: it spawns the
// reactor on its own goroutine and exposes only the two channels the
// design calls for, reshaped as blocking/retrying methods.
type Server struct {
	events   <-chan Event
	commands chan<- wsevent.Command
	cancel   context.CancelFunc
	done     chan struct{}
	runErr   error
	addr     string
}

// Listen binds addr and starts a Server with default configuration
// plus any opts applied on top of it. The logger threaded through ctx
// (see internal/logger) is used for every log line the reactor emits for
// the lifetime of the server.
func Listen(ctx context.Context, addr string, opts ...Option) (*Server, error) {
	cfg := DefaultConfig(append([]Option{WithListenAddr(addr)}, opts...)...)
	return ListenConfig(ctx, cfg)
}

// ListenConfig is Listen with a fully assembled Config, for hosts that
// load their configuration from a file (see LoadConfig).
func ListenConfig(ctx context.Context, cfg Config) (*Server, error) {
	eventsIn, eventsOut := wsevent.NewUnboundedChannel()
	commands := make(chan wsevent.Command, 64)

	r, err := wsreactor.New(cfg, eventsIn, commands, logger.FromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to start WebSocket server on %q: %w", cfg.ListenAddr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Server{
		events:   eventsOut,
		commands: commands,
		cancel:   cancel,
		done:     make(chan struct{}),
		addr:     r.Addr(),
	}

	go func() {
		defer close(s.done)
		s.runErr = r.Run(runCtx)
	}()

	return s, nil
}

// Addr returns the address the server is actually listening on. It is
// most useful after Listen was called with an ephemeral port (host:0),
// since the kernel's chosen port is otherwise unobservable.
func (s *Server) Addr() string {
	return s.addr
}

// NextEvent blocks until an event arrives from any connection, or the
// server is closed, in which case ok is false.
func (s *Server) NextEvent() (ev Event, ok bool) {
	ev, ok = <-s.events
	return ev, ok
}

// Send queues ev for delivery to the peer named by ev's handle. It
// retries with a short backoff if the reactor's command channel is
// momentarily full, and gives up silently once the server has been
// closed.
func (s *Server) Send(ev Event) {
	cmd := wsevent.Command{Kind: wsevent.CommandSend, Event: ev}
	for {
		select {
		case s.commands <- cmd:
			return
		case <-s.done:
			return
		default:
			time.Sleep(commandRetryInterval)
		}
	}
}

// ConnectedHandles returns every handle currently live in the reactor, as
// of the moment the request was processed.
func (s *Server) ConnectedHandles() []Handle {
	reply := make(chan []Handle, 1)
	cmd := wsevent.Command{Kind: wsevent.CommandListConnections, Reply: reply}

	for {
		select {
		case s.commands <- cmd:
			select {
			case handles := <-reply:
				return handles
			case <-s.done:
				return nil
			}
		case <-s.done:
			return nil
		default:
			time.Sleep(commandRetryInterval)
		}
	}
}

// Close stops the reactor and waits for it to finish tearing down every
// connection. It returns the error the reactor's run loop exited with, if
// any (context.Canceled is expected and not treated as a failure by
// callers that only ever stop the server this way).
func (s *Server) Close() error {
	s.cancel()
	<-s.done
	return s.runErr
}
