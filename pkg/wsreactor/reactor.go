//go:build linux

package wsreactor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sys/unix"

	"github.com/aviatorsys/wsreactor/pkg/wsconn"
	"github.com/aviatorsys/wsreactor/pkg/wsevent"
)

const readyBatchSize = 128

// connState is everything the reactor tracks about one accepted
// connection beyond what the engine itself owns.
type connState struct {
	handle      wsevent.Handle
	fd          int
	engine      *wsconn.Engine
	interest    wsconn.Interest
	correlation string
}

// Reactor is the single-threaded readiness loop described by this
// package's design: it owns the listener, every live connection engine,
// and the epoll instance that drives them. Every exported method other
// than Run is meant to be called before Run starts; once running, the
// reactor is driven exclusively through the command channel passed to
// New.
type Reactor struct {
	cfg    Config
	logger *slog.Logger

	poller     *poller
	listenerFd int
	boundAddr  string

	events   chan<- wsevent.Event // closed by Run when it returns
	commands <-chan wsevent.Command

	byFD     map[int]*connState
	byHandle map[wsevent.Handle]*connState
	nextID   uint32
}

// New binds the configured listener and prepares a Reactor. It does not
// start the readiness loop; call Run for that.
func New(cfg Config, events chan<- wsevent.Event, commands <-chan wsevent.Command, logger *slog.Logger) (*Reactor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p, err := newPoller()
	if err != nil {
		return nil, err
	}

	fd, port, err := bindListener(cfg.ListenAddr, cfg.Backlog)
	if err != nil {
		_ = p.close()
		return nil, err
	}

	if err := p.add(fd, unix.EPOLLIN|unix.EPOLLET); err != nil {
		_ = unix.Close(fd)
		_ = p.close()
		return nil, fmt.Errorf("failed to register listener with epoll: %w", err)
	}

	host, _, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		host = cfg.ListenAddr
	}

	return &Reactor{
		cfg:        cfg,
		logger:     logger,
		poller:     p,
		listenerFd: fd,
		boundAddr:  net.JoinHostPort(host, strconv.Itoa(port)),
		events:     events,
		commands:   commands,
		byFD:       map[int]*connState{},
		byHandle:   map[wsevent.Handle]*connState{},
	}, nil
}

// Addr returns the address the listener is actually bound to. It is most
// useful when the configured ListenAddr asked for an ephemeral port
// (":0"), since the kernel's choice is otherwise unobservable from the
// caller's side of New.
func (r *Reactor) Addr() string {
	return r.boundAddr
}

// Run drives the reactor until ctx is cancelled or the command channel is
// closed, whichever happens first. It blocks the calling goroutine; the
// facade runs this on a dedicated goroutine of its own.
func (r *Reactor) Run(ctx context.Context) error {
	ready := make(chan []unix.EpollEvent)
	pollErr := make(chan error, 1)
	stopPoll := make(chan struct{})
	defer close(stopPoll)

	go r.pollLoop(ready, pollErr, stopPoll)

	defer close(r.events)
	defer r.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-pollErr:
			return fmt.Errorf("epoll wait failed: %w", err)

		case batch, ok := <-ready:
			if !ok {
				return nil
			}
			r.handleReady(batch)

		case cmd, ok := <-r.commands:
			if !ok {
				return nil
			}
			r.handleCommand(cmd)
		}
	}
}

// pollLoop does nothing but block in epoll_wait and forward whatever it
// gets back; it never touches connection state, so it needs no
// synchronization with the reactor goroutine beyond the channels.
func (r *Reactor) pollLoop(ready chan<- []unix.EpollEvent, pollErr chan<- error, stop <-chan struct{}) {
	buf := make([]unix.EpollEvent, readyBatchSize)
	for {
		events, err := r.poller.wait(buf)
		if err != nil {
			select {
			case pollErr <- err:
			case <-stop:
			}
			return
		}

		batch := append([]unix.EpollEvent(nil), events...)
		select {
		case ready <- batch:
		case <-stop:
			return
		}
	}
}

func (r *Reactor) handleReady(batch []unix.EpollEvent) {
	for _, ev := range batch {
		fd := int(ev.Fd)

		if fd == r.listenerFd {
			r.acceptLoop()
			continue
		}

		cs, ok := r.byFD[fd]
		if !ok {
			continue
		}

		if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			r.teardown(cs)
			continue
		}

		if ev.Events&unix.EPOLLIN != 0 {
			cs.engine.OnReadable()
		}
		if !r.reconcileOrTeardown(cs) {
			continue
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			cs.engine.OnWritable()
		}
		r.reconcileOrTeardown(cs)
	}
}

func (r *Reactor) acceptLoop() {
	fds, err := acceptAll(r.listenerFd)
	if err != nil {
		r.logger.Error("listener accept failed", slog.Any("error", err))
		return
	}

	for _, fd := range fds {
		handle := wsevent.Handle(r.nextID)
		r.nextID++

		cs := &connState{
			handle:      handle,
			fd:          fd,
			engine:      wsconn.NewEngine(handle, &rawSocket{fd: fd}, r.events, r.cfg.engineConfig(), r.logger),
			interest:    wsconn.InterestReadable,
			correlation: shortuuid.New(),
		}

		if err := r.poller.add(fd, interestEvents(cs.interest)); err != nil {
			r.logger.Error("failed to register accepted connection with epoll",
				slog.Any("error", err), slog.String("correlation_id", cs.correlation))
			_ = unix.Close(fd)
			continue
		}

		r.byFD[fd] = cs
		r.byHandle[handle] = cs
		r.logger.Debug("accepted connection", slog.Uint64("handle", uint64(handle)), slog.String("correlation_id", cs.correlation))
	}
}

// reconcileOrTeardown re-registers cs's epoll interest if the engine's
// desired interest changed, or tears the connection down if the engine
// has reached its terminal state. It returns false if cs was torn down.
func (r *Reactor) reconcileOrTeardown(cs *connState) bool {
	if cs.engine.IsTerminal() {
		r.teardown(cs)
		return false
	}

	want := cs.engine.DesiredInterest()
	if want == cs.interest {
		return true
	}

	if err := r.poller.modify(cs.fd, interestEvents(want)); err != nil {
		r.logger.Error("failed to update epoll interest", slog.Any("error", err),
			slog.Uint64("handle", uint64(cs.handle)))
	}
	cs.interest = want
	return true
}

func (r *Reactor) teardown(cs *connState) {
	_ = r.poller.remove(cs.fd)
	delete(r.byFD, cs.fd)
	delete(r.byHandle, cs.handle)
	r.logger.Debug("connection torn down", slog.Uint64("handle", uint64(cs.handle)), slog.String("correlation_id", cs.correlation))
}

func (r *Reactor) handleCommand(cmd wsevent.Command) {
	switch cmd.Kind {
	case wsevent.CommandSend:
		cs, ok := r.byHandle[cmd.Event.Handle]
		if !ok {
			return
		}
		cs.engine.Queue(cmd.Event)
		r.reconcileOrTeardown(cs)

	case wsevent.CommandReregister:
		if cs, ok := r.byHandle[cmd.Handle]; ok {
			r.reconcileOrTeardown(cs)
		}

	case wsevent.CommandListConnections:
		if cmd.Reply == nil {
			return
		}
		handles := make([]wsevent.Handle, 0, len(r.byHandle))
		for h := range r.byHandle {
			handles = append(handles, h)
		}
		cmd.Reply <- handles
	}
}

func (r *Reactor) shutdown() {
	for _, cs := range r.byFD {
		_ = unix.Close(cs.fd)
	}
	_ = unix.Close(r.listenerFd)
	_ = r.poller.close()
}
