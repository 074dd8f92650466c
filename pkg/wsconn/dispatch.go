package wsconn

import (
	"errors"
	"log/slog"
	"unicode/utf8"

	"github.com/aviatorsys/wsreactor/pkg/wsevent"
	"github.com/aviatorsys/wsreactor/pkg/wsframe"
	"github.com/aviatorsys/wsreactor/pkg/wshandshake"
)

// OnReadable is called by the reactor when the socket has reported
// readable readiness. It reads and processes everything currently
// available, looping until the socket would block or signals EOF.
func (e *Engine) OnReadable() {
	switch e.state {
	case StateAwaitingHandshake:
		e.readHandshake()
	case StateConnected, StateClosing:
		e.readFrames()
	}
}

// OnWritable is called by the reactor when the socket has reported
// writable readiness.
func (e *Engine) OnWritable() {
	switch e.state {
	case StateHandshakeResponse, StateConnected, StateClosing:
		e.flush()
	}
}

func (e *Engine) readHandshake() {
	buf := make([]byte, e.cfg.ReadBufferSize)
	for {
		n, err := e.socket.Read(buf)
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return
			}
			// No connection was ever established from the host's point of
			// view; there is nothing to report beyond a log line.
			e.logger.Warn("handshake read failed",
				slog.Uint64("handle", uint64(e.handle)), slog.Any("error", err))
			e.state = StateClosed
			return
		}
		if n == 0 {
			e.state = StateClosed
			return
		}

		if !e.hs.Feed(buf[:n]) {
			continue
		}

		if !e.hs.Valid() {
			e.writeBestEffort(wshandshake.BuildBadRequestResponse())
			return
		}

		e.outboundBytes = wshandshake.BuildSwitchingProtocolsResponse(e.hs.Key())
		e.state = StateHandshakeResponse
		if rem := e.hs.Remainder(); len(rem) > 0 {
			e.pendingFrameBytes = append(e.pendingFrameBytes, rem...)
		}
		return
	}
}

func (e *Engine) readFrames() {
	buf := make([]byte, e.cfg.ReadBufferSize)
	for {
		var chunk []byte
		if len(e.pendingFrameBytes) > 0 {
			chunk = e.pendingFrameBytes
			e.pendingFrameBytes = nil
		} else {
			n, err := e.socket.Read(buf)
			if err != nil {
				if errors.Is(err, ErrWouldBlock) {
					return
				}
				e.terminateAbnormally(wsframe.StatusAbnormalClosure)
				return
			}
			if n == 0 {
				if e.peerClosed || e.closeQueued {
					e.state = StateClosed
				} else {
					e.terminateAbnormally(wsframe.StatusAbnormalClosure)
				}
				return
			}
			chunk = buf[:n]
		}

		offset := 0
		for offset < len(chunk) {
			n, frame, ok, err := e.reader.Feed(chunk[offset:])
			offset += n
			if err != nil {
				status := wsframe.StatusProtocolError
				var perr *wsframe.ParseError
				if errors.As(err, &perr) {
					status = perr.Status
				}
				e.failProtocol(status, err.Error())
				return
			}
			if !ok {
				break
			}
			e.dispatch(frame)
			if e.state == StateClosed {
				return
			}
		}
	}
}

func (e *Engine) dispatch(frame wsframe.Frame) {
	switch frame.Opcode {
	case wsframe.OpcodePing:
		e.emit(wsevent.Ping(e.handle, frame.Payload))
		e.outbound = append(e.outbound, wsframe.Frame{Fin: true, Opcode: wsframe.OpcodePong, Payload: frame.Payload})
	case wsframe.OpcodePong:
		e.emit(wsevent.Pong(e.handle, frame.Payload))
	case wsframe.OpcodeClose:
		e.dispatchClose(frame)
	case wsframe.OpcodeContinuation:
		e.dispatchContinuation(frame)
	case wsframe.OpcodeText, wsframe.OpcodeBinary:
		e.dispatchDataFrame(frame)
	}
}

func (e *Engine) dispatchDataFrame(frame wsframe.Frame) {
	if e.fragmenting {
		e.failProtocol(wsframe.StatusProtocolError, "new data frame while a fragmented message is in progress")
		return
	}
	if !frame.Fin {
		e.fragmenting = true
		e.fragOpcode = frame.Opcode
		e.fragBuf.Reset()
		e.fragBuf.Write(frame.Payload)
		return
	}
	e.finalizeMessage(frame.Opcode, frame.Payload)
}

func (e *Engine) dispatchContinuation(frame wsframe.Frame) {
	if !e.fragmenting {
		e.failProtocol(wsframe.StatusProtocolError, "continuation frame with no fragmented message in progress")
		return
	}

	e.fragBuf.Write(frame.Payload)
	if !frame.Fin {
		return
	}

	opcode := e.fragOpcode
	data := append([]byte(nil), e.fragBuf.Bytes()...)
	e.fragmenting = false
	e.fragBuf.Reset()
	e.finalizeMessage(opcode, data)
}

func (e *Engine) finalizeMessage(opcode wsframe.Opcode, data []byte) {
	if opcode == wsframe.OpcodeText {
		if !utf8.Valid(data) {
			e.failProtocol(wsframe.StatusInvalidFramePayloadData, "text message is not valid UTF-8")
			return
		}
		e.emit(wsevent.TextMessage(e.handle, string(data)))
		return
	}
	e.emit(wsevent.BinaryMessage(e.handle, data))
}

// dispatchClose handles a peer-initiated close frame: mirror the peer's own
// status/reason back (RFC 6455 §7.4), falling back to a protocol-error
// reply only if the peer's frame was itself malformed.
func (e *Engine) dispatchClose(frame wsframe.Frame) {
	e.peerClosed = true

	status, reason, err := wsframe.ParseClosePayload(frame.Payload)
	if err != nil {
		replyStatus := wsframe.StatusProtocolError
		var perr *wsframe.ParseError
		if errors.As(err, &perr) {
			replyStatus = perr.Status
		}
		e.emitCloseOnce(replyStatus)
		e.queueClose(replyStatus, "")
		return
	}

	e.emitCloseOnce(status)

	if status == wsframe.StatusNoStatusReceived {
		// 1005 is reserved for local use; RFC 6455 forbids ever putting it
		// on the wire, so the mirrored reply is itself a bare close frame.
		e.queueCloseFrame(wsframe.Frame{Fin: true, Opcode: wsframe.OpcodeClose})
		return
	}

	e.queueClose(status, reason)
}

func (e *Engine) flush() {
	for {
		if len(e.outboundBytes) == 0 {
			if len(e.outbound) == 0 {
				break
			}
			var buf []byte
			for _, f := range e.outbound {
				buf = wsframe.AppendFrame(buf, f)
			}
			e.outbound = nil
			e.outboundBytes = buf
		}

		n, err := e.socket.Write(e.outboundBytes)
		if n > 0 {
			e.outboundBytes = e.outboundBytes[n:]
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return
			}
			e.terminateAbnormally(wsframe.StatusAbnormalClosure)
			return
		}
		if len(e.outboundBytes) > 0 {
			return
		}
	}

	switch e.state {
	case StateHandshakeResponse:
		e.state = StateConnected
		e.emit(wsevent.Connect(e.handle))
		if len(e.pendingFrameBytes) > 0 {
			// The client pipelined frame bytes right after its handshake
			// request, in the same read that completed it; those bytes are
			// already out of the kernel's socket buffer, so no further
			// readable edge will ever fire for them. Process them now.
			e.readFrames()
		}
	case StateConnected, StateClosing:
		if e.closeQueued {
			_ = e.socket.CloseWrite()
			if e.peerClosed {
				e.teardown()
			} else {
				e.state = StateClosing
			}
		}
	}
}

func (e *Engine) teardown() {
	_ = e.socket.Close()
	e.state = StateClosed
}
