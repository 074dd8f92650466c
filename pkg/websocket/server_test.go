//go:build linux

package websocket_test

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/aviatorsys/wsreactor/pkg/websocket"
)

const testHandshakeKey = "dGhlIHNhbXBsZSBub25jZQ=="

// dialAndUpgrade opens a real TCP connection to addr and performs a
// literal RFC 6455 handshake over it, returning the connection positioned
// right after the 101 response.
func dialAndUpgrade(t *testing.T, addr string) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp4", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %q: %v", addr, err)
	}

	req := "GET / HTTP/1.1\r\n" +
		"Host: " + addr + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + testHandshakeKey + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write handshake request: %v", err)
	}

	r := bufio.NewReader(conn)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !bytes.Contains([]byte(statusLine), []byte("101")) {
		t.Fatalf("status line = %q, want 101 Switching Protocols", statusLine)
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read handshake response: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}

	return conn
}

// maskedTextFrame builds a masked client-to-server text frame carrying
// text, using a fixed masking key since this is a test fixture, not a
// security boundary.
func maskedTextFrame(text string) []byte {
	payload := []byte(text)
	key := [4]byte{0x11, 0x22, 0x33, 0x44}

	// Every payload used in this file's tests fits in the 7-bit length
	// form; the 16/64-bit extended forms aren't exercised here.
	frame := []byte{0x81, 0x80 | byte(len(payload))}
	frame = append(frame, key[:]...)
	for i, b := range payload {
		frame = append(frame, b^key[i%4])
	}
	return frame
}

// unmaskedTextPayload extracts the payload of a single, unfragmented,
// unmasked server-to-client text frame (what Server.Send produces).
func unmaskedTextPayload(t *testing.T, frame []byte) string {
	t.Helper()
	if len(frame) < 2 {
		t.Fatalf("frame too short: % x", frame)
	}
	if frame[0] != 0x81 {
		t.Fatalf("frame[0] = %#x, want 0x81 (fin+text)", frame[0])
	}
	length := int(frame[1] &^ 0x80)
	if frame[1]&0x80 != 0 {
		t.Fatalf("server frame unexpectedly masked: % x", frame)
	}
	if len(frame) < 2+length {
		t.Fatalf("frame shorter than declared length: % x", frame)
	}
	return string(frame[2 : 2+length])
}

func TestServerHandshakeAndEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := websocket.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer func() { _ = srv.Close() }()

	conn := dialAndUpgrade(t, srv.Addr())
	defer conn.Close()

	ev, ok := srv.NextEvent()
	if !ok {
		t.Fatal("NextEvent() closed before delivering Connect")
	}
	if ev.Kind != websocket.EventConnect {
		t.Fatalf("first event kind = %v, want EventConnect", ev.Kind)
	}
	handle := ev.Handle

	if _, err := conn.Write(maskedTextFrame("Hello")); err != nil {
		t.Fatalf("write text frame: %v", err)
	}

	ev, ok = srv.NextEvent()
	if !ok {
		t.Fatal("NextEvent() closed before delivering TextMessage")
	}
	if ev.Kind != websocket.EventTextMessage {
		t.Fatalf("second event kind = %v, want EventTextMessage", ev.Kind)
	}
	if ev.Text != "Hello" {
		t.Fatalf("event text = %q, want %q", ev.Text, "Hello")
	}
	if ev.Handle != handle {
		t.Fatalf("event handle = %v, want %v", ev.Handle, handle)
	}

	srv.Send(websocket.TextMessage(handle, "Hello"))

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read echoed frame: %v", err)
	}
	if got := unmaskedTextPayload(t, buf[:n]); got != "Hello" {
		t.Fatalf("echoed payload = %q, want %q", got, "Hello")
	}
}

// TestServerPipelinedFrameAfterHandshake covers a client that writes its
// handshake request and its first data frame in a single TCP write,
// without waiting for the 101 response first. The reactor registers each
// accepted connection's socket edge-triggered, so those extra bytes are
// drained from the kernel during the handshake read and would otherwise never produce a
// further readable notification.
func TestServerPipelinedFrameAfterHandshake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := websocket.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer func() { _ = srv.Close() }()

	conn, err := net.DialTimeout("tcp4", srv.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial %q: %v", srv.Addr(), err)
	}
	defer conn.Close()

	req := "GET / HTTP/1.1\r\n" +
		"Host: " + srv.Addr() + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + testHandshakeKey + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	payload := append([]byte(req), maskedTextFrame("Hello")...)
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write pipelined handshake + frame: %v", err)
	}

	r := bufio.NewReader(conn)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !bytes.Contains([]byte(statusLine), []byte("101")) {
		t.Fatalf("status line = %q, want 101 Switching Protocols", statusLine)
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read handshake response: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}

	ev, ok := srv.NextEvent()
	if !ok || ev.Kind != websocket.EventConnect {
		t.Fatalf("expected a Connect event, got %+v, ok=%v", ev, ok)
	}

	ev, ok = srv.NextEvent()
	if !ok {
		t.Fatal("NextEvent() closed before delivering the pipelined TextMessage")
	}
	if ev.Kind != websocket.EventTextMessage || ev.Text != "Hello" {
		t.Fatalf("event = %+v, want TextMessage(\"Hello\") replayed from the pipelined bytes", ev)
	}
}

func TestServerConnectedHandles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := websocket.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer func() { _ = srv.Close() }()

	conn := dialAndUpgrade(t, srv.Addr())
	defer conn.Close()

	if ev, ok := srv.NextEvent(); !ok || ev.Kind != websocket.EventConnect {
		t.Fatalf("expected a Connect event, got %+v, ok=%v", ev, ok)
	}

	handles := srv.ConnectedHandles()
	if len(handles) != 1 {
		t.Fatalf("ConnectedHandles() = %v, want exactly one handle", handles)
	}
}

func TestServerPeerCloseIsReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := websocket.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer func() { _ = srv.Close() }()

	conn := dialAndUpgrade(t, srv.Addr())

	if ev, ok := srv.NextEvent(); !ok || ev.Kind != websocket.EventConnect {
		t.Fatalf("expected a Connect event, got %+v, ok=%v", ev, ok)
	}

	// A masked close frame with status 1000, no reason text.
	closeFrame := []byte{0x88, 0x82, 0x11, 0x22, 0x33, 0x44, 0x03 ^ 0x11, 0xe8 ^ 0x22}
	if _, err := conn.Write(closeFrame); err != nil {
		t.Fatalf("write close frame: %v", err)
	}
	defer conn.Close()

	ev, ok := srv.NextEvent()
	if !ok {
		t.Fatal("NextEvent() closed before delivering Close")
	}
	if ev.Kind != websocket.EventClose {
		t.Fatalf("event kind = %v, want EventClose", ev.Kind)
	}
	if ev.Status != websocket.StatusNormalClosure {
		t.Fatalf("close status = %v, want StatusNormalClosure", ev.Status)
	}
}
