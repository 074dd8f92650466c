// Package websocket is a lightweight yet robust server-only
// implementation of the WebSocket protocol (RFC 6455).
//
// It focuses on accepting many concurrent connections behind a single
// listener, driven by one reactor goroutine, and exposes a pair of
// channels: events arriving from connected peers, and commands to send
// back to them.
//
// It is designed primarily for ease of use and predictable concurrency.
// Additional design goals: reliability, maintainability, and efficiency.
//
// How does this package optimize for a large number of connections?
//  1. A single epoll-driven reactor goroutine owns every connection's
//     state, so no per-connection goroutine or lock is needed
//  2. Edge-triggered readiness notification, draining each socket to
//     "would block" per wakeup, keeps syscall overhead proportional to
//     actual I/O rather than to the number of open connections
//  3. An unbounded event channel guarantees a slow host never causes
//     the reactor to drop or block on a peer's messages
//  4. Idiomatic, minimalistic, and modern code patterns
//
// Note A: optimization 1 means every exported method on [Server] is
// safe to call from any goroutine — they only ever touch channels — but
// nothing about the connections themselves is exposed for direct
// mutation from outside the reactor.
//
// Note B: WebSocket [extensions] and [subprotocols] are not supported.
//
// [extensions]: https://www.iana.org/assignments/websocket/websocket.xhtml#extension-name
// [subprotocols]: https://www.iana.org/assignments/websocket/websocket.xhtml#subprotocol-name
package websocket
