// Package wsreactor implements the single-threaded, edge-triggered
// readiness reactor that multiplexes many connection engines over a raw
// epoll instance: accepting new sockets, dispatching readable/writable
// notifications, and applying host commands, all on one goroutine.
//
// Everything that touches a [wsconn.Engine] runs on the reactor's own
// goroutine. A second, dedicated goroutine does nothing but block in
// epoll_wait and forward readiness batches over a channel; the reactor
// goroutine only ever reads from that channel and the command channel,
// so exactly one goroutine ever mutates engine state, matching this
// package's single-owner concurrency model even though Go itself has no
// equivalent of parking an entire OS thread inside one blocking call.
package wsreactor
