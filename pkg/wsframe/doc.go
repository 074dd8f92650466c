// Package wsframe implements the [RFC 6455] WebSocket frame format: parsing
// frames incrementally from an arbitrarily chunked byte stream, and
// serializing frames for a server (unmasked output, as required by
// section 5.1 of the RFC).
//
// The package has no knowledge of sockets or connections. It operates
// entirely on byte slices, so it can be fed directly from a reactor's read
// buffer or exercised in tests without a network round trip.
//
// [RFC 6455]: https://datatracker.ietf.org/doc/html/rfc6455#section-5.2
package wsframe
