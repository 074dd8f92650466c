// Package wshandshake parses the HTTP/1.1 Upgrade request that begins a
// WebSocket connection and builds the matching response, per [RFC 6455
// section 4]. Parsing is incremental: Parser.Feed can be called with
// however many bytes a socket happens to have ready, the same contract
// wsframe.Reader offers for frame bodies.
//
// Nothing beyond the Upgrade handshake itself is handled here; general HTTP
// routing, subprotocol negotiation and extension negotiation are out of
// scope.
//
// [RFC 6455 section 4]: https://datatracker.ietf.org/doc/html/rfc6455#section-4
package wshandshake
