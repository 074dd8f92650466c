// Package wsevent defines the vocabulary shared between a connection
// engine, the reactor that drives it, and the host-facing facade: the
// opaque connection Handle, the Event values a connection emits, and the
// Command values a host submits back.
//
// Keeping these types in their own leaf package (rather than in wsconn or
// the facade) avoids a dependency cycle: the reactor owns both the engines
// that produce events and the channel pair that carries them to the host.
package wsevent
