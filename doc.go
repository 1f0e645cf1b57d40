// Package sdbus implements the DBus type system and object model
// over an abstract message transport.
//
// The package parses DBus type signatures into interned [Type]
// descriptors that read and write values through the [Message]
// interface, converting between wire types and ordinary Go values. On
// top of the codec it provides an interface model ([InterfaceSpec],
// [RegisterInterface]) and an object dispatcher ([Object], [Export])
// that routes incoming method calls to handlers, answers the standard
// Peer, Introspectable and Properties interfaces, and emits property
// change notifications. Outgoing calls go through [Call] and
// [CallAsync], which correlate replies via [PendingCall].
//
// The byte-level wire format and the socket transport live behind the
// [Conn] and [Message] interfaces; the sdbustest package provides
// in-memory implementations of both for tests.
package sdbus
