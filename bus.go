package sdbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// A Conn is a bus connection: the external collaborator that frames,
// sends and receives complete messages. The marshaling and dispatch
// layers in this package are written against this interface; the
// socket transport and authentication handshake behind a production
// implementation are out of scope here. The sdbustest package
// provides an in-memory implementation.
//
// A connection is shared by every object exported on it and every
// call issued through it. Implementations must deliver incoming
// messages from a single dispatch goroutine, in arrival order.
type Conn interface {
	// NewMethodCall opens a method call message.
	NewMethodCall(dest string, path ObjectPath, iface, member string) (Message, error)
	// NewSignal opens a signal message.
	NewSignal(path ObjectPath, iface, member string) (Message, error)
	// NewMethodReturn opens a successful reply to call.
	NewMethodReturn(call Message) (Message, error)
	// NewMethodError opens an error reply to call.
	NewMethodError(call Message, e *BusError) (Message, error)

	// Send sends a complete message without expecting a reply.
	Send(m Message) error
	// CallAsync sends a method call and registers interest in the
	// correlated reply.
	CallAsync(m Message) (*PendingCall, error)

	// AddObject routes method calls for the given path to h. The
	// registration lasts until the returned slot is cancelled.
	AddObject(path ObjectPath, h Handler) (*Slot, error)
	// AddMatch delivers incoming signals matching m to h.
	AddMatch(m *Match, h HandlerFunc) (*Slot, error)

	// LocalName returns the connection's unique bus name.
	LocalName() string
	Close() error
}

// A Handler consumes messages routed to it. It reports true if it
// handled the message (a reply was or will be sent); on false the
// connection lets other handlers run and, for method calls, the bus
// synthesizes the standard unknown-method error. A non-nil error
// means the handler itself failed in an unexpected way; the
// connection surfaces it to whatever supervises the dispatch loop
// rather than disguising it as a DBus error.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) (bool, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg Message) (bool, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message) (bool, error) {
	return f(ctx, msg)
}

// A Slot is the caller-held handle that keeps a registration alive.
// Cancelling the slot unregisters its handler; an in-flight handler
// finishes running, but its eventual reply is silently dropped.
type Slot struct {
	cancel   func()
	once     sync.Once
	canceled atomic.Bool
}

// NewSlot returns a slot that runs cancel on the first Cancel call.
// It is intended for Conn implementations.
func NewSlot(cancel func()) *Slot {
	return &Slot{cancel: cancel}
}

// Cancel releases the registration. It is idempotent.
func (s *Slot) Cancel() {
	s.once.Do(func() {
		s.canceled.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Cancelled reports whether the slot has been cancelled.
func (s *Slot) Cancelled() bool { return s.canceled.Load() }

// Call performs a method call and returns the decoded reply body.
//
// sig is the signature of the call body; args must match it. The
// reply body is decoded using the reply's own signature. An error
// reply from the peer is returned as a *BusError.
func Call(ctx context.Context, c Conn, dest string, path ObjectPath, iface, member, sig string, args ...any) ([]any, error) {
	pc, err := CallAsync(c, dest, path, iface, member, sig, args...)
	if err != nil {
		return nil, err
	}
	reply, err := pc.Await(ctx)
	if err != nil {
		return nil, err
	}
	return ReadBody(reply)
}

// CallAsync builds and sends a method call, returning the pending
// call without waiting for the reply.
func CallAsync(c Conn, dest string, path ObjectPath, iface, member, sig string, args ...any) (*PendingCall, error) {
	mt, err := MessageTypeFor(sig)
	if err != nil {
		return nil, err
	}
	msg, err := c.NewMethodCall(dest, path, iface, member)
	if err != nil {
		return nil, err
	}
	if err := mt.Append(msg, args...); err != nil {
		return nil, err
	}
	return c.CallAsync(msg)
}

// Emit builds and sends a signal message from the given path.
//
// Most code exports an [Object] and uses [Object.Emit] instead, which
// checks the signal against the object's declared interfaces.
func Emit(c Conn, path ObjectPath, iface, member, sig string, args ...any) error {
	mt, err := MessageTypeFor(sig)
	if err != nil {
		return err
	}
	msg, err := c.NewSignal(path, iface, member)
	if err != nil {
		return err
	}
	if err := mt.Append(msg, args...); err != nil {
		return err
	}
	return c.Send(msg)
}
