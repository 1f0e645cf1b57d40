// Package sdbustest provides an in-memory message bus for tests.
//
// The bus implements routing between connections in the same process:
// unique and well-known names, method call dispatch with synthesized
// error replies, reply correlation and signal broadcast. Its
// connections implement [sdbus.Conn] and its messages [sdbus.Message],
// so everything above the byte framing can be tested against it.
package sdbustest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"testing"

	"github.com/allisonkarlitskaya/sdbus"
	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/queue"
	"github.com/creachadair/taskgroup"
)

// A Bus routes messages between its connections.
type Bus struct {
	g *taskgroup.Group

	mu     sync.Mutex
	nextID int
	conns  map[string]*Conn // unique name to connection
	names  map[string]*Conn // well-known name to owner
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		g:     taskgroup.New(nil),
		conns: make(map[string]*Conn),
		names: make(map[string]*Conn),
	}
}

// New creates a bus scoped to the calling test. It is shut down when
// the test ends.
func New(t *testing.T) *Bus {
	b := NewBus()
	t.Cleanup(b.Close)
	return b
}

// Close disconnects every connection and waits for their dispatch
// goroutines to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	conns := make([]*Conn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	b.g.Wait()
}

// Connect opens a new connection with a fresh unique name.
func (b *Bus) Connect() (*Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}
	b.nextID++
	c := &Conn{
		bus:     b,
		name:    fmt.Sprintf(":1.%d", b.nextID),
		objects: make(map[sdbus.ObjectPath]sdbus.Handler),
		matches: mapset.New[*matchReg](),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	b.conns[c.name] = c
	b.g.Go(taskgroup.NoError(c.pump))
	return c, nil
}

// MustConn returns a new connection, failing the test if the bus
// refuses one.
func (b *Bus) MustConn(t *testing.T) *Conn {
	t.Helper()
	c, err := b.Connect()
	if err != nil {
		t.Fatalf("connecting to test bus: %v", err)
	}
	return c
}

// route delivers m to its destination. The sender and serial are
// already stamped.
func (b *Bus) route(m *Message) {
	if m.kind == sdbus.MsgSignal && m.dest == "" {
		b.mu.Lock()
		targets := make([]*Conn, 0, len(b.conns))
		for _, c := range b.conns {
			targets = append(targets, c)
		}
		b.mu.Unlock()
		for _, c := range targets {
			c.deliver(m.clone())
		}
		return
	}

	b.mu.Lock()
	target := b.conns[m.dest]
	if target == nil {
		target = b.names[m.dest]
	}
	sender := b.conns[m.sender]
	b.mu.Unlock()

	if target == nil {
		if m.kind == sdbus.MsgMethodCall && sender != nil {
			e := sdbus.Errorf("org.freedesktop.DBus.Error.ServiceUnknown", "no one owns the name %s", m.dest)
			sender.deliver(b.errorReply(m, e))
		} else {
			log.Printf("sdbustest: dropping %s to unknown destination %q", m.kind, m.dest)
		}
		return
	}
	target.deliver(m.clone())
}

// errorReply synthesizes a bus-originated error reply to call.
func (b *Bus) errorReply(call *Message, e *sdbus.BusError) *Message {
	reply := &Message{
		kind:        sdbus.MsgError,
		sender:      "org.freedesktop.DBus",
		dest:        call.sender,
		replySerial: call.serial,
		busErr:      e,
	}
	reply.AppendBasic('s', e.Message)
	return reply
}

// A Conn is one connection to the bus.
type Conn struct {
	bus  *Bus
	name string

	pending sdbus.PendingCalls

	mu      sync.Mutex
	serial  uint64
	inbox   queue.Queue[*Message]
	objects map[sdbus.ObjectPath]sdbus.Handler
	matches mapset.Set[*matchReg]
	wake    chan struct{}
	stop    chan struct{}
	closed  bool
}

type matchReg struct {
	match   *sdbus.Match
	handler sdbus.HandlerFunc
}

// LocalName returns the connection's unique name.
func (c *Conn) LocalName() string { return c.name }

// RequestName claims a well-known name for the connection. The claim
// fails if another connection owns the name.
func (c *Conn) RequestName(name string) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if owner, taken := c.bus.names[name]; taken && owner != c {
		return fmt.Errorf("name %s is owned by %s", name, owner.name)
	}
	c.bus.names[name] = c
	return nil
}

// Close disconnects. Pending calls fail with a disconnected error;
// further sends are rejected.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	c.bus.mu.Lock()
	delete(c.bus.conns, c.name)
	for name, owner := range c.bus.names {
		if owner == c {
			delete(c.bus.names, name)
		}
	}
	c.bus.mu.Unlock()

	c.pending.FailAll(sdbus.Errorf("org.freedesktop.DBus.Error.Disconnected", "connection closed"))
	return nil
}

func (c *Conn) NewMethodCall(dest string, path sdbus.ObjectPath, iface, member string) (sdbus.Message, error) {
	if !path.Valid() {
		return nil, fmt.Errorf("invalid object path %q", path)
	}
	return &Message{kind: sdbus.MsgMethodCall, dest: dest, path: path, iface: iface, member: member}, nil
}

func (c *Conn) NewSignal(path sdbus.ObjectPath, iface, member string) (sdbus.Message, error) {
	if !path.Valid() {
		return nil, fmt.Errorf("invalid object path %q", path)
	}
	return &Message{kind: sdbus.MsgSignal, path: path, iface: iface, member: member}, nil
}

func (c *Conn) NewMethodReturn(call sdbus.Message) (sdbus.Message, error) {
	cm, ok := call.(*Message)
	if !ok {
		return nil, fmt.Errorf("reply to a foreign message")
	}
	return &Message{kind: sdbus.MsgMethodReturn, dest: cm.sender, replySerial: cm.serial}, nil
}

func (c *Conn) NewMethodError(call sdbus.Message, e *sdbus.BusError) (sdbus.Message, error) {
	cm, ok := call.(*Message)
	if !ok {
		return nil, fmt.Errorf("reply to a foreign message")
	}
	reply := &Message{kind: sdbus.MsgError, dest: cm.sender, replySerial: cm.serial, busErr: e}
	reply.AppendBasic('s', e.Message)
	return reply, nil
}

// stamp assigns the sender and a fresh serial. It fails once the
// connection is closed.
func (c *Conn) stamp(m sdbus.Message) (*Message, error) {
	mm, ok := m.(*Message)
	if !ok {
		return nil, fmt.Errorf("sending a foreign message")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("connection is closed")
	}
	c.serial++
	mm.sender = c.name
	mm.serial = c.serial
	return mm, nil
}

func (c *Conn) Send(m sdbus.Message) error {
	mm, err := c.stamp(m)
	if err != nil {
		return err
	}
	c.bus.route(mm)
	return nil
}

func (c *Conn) CallAsync(m sdbus.Message) (*sdbus.PendingCall, error) {
	mm, err := c.stamp(m)
	if err != nil {
		return nil, err
	}
	pc := c.pending.Add(mm.serial)
	c.bus.route(mm)
	return pc, nil
}

func (c *Conn) AddObject(path sdbus.ObjectPath, h sdbus.Handler) (*sdbus.Slot, error) {
	if !path.Valid() {
		return nil, fmt.Errorf("invalid object path %q", path)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.objects[path]; taken {
		return nil, fmt.Errorf("an object is already exported at %s", path)
	}
	c.objects[path] = h
	return sdbus.NewSlot(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.objects, path)
	}), nil
}

func (c *Conn) AddMatch(m *sdbus.Match, h sdbus.HandlerFunc) (*sdbus.Slot, error) {
	reg := &matchReg{match: m, handler: h}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches.Add(reg)
	return sdbus.NewSlot(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.matches.Remove(reg)
	}), nil
}

// deliver queues an incoming message for the dispatch goroutine.
func (c *Conn) deliver(m *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.inbox.Add(m)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pump is the dispatch goroutine: it consumes the inbox in arrival
// order and runs handlers one at a time.
func (c *Conn) pump() {
	for {
		c.mu.Lock()
		m, ok := c.inbox.Pop()
		c.mu.Unlock()
		if !ok {
			select {
			case <-c.stop:
				return
			case <-c.wake:
				continue
			}
		}
		c.dispatch(m)
	}
}

func (c *Conn) dispatch(m *Message) {
	ctx := context.Background()
	switch m.Kind() {
	case sdbus.MsgMethodCall:
		c.mu.Lock()
		h := c.objects[m.Path()]
		c.mu.Unlock()
		if h != nil {
			handled, err := h.HandleMessage(ctx, m)
			if err != nil {
				log.Printf("sdbustest: %s: handler for %s failed: %v", c.name, m.Path(), err)
				e := sdbus.Errorf("org.freedesktop.DBus.Error.Failed", "%v", err)
				c.bus.route(c.bus.errorReply(m, e))
				return
			}
			if handled {
				return
			}
		}
		e := sdbus.Errorf("org.freedesktop.DBus.Error.UnknownMethod",
			"no method %s.%s at %s", m.Interface(), m.Member(), m.Path())
		c.bus.route(c.bus.errorReply(m, e))

	case sdbus.MsgMethodReturn, sdbus.MsgError:
		if !c.pending.Resolve(m.ReplySerial(), m) {
			log.Printf("sdbustest: %s: dropping stray reply to serial %d", c.name, m.ReplySerial())
		}

	case sdbus.MsgSignal:
		c.mu.Lock()
		regs := make([]*matchReg, 0, len(c.matches))
		for reg := range c.matches {
			regs = append(regs, reg)
		}
		c.mu.Unlock()
		for _, reg := range regs {
			if !reg.match.Matches(m) {
				continue
			}
			if _, err := reg.handler(ctx, m); err != nil {
				log.Printf("sdbustest: %s: signal handler failed: %v", c.name, err)
			}
		}
	}
}
