package sdbus

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"sync"
)

// An Object is a named unit of service exported at one object path.
// It dispatches incoming method calls to the handlers of its
// registered interfaces, answers the standard Peer, Introspectable
// and Properties interfaces itself, and holds the values of stored
// properties.
//
// An Object starts out unbound. [Export] binds it to a connection and
// path; from then on property assignments and [Object.Emit] produce
// signals on the bus. Unbinding happens through the slot returned by
// Export.
type Object struct {
	ifaces map[string]*InterfaceInfo

	mu    sync.Mutex
	props map[propKey]any

	conn Conn
	path ObjectPath
	slot *Slot
}

type propKey struct {
	iface, member string
}

// NewObject creates an object exporting the given interfaces plus the
// three standard ones. When several interfaces share a name, the last
// one given wins, so a refinement of an interface can be layered over
// a base registration. Stored properties start at the winning
// interface's declared initial values.
func NewObject(ifaces ...*InterfaceInfo) *Object {
	o := &Object{
		ifaces: map[string]*InterfaceInfo{
			ifacePeer.name:           ifacePeer,
			ifaceIntrospectable.name: ifaceIntrospectable,
			ifaceProperties.name:     ifaceProperties,
		},
		props: map[propKey]any{},
	}
	for _, info := range ifaces {
		if prev, ok := o.ifaces[info.name]; ok && prev != info {
			for wire := range prev.properties {
				delete(o.props, propKey{info.name, wire})
			}
		}
		o.ifaces[info.name] = info
		for wire, p := range info.properties {
			if v, ok := p.initial.GetOK(); ok {
				o.props[propKey{info.name, wire}] = v
			}
		}
	}
	return o
}

// Export registers o at path on c. Method calls arriving for the path
// are dispatched to o until the returned slot is cancelled.
func Export(c Conn, path ObjectPath, o *Object) (*Slot, error) {
	if !path.Valid() {
		return nil, fmt.Errorf("invalid object path %q", path)
	}
	// Bind before registering: a call can be dispatched the moment
	// AddObject returns, and the reply paths need the connection.
	o.mu.Lock()
	o.conn, o.path = c, path
	o.mu.Unlock()
	slot, err := c.AddObject(path, o)
	if err != nil {
		o.mu.Lock()
		o.conn, o.path = nil, ""
		o.mu.Unlock()
		return nil, err
	}
	o.mu.Lock()
	o.slot = slot
	o.mu.Unlock()
	return slot, nil
}

// Path returns the path the object is exported at, or "" if unbound.
func (o *Object) Path() ObjectPath {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.path
}

// HandleMessage dispatches an incoming method call to the matching
// interface member. It reports false for messages it has no member
// for, including calls whose input signature does not match the
// declared one, so the connection can synthesize the standard
// unknown-method error.
func (o *Object) HandleMessage(ctx context.Context, msg Message) (bool, error) {
	if msg.Kind() != MsgMethodCall {
		return false, nil
	}
	m := o.findMethod(msg.Interface(), msg.Member())
	if m == nil {
		return false, nil
	}
	args, ok, err := m.in.Read(msg)
	if err != nil {
		return true, o.sendError(msg, Errorf("org.freedesktop.DBus.Error.InvalidArgs", "%v", err))
	}
	if !ok {
		return false, nil
	}

	result, err := m.handler(ctx, o, args)
	if err != nil {
		if be, isBus := err.(*BusError); isBus {
			return true, o.sendError(msg, be)
		}
		return true, err
	}
	if t, deferred := result.(*Task); deferred {
		go o.runTask(ctx, msg, m, t)
		return true, nil
	}
	return true, o.sendReturn(msg, m, result)
}

// findMethod resolves a member. An empty interface name in the call
// matches any interface that has the member; the standard allows
// callers to omit it.
func (o *Object) findMethod(iface, member string) *methodInfo {
	if iface != "" {
		info := o.ifaces[iface]
		if info == nil {
			return nil
		}
		return info.methods[member]
	}
	for _, info := range o.ifaces {
		if m := info.methods[member]; m != nil {
			return m
		}
	}
	return nil
}

// runTask completes a deferred reply. If the object was unexported
// while the task ran, the reply is dropped.
func (o *Object) runTask(ctx context.Context, call Message, m *methodInfo, t *Task) {
	result, err := t.run(ctx)

	o.mu.Lock()
	slot := o.slot
	o.mu.Unlock()
	if slot == nil || slot.Cancelled() {
		log.Printf("sdbus: dropping reply to %s: object unexported", m.wireName)
		return
	}

	if err != nil {
		be, isBus := err.(*BusError)
		if !isBus {
			be = Errorf("org.freedesktop.DBus.Error.Failed", "%v", err)
		}
		if serr := o.sendError(call, be); serr != nil {
			log.Printf("sdbus: sending deferred error reply: %v", serr)
		}
		return
	}
	if serr := o.sendReturn(call, m, result); serr != nil {
		log.Printf("sdbus: sending deferred reply: %v", serr)
	}
}

// sendReturn encodes result per the method's output arity: no output
// arguments expect a nil result, one expects the bare value, several
// expect a []any. If encoding fails the caller gets an error reply
// instead of silence.
func (o *Object) sendReturn(call Message, m *methodInfo, result any) error {
	conn := o.boundConn()
	reply, err := conn.NewMethodReturn(call)
	if err != nil {
		return err
	}
	var values []any
	switch m.out.Len() {
	case 0:
		if result != nil {
			return o.sendError(call, Errorf("org.freedesktop.DBus.Error.Failed", "unexpected return value from %s", m.wireName))
		}
	case 1:
		values = []any{result}
	default:
		tuple, ok := result.([]any)
		if !ok || len(tuple) != m.out.Len() {
			return o.sendError(call, Errorf("org.freedesktop.DBus.Error.Failed", "%s must return %d values", m.wireName, m.out.Len()))
		}
		values = tuple
	}
	if err := m.out.Append(reply, values...); err != nil {
		return o.sendError(call, Errorf("org.freedesktop.DBus.Error.Failed", "encoding reply to %s: %v", m.wireName, err))
	}
	return conn.Send(reply)
}

func (o *Object) sendError(call Message, e *BusError) error {
	conn := o.boundConn()
	reply, err := conn.NewMethodError(call, e)
	if err != nil {
		return err
	}
	return conn.Send(reply)
}

func (o *Object) boundConn() Conn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn
}

// A Task defers a method reply past the handler's return. The handler
// returns the task as its result; the dispatcher runs it on its own
// goroutine and sends the reply (or error reply) when it finishes.
// The messages dispatched in the meantime are not blocked.
type Task struct {
	run func(ctx context.Context) (any, error)
}

// Defer wraps run as a deferred reply. run's result is interpreted
// exactly like a handler's.
func Defer(run func(ctx context.Context) (any, error)) *Task {
	return &Task{run: run}
}

// Get returns the current in-process value of a property: the stored
// value, or the getter's result for a computed property.
func (o *Object) Get(iface, member string) (any, error) {
	info := o.ifaces[iface]
	if info == nil {
		return nil, fmt.Errorf("no interface %s", iface)
	}
	p := info.properties[member]
	if p == nil {
		return nil, fmt.Errorf("no property %s.%s", iface, member)
	}
	if p.getter != nil {
		return p.getter(o)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.props[propKey{iface, member}], nil
}

// Set assigns a stored property. If the object is exported, the
// assignment emits org.freedesktop.DBus.Properties.PropertiesChanged,
// even when the new value equals the old one: observers may care
// about the write itself.
func (o *Object) Set(iface, member string, v any) error {
	info := o.ifaces[iface]
	if info == nil {
		return fmt.Errorf("no interface %s", iface)
	}
	p := info.properties[member]
	if p == nil {
		return fmt.Errorf("no property %s.%s", iface, member)
	}
	if p.getter != nil {
		return fmt.Errorf("%s.%s is a computed property", iface, member)
	}
	o.mu.Lock()
	o.props[propKey{iface, member}] = v
	bound := o.conn != nil
	o.mu.Unlock()
	if !bound {
		return nil
	}
	return o.EmitPropertiesChanged(iface, member)
}

// EmitPropertiesChanged emits the standard change notification for
// the named properties of iface, with their current values. Computed
// properties whose state changed out of band notify through this.
func (o *Object) EmitPropertiesChanged(iface string, members ...string) error {
	info := o.ifaces[iface]
	if info == nil {
		return fmt.Errorf("no interface %s", iface)
	}
	changed := make(map[string]any, len(members))
	for _, member := range members {
		p := info.properties[member]
		if p == nil {
			return fmt.Errorf("no property %s.%s", iface, member)
		}
		v, err := o.Get(iface, member)
		if err != nil {
			return err
		}
		changed[member] = Variant{Type: p.typ, Value: v}
	}
	return o.Emit(ifaceProperties.name, "PropertiesChanged", iface, changed, []any{})
}

// Emit sends one of the object's declared signals. The member is the
// wire name; args must match the signal's declared types. Emit panics
// if the object is not exported, or if the signal was never declared:
// both are programming errors, not runtime conditions.
func (o *Object) Emit(iface, member string, args ...any) error {
	info := o.ifaces[iface]
	if info == nil {
		panic(fmt.Sprintf("emit on undeclared interface %s", iface))
	}
	s := info.signals[member]
	if s == nil {
		panic(fmt.Sprintf("emit of undeclared signal %s.%s", iface, member))
	}
	o.mu.Lock()
	conn, path := o.conn, o.path
	o.mu.Unlock()
	if conn == nil {
		panic(fmt.Sprintf("emit of %s.%s on unexported object", iface, member))
	}
	msg, err := conn.NewSignal(path, iface, member)
	if err != nil {
		return err
	}
	if err := s.args.Append(msg, args...); err != nil {
		return err
	}
	return conn.Send(msg)
}

// The three standard interfaces every object answers.

var machineID = sync.OnceValues(func() (string, error) {
	for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		bs, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		return string(bytes.TrimSpace(bs)), nil
	}
	return "", fmt.Errorf("no machine-id file")
})

var ifacePeer = MustRegisterInterface(InterfaceSpec{
	Name: "org.freedesktop.DBus.Peer",
	Methods: []MethodSpec{
		{Name: "ping", Handler: func(ctx context.Context, o *Object, args []any) (any, error) {
			return nil, nil
		}},
		{Name: "get_machine_id", Out: []string{"s"}, Handler: func(ctx context.Context, o *Object, args []any) (any, error) {
			id, err := machineID()
			if err != nil {
				return nil, Errorf("org.freedesktop.DBus.Error.Failed", "%v", err)
			}
			return id, nil
		}},
	},
})

var ifaceIntrospectable = MustRegisterInterface(InterfaceSpec{
	Name: "org.freedesktop.DBus.Introspectable",
	Methods: []MethodSpec{
		{Name: "introspect", Out: []string{"s"}, Handler: func(ctx context.Context, o *Object, args []any) (any, error) {
			desc := &ObjectDescription{Interfaces: map[string]*InterfaceDescription{}}
			for name, info := range o.ifaces {
				desc.Interfaces[name] = info.Describe()
			}
			xml, err := desc.XML()
			if err != nil {
				return nil, Errorf("org.freedesktop.DBus.Error.Failed", "%v", err)
			}
			return xml, nil
		}},
	},
})

var ifaceProperties = MustRegisterInterface(InterfaceSpec{
	Name: "org.freedesktop.DBus.Properties",
	Methods: []MethodSpec{
		{Name: "get", In: []string{"s", "s"}, Out: []string{"v"}, Handler: propGet},
		{Name: "get_all", In: []string{"s"}, Out: []string{"a{sv}"}, Handler: propGetAll},
		{Name: "set", In: []string{"s", "s", "v"}, Handler: propSet},
	},
	Signals: []SignalSpec{
		{Name: "properties_changed", Args: []string{"s", "a{sv}", "as"}},
	},
})

func propGet(ctx context.Context, o *Object, args []any) (any, error) {
	iface, member := args[0].(string), args[1].(string)
	info := o.ifaces[iface]
	if info == nil {
		return nil, Errorf("org.freedesktop.DBus.Error.UnknownInterface", "no interface %s", iface)
	}
	p := info.properties[member]
	if p == nil {
		return nil, Errorf("org.freedesktop.DBus.Error.UnknownProperty", "no property %s.%s", iface, member)
	}
	v, err := o.Get(iface, member)
	if err != nil {
		return nil, Errorf("org.freedesktop.DBus.Error.Failed", "%v", err)
	}
	return Variant{Type: p.typ, Value: v}, nil
}

func propGetAll(ctx context.Context, o *Object, args []any) (any, error) {
	iface := args[0].(string)
	info := o.ifaces[iface]
	if info == nil {
		return nil, Errorf("org.freedesktop.DBus.Error.UnknownInterface", "no interface %s", iface)
	}
	all := make(map[string]any, len(info.properties))
	for member, p := range info.properties {
		v, err := o.Get(iface, member)
		if err != nil {
			return nil, Errorf("org.freedesktop.DBus.Error.Failed", "%v", err)
		}
		all[member] = Variant{Type: p.typ, Value: v}
	}
	return all, nil
}

func propSet(ctx context.Context, o *Object, args []any) (any, error) {
	iface, member := args[0].(string), args[1].(string)
	val := args[2].(Variant)
	info := o.ifaces[iface]
	if info == nil {
		return nil, Errorf("org.freedesktop.DBus.Error.UnknownInterface", "no interface %s", iface)
	}
	p := info.properties[member]
	if p == nil {
		return nil, Errorf("org.freedesktop.DBus.Error.UnknownProperty", "no property %s.%s", iface, member)
	}
	if !p.writable() {
		return nil, Errorf("org.freedesktop.DBus.Error.PropertyReadOnly", "%s.%s is read-only", iface, member)
	}
	if val.Type != p.typ {
		return nil, Errorf("org.freedesktop.DBus.Error.InvalidArgs", "%s.%s has type %s, not %s", iface, member, p.typ, val.Type)
	}
	if err := p.setter(o, val.Value); err != nil {
		if be, isBus := err.(*BusError); isBus {
			return nil, be
		}
		return nil, Errorf("org.freedesktop.DBus.Error.InvalidArgs", "%v", err)
	}
	return nil, nil
}
