package sdbus

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/creachadair/mds/value"
)

// A MethodHandler implements one exported method. args holds one
// decoded value per declared in-argument. The return value follows
// the out-signature: nil for no out-arguments, the bare value for
// one, and a []any of matching length for several.
//
// Returning a *BusError sends an error reply with that name and
// message. Any other error is treated as a programming failure and
// propagates out of the dispatcher instead of being disguised as a
// DBus error.
//
// A handler may also return a *Task to defer its reply; see [Task].
type MethodHandler func(ctx context.Context, o *Object, args []any) (any, error)

// A PropertyGetter produces the current value of a computed property.
type PropertyGetter func(o *Object) (any, error)

// A PropertySetter applies a property write received over the bus.
// The setter is responsible for any change notification.
type PropertySetter func(o *Object, v any) error

// InterfaceSpec declares one DBus interface: its wire name and its
// members. Pass it to [RegisterInterface] once, at program
// initialization, to compile it into an immutable member table.
type InterfaceSpec struct {
	// Name is the dotted interface name, like com.example.Frobber.
	Name string

	Methods    []MethodSpec
	Properties []PropertySpec
	Signals    []SignalSpec
}

// MethodSpec declares one method.
type MethodSpec struct {
	// Name is the in-process member name, conventionally
	// snake_case. The wire name is derived from it by splitting on
	// underscores and capitalizing each word (get_all becomes
	// GetAll), unless WireName overrides it.
	Name     string
	WireName string

	// In and Out hold one typestring per argument.
	In, Out []string

	Handler MethodHandler
}

// PropertySpec declares one property.
//
// A property is either stored or computed. A stored property (no
// Getter) keeps its value in the exported object; assigning it
// in-process with [Object.Set] automatically emits the standard
// change notification. A computed property supplies a Getter, and
// whoever mutates the underlying state is responsible for calling
// [Object.EmitPropertiesChanged].
type PropertySpec struct {
	Name     string
	WireName string

	// Type is the property's typestring.
	Type string

	// Value is the initial value of a stored property.
	Value any

	Getter PropertyGetter

	// Setter, if set, makes the property writable over the bus.
	Setter PropertySetter
}

// SignalSpec declares one signal. Args holds one typestring per
// emitted argument; signals have no reply.
type SignalSpec struct {
	Name     string
	WireName string
	Args     []string
}

// An InterfaceInfo is a compiled interface: an immutable member table
// keyed by wire name, shared by every object that exports the
// interface.
type InterfaceInfo struct {
	name       string
	methods    map[string]*methodInfo
	properties map[string]*propertyInfo
	signals    map[string]*signalInfo
}

type methodInfo struct {
	name     string
	wireName string
	in, out  *MessageType
	handler  MethodHandler
}

type propertyInfo struct {
	name     string
	wireName string
	typ      *Type
	initial  value.Maybe[any]
	getter   PropertyGetter
	setter   PropertySetter
}

func (p *propertyInfo) writable() bool { return p.setter != nil }

type signalInfo struct {
	name     string
	wireName string
	args     *MessageType
}

// Name returns the interface's dotted wire name.
func (i *InterfaceInfo) Name() string { return i.name }

// RegisterInterface compiles spec into an immutable member table.
//
// It fails if the interface name is malformed, a member signature
// does not parse, two members of the same category share a wire name,
// a method has no handler, or a property declares neither a value nor
// a getter.
func RegisterInterface(spec InterfaceSpec) (*InterfaceInfo, error) {
	if !isInterfaceName(spec.Name) {
		return nil, fmt.Errorf("invalid interface name %q", spec.Name)
	}
	info := &InterfaceInfo{
		name:       spec.Name,
		methods:    make(map[string]*methodInfo, len(spec.Methods)),
		properties: make(map[string]*propertyInfo, len(spec.Properties)),
		signals:    make(map[string]*signalInfo, len(spec.Signals)),
	}

	for _, m := range spec.Methods {
		wire := memberWireName(m.Name, m.WireName)
		if wire == "" {
			return nil, fmt.Errorf("%s: method with no name", spec.Name)
		}
		if _, dup := info.methods[wire]; dup {
			return nil, fmt.Errorf("%s: duplicate method %s", spec.Name, wire)
		}
		if m.Handler == nil {
			return nil, fmt.Errorf("%s.%s: method with no handler", spec.Name, wire)
		}
		in, err := NewMessageType(m.In...)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", spec.Name, wire, err)
		}
		out, err := NewMessageType(m.Out...)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", spec.Name, wire, err)
		}
		info.methods[wire] = &methodInfo{
			name:     m.Name,
			wireName: wire,
			in:       in,
			out:      out,
			handler:  m.Handler,
		}
	}

	for _, p := range spec.Properties {
		wire := memberWireName(p.Name, p.WireName)
		if wire == "" {
			return nil, fmt.Errorf("%s: property with no name", spec.Name)
		}
		if _, dup := info.properties[wire]; dup {
			return nil, fmt.Errorf("%s: duplicate property %s", spec.Name, wire)
		}
		typ, err := ParseType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", spec.Name, wire, err)
		}
		if p.Getter != nil && p.Value != nil {
			return nil, fmt.Errorf("%s.%s: property cannot have both a value and a getter", spec.Name, wire)
		}
		if p.Getter == nil && p.Value == nil {
			return nil, fmt.Errorf("%s.%s: property needs either a value or a getter", spec.Name, wire)
		}
		pi := &propertyInfo{
			name:     p.Name,
			wireName: wire,
			typ:      typ,
			getter:   p.Getter,
			setter:   p.Setter,
		}
		if p.Getter == nil {
			pi.initial = value.Just(p.Value)
		}
		info.properties[wire] = pi
	}

	for _, s := range spec.Signals {
		wire := memberWireName(s.Name, s.WireName)
		if wire == "" {
			return nil, fmt.Errorf("%s: signal with no name", spec.Name)
		}
		if _, dup := info.signals[wire]; dup {
			return nil, fmt.Errorf("%s: duplicate signal %s", spec.Name, wire)
		}
		args, err := NewMessageType(s.Args...)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", spec.Name, wire, err)
		}
		info.signals[wire] = &signalInfo{
			name:     s.Name,
			wireName: wire,
			args:     args,
		}
	}

	return info, nil
}

// MustRegisterInterface is like RegisterInterface but panics on
// error. Intended for package-level interface definitions.
func MustRegisterInterface(spec InterfaceSpec) *InterfaceInfo {
	info, err := RegisterInterface(spec)
	if err != nil {
		panic(err)
	}
	return info
}

// WireName returns the wire member name derived from an in-process
// member name, without an override.
func WireName(name string) string { return memberWireName(name, "") }

// memberWireName converts an in-process member name to its wire name:
// split on underscores, capitalize the first letter of each word
// (three_word_name becomes ThreeWordName). An explicit override wins.
func memberWireName(name, override string) string {
	if override != "" {
		return override
	}
	var b strings.Builder
	for _, word := range strings.Split(name, "_") {
		if word == "" {
			continue
		}
		r := []rune(word)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

// isInterfaceName reports whether s is a valid dotted interface name:
// two or more dot-separated elements of letters, digits and
// underscores, not starting with a digit.
func isInterfaceName(s string) bool {
	elems := strings.Split(s, ".")
	if len(elems) < 2 {
		return false
	}
	for _, e := range elems {
		if e == "" {
			return false
		}
		for i, r := range e {
			switch {
			case r == '_' || unicode.IsLetter(r):
			case unicode.IsDigit(r):
				if i == 0 {
					return false
				}
			default:
				return false
			}
		}
	}
	return true
}
