package sdbus

import (
	"cmp"
	"encoding/xml"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// The standard introspection document format, rendered in answer to
// org.freedesktop.DBus.Introspectable.Introspect and parsed when
// examining remote peers. The description model is the single source
// of truth for an interface's shape: [InterfaceInfo.Describe] feeds
// both introspection replies and registration-time validation.

const introspectionDoctype = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN" "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">` + "\n"

// ObjectDescription describes an object's exported interfaces and
// child objects.
type ObjectDescription struct {
	// Interfaces maps an interface name to a description of its API.
	Interfaces map[string]*InterfaceDescription
	// Children is the relative paths of child objects under this
	// object.
	Children []string
}

// InterfaceDescription describes one interface.
type InterfaceDescription struct {
	Name       string
	Methods    []*MethodDescription
	Signals    []*SignalDescription
	Properties []*PropertyDescription
}

// MethodDescription describes one method.
type MethodDescription struct {
	Name string
	In   []ArgumentDescription
	Out  []ArgumentDescription
}

// SignalDescription describes one signal.
type SignalDescription struct {
	Name string
	Args []ArgumentDescription
}

// PropertyDescription describes one property.
type PropertyDescription struct {
	Name string
	Type string
	// Writable reports whether the property accepts
	// org.freedesktop.DBus.Properties.Set. Every property is
	// readable.
	Writable bool
}

// ArgumentDescription describes a method or signal argument.
type ArgumentDescription struct {
	Name string // optional
	Type string
}

func (a ArgumentDescription) String() string {
	if a.Name != "" {
		return fmt.Sprintf("%s %s", a.Name, a.Type)
	}
	return a.Type
}

func (m MethodDescription) String() string {
	var ret strings.Builder
	ret.WriteString("func ")
	ret.WriteString(m.Name)
	ret.WriteByte('(')
	for i, arg := range m.In {
		if i > 0 {
			ret.WriteString(", ")
		}
		ret.WriteString(arg.String())
	}
	ret.WriteByte(')')
	if len(m.Out) > 0 {
		ret.WriteString(" (")
		for i, arg := range m.Out {
			if i > 0 {
				ret.WriteString(", ")
			}
			ret.WriteString(arg.String())
		}
		ret.WriteByte(')')
	}
	return ret.String()
}

func (s SignalDescription) String() string {
	var ret strings.Builder
	ret.WriteString("signal ")
	ret.WriteString(s.Name)
	ret.WriteByte('(')
	for i, arg := range s.Args {
		if i > 0 {
			ret.WriteString(", ")
		}
		ret.WriteString(arg.String())
	}
	ret.WriteByte(')')
	return ret.String()
}

func (p PropertyDescription) String() string {
	access := "readonly"
	if p.Writable {
		access = "readwrite"
	}
	return fmt.Sprintf("property %s %s [%s]", p.Name, p.Type, access)
}

func (d InterfaceDescription) String() string {
	var ret strings.Builder
	fmt.Fprintf(&ret, "interface %s {\n", d.Name)
	methods := slices.SortedFunc(slices.Values(d.Methods), func(a, b *MethodDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, m := range methods {
		fmt.Fprintf(&ret, "  %s\n", m)
	}
	signals := slices.SortedFunc(slices.Values(d.Signals), func(a, b *SignalDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, s := range signals {
		fmt.Fprintf(&ret, "  %s\n", s)
	}
	props := slices.SortedFunc(slices.Values(d.Properties), func(a, b *PropertyDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, p := range props {
		fmt.Fprintf(&ret, "  %s\n", p)
	}
	ret.WriteString("}")
	return ret.String()
}

// The raw XML shapes, kept separate from the description model so the
// model stays pleasant to construct by hand.

type xmlNode struct {
	XMLName    xml.Name       `xml:"node"`
	Interfaces []xmlInterface `xml:"interface"`
	Children   []xmlChild     `xml:"node"`
}

type xmlChild struct {
	Name string `xml:"name,attr"`
}

type xmlInterface struct {
	Name       string        `xml:"name,attr"`
	Methods    []xmlMethod   `xml:"method"`
	Signals    []xmlSignal   `xml:"signal"`
	Properties []xmlProperty `xml:"property"`
}

type xmlMethod struct {
	Name string   `xml:"name,attr"`
	Args []xmlArg `xml:"arg"`
}

type xmlSignal struct {
	Name string   `xml:"name,attr"`
	Args []xmlArg `xml:"arg"`
}

type xmlProperty struct {
	Name   string `xml:"name,attr"`
	Type   string `xml:"type,attr"`
	Access string `xml:"access,attr"`
}

type xmlArg struct {
	Name      string `xml:"name,attr,omitempty"`
	Type      string `xml:"type,attr"`
	Direction string `xml:"direction,attr,omitempty"`
}

// XML renders the description as a standard introspection document.
// Interfaces and members render in sorted name order, so the output
// is deterministic.
func (o *ObjectDescription) XML() (string, error) {
	node := xmlNode{}
	for _, name := range slices.Sorted(maps.Keys(o.Interfaces)) {
		node.Interfaces = append(node.Interfaces, o.Interfaces[name].toXML())
	}
	for _, child := range slices.Sorted(slices.Values(o.Children)) {
		node.Children = append(node.Children, xmlChild{Name: child})
	}
	bs, err := xml.MarshalIndent(node, "", " ")
	if err != nil {
		return "", err
	}
	return introspectionDoctype + string(bs) + "\n", nil
}

func (d *InterfaceDescription) toXML() xmlInterface {
	ret := xmlInterface{Name: d.Name}
	methods := slices.SortedFunc(slices.Values(d.Methods), func(a, b *MethodDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, m := range methods {
		xm := xmlMethod{Name: m.Name}
		for _, arg := range m.In {
			xm.Args = append(xm.Args, xmlArg{Name: arg.Name, Type: arg.Type, Direction: "in"})
		}
		for _, arg := range m.Out {
			xm.Args = append(xm.Args, xmlArg{Name: arg.Name, Type: arg.Type, Direction: "out"})
		}
		ret.Methods = append(ret.Methods, xm)
	}
	signals := slices.SortedFunc(slices.Values(d.Signals), func(a, b *SignalDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, s := range signals {
		xs := xmlSignal{Name: s.Name}
		for _, arg := range s.Args {
			xs.Args = append(xs.Args, xmlArg{Name: arg.Name, Type: arg.Type})
		}
		ret.Signals = append(ret.Signals, xs)
	}
	props := slices.SortedFunc(slices.Values(d.Properties), func(a, b *PropertyDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, p := range props {
		access := "read"
		if p.Writable {
			access = "readwrite"
		}
		ret.Properties = append(ret.Properties, xmlProperty{Name: p.Name, Type: p.Type, Access: access})
	}
	return ret
}

// ParseIntrospection parses a standard introspection document, as
// returned by a peer's Introspect method.
func ParseIntrospection(doc string) (*ObjectDescription, error) {
	var node xmlNode
	if err := xml.Unmarshal([]byte(doc), &node); err != nil {
		return nil, err
	}
	ret := &ObjectDescription{
		Interfaces: make(map[string]*InterfaceDescription, len(node.Interfaces)),
	}
	for _, xi := range node.Interfaces {
		id := &InterfaceDescription{Name: xi.Name}
		for _, xm := range xi.Methods {
			md := &MethodDescription{Name: xm.Name}
			for _, arg := range xm.Args {
				ad := ArgumentDescription{Name: arg.Name, Type: arg.Type}
				if !IsSignature(arg.Type) {
					return nil, sigErr(arg.Type, "invalid argument type for %s.%s", xi.Name, xm.Name)
				}
				// Per the introspection DTD, method args with no
				// direction are inputs.
				if arg.Direction == "out" {
					md.Out = append(md.Out, ad)
				} else {
					md.In = append(md.In, ad)
				}
			}
			id.Methods = append(id.Methods, md)
		}
		for _, xs := range xi.Signals {
			sd := &SignalDescription{Name: xs.Name}
			for _, arg := range xs.Args {
				sd.Args = append(sd.Args, ArgumentDescription{Name: arg.Name, Type: arg.Type})
			}
			id.Signals = append(id.Signals, sd)
		}
		for _, xp := range xi.Properties {
			id.Properties = append(id.Properties, &PropertyDescription{
				Name:     xp.Name,
				Type:     xp.Type,
				Writable: xp.Access == "readwrite" || xp.Access == "write",
			})
		}
		ret.Interfaces[xi.Name] = id
	}
	for _, child := range node.Children {
		ret.Children = append(ret.Children, child.Name)
	}
	return ret, nil
}

// Describe returns the interface's description: its methods with
// their argument types, properties with their access flags, and
// signals with their argument types.
func (i *InterfaceInfo) Describe() *InterfaceDescription {
	ret := &InterfaceDescription{Name: i.name}
	for _, name := range slices.Sorted(maps.Keys(i.methods)) {
		m := i.methods[name]
		md := &MethodDescription{Name: name}
		for _, t := range m.in.Types() {
			md.In = append(md.In, ArgumentDescription{Type: t.String()})
		}
		for _, t := range m.out.Types() {
			md.Out = append(md.Out, ArgumentDescription{Type: t.String()})
		}
		ret.Methods = append(ret.Methods, md)
	}
	for _, name := range slices.Sorted(maps.Keys(i.signals)) {
		s := i.signals[name]
		sd := &SignalDescription{Name: name}
		for _, t := range s.args.Types() {
			sd.Args = append(sd.Args, ArgumentDescription{Type: t.String()})
		}
		ret.Signals = append(ret.Signals, sd)
	}
	for _, name := range slices.Sorted(maps.Keys(i.properties)) {
		p := i.properties[name]
		ret.Properties = append(ret.Properties, &PropertyDescription{
			Name:     name,
			Type:     p.typ.String(),
			Writable: p.writable(),
		})
	}
	return ret
}
