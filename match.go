package sdbus

import (
	"fmt"
	"strings"

	"github.com/creachadair/mds/value"
)

// A Match is a filter that selects signals of interest.
//
// A zero match (from [MatchAllSignals]) matches every signal; each
// builder method narrows it. Matches serialize to the canonical bus
// match-rule string, and can also be evaluated locally against a
// message.
type Match struct {
	sender       value.Maybe[string]
	object       value.Maybe[ObjectPath]
	objectPrefix value.Maybe[ObjectPath]
	iface        value.Maybe[string]
	member       value.Maybe[string]
}

// MatchAllSignals returns a match for all signals.
func MatchAllSignals() *Match {
	return &Match{}
}

// MatchSignal returns a match for one specific signal.
func MatchSignal(iface, member string) *Match {
	return &Match{
		iface:  value.Just(iface),
		member: value.Just(member),
	}
}

// Sender restricts the match to signals from the given bus name.
func (m *Match) Sender(name string) *Match {
	m.sender = value.Just(name)
	return m
}

// Object restricts the match to signals emitted from the given path.
func (m *Match) Object(path ObjectPath) *Match {
	m.objectPrefix = value.Absent[ObjectPath]()
	m.object = value.Just(path)
	return m
}

// ObjectPrefix restricts the match to signals emitted from the given
// path or any path below it.
func (m *Match) ObjectPrefix(path ObjectPath) *Match {
	m.object = value.Absent[ObjectPath]()
	m.objectPrefix = value.Just(path)
	return m
}

// String returns the match in the rule format that buses accept for
// AddMatch.
func (m *Match) String() string {
	ms := []string{"type='signal'"}
	kv := func(k, v string) {
		ms = append(ms, fmt.Sprintf("%s='%s'", k, v))
	}
	if s, ok := m.sender.GetOK(); ok {
		kv("sender", s)
	}
	if o, ok := m.object.GetOK(); ok {
		kv("path", o.String())
	}
	if p, ok := m.objectPrefix.GetOK(); ok {
		kv("path_namespace", p.String())
	}
	if i, ok := m.iface.GetOK(); ok {
		kv("interface", i)
	}
	if mb, ok := m.member.GetOK(); ok {
		kv("member", mb)
	}
	return strings.Join(ms, ",")
}

// Matches reports whether msg is a signal selected by the match.
func (m *Match) Matches(msg Message) bool {
	if msg.Kind() != MsgSignal {
		return false
	}
	if s, ok := m.sender.GetOK(); ok && msg.Sender() != s {
		return false
	}
	if o, ok := m.object.GetOK(); ok && msg.Path() != o {
		return false
	}
	if p, ok := m.objectPrefix.GetOK(); ok {
		mp := string(msg.Path())
		pp := string(p)
		if mp != pp && !strings.HasPrefix(mp, pp+"/") {
			return false
		}
	}
	if i, ok := m.iface.GetOK(); ok && msg.Interface() != i {
		return false
	}
	if mb, ok := m.member.GetOK(); ok && msg.Member() != mb {
		return false
	}
	return true
}
