package sdbustest

import (
	"fmt"

	"github.com/allisonkarlitskaya/sdbus"
)

// A Message is an in-memory message: a header plus a flat token
// stream standing in for the aligned wire encoding. Values appended
// through the sdbus codec are stored in their canonical decoded form,
// so a round trip through a Message exercises everything except byte
// framing.
type Message struct {
	kind        sdbus.MessageKind
	serial      uint64
	replySerial uint64
	path        sdbus.ObjectPath
	iface       string
	member      string
	dest        string
	sender      string
	busErr      *sdbus.BusError

	sig       string
	toks      []token
	openDepth int

	pos       int
	readDepth int
}

type tokKind int

const (
	tokBasic tokKind = iota
	tokBytes
	tokOpen
	tokClose
)

type token struct {
	kind     tokKind
	code     byte   // basic type code, or container kind for tokOpen
	contents string // container contents for tokOpen
	v        any
}

func (m *Message) Kind() sdbus.MessageKind { return m.kind }
func (m *Message) Path() sdbus.ObjectPath { return m.path }
func (m *Message) Interface() string { return m.iface }
func (m *Message) Member() string { return m.member }
func (m *Message) Destination() string { return m.dest }
func (m *Message) Sender() string { return m.sender }
func (m *Message) Err() *sdbus.BusError { return m.busErr }
func (m *Message) Signature() string { return m.sig }

// Serial returns the message's serial number, assigned when the
// message is sent.
func (m *Message) Serial() uint64 { return m.serial }

// ReplySerial returns the serial of the call this message replies to,
// or zero.
func (m *Message) ReplySerial() uint64 { return m.replySerial }

func (m *Message) AppendBasic(code byte, v any) error {
	m.toks = append(m.toks, token{kind: tokBasic, code: code, v: v})
	if m.openDepth == 0 {
		m.sig += string(code)
	}
	return nil
}

func (m *Message) AppendBytes(b []byte) error {
	m.toks = append(m.toks, token{kind: tokBytes, v: b})
	if m.openDepth == 0 {
		m.sig += "ay"
	}
	return nil
}

func (m *Message) OpenContainer(kind byte, contents string) error {
	if m.openDepth == 0 {
		switch kind {
		case 'a':
			m.sig += "a" + contents
		case 'r':
			m.sig += "(" + contents + ")"
		case 'v':
			m.sig += "v"
		default:
			return fmt.Errorf("container %q at message top level", kind)
		}
	}
	m.toks = append(m.toks, token{kind: tokOpen, code: kind, contents: contents})
	m.openDepth++
	return nil
}

func (m *Message) CloseContainer() error {
	if m.openDepth == 0 {
		return fmt.Errorf("close with no open container")
	}
	m.toks = append(m.toks, token{kind: tokClose})
	m.openDepth--
	return nil
}

// atEnd reports whether the read cursor sits at the end of the
// current container, or of the whole body at top level.
func (m *Message) atEnd() bool {
	if m.pos >= len(m.toks) {
		return true
	}
	return m.toks[m.pos].kind == tokClose
}

func (m *Message) ReadBasic(code byte) (any, error) {
	if m.atEnd() {
		return nil, sdbus.ErrNoMoreItems
	}
	t := m.toks[m.pos]
	if t.kind != tokBasic || t.code != code {
		return nil, fmt.Errorf("reading %q: next value is %s", code, t)
	}
	m.pos++
	return t.v, nil
}

func (m *Message) ReadBytes() ([]byte, error) {
	if m.atEnd() {
		return nil, sdbus.ErrNoMoreItems
	}
	t := m.toks[m.pos]
	if t.kind != tokBytes {
		return nil, fmt.Errorf("reading byte array: next value is %s", t)
	}
	m.pos++
	return t.v.([]byte), nil
}

func (m *Message) EnterContainer(kind byte, contents string) error {
	if m.atEnd() {
		return sdbus.ErrNoMoreItems
	}
	t := m.toks[m.pos]
	if t.kind != tokOpen || t.code != kind {
		return fmt.Errorf("entering %q container: next value is %s", kind, t)
	}
	if contents != "" && t.contents != contents {
		return fmt.Errorf("entering %q container with contents %q, want %q", kind, t.contents, contents)
	}
	m.pos++
	m.readDepth++
	return nil
}

func (m *Message) ExitContainer() error {
	if m.readDepth == 0 {
		return fmt.Errorf("exit with no open container")
	}
	depth := 0
	for m.pos < len(m.toks) {
		t := m.toks[m.pos]
		m.pos++
		switch t.kind {
		case tokOpen:
			depth++
		case tokClose:
			if depth == 0 {
				m.readDepth--
				return nil
			}
			depth--
		}
	}
	return fmt.Errorf("unterminated container")
}

func (m *Message) PeekType() (byte, string, error) {
	if m.atEnd() {
		return 0, "", sdbus.ErrNoMoreItems
	}
	t := m.toks[m.pos]
	switch t.kind {
	case tokBasic:
		return t.code, "", nil
	case tokBytes:
		return 'a', "y", nil
	case tokOpen:
		return t.code, t.contents, nil
	}
	return 0, "", fmt.Errorf("peek at %s", t)
}

// clone returns a copy with a fresh read cursor. The token stream is
// shared; recipients must not append to a delivered message.
func (m *Message) clone() *Message {
	c := *m
	c.pos, c.readDepth = 0, 0
	return &c
}

func (m *Message) Rewind() error {
	m.pos, m.readDepth = 0, 0
	return nil
}

func (t token) String() string {
	switch t.kind {
	case tokBasic:
		return fmt.Sprintf("%q %v", t.code, t.v)
	case tokBytes:
		return fmt.Sprintf("byte array %v", t.v)
	case tokOpen:
		return fmt.Sprintf("%q container of %q", t.code, t.contents)
	case tokClose:
		return "container end"
	}
	return "unknown token"
}
