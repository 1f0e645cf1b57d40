package sdbus

// A Message is a single DBus message, received from or to be sent
// over a bus connection.
//
// The interface covers exactly what the marshaling layer needs: typed
// append and read of single basic values, begin/end markers for
// containers, a non-consuming peek, rewind, and the header fields
// used for routing. The byte-level wire encoding behind these
// operations (endianness, alignment padding) belongs to the
// implementation; see the sdbustest package for an in-memory one.
//
// The read methods return [ErrNoMoreItems], and nothing else, when
// the current container or the message body is exhausted. Any other
// error means the read itself failed.
type Message interface {
	// Kind reports whether the message is a method call, a method
	// return, an error reply, or a signal.
	Kind() MessageKind
	// Path is the object path the message concerns.
	Path() ObjectPath
	// Interface and Member name the method or signal.
	Interface() string
	Member() string
	// Destination and Sender are bus names, possibly empty.
	Destination() string
	Sender() string
	// Err returns the error carried by an error reply, or nil.
	Err() *BusError

	// Signature returns the complete signature of the message body.
	Signature() string

	// AppendBasic appends a single basic value tagged by its wire
	// type character. The value must be in its canonical form for
	// the type (int32 for 'i', string for 's', and so on); the
	// [Type] writers take care of conversion and validation.
	AppendBasic(code byte, v any) error
	// AppendBytes appends a complete byte array in one call.
	AppendBytes(b []byte) error
	// OpenContainer begins writing a container: 'a' for arrays,
	// 'r' for structs, 'e' for dict entries, 'v' for variants.
	// contents is the typestring of the container's contents.
	OpenContainer(kind byte, contents string) error
	// CloseContainer ends the most recently opened container.
	CloseContainer() error

	// ReadBasic consumes a single basic value tagged by its wire
	// type character.
	ReadBasic(code byte) (any, error)
	// ReadBytes consumes a complete byte array in one call.
	ReadBytes() ([]byte, error)
	// EnterContainer begins reading a container of the given kind.
	// An empty contents string matches any container contents.
	EnterContainer(kind byte, contents string) error
	// ExitContainer finishes reading the current container,
	// skipping any unconsumed values.
	ExitContainer() error
	// PeekType reports the wire type of the next value without
	// consuming it. For containers, contents is the typestring of
	// the container's contents.
	PeekType() (code byte, contents string, err error)
	// Rewind resets reading to the start of the body.
	Rewind() error
}

// MessageKind identifies the role of a message.
type MessageKind int

const (
	MsgMethodCall MessageKind = iota + 1
	MsgMethodReturn
	MsgError
	MsgSignal
)

func (k MessageKind) String() string {
	switch k {
	case MsgMethodCall:
		return "method_call"
	case MsgMethodReturn:
		return "method_return"
	case MsgError:
		return "error"
	case MsgSignal:
		return "signal"
	}
	return "unknown"
}

// A MessageType describes a complete message body as an ordered list
// of top-level types. Its signature is the concatenation of the item
// typestrings.
type MessageType struct {
	items []*Type
	sig   string
}

// NewMessageType builds a MessageType from one typestring per body
// value.
func NewMessageType(typestrings ...string) (*MessageType, error) {
	items := make([]*Type, len(typestrings))
	for i, ts := range typestrings {
		t, err := ParseType(ts)
		if err != nil {
			return nil, err
		}
		items[i] = t
	}
	return &MessageType{items: items, sig: joinTypestrings(items)}, nil
}

// MessageTypeFor builds a MessageType from a complete body signature.
func MessageTypeFor(sig string) (*MessageType, error) {
	items, err := ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	return &MessageType{items: items, sig: sig}, nil
}

func mustMessageType(typestrings ...string) *MessageType {
	mt, err := NewMessageType(typestrings...)
	if err != nil {
		panic(err)
	}
	return mt
}

// Signature returns the concatenated signature of the body.
func (mt *MessageType) Signature() string { return mt.sig }

// Types returns the top-level type of each body value. The caller
// must not modify the returned slice.
func (mt *MessageType) Types() []*Type { return mt.items }

// Len returns the number of body values.
func (mt *MessageType) Len() int { return len(mt.items) }

// Append writes one value per item type to m, in order.
func (mt *MessageType) Append(m Message, values ...any) error {
	if len(values) != len(mt.items) {
		return ShapeError{mt.sig, len(mt.items), len(values)}
	}
	for i, t := range mt.items {
		if err := t.Write(m, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Read rewinds m and consumes its complete body.
//
// If the body's signature is not exactly mt's signature, Read reports
// no match (false) without error, so callers can probe a message
// against several possible types without treating mismatches as
// failures. An error is returned only when a value fails to decode.
func (mt *MessageType) Read(m Message) ([]any, bool, error) {
	if m.Signature() != mt.sig {
		return nil, false, nil
	}
	if err := m.Rewind(); err != nil {
		return nil, false, err
	}
	ret := make([]any, len(mt.items))
	for i, t := range mt.items {
		v, err := t.Read(m)
		if err != nil {
			return nil, false, err
		}
		ret[i] = v
	}
	return ret, true, nil
}

// ReadBody decodes the full body of m using its declared signature.
func ReadBody(m Message) ([]any, error) {
	mt, err := MessageTypeFor(m.Signature())
	if err != nil {
		return nil, err
	}
	vals, _, err := mt.Read(m)
	return vals, err
}
