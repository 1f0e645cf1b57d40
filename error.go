package sdbus

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrNoMoreItems is the sentinel returned by a [Message]'s read
// methods when the current container (or the message body itself) has
// no further values. It is distinct from every other read failure:
// container readers rely on it to detect the end of an array without
// guessing at the meaning of generic errors.
var ErrNoMoreItems = errors.New("no more items in container")

// SignatureError is the error returned when a type signature string
// is malformed.
type SignatureError struct {
	// Signature is the offending signature fragment.
	Signature string
	// Reason is an explanation of why the signature is invalid.
	Reason string
}

func (e SignatureError) Error() string {
	return fmt.Sprintf("invalid type signature %q: %s", e.Signature, e.Reason)
}

func sigErr(sig string, reason string, args ...any) error {
	return SignatureError{sig, fmt.Sprintf(reason, args...)}
}

// TypeError is the error returned when a Go type cannot be mapped to
// a DBus type.
type TypeError struct {
	// Type is the name of the type that caused the error.
	Type string
	// Reason is an explanation of why the type isn't representable
	// by DBus.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("sdbus cannot represent %s: %s", e.Type, e.Reason)
}

func (e TypeError) Unwrap() error {
	return e.Reason
}

func typeErr(t reflect.Type, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, fmt.Errorf(reason, args...)}
}

// RangeError is the error returned when a numeric value does not fit
// the wire type it is being written as.
type RangeError struct {
	// Value is the value that was supplied.
	Value any
	// Typestring is the wire type the value was written as.
	Typestring string
}

func (e RangeError) Error() string {
	return fmt.Sprintf("cannot represent value %v with type %q", e.Value, e.Typestring)
}

// ValueError is the error returned when a value fails lexical
// validation for its wire type, for example a malformed object path
// or invalid base64 text for a byte array.
type ValueError struct {
	// Typestring is the wire type the value was written as.
	Typestring string
	// Reason is an explanation of why the value is invalid.
	Reason string
}

func (e ValueError) Error() string {
	return fmt.Sprintf("invalid value for type %q: %s", e.Typestring, e.Reason)
}

// ShapeError is the error returned when the number of values supplied
// or received does not match the declared signature, for example a
// 2-tuple written as a 3-element struct.
type ShapeError struct {
	// Typestring is the signature the values were checked against.
	Typestring string
	// Want and Got are the expected and actual value counts.
	Want, Got int
}

func (e ShapeError) Error() string {
	return fmt.Sprintf("wrong number of values for type %q: got %d, want %d", e.Typestring, e.Got, e.Want)
}

// BusError is a DBus error message, identified by a dot-separated
// error name.
//
// Method handlers return a *BusError to send an error reply to the
// calling peer. Failed method calls surface the peer's error reply to
// the caller as a *BusError.
type BusError struct {
	// Name is the error name, like org.freedesktop.DBus.Error.Failed.
	Name string
	// Message is the human-readable explanation of what went wrong.
	Message string
}

func (e *BusError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Errorf returns a *BusError with the given name and formatted
// message.
func Errorf(name, format string, args ...any) *BusError {
	return &BusError{Name: name, Message: fmt.Sprintf(format, args...)}
}
