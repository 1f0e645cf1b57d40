package sdbus

import (
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// TypeKind is the structural category of a DBus type.
type TypeKind int

const (
	// KindBasic is a non-container type: integers, double, boolean,
	// string, object path, or signature.
	KindBasic TypeKind = iota
	// KindArray is an array of one element type.
	KindArray
	// KindStruct is a fixed sequence of types.
	KindStruct
	// KindDict is an array of dict entries: a basic key type paired
	// with one value type.
	KindDict
	// KindVariant is a value carrying its own dynamic type.
	KindVariant
)

func (k TypeKind) String() string {
	switch k {
	case KindBasic:
		return "basic"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindDict:
		return "dict"
	case KindVariant:
		return "variant"
	}
	return fmt.Sprintf("TypeKind(%d)", int(k))
}

// A Type describes one DBus type, basic or container.
//
// Types are interned: any two descriptors for the same typestring are
// the same pointer, so descriptor equality is pointer equality. Each
// descriptor carries reader and writer functions specialized for its
// exact shape when the descriptor is first built, so encoding and
// decoding do no per-value type dispatch.
type Type struct {
	typestring string
	kind       TypeKind
	items      []*Type

	read  func(m Message) (any, error)
	write func(m Message, v any) error
}

// String returns the type's signature fragment, like "a{sv}".
func (t *Type) String() string { return t.typestring }

// Kind returns the type's structural category.
func (t *Type) Kind() TypeKind { return t.kind }

// Items returns the type's child types: nothing for basic types, the
// element type for arrays, the field types for structs, and the key
// and value types for dicts. The caller must not modify the returned
// slice.
func (t *Type) Items() []*Type { return t.items }

// Write appends v to m as a value of type t.
func (t *Type) Write(m Message, v any) error { return t.write(m, v) }

// Read consumes one value of type t from m.
//
// At the end of the enclosing container (or message body) Read
// returns [ErrNoMoreItems].
func (t *Type) Read(m Message) (any, error) { return t.read(m) }

var typeCache cache[string, *Type]

// ArrayOf returns the array type with the given element type.
//
// As a special case, an array of bytes is the bytestring type "ay",
// which reads and writes base64 text (see the package documentation).
func ArrayOf(elem *Type) *Type {
	if elem == basicTypes['y'] {
		return bytestringType
	}
	ts := "a" + elem.typestring
	if t, ok := typeCache.Get(ts); ok {
		return t
	}
	t := &Type{typestring: ts, kind: KindArray, items: []*Type{elem}}
	t.read = arrayReader(elem)
	t.write = arrayWriter(t, elem)
	return typeCache.Intern(ts, t)
}

// StructOf returns the struct type with the given field types.
// StructOf panics if no field types are given: empty structs do not
// exist in the wire format.
func StructOf(items ...*Type) *Type {
	if len(items) == 0 {
		panic("sdbus: struct type with no fields")
	}
	contents := joinTypestrings(items)
	ts := "(" + contents + ")"
	if t, ok := typeCache.Get(ts); ok {
		return t
	}
	t := &Type{typestring: ts, kind: KindStruct, items: items}
	t.read = structReader(t, contents)
	t.write = structWriter(t, contents)
	return typeCache.Intern(ts, t)
}

// DictOf returns the dictionary type with the given key and value
// types. DictOf panics if key is not a basic type.
func DictOf(key, val *Type) *Type {
	if key.kind != KindBasic {
		panic(fmt.Sprintf("sdbus: dict key type %q is not a basic type", key))
	}
	entry := "{" + key.typestring + val.typestring + "}"
	ts := "a" + entry
	if t, ok := typeCache.Get(ts); ok {
		return t
	}
	t := &Type{typestring: ts, kind: KindDict, items: []*Type{key, val}}
	t.read = dictReader(key, val)
	t.write = dictWriter(t, entry, key, val)
	return typeCache.Intern(ts, t)
}

func joinTypestrings(items []*Type) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it.typestring)
	}
	return b.String()
}

// Basic types.

var basicTypes = map[byte]*Type{}

func newBasicType(code byte, write func(m Message, v any) error) *Type {
	t := &Type{
		typestring: string(code),
		kind:       KindBasic,
		write:      write,
	}
	t.read = func(m Message) (any, error) { return m.ReadBasic(code) }
	basicTypes[code] = t
	return t
}

func boolWriter(m Message, v any) error {
	b, ok := v.(bool)
	if !ok {
		return typeErr(reflect.TypeOf(v), "type %q encodes bool", "b")
	}
	return m.AppendBasic('b', b)
}

func intWriter(code byte, min, max int64) func(m Message, v any) error {
	ts := string(code)
	return func(m Message, v any) error {
		i, ok := asInt64(v)
		if !ok {
			if _, uok := asUint64(v); uok {
				return RangeError{v, ts}
			}
			return typeErr(reflect.TypeOf(v), "type %q encodes an integer", ts)
		}
		if i < min || i > max {
			return RangeError{v, ts}
		}
		var cv any
		switch code {
		case 'y':
			cv = uint8(i)
		case 'n':
			cv = int16(i)
		case 'q':
			cv = uint16(i)
		case 'i':
			cv = int32(i)
		case 'u':
			cv = uint32(i)
		case 'x':
			cv = int64(i)
		}
		return m.AppendBasic(code, cv)
	}
}

func uint64Writer(m Message, v any) error {
	u, ok := asUint64(v)
	if !ok {
		if i, ok := asInt64(v); ok && i < 0 {
			return RangeError{v, "t"}
		}
		return typeErr(reflect.TypeOf(v), "type %q encodes an integer", "t")
	}
	return m.AppendBasic('t', u)
}

// doubleWriter accepts floats as-is, and integers only while they are
// exactly representable in the 53 significant bits of an IEEE double.
func doubleWriter(m Message, v any) error {
	const maxExact = int64(1) << 53
	switch f := v.(type) {
	case float64:
		return m.AppendBasic('d', f)
	case float32:
		return m.AppendBasic('d', float64(f))
	}
	if u, ok := asUint64(v); ok {
		if u > uint64(maxExact) {
			return RangeError{v, "d"}
		}
		return m.AppendBasic('d', float64(u))
	}
	if i, ok := asInt64(v); ok {
		if i < -maxExact {
			return RangeError{v, "d"}
		}
		return m.AppendBasic('d', float64(i))
	}
	return typeErr(reflect.TypeOf(v), "type %q encodes a number", "d")
}

func stringWriter(code byte, guard func(string) bool) func(m Message, v any) error {
	ts := string(code)
	return func(m Message, v any) error {
		var s string
		switch sv := v.(type) {
		case string:
			s = sv
		case ObjectPath:
			s = string(sv)
		default:
			return typeErr(reflect.TypeOf(v), "type %q encodes string", ts)
		}
		if guard != nil && !guard(s) {
			return ValueError{ts, fmt.Sprintf("%q fails validation", s)}
		}
		if code == 'o' {
			return m.AppendBasic(code, ObjectPath(s))
		}
		return m.AppendBasic(code, s)
	}
}

var (
	byteType       = newBasicType('y', intWriter('y', 0, math.MaxUint8))
	boolType       = newBasicType('b', boolWriter)
	int16Type      = newBasicType('n', intWriter('n', math.MinInt16, math.MaxInt16))
	uint16Type     = newBasicType('q', intWriter('q', 0, math.MaxUint16))
	int32Type      = newBasicType('i', intWriter('i', math.MinInt32, math.MaxInt32))
	uint32Type     = newBasicType('u', intWriter('u', 0, math.MaxUint32))
	int64Type      = newBasicType('x', intWriter('x', math.MinInt64, math.MaxInt64))
	uint64Type     = newBasicType('t', uint64Writer)
	doubleType     = newBasicType('d', doubleWriter)
	stringType     = newBasicType('s', stringWriter('s', nil))
	objectPathType = newBasicType('o', stringWriter('o', IsObjectPath))
	signatureType  = newBasicType('g', stringWriter('g', IsSignature))
)

// Bytestring: "ay" as a whole type, with base64 text as the in-process
// representation of unknown binary data.

var bytestringType = func() *Type {
	t := &Type{typestring: "ay", kind: KindArray, items: []*Type{byteType}}
	t.read = func(m Message) (any, error) {
		bs, err := m.ReadBytes()
		if err != nil {
			return nil, err
		}
		return base64.StdEncoding.EncodeToString(bs), nil
	}
	t.write = func(m Message, v any) error {
		switch bv := v.(type) {
		case []byte:
			return m.AppendBytes(bv)
		case string:
			bs, err := base64.StdEncoding.DecodeString(bv)
			if err != nil {
				return ValueError{"ay", "invalid base64 string"}
			}
			return m.AppendBytes(bs)
		}
		return typeErr(reflect.TypeOf(v), "type %q encodes bytes or a base64 string", "ay")
	}
	return typeCache.Intern("ay", t)
}()

// Variant.

// variantReader references ParseType, which references variantType through
// the parser, so the codec functions are wired in init rather than in the
// declaration.
var variantType = &Type{typestring: "v", kind: KindVariant}

func init() {
	variantType.read = variantReader
	variantType.write = variantWriter
	typeCache.Intern("v", variantType)
}

func variantReader(m Message) (any, error) {
	code, contents, err := m.PeekType()
	if err != nil {
		return nil, err
	}
	if code != 'v' {
		return nil, fmt.Errorf("expected variant, found type %q", string(code))
	}
	payload, err := ParseType(contents)
	if err != nil {
		return nil, fmt.Errorf("reading variant payload type: %w", err)
	}
	if err := m.EnterContainer('v', contents); err != nil {
		return nil, err
	}
	v, err := payload.read(m)
	if err != nil {
		return nil, fmt.Errorf("reading variant payload (signature %q): %w", contents, err)
	}
	if err := m.ExitContainer(); err != nil {
		return nil, err
	}
	return Variant{Type: payload, Value: v}, nil
}

func variantWriter(m Message, v any) error {
	var (
		payload *Type
		inner   any
	)
	switch vv := v.(type) {
	case Variant:
		payload, inner = vv.Type, vv.Value
	case *Variant:
		payload, inner = vv.Type, vv.Value
	case map[string]any:
		// The JSON-friendly {"t": ..., "v": ...} form.
		ts, ok := vv["t"].(string)
		if !ok {
			return typeErr(reflect.TypeOf(v), "type %q encodes a Variant, or a map with %q and %q keys", "v", "t", "v")
		}
		var err error
		if payload, err = ParseType(ts); err != nil {
			return err
		}
		inner = vv["v"]
	default:
		return typeErr(reflect.TypeOf(v), "type %q encodes a Variant, or a map with %q and %q keys", "v", "t", "v")
	}
	if payload == nil {
		return typeErr(reflect.TypeOf(v), "variant with no payload type")
	}
	if err := m.OpenContainer('v', payload.typestring); err != nil {
		return err
	}
	if err := payload.write(m, inner); err != nil {
		return err
	}
	return m.CloseContainer()
}

// Containers.

func arrayReader(elem *Type) func(m Message) (any, error) {
	contents := elem.typestring
	return func(m Message) (any, error) {
		if err := m.EnterContainer('a', contents); err != nil {
			return nil, err
		}
		ret := []any{}
		for {
			v, err := elem.read(m)
			if err == ErrNoMoreItems {
				break
			}
			if err != nil {
				return nil, err
			}
			ret = append(ret, v)
		}
		if err := m.ExitContainer(); err != nil {
			return nil, err
		}
		return ret, nil
	}
}

func arrayWriter(t *Type, elem *Type) func(m Message, v any) error {
	contents := elem.typestring
	return func(m Message, v any) error {
		rv := reflect.ValueOf(v)
		if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return typeErr(reflect.TypeOf(v), "type %q encodes a slice or array", t)
		}
		if err := m.OpenContainer('a', contents); err != nil {
			return err
		}
		for i := range rv.Len() {
			if err := elem.write(m, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return m.CloseContainer()
	}
}

func structReader(t *Type, contents string) func(m Message) (any, error) {
	items := t.items
	return func(m Message) (any, error) {
		if err := m.EnterContainer('r', contents); err != nil {
			return nil, err
		}
		ret := make([]any, len(items))
		for i, item := range items {
			v, err := item.read(m)
			if err != nil {
				return nil, err
			}
			ret[i] = v
		}
		if err := m.ExitContainer(); err != nil {
			return nil, err
		}
		return ret, nil
	}
}

func structWriter(t *Type, contents string) func(m Message, v any) error {
	items := t.items
	return func(m Message, v any) error {
		rv := reflect.ValueOf(v)
		if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return typeErr(reflect.TypeOf(v), "type %q encodes a slice or array of field values", t)
		}
		if rv.Len() != len(items) {
			return ShapeError{t.typestring, len(items), rv.Len()}
		}
		if err := m.OpenContainer('r', contents); err != nil {
			return err
		}
		for i, item := range items {
			if err := item.write(m, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return m.CloseContainer()
	}
}

func dictReader(key, val *Type) func(m Message) (any, error) {
	entry := "{" + key.typestring + val.typestring + "}"
	entryContents := key.typestring + val.typestring
	stringKeys := strings.Contains("sog", key.typestring)
	return func(m Message) (any, error) {
		if err := m.EnterContainer('a', entry); err != nil {
			return nil, err
		}
		var (
			strMap map[string]any
			anyMap map[any]any
		)
		if stringKeys {
			strMap = map[string]any{}
		} else {
			anyMap = map[any]any{}
		}
		for {
			err := m.EnterContainer('e', entryContents)
			if err == ErrNoMoreItems {
				break
			}
			if err != nil {
				return nil, err
			}
			k, err := key.read(m)
			if err != nil {
				return nil, err
			}
			v, err := val.read(m)
			if err != nil {
				return nil, err
			}
			if err := m.ExitContainer(); err != nil {
				return nil, err
			}
			if stringKeys {
				switch ks := k.(type) {
				case string:
					strMap[ks] = v
				case ObjectPath:
					strMap[string(ks)] = v
				}
			} else {
				anyMap[k] = v
			}
		}
		if err := m.ExitContainer(); err != nil {
			return nil, err
		}
		if stringKeys {
			return strMap, nil
		}
		return anyMap, nil
	}
}

func dictWriter(t *Type, entry string, key, val *Type) func(m Message, v any) error {
	entryContents := key.typestring + val.typestring
	return func(m Message, v any) error {
		rv := reflect.ValueOf(v)
		if !rv.IsValid() || rv.Kind() != reflect.Map {
			return typeErr(reflect.TypeOf(v), "type %q encodes a map", t)
		}
		if err := m.OpenContainer('a', entry); err != nil {
			return err
		}
		iter := rv.MapRange()
		for iter.Next() {
			if err := m.OpenContainer('e', entryContents); err != nil {
				return err
			}
			if err := key.write(m, iter.Key().Interface()); err != nil {
				return err
			}
			if err := val.write(m, iter.Value().Interface()); err != nil {
				return err
			}
			if err := m.CloseContainer(); err != nil {
				return err
			}
		}
		return m.CloseContainer()
	}
}

// Numeric conversions. Only integer kinds convert; passing a float or
// bool where an integer type is expected is a TypeError, not a silent
// coercion.

func asInt64(v any) (int64, bool) {
	switch i := v.(type) {
	case int:
		return int64(i), true
	case int8:
		return int64(i), true
	case int16:
		return int64(i), true
	case int32:
		return int64(i), true
	case int64:
		return i, true
	case uint:
		if uint64(i) > math.MaxInt64 {
			return 0, false
		}
		return int64(i), true
	case uint8:
		return int64(i), true
	case uint16:
		return int64(i), true
	case uint32:
		return int64(i), true
	case uint64:
		if i > math.MaxInt64 {
			return 0, false
		}
		return int64(i), true
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	switch i := v.(type) {
	case uint:
		return uint64(i), true
	case uint8:
		return uint64(i), true
	case uint16:
		return uint64(i), true
	case uint32:
		return uint64(i), true
	case uint64:
		return i, true
	}
	if i, ok := asInt64(v); ok && i >= 0 {
		return uint64(i), true
	}
	return 0, false
}
