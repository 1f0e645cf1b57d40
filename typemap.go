package sdbus

import (
	"reflect"
	"slices"

	"github.com/creachadair/mds/mapset"
)

// Mapping from Go types to DBus type descriptors, for the places
// where a type must be inferred from a value rather than declared by
// signature: Variant construction and interface definitions expressed
// with Go types.

var (
	// kindToType maps the reflect.Kinds of the basic types
	// representable by DBus to their descriptors. Go's plain int
	// maps to int32, following the host equivalence convention
	// (bool to 'b', []byte to "ay", int to 'i', string to 's').
	kindToType = map[reflect.Kind]*Type{
		reflect.Bool:    boolType,
		reflect.Uint8:   byteType,
		reflect.Int16:   int16Type,
		reflect.Uint16:  uint16Type,
		reflect.Int32:   int32Type,
		reflect.Int:     int32Type,
		reflect.Uint32:  uint32Type,
		reflect.Int64:   int64Type,
		reflect.Uint64:  uint64Type,
		reflect.Float64: doubleType,
		reflect.String:  stringType,
	}

	// mapKeyKinds is the set of reflect.Kinds usable as a dict key.
	mapKeyKinds = mapset.New(
		reflect.Bool,
		reflect.Uint8,
		reflect.Int16,
		reflect.Uint16,
		reflect.Int32,
		reflect.Int,
		reflect.Uint32,
		reflect.Int64,
		reflect.Uint64,
		reflect.Float64,
		reflect.String,
	)
)

var goTypeCache cache[reflect.Type, *Type]

// TypeOf returns the DBus type descriptor for the given value's Go
// type.
func TypeOf(v any) (*Type, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil, typeErr(nil, "nil interface")
	}
	return TypeFor(t)
}

// TypeFor returns the DBus type descriptor for the given Go type.
//
// Types with no DBus equivalent (channels, functions, unparameterized
// interfaces other than any, maps with non-basic keys, recursive
// types) return a TypeError.
func TypeFor(t reflect.Type) (*Type, error) {
	return typeFor(t, nil)
}

func typeFor(t reflect.Type, stack []reflect.Type) (*Type, error) {
	if ret, ok := goTypeCache.Get(t); ok {
		return ret, nil
	}
	if slices.Contains(stack, t) {
		return nil, typeErr(t, "recursive type")
	}
	stack = append(stack, t)

	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t {
	case reflect.TypeFor[Variant]():
		return variantType, nil
	case reflect.TypeFor[ObjectPath]():
		return objectPathType, nil
	case reflect.TypeFor[any]():
		return variantType, nil
	}

	if ret, ok := kindToType[t.Kind()]; ok {
		return goTypeCache.Intern(t, ret), nil
	}

	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		elem, err := typeFor(t.Elem(), stack)
		if err != nil {
			return nil, err
		}
		return goTypeCache.Intern(t, ArrayOf(elem)), nil
	case reflect.Map:
		if !mapKeyKinds.Has(t.Key().Kind()) {
			return nil, typeErr(t, "map key type %s is not a dbus basic type", t.Key())
		}
		key, err := typeFor(t.Key(), stack)
		if err != nil {
			return nil, err
		}
		val, err := typeFor(t.Elem(), stack)
		if err != nil {
			return nil, err
		}
		return goTypeCache.Intern(t, DictOf(key, val)), nil
	case reflect.Struct:
		var items []*Type
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			ft, err := typeFor(f.Type, stack)
			if err != nil {
				return nil, err
			}
			items = append(items, ft)
		}
		if len(items) == 0 {
			return nil, typeErr(t, "struct with no exported fields")
		}
		return goTypeCache.Intern(t, StructOf(items...)), nil
	}

	return nil, typeErr(t, "no mapping available")
}
