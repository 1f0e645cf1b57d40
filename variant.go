package sdbus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// A Variant pairs a value with its dynamic DBus type. It is the
// in-process representation of the wire type "v": reading a variant
// always produces a Variant, never a bare value, so the payload's
// exact type is never lost.
type Variant struct {
	Type  *Type
	Value any
}

// NewVariant returns a Variant whose type is inferred from the Go
// type of v.
func NewVariant(v any) (Variant, error) {
	t, err := TypeOf(v)
	if err != nil {
		return Variant{}, err
	}
	return Variant{Type: t, Value: v}, nil
}

// VariantFor returns a Variant of the type described by the given
// typestring.
func VariantFor(typestring string, v any) (Variant, error) {
	t, err := ParseType(typestring)
	if err != nil {
		return Variant{}, err
	}
	return Variant{Type: t, Value: v}, nil
}

func mustVariant(typestring string, v any) Variant {
	vv, err := VariantFor(typestring, v)
	if err != nil {
		panic(err)
	}
	return vv
}

func (v Variant) String() string {
	return fmt.Sprintf("Variant(%v, %q)", v.Value, v.Type)
}

// Equal reports whether two variants have the same type and equal
// values. Types are interned, so type equality is pointer equality.
func (v Variant) Equal(o Variant) bool {
	return v.Type == o.Type && reflect.DeepEqual(v.Value, o.Value)
}

// MarshalJSON encodes the variant as {"t": typestring, "v": value}.
// Byte arrays held as []byte render as base64 strings, matching the
// bytestring read convention.
func (v Variant) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		T string `json:"t"`
		V any    `json:"v"`
	}{v.Type.String(), v.Value})
}

// UnmarshalJSON decodes the {"t": ..., "v": ...} form. Numbers with
// no fractional part decode as int64 so that integer-typed variants
// survive a JSON round trip.
func (v *Variant) UnmarshalJSON(data []byte) error {
	var raw struct {
		T string          `json:"t"`
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := ParseType(raw.T)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw.V))
	dec.UseNumber()
	var val any
	if err := dec.Decode(&val); err != nil {
		return err
	}
	v.Type = t
	v.Value = normalizeJSON(val)
	return nil
}

// normalizeJSON rewrites json.Number leaves as int64 where exact,
// float64 otherwise.
func normalizeJSON(v any) any {
	switch vv := v.(type) {
	case json.Number:
		if i, err := vv.Int64(); err == nil {
			return i
		}
		f, _ := vv.Float64()
		return f
	case []any:
		for i := range vv {
			vv[i] = normalizeJSON(vv[i])
		}
		return vv
	case map[string]any:
		for k := range vv {
			vv[k] = normalizeJSON(vv[k])
		}
		return vv
	}
	return v
}
