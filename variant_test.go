package sdbus

import (
	"encoding/json"
	"testing"
)

func TestVariantJSON(t *testing.T) {
	tests := []struct {
		in   Variant
		want string
	}{
		{mustVariant("i", int32(42)), `{"t":"i","v":42}`},
		{mustVariant("s", "hello"), `{"t":"s","v":"hello"}`},
		{mustVariant("b", true), `{"t":"b","v":true}`},
		{mustVariant("d", 2.5), `{"t":"d","v":2.5}`},
		{mustVariant("ay", []byte{1, 2, 3}), `{"t":"ay","v":"AQID"}`},
		{mustVariant("as", []any{"a", "b"}), `{"t":"as","v":["a","b"]}`},
		{mustVariant("a{sx}", map[string]any{"n": int64(1)}), `{"t":"a{sx}","v":{"n":1}}`},
	}

	for _, tc := range tests {
		bs, err := json.Marshal(tc.in)
		if err != nil {
			t.Errorf("Marshal(%v) got err %v", tc.in, err)
			continue
		}
		if string(bs) != tc.want {
			t.Errorf("Marshal(%v) = %s, want %s", tc.in, bs, tc.want)
		}

		var back Variant
		if err := json.Unmarshal(bs, &back); err != nil {
			t.Errorf("Unmarshal(%s) got err %v", bs, err)
			continue
		}
		if back.Type != tc.in.Type {
			t.Errorf("Unmarshal(%s) type = %q, want %q", bs, back.Type, tc.in.Type)
		}
	}
}

func TestVariantUnmarshalNumbers(t *testing.T) {
	var v Variant
	if err := json.Unmarshal([]byte(`{"t":"x","v":9007199254740993}`), &v); err != nil {
		t.Fatal(err)
	}
	if got, ok := v.Value.(int64); !ok || got != 9007199254740993 {
		t.Errorf("integer value decoded as %T %v, want int64 9007199254740993", v.Value, v.Value)
	}

	if err := json.Unmarshal([]byte(`{"t":"d","v":0.5}`), &v); err != nil {
		t.Fatal(err)
	}
	if got, ok := v.Value.(float64); !ok || got != 0.5 {
		t.Errorf("fractional value decoded as %T %v, want float64 0.5", v.Value, v.Value)
	}
}

func TestVariantUnmarshalBadType(t *testing.T) {
	var v Variant
	if err := json.Unmarshal([]byte(`{"t":"zz","v":1}`), &v); err == nil {
		t.Error("Unmarshal with invalid typestring succeeded")
	}
}

func TestVariantEqual(t *testing.T) {
	a := mustVariant("i", int32(1))
	b := mustVariant("i", int32(1))
	c := mustVariant("i", int32(2))
	d := mustVariant("u", uint32(1))
	if !a.Equal(b) {
		t.Error("equal variants reported unequal")
	}
	if a.Equal(c) {
		t.Error("variants with different values reported equal")
	}
	if a.Equal(d) {
		t.Error("variants with different types reported equal")
	}
}

func TestNewVariant(t *testing.T) {
	v, err := NewVariant(int16(7))
	if err != nil {
		t.Fatal(err)
	}
	if v.Type.String() != "n" {
		t.Errorf("NewVariant(int16) type = %q, want n", v.Type)
	}
	if _, err := NewVariant(func() {}); err == nil {
		t.Error("NewVariant(func) succeeded")
	}
}
