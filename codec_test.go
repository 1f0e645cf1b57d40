package sdbus_test

import (
	"errors"
	"math"
	"testing"

	"github.com/allisonkarlitskaya/sdbus"
	"github.com/allisonkarlitskaya/sdbus/sdbustest"
	"github.com/google/go-cmp/cmp"
)

// Descriptor types are interned, so identity is equality.
var typeCmp = cmp.Comparer(func(a, b *sdbus.Type) bool { return a == b })

func mustV(t *testing.T, typestring string, v any) sdbus.Variant {
	t.Helper()
	vv, err := sdbus.VariantFor(typestring, v)
	if err != nil {
		t.Fatalf("VariantFor(%q): %v", typestring, err)
	}
	return vv
}

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		sig  string
		in   []any
		want []any
	}{
		{"y", []any{7}, []any{uint8(7)}},
		{"y", []any{0}, []any{uint8(0)}},
		{"y", []any{255}, []any{uint8(255)}},
		{"b", []any{true}, []any{true}},
		{"n", []any{-5}, []any{int16(-5)}},
		{"n", []any{math.MinInt16}, []any{int16(math.MinInt16)}},
		{"n", []any{math.MaxInt16}, []any{int16(math.MaxInt16)}},
		{"q", []any{5}, []any{uint16(5)}},
		{"q", []any{math.MaxUint16}, []any{uint16(math.MaxUint16)}},
		{"i", []any{int64(-70000)}, []any{int32(-70000)}},
		{"i", []any{math.MinInt32}, []any{int32(math.MinInt32)}},
		{"i", []any{math.MaxInt32}, []any{int32(math.MaxInt32)}},
		{"u", []any{70000}, []any{uint32(70000)}},
		{"u", []any{uint32(math.MaxUint32)}, []any{uint32(math.MaxUint32)}},
		{"x", []any{int32(-1)}, []any{int64(-1)}},
		{"x", []any{int64(math.MinInt64)}, []any{int64(math.MinInt64)}},
		{"x", []any{int64(math.MaxInt64)}, []any{int64(math.MaxInt64)}},
		{"t", []any{uint64(1) << 63}, []any{uint64(1) << 63}},
		{"t", []any{uint64(math.MaxUint64)}, []any{uint64(math.MaxUint64)}},
		{"d", []any{2.5}, []any{2.5}},
		{"d", []any{3}, []any{3.0}},
		{"s", []any{"hello"}, []any{"hello"}},
		{"o", []any{sdbus.ObjectPath("/a/b")}, []any{sdbus.ObjectPath("/a/b")}},
		{"o", []any{"/a/b"}, []any{sdbus.ObjectPath("/a/b")}},
		{"g", []any{"a{sv}"}, []any{"a{sv}"}},

		{"ii", []any{1, 2}, []any{int32(1), int32(2)}},

		{"ay", []any{[]byte{1, 2, 3}}, []any{"AQID"}},
		{"ay", []any{"AQID"}, []any{"AQID"}},
		{"as", []any{[]string{"a", "b"}}, []any{[]any{"a", "b"}}},
		{"as", []any{[]any{}}, []any{[]any{}}},
		{"ai", []any{[]int{1, 2, 3}}, []any{[]any{int32(1), int32(2), int32(3)}}},
		{"aas", []any{[][]string{{"x"}, {}}}, []any{[]any{[]any{"x"}, []any{}}}},

		{"(nb)", []any{[]any{1, true}}, []any{[]any{int16(1), true}}},
		{"(y(nb))", []any{[]any{2, []any{3, false}}},
			[]any{[]any{uint8(2), []any{int16(3), false}}}},
		{"a(ii)", []any{[]any{[]any{1, 2}}}, []any{[]any{[]any{int32(1), int32(2)}}}},

		{"a{sx}", []any{map[string]int64{"n": 9}}, []any{map[string]any{"n": int64(9)}}},
		{"a{yb}", []any{map[string]any{}}, []any{map[any]any{}}},
	}

	for _, tc := range tests {
		t.Run(tc.sig, func(t *testing.T) {
			mt, err := sdbus.MessageTypeFor(tc.sig)
			if err != nil {
				t.Fatalf("MessageTypeFor(%q): %v", tc.sig, err)
			}
			msg := &sdbustest.Message{}
			if err := mt.Append(msg, tc.in...); err != nil {
				t.Fatalf("Append(%v): %v", tc.in, err)
			}
			if msg.Signature() != tc.sig {
				t.Errorf("appended signature = %q, want %q", msg.Signature(), tc.sig)
			}
			got, ok, err := mt.Read(msg)
			if err != nil || !ok {
				t.Fatalf("Read: ok=%v err=%v", ok, err)
			}
			if diff := cmp.Diff(tc.want, got, typeCmp); diff != "" {
				t.Errorf("round trip of %v (%s) differs (-want +got):\n%s", tc.in, tc.sig, diff)
			}
		})
	}
}

func TestCodecVariants(t *testing.T) {
	mt, err := sdbus.MessageTypeFor("v")
	if err != nil {
		t.Fatal(err)
	}
	want := mustV(t, "i", int32(42))
	msg := &sdbustest.Message{}
	if err := mt.Append(msg, want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := mt.Read(msg)
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	gotV, isVariant := got[0].(sdbus.Variant)
	if !isVariant {
		t.Fatalf("reading v produced %T, want Variant", got[0])
	}
	if !gotV.Equal(want) {
		t.Errorf("round trip = %v, want %v", gotV, want)
	}
}

func TestCodecVardict(t *testing.T) {
	mt, err := sdbus.MessageTypeFor("a{sv}")
	if err != nil {
		t.Fatal(err)
	}
	in := map[string]any{
		"answer": mustV(t, "i", int32(42)),
		"name":   mustV(t, "s", "amanda"),
		"list":   mustV(t, "as", []any{"x", "y"}),
	}
	msg := &sdbustest.Message{}
	if err := mt.Append(msg, in); err != nil {
		t.Fatal(err)
	}
	got, ok, err := mt.Read(msg)
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	want := []any{map[string]any{
		"answer": mustV(t, "i", int32(42)),
		"name":   mustV(t, "s", "amanda"),
		"list":   mustV(t, "as", []any{"x", "y"}),
	}}
	if diff := cmp.Diff(want, got, typeCmp); diff != "" {
		t.Errorf("vardict round trip differs (-want +got):\n%s", diff)
	}
}

func TestCodecErrors(t *testing.T) {
	tests := []struct {
		sig  string
		in   any
		want error
	}{
		{"y", 300, sdbus.RangeError{Value: 300, Typestring: "y"}},
		{"y", -1, sdbus.RangeError{Value: -1, Typestring: "y"}},
		{"n", 1 << 20, sdbus.RangeError{Value: 1 << 20, Typestring: "n"}},
		{"n", math.MinInt16 - 1, sdbus.RangeError{Value: math.MinInt16 - 1, Typestring: "n"}},
		{"q", math.MaxUint16 + 1, sdbus.RangeError{Value: math.MaxUint16 + 1, Typestring: "q"}},
		{"q", -1, sdbus.RangeError{Value: -1, Typestring: "q"}},
		{"u", -1, sdbus.RangeError{Value: -1, Typestring: "u"}},
		{"u", uint64(math.MaxUint32) + 1, sdbus.RangeError{Value: uint64(math.MaxUint32) + 1, Typestring: "u"}},
		{"x", uint64(1) << 63, sdbus.RangeError{Value: uint64(1) << 63, Typestring: "x"}},
		{"i", uint64(1) << 40, sdbus.RangeError{Value: uint64(1) << 40, Typestring: "i"}},
		{"t", -1, sdbus.RangeError{Value: -1, Typestring: "t"}},
		{"d", int64(1)<<53 + 1, sdbus.RangeError{Value: int64(1)<<53 + 1, Typestring: "d"}},
	}

	for _, tc := range tests {
		typ, err := sdbus.ParseType(tc.sig)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", tc.sig, err)
		}
		msg := &sdbustest.Message{}
		err = typ.Write(msg, tc.in)
		if err == nil {
			t.Errorf("Write(%q, %v) succeeded, want %v", tc.sig, tc.in, tc.want)
			continue
		}
		var re sdbus.RangeError
		if !errors.As(err, &re) {
			t.Errorf("Write(%q, %v) = %v (%T), want RangeError", tc.sig, tc.in, err, err)
		}
	}

	// Wrong value kinds are type errors, not range errors.
	typ, _ := sdbus.ParseType("i")
	msg := &sdbustest.Message{}
	var te sdbus.TypeError
	if err := typ.Write(msg, "nope"); !errors.As(err, &te) {
		t.Errorf("Write(i, string) = %v (%T), want TypeError", err, err)
	}
	if err := typ.Write(msg, 1.5); !errors.As(err, &te) {
		t.Errorf("Write(i, float) = %v (%T), want TypeError", err, err)
	}

	// Bad object paths and signatures are value errors.
	var ve sdbus.ValueError
	pt, _ := sdbus.ParseType("o")
	if err := pt.Write(msg, "not a path"); !errors.As(err, &ve) {
		t.Errorf("Write(o, bad path) = %v (%T), want ValueError", err, err)
	}
	gt, _ := sdbus.ParseType("g")
	if err := gt.Write(msg, "a{"); !errors.As(err, &ve) {
		t.Errorf("Write(g, bad signature) = %v (%T), want ValueError", err, err)
	}

	// Struct arity mismatches are shape errors.
	st, _ := sdbus.ParseType("(ii)")
	var se sdbus.ShapeError
	if err := st.Write(&sdbustest.Message{}, []any{1}); !errors.As(err, &se) {
		t.Errorf("Write((ii), one value) = %v (%T), want ShapeError", err, err)
	}
}

func TestMessageTypeNoMatch(t *testing.T) {
	mt, err := sdbus.MessageTypeFor("s")
	if err != nil {
		t.Fatal(err)
	}
	msg := &sdbustest.Message{}
	other, err := sdbus.MessageTypeFor("i")
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Append(msg, 5); err != nil {
		t.Fatal(err)
	}

	got, ok, err := mt.Read(msg)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ok {
		t.Errorf("Read matched a %q body against %q, got %v", msg.Signature(), mt.Signature(), got)
	}
}
