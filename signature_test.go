package sdbus

import (
	"strings"
	"testing"
)

func TestParseSignature(t *testing.T) {
	tests := []struct {
		in   string
		want []string // typestring per top-level type
	}{
		{"", []string{}},
		{"y", []string{"y"}},
		{"b", []string{"b"}},
		{"n", []string{"n"}},
		{"q", []string{"q"}},
		{"i", []string{"i"}},
		{"u", []string{"u"}},
		{"x", []string{"x"}},
		{"t", []string{"t"}},
		{"d", []string{"d"}},
		{"s", []string{"s"}},
		{"o", []string{"o"}},
		{"g", []string{"g"}},
		{"v", []string{"v"}},
		{"ii", []string{"i", "i"}},
		{"sis", []string{"s", "i", "s"}},
		{"as", []string{"as"}},
		{"ay", []string{"ay"}},
		{"aay", []string{"aay"}},
		{"(i)", []string{"(i)"}},
		{"(nb)", []string{"(nb)"}},
		{"(y(nb))", []string{"(y(nb))"}},
		{"a(nb)", []string{"a(nb)"}},
		{"a{sx}", []string{"a{sx}"}},
		{"a{sv}", []string{"a{sv}"}},
		{"a{yv}", []string{"a{yv}"}},
		{"aa{sv}", []string{"aa{sv}"}},
		{"sa{sv}as", []string{"s", "a{sv}", "as"}},
		{"av", []string{"av"}},
		{"(asa(nb)aa(y(nb)))", []string{"(asa(nb)aa(y(nb)))"}},

		{"z", nil},
		{"a", nil},
		{"aaa", nil},
		{"(", nil},
		{"(i", nil},
		{"()", nil},
		{"i)", nil},
		{"a{si", nil},
		{"a{si}}", nil},
		{"a{vs}", nil},
		{"a{(i)s}", nil},
		{"a{}", nil},
		{"a{s}", nil},
		{"{si}", nil},
		{"e", nil},
		{"r", nil},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseSignature(tc.in)
			if tc.want == nil {
				if err == nil {
					t.Fatalf("ParseSignature(%q) = %v, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSignature(%q) got err %v", tc.in, err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("ParseSignature(%q) got %d types, want %d", tc.in, len(got), len(tc.want))
			}
			var render strings.Builder
			for i, typ := range got {
				if typ.String() != tc.want[i] {
					t.Errorf("ParseSignature(%q)[%d] = %q, want %q", tc.in, i, typ, tc.want[i])
				}
				render.WriteString(typ.String())
			}
			if render.String() != tc.in {
				t.Errorf("ParseSignature(%q) renders back as %q", tc.in, render.String())
			}
		})
	}
}

func TestParseType(t *testing.T) {
	if typ, err := ParseType("a{sv}"); err != nil || typ.String() != "a{sv}" {
		t.Errorf("ParseType(%q) = %v, %v", "a{sv}", typ, err)
	}
	for _, bad := range []string{"", "ii", "z", "a"} {
		if typ, err := ParseType(bad); err == nil {
			t.Errorf("ParseType(%q) = %v, want error", bad, typ)
		}
	}
}

func TestSignatureErrorType(t *testing.T) {
	_, err := ParseSignature("a{vs}")
	if err == nil {
		t.Fatal("ParseSignature(\"a{vs}\") succeeded")
	}
	if _, ok := err.(SignatureError); !ok {
		t.Errorf("ParseSignature error is %T, want SignatureError", err)
	}
}

func TestTypeInterning(t *testing.T) {
	sigs := []string{"i", "as", "a{sv}", "(y(nb))", "aax"}
	for _, sig := range sigs {
		a, err := ParseType(sig)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", sig, err)
		}
		b, err := ParseType(sig)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", sig, err)
		}
		if a != b {
			t.Errorf("ParseType(%q) returned distinct descriptors %p and %p", sig, a, b)
		}
	}

	// Equal nested types are shared across different signatures.
	outer, err := ParseType("aas")
	if err != nil {
		t.Fatal(err)
	}
	inner, err := ParseType("as")
	if err != nil {
		t.Fatal(err)
	}
	if outer.Items()[0] != inner {
		t.Errorf("items of %q are not the interned %q descriptor", outer, inner)
	}
}

func TestVariantTypeWired(t *testing.T) {
	vt, err := ParseType("v")
	if err != nil {
		t.Fatalf("ParseType(\"v\"): %v", err)
	}
	if vt != variantType {
		t.Error("parsed \"v\" is not the canonical variant descriptor")
	}
	if vt.read == nil || vt.write == nil {
		t.Error("variant descriptor has no codec functions")
	}
	if got, ok := typeCache.Get("v"); !ok || got != vt {
		t.Error("variant descriptor is not interned")
	}
}

func TestTypeKinds(t *testing.T) {
	tests := []struct {
		in   string
		want TypeKind
	}{
		{"y", KindBasic},
		{"s", KindBasic},
		{"ai", KindArray},
		{"ay", KindArray},
		{"(ii)", KindStruct},
		{"a{sv}", KindDict},
		{"v", KindVariant},
	}
	for _, tc := range tests {
		typ, err := ParseType(tc.in)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", tc.in, err)
		}
		if got := typ.Kind(); got != tc.want {
			t.Errorf("ParseType(%q).Kind() = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestIsSignature(t *testing.T) {
	for sig, want := range map[string]bool{
		"":      true,
		"ii":    true,
		"a{sv}": true,
		"a":     false,
		"(":     false,
	} {
		if got := IsSignature(sig); got != want {
			t.Errorf("IsSignature(%q) = %v, want %v", sig, got, want)
		}
	}
}
