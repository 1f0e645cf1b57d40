package sdbus

import "testing"

type simplePair struct {
	A int16
	B bool
}

type nestedPair struct {
	A byte
	B simplePair
}

type selfRef struct {
	Children []selfRef
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{byte(0), "y"},
		{false, "b"},
		{int16(0), "n"},
		{uint16(0), "q"},
		{int32(0), "i"},
		{int(0), "i"},
		{uint32(0), "u"},
		{int64(0), "x"},
		{uint64(0), "t"},
		{float64(0), "d"},
		{"", "s"},
		{ObjectPath("/"), "o"},
		{Variant{}, "v"},
		{[]string{}, "as"},
		{[]byte{}, "ay"},
		{[4]byte{}, "ay"},
		{[][]string{}, "aas"},
		{map[string]int64{}, "a{sx}"},
		{map[string]any{}, "a{sv}"},
		{simplePair{}, "(nb)"},
		{[]simplePair{}, "a(nb)"},
		{nestedPair{}, "(y(nb))"},
		{&simplePair{}, "(nb)"},

		{selfRef{}, ""},
		{map[simplePair]bool{}, ""},
		{map[any]bool{}, ""},
		{func() {}, ""},
		{make(chan int), ""},
		{struct{}{}, ""},
		{nil, ""},
	}

	for _, tc := range tests {
		got, err := TypeOf(tc.in)
		if tc.want == "" {
			if err == nil {
				t.Errorf("TypeOf(%T) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("TypeOf(%T) got err %v", tc.in, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("TypeOf(%T) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTypeOfInternsWithParsed(t *testing.T) {
	got, err := TypeOf(map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseType("a{sv}")
	if err != nil {
		t.Fatal(err)
	}
	if got != parsed {
		t.Errorf("TypeOf(map[string]any) and ParseType(\"a{sv}\") returned distinct descriptors")
	}
}
