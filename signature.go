package sdbus

// The signature grammar, per the DBus specification:
//
//	basic     := 'y' | 'b' | 'n' | 'q' | 'i' | 'u' | 'x' | 't' |
//	             'd' | 's' | 'o' | 'g'
//	type      := basic | 'v' | array | struct
//	array     := 'a' ( type | dictentry )
//	dictentry := '{' basic type '}'
//	struct    := '(' type+ ')'
//
// Parsing produces interned *Type descriptors, so parsing the same
// signature twice yields identical pointers.

var sigCache cache[string, []*Type]

// ParseSignature parses a DBus type signature into its top-level
// types, one per value in a message body. The empty signature parses
// to an empty list.
func ParseSignature(sig string) ([]*Type, error) {
	if ret, ok := sigCache.Get(sig); ok {
		return ret, nil
	}

	var (
		types []*Type
		t     *Type
		off   int
		err   error
	)
	for off < len(sig) {
		t, off, err = parseOne(sig, off)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return sigCache.Intern(sig, types), nil
}

// ParseType parses a signature that describes exactly one type.
func ParseType(sig string) (*Type, error) {
	types, err := ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	if len(types) != 1 {
		return nil, sigErr(sig, "describes %d types, not one", len(types))
	}
	return types[0], nil
}

func mustParseType(sig string) *Type {
	t, err := ParseType(sig)
	if err != nil {
		panic(err)
	}
	return t
}

// IsSignature reports whether sig is a syntactically valid DBus type
// signature.
func IsSignature(sig string) bool {
	_, err := ParseSignature(sig)
	return err == nil
}

// parseOne consumes the first complete type starting at sig[off],
// returning its descriptor and the offset of the next type.
func parseOne(sig string, off int) (t *Type, rest int, err error) {
	if off >= len(sig) {
		return nil, 0, sigErr(sig, "truncated signature")
	}

	c := sig[off]
	if bt, ok := basicTypes[c]; ok {
		return bt, off + 1, nil
	}

	switch c {
	case 'v':
		return variantType, off + 1, nil
	case 'a':
		if off+1 >= len(sig) {
			return nil, 0, sigErr(sig[off:], "array with no element type")
		}
		switch sig[off+1] {
		case 'y':
			// Whole-type fast path: byte arrays get their own
			// descriptor with base64 text conventions.
			return bytestringType, off + 2, nil
		case '{':
			return parseDictEntry(sig, off+2)
		default:
			elem, rest, err := parseOne(sig, off+1)
			if err != nil {
				return nil, 0, err
			}
			return ArrayOf(elem), rest, nil
		}
	case '(':
		var items []*Type
		rest := off + 1
		for rest < len(sig) && sig[rest] != ')' {
			var item *Type
			item, rest, err = parseOne(sig, rest)
			if err != nil {
				return nil, 0, err
			}
			items = append(items, item)
		}
		if rest >= len(sig) {
			return nil, 0, sigErr(sig[off:], "missing closing ) in struct")
		}
		if len(items) == 0 {
			return nil, 0, sigErr(sig[off:], "empty struct")
		}
		return StructOf(items...), rest + 1, nil
	case '{':
		return nil, 0, sigErr(sig[off:], "dict entry outside array")
	case ')', '}':
		return nil, 0, sigErr(sig[off:], "unexpected %q", string(c))
	default:
		return nil, 0, sigErr(sig[off:], "unknown type specifier %q", string(c))
	}
}

// parseDictEntry parses the key and value types of a dict entry, with
// off pointing just past the opening "a{".
func parseDictEntry(sig string, off int) (t *Type, rest int, err error) {
	key, rest, err := parseOne(sig, off)
	if err != nil {
		return nil, 0, err
	}
	if key.Kind() != KindBasic {
		return nil, 0, sigErr(sig[off:], "dict entry key type %q is not a basic type", key)
	}
	val, rest, err := parseOne(sig, rest)
	if err != nil {
		return nil, 0, err
	}
	if rest >= len(sig) || sig[rest] != '}' {
		return nil, 0, sigErr(sig, "missing closing } in dict entry")
	}
	return DictOf(key, val), rest + 1, nil
}
