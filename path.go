package sdbus

import "regexp"

// ObjectPath is a DBus object path, like /org/freedesktop/DBus.
type ObjectPath string

var objectPathRe = regexp.MustCompile(`^/$|^(/[A-Za-z0-9_]+)+$`)

// IsObjectPath reports whether s is a syntactically valid object
// path: "/", or one or more /-prefixed segments of ASCII letters,
// digits and underscores, with no trailing slash.
func IsObjectPath(s string) bool {
	return objectPathRe.MatchString(s)
}

func (p ObjectPath) String() string { return string(p) }

// Valid reports whether the path is syntactically valid.
func (p ObjectPath) Valid() bool { return IsObjectPath(string(p)) }
