package sdbus

import (
	"fmt"
	"sync"
)

// A cache is a process-lifetime table of canonical values. Entries
// are never evicted: the key space is bounded by the signatures and
// Go types the program actually uses.
type cache[K comparable, V any] struct {
	m sync.Map
}

func (c *cache[K, V]) Get(k K) (val V, found bool) {
	ent, ok := c.m.Load(k)
	if !ok {
		var zero V
		return zero, false
	}
	if val, ok := ent.(V); ok {
		return val, true
	}
	panic(fmt.Sprintf("mystery value %v (%T) in cache", ent, ent))
}

// Intern stores val as the canonical value for k, unless a canonical
// value already exists. It returns the canonical value, which every
// future Intern and Get for k also returns.
func (c *cache[K, V]) Intern(k K, val V) V {
	ent, _ := c.m.LoadOrStore(k, val)
	if val, ok := ent.(V); ok {
		return val
	}
	panic(fmt.Sprintf("mystery value %v (%T) in cache", ent, ent))
}
