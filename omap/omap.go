// Package omap implements an insertion-ordered string-to-string map, used
// for the routing and header sections of a structured message where wire
// order matters for round-tripping but a plain map would shuffle keys.
package omap

import "strings"

// Map is an insertion-ordered map from string key to string value. Keys are
// unique; setting an existing key updates its value in place without
// changing its position. It is not safe for concurrent use.
type Map struct {
	keys []string
	vals map[string]string
}

// New returns an empty Map.
func New() *Map {
	return &Map{vals: make(map[string]string)}
}

// Set inserts or updates the value for key. A new key is appended to the
// end of the iteration order; an existing key keeps its original position.
func (m *Map) Set(key, value string) {
	if m.vals == nil {
		m.vals = make(map[string]string)
	}
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = value
}

// Get returns the value for key and whether it was present.
func (m *Map) Get(key string) (string, bool) {
	v, ok := m.vals[key]
	return v, ok
}

// GetFold is like Get but matches key case-insensitively, for callers such
// as HTTP header lookups where the wire casing is not under this map's
// control. It returns the empty string if no key matches.
func (m *Map) GetFold(key string) string {
	if v, ok := m.Get(key); ok {
		return v
	}
	for _, k := range m.keys {
		if len(k) == len(key) && strings.EqualFold(k, key) {
			return m.vals[k]
		}
	}
	return ""
}

// Remove deletes key, if present, and closes the gap it leaves in the
// iteration order.
func (m *Map) Remove(key string) {
	if _, ok := m.vals[key]; !ok {
		return
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.keys)
}

// Keys returns the keys in insertion order. The returned slice must not be
// mutated by the caller.
func (m *Map) Keys() []string {
	return m.keys
}

// Each calls fn for every (key, value) pair in insertion order.
func (m *Map) Each(fn func(key, value string)) {
	for _, k := range m.keys {
		fn(k, m.vals[k])
	}
}

// Equal reports whether m and other contain the same keys mapped to the
// same values; insertion order is not compared, since two maps built in a
// different order are still semantically equal sets of pairs.
func (m *Map) Equal(other *Map) bool {
	if other == nil {
		return m == nil || m.Len() == 0
	}
	if m.Len() != other.Len() {
		return false
	}
	for _, k := range m.keys {
		v, ok := other.Get(k)
		if !ok || v != m.vals[k] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of m.
func (m *Map) Clone() *Map {
	out := New()
	m.Each(func(k, v string) {
		out.Set(k, v)
	})
	return out
}
