// Package crdt implements the hand-rolled CRDT substrate catalogd's object
// façade is built on: a last-writer-wins register per scalar field and an
// observed-remove set per collection field, composed into a two-root
// Document (catalogues, events) with deep-observe change delivery and a
// binary sync wire format.
//
// LWW and OR semantics apply per *field* of an object rather than per
// whole object, since catalogues and events are modeled as maps of
// independently mutable fields rather than opaque blobs.
package crdt

import "github.com/catalogd/catalogd/internal/core"

// LWWRegister holds one scalar value plus the Tag that wrote it, so that a
// concurrent write from another replica can be resolved deterministically.
type LWWRegister struct {
	Value any
	Tag   core.Tag
	set   bool
}

// LWWMap is a last-writer-wins map: each key holds its own register, so
// concurrent writes to *different* keys never conflict, and concurrent
// writes to the *same* key resolve via Tag.After.
type LWWMap struct {
	fields map[string]LWWRegister
}

// NewLWWMap creates an empty last-writer-wins map.
func NewLWWMap() *LWWMap {
	return &LWWMap{fields: make(map[string]LWWRegister)}
}

// Set writes value under key with tag, applying the LWW rule: the write only
// takes effect if tag is After the register's current tag (or the key is
// unset). Returns whether the write was applied.
func (m *LWWMap) Set(key string, value any, tag core.Tag) bool {
	existing, ok := m.fields[key]
	if ok && !tag.After(existing.Tag) {
		return false
	}
	m.fields[key] = LWWRegister{Value: value, Tag: tag, set: true}
	return true
}

// Delete removes key under the same LWW discipline as Set, so a concurrent
// delete and write resolve deterministically rather than delete always
// winning.
func (m *LWWMap) Delete(key string, tag core.Tag) bool {
	existing, ok := m.fields[key]
	if ok && !tag.After(existing.Tag) {
		return false
	}
	m.fields[key] = LWWRegister{Tag: tag}
	return true
}

// Get returns the current value for key, and whether it is present.
func (m *LWWMap) Get(key string) (any, bool) {
	reg, ok := m.fields[key]
	if !ok || !reg.set {
		return nil, false
	}
	return reg.Value, true
}

// Keys returns every key currently present.
func (m *LWWMap) Keys() []string {
	keys := make([]string, 0, len(m.fields))
	for k, reg := range m.fields {
		if reg.set {
			keys = append(keys, k)
		}
	}
	return keys
}

// Snapshot returns a copy of the key/value pairs currently present.
func (m *LWWMap) Snapshot() map[string]any {
	out := make(map[string]any, len(m.fields))
	for k, reg := range m.fields {
		if reg.set {
			out[k] = reg.Value
		}
	}
	return out
}

// Merge applies another LWWMap's registers into this one using the same LWW
// rule as Set/Delete, so Merge is commutative, associative, and idempotent.
func (m *LWWMap) Merge(other *LWWMap) {
	for k, reg := range other.fields {
		existing, ok := m.fields[k]
		if !ok || reg.Tag.After(existing.Tag) {
			m.fields[k] = reg
		}
	}
}

// Clone returns a deep copy.
func (m *LWWMap) Clone() *LWWMap {
	clone := NewLWWMap()
	for k, v := range m.fields {
		clone.fields[k] = v
	}
	return clone
}
