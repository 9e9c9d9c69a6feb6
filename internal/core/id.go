// Package core provides the identifiers, logical clock, and timestamp
// coercion shared by every layer of catalogd: the CRDT substrate, the
// schema codecs, and the object façade all key off the same uuid and
// logical-time primitives.
package core

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit identifier for a catalogue or an event. It is stable for
// the life of the object and never reused after deletion.
type ID = uuid.UUID

// NewID allocates a fresh random identifier.
func NewID() ID {
	return uuid.New()
}

// ParseID parses a canonical uuid string, as produced by the wire/JSON form
// of a catalogue or event reference.
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("core: invalid id %q: %w", s, err)
	}
	return id, nil
}

// Token identifies a single OR-Set/OR-Map add operation, so that a later
// remove can reference exactly the adds it observed rather than the bare
// value.
type Token = uuid.UUID

// NewToken allocates a fresh random add-token.
func NewToken() Token {
	return uuid.New()
}
