package catalog

import (
	"encoding/json"
	"time"

	"github.com/catalogd/catalogd/internal/core"
	"github.com/catalogd/catalogd/internal/crdt"
	"github.com/catalogd/catalogd/internal/dispatch"
	"github.com/catalogd/catalogd/internal/schema"
)

// Event is a typed handle onto an event object: a time-bounded annotated
// record with tags, products, an optional rating, and freeform
// attributes.
type Event struct {
	h handle
}

func newEvent(db *DB, id core.ID) *Event {
	return &Event{h: handle{db: db, root: crdt.RootEvents, kindLabel: "Event", id: id}}
}

// ID returns the event's uuid.
func (e *Event) ID() core.ID { return e.h.ID() }

// Exists reports whether the event is still live.
func (e *Event) Exists() bool { return e.h.Exists() }

// Equal reports whether two handles refer to the same event uuid.
func (e *Event) Equal(other *Event) bool {
	if other == nil {
		return false
	}
	return e.h.equal(other.h)
}

// Start returns the event's start timestamp.
func (e *Event) Start() (time.Time, error) {
	v, ok, err := e.h.getScalar(schema.FieldStart)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return schema.DecodeTimestamp(v)
}

// SetStart schema-validates and writes the start timestamp.
func (e *Event) SetStart(t time.Time) error {
	wire := core.FormatTimestamp(t)
	if err := schema.ValidateEventField(schema.FieldStart, wire); err != nil {
		return err
	}
	return e.h.setScalar(schema.FieldStart, wire)
}

// Stop returns the event's stop timestamp.
func (e *Event) Stop() (time.Time, error) {
	v, ok, err := e.h.getScalar(schema.FieldStop)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return schema.DecodeTimestamp(v)
}

// SetStop schema-validates and writes the stop timestamp.
func (e *Event) SetStop(t time.Time) error {
	wire := core.FormatTimestamp(t)
	if err := schema.ValidateEventField(schema.FieldStop, wire); err != nil {
		return err
	}
	return e.h.setScalar(schema.FieldStop, wire)
}

// Author returns the event's author.
func (e *Event) Author() (string, error) {
	v, ok, err := e.h.getScalar(schema.FieldAuthor)
	if err != nil {
		return "", err
	}
	return schema.DecodeString(v, ok)
}

// SetAuthor schema-validates and writes the author.
func (e *Event) SetAuthor(author string) error {
	if err := schema.ValidateEventField(schema.FieldAuthor, author); err != nil {
		return err
	}
	return e.h.setScalar(schema.FieldAuthor, author)
}

// Rating returns the event's rating, or nil if unset.
func (e *Event) Rating() (*int, error) {
	v, ok, err := e.h.getScalar(schema.FieldRating)
	if err != nil {
		return nil, err
	}
	return schema.DecodeRating(v, ok)
}

// SetRating schema-validates and writes the rating.
func (e *Event) SetRating(rating int) error {
	if err := schema.ValidateEventField(schema.FieldRating, rating); err != nil {
		return err
	}
	return e.h.setScalar(schema.FieldRating, rating)
}

// UnsetRating removes the rating key entirely: the unset marker is a
// missing key, not a stored null.
func (e *Event) UnsetRating() error { return e.h.deleteScalar(schema.FieldRating) }

// Tags returns a snapshot of the event's tag set.
func (e *Event) Tags() ([]string, error) { return e.h.collection(crdt.FieldTags) }

// AddTags inserts one or more tags.
func (e *Event) AddTags(tags ...string) error { return e.h.addToCollection(crdt.FieldTags, tags...) }

// RemoveTags deletes one or more tags.
func (e *Event) RemoveTags(tags ...string) error {
	return e.h.removeFromCollection(crdt.FieldTags, tags...)
}

// SetTags atomically replaces the whole tag set.
func (e *Event) SetTags(tags []string) error { return e.h.replaceCollection(crdt.FieldTags, tags) }

// Products returns a snapshot of the event's product set.
func (e *Event) Products() ([]string, error) { return e.h.collection(crdt.FieldProducts) }

// AddProducts inserts one or more products.
func (e *Event) AddProducts(products ...string) error {
	return e.h.addToCollection(crdt.FieldProducts, products...)
}

// RemoveProducts deletes one or more products.
func (e *Event) RemoveProducts(products ...string) error {
	return e.h.removeFromCollection(crdt.FieldProducts, products...)
}

// SetProducts atomically replaces the whole product set.
func (e *Event) SetProducts(products []string) error {
	return e.h.replaceCollection(crdt.FieldProducts, products)
}

// Attributes returns a snapshot of the freeform attributes map.
func (e *Event) Attributes() (map[string]any, error) { return e.h.attributes() }

// SetAttr upserts a single attribute key.
func (e *Event) SetAttr(key string, value any) error { return e.h.setAttr(key, value) }

// DeleteAttr removes a single attribute key.
func (e *Event) DeleteAttr(key string) error { return e.h.deleteAttr(key) }

// SetAttributes atomically replaces the whole attributes map.
func (e *Event) SetAttributes(attrs map[string]any) error { return e.h.setAttributes(attrs) }

// Delete removes the event's top-level entry and, in the same
// transaction, scrubs its uuid from every catalogue's events set so no
// dangling reference is left behind.
func (e *Event) Delete() error {
	if _, err := e.h.object(); err != nil {
		return err
	}
	idStr := e.h.id.String()
	return e.h.db.doc.WithTxn(func(tx *crdt.Txn) error {
		for _, catalogueID := range tx.IDs(crdt.RootCatalogues) {
			tx.RemoveFromSet(crdt.RootCatalogues, catalogueID, crdt.FieldEvents, idStr)
		}
		tx.DeleteObject(crdt.RootEvents, e.h.id)
		return nil
	})
}

// OnChangeStart registers a start-timestamp observer.
func (e *Event) OnChangeStart(cb func(time.Time)) error {
	return e.h.onChangeScalar(schema.FieldStart, func(v any) {
		t, err := schema.DecodeTimestamp(v)
		if err == nil {
			cb(t)
		}
	})
}

// OnChangeStop registers a stop-timestamp observer.
func (e *Event) OnChangeStop(cb func(time.Time)) error {
	return e.h.onChangeScalar(schema.FieldStop, func(v any) {
		t, err := schema.DecodeTimestamp(v)
		if err == nil {
			cb(t)
		}
	})
}

// OnChangeAuthor registers an author-change observer.
func (e *Event) OnChangeAuthor(cb func(string)) error {
	return e.h.onChangeScalar(schema.FieldAuthor, func(v any) {
		s, _ := schema.DecodeString(v, v != nil)
		cb(s)
	})
}

// OnChangeRating registers a rating-change observer; cb receives nil on unset.
func (e *Event) OnChangeRating(cb func(*int)) error {
	return e.h.onChangeScalar(schema.FieldRating, func(v any) {
		r, err := schema.DecodeRating(v, v != nil)
		if err == nil {
			cb(r)
		}
	})
}

// OnAddTags registers a tag-collection add observer.
func (e *Event) OnAddTags(cb dispatch.SetCallback) error { return e.h.onAdd(crdt.FieldTags, cb) }

// OnRemoveTags registers a tag-collection remove observer.
func (e *Event) OnRemoveTags(cb dispatch.SetCallback) error { return e.h.onRemove(crdt.FieldTags, cb) }

// OnAddProducts registers a product-collection add observer.
func (e *Event) OnAddProducts(cb dispatch.SetCallback) error {
	return e.h.onAdd(crdt.FieldProducts, cb)
}

// OnRemoveProducts registers a product-collection remove observer.
func (e *Event) OnRemoveProducts(cb dispatch.SetCallback) error {
	return e.h.onRemove(crdt.FieldProducts, cb)
}

// OnAttrAdded registers an attribute-add observer.
func (e *Event) OnAttrAdded(cb dispatch.AttrAddedCallback) error { return e.h.onAttrAdded(cb) }

// OnAttrRemoved registers an attribute-remove observer.
func (e *Event) OnAttrRemoved(cb dispatch.AttrRemovedCallback) error { return e.h.onAttrRemoved(cb) }

// OnDelete registers a tombstone observer.
func (e *Event) OnDelete(cb dispatch.DeleteCallback) error { return e.h.onDelete(cb) }

// Repr renders the event as a compact JSON object.
func (e *Event) Repr() (string, error) {
	m, err := e.h.repr()
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
