package catalog

import (
	"encoding/json"

	"github.com/catalogd/catalogd/internal/core"
	"github.com/catalogd/catalogd/internal/crdt"
	"github.com/catalogd/catalogd/internal/dispatch"
	"github.com/catalogd/catalogd/internal/schema"
)

// Catalogue is a typed handle onto a catalogue object: a named, authored
// grouping that references a set of events by uuid.
type Catalogue struct {
	h handle
}

func newCatalogue(db *DB, id core.ID) *Catalogue {
	return &Catalogue{h: handle{db: db, root: crdt.RootCatalogues, kindLabel: "Catalogue", id: id}}
}

// ID returns the catalogue's uuid.
func (c *Catalogue) ID() core.ID { return c.h.ID() }

// Exists reports whether the catalogue is still live.
func (c *Catalogue) Exists() bool { return c.h.Exists() }

// Equal reports whether two handles refer to the same catalogue uuid.
func (c *Catalogue) Equal(other *Catalogue) bool {
	if other == nil {
		return false
	}
	return c.h.equal(other.h)
}

// Name returns the catalogue's name.
func (c *Catalogue) Name() (string, error) {
	v, ok, err := c.h.getScalar(schema.FieldName)
	if err != nil {
		return "", err
	}
	return schema.DecodeString(v, ok)
}

// SetName schema-validates and writes name within its own transaction.
func (c *Catalogue) SetName(name string) error {
	if err := schema.ValidateCatalogueField(schema.FieldName, name); err != nil {
		return err
	}
	return c.h.setScalar(schema.FieldName, name)
}

// Author returns the catalogue's author.
func (c *Catalogue) Author() (string, error) {
	v, ok, err := c.h.getScalar(schema.FieldAuthor)
	if err != nil {
		return "", err
	}
	return schema.DecodeString(v, ok)
}

// SetAuthor schema-validates and writes author within its own transaction.
func (c *Catalogue) SetAuthor(author string) error {
	if err := schema.ValidateCatalogueField(schema.FieldAuthor, author); err != nil {
		return err
	}
	return c.h.setScalar(schema.FieldAuthor, author)
}

// Tags returns a snapshot of the catalogue's tag set.
func (c *Catalogue) Tags() ([]string, error) { return c.h.collection(crdt.FieldTags) }

// AddTags inserts one or more tags.
func (c *Catalogue) AddTags(tags ...string) error { return c.h.addToCollection(crdt.FieldTags, tags...) }

// RemoveTags deletes one or more tags; removing an absent tag is a no-op.
func (c *Catalogue) RemoveTags(tags ...string) error {
	return c.h.removeFromCollection(crdt.FieldTags, tags...)
}

// SetTags atomically replaces the whole tag set.
func (c *Catalogue) SetTags(tags []string) error { return c.h.replaceCollection(crdt.FieldTags, tags) }

// Events returns a handle for every event uuid referenced by this
// catalogue. References may dangle: a returned handle's Exists() may be
// false if the event was never created or has since been deleted.
func (c *Catalogue) Events() ([]*Event, error) {
	ids, err := c.h.collection(crdt.FieldEvents)
	if err != nil {
		return nil, err
	}
	out := make([]*Event, 0, len(ids))
	for _, s := range ids {
		id, err := core.ParseID(s)
		if err != nil {
			continue // a corrupt/foreign uuid string landed in the set; skip it
		}
		out = append(out, newEvent(c.h.db, id))
	}
	return out, nil
}

// AddEvents inserts references to the given events' uuids. The events
// themselves need not exist (dangling references are tolerated).
func (c *Catalogue) AddEvents(events ...*Event) error {
	return c.h.addToCollection(crdt.FieldEvents, eventIDStrings(events)...)
}

// RemoveEvents deletes references to the given events' uuids.
func (c *Catalogue) RemoveEvents(events ...*Event) error {
	return c.h.removeFromCollection(crdt.FieldEvents, eventIDStrings(events)...)
}

func eventIDStrings(events []*Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID().String()
	}
	return ids
}

// Attributes returns a snapshot of the freeform attributes map.
func (c *Catalogue) Attributes() (map[string]any, error) { return c.h.attributes() }

// SetAttr upserts a single attribute key.
func (c *Catalogue) SetAttr(key string, value any) error { return c.h.setAttr(key, value) }

// DeleteAttr removes a single attribute key.
func (c *Catalogue) DeleteAttr(key string) error { return c.h.deleteAttr(key) }

// SetAttributes atomically replaces the whole attributes map.
func (c *Catalogue) SetAttributes(attrs map[string]any) error { return c.h.setAttributes(attrs) }

// Delete removes the catalogue's top-level entry. Unlike Event.Delete,
// no cascading cleanup is required: nothing else in the document holds a
// reference back to a catalogue's uuid.
func (c *Catalogue) Delete() error {
	if _, err := c.h.object(); err != nil {
		return err
	}
	return c.h.db.doc.WithTxn(func(tx *crdt.Txn) error {
		tx.DeleteObject(crdt.RootCatalogues, c.h.id)
		return nil
	})
}

// OnChangeName registers a name-change observer.
func (c *Catalogue) OnChangeName(cb func(string)) error {
	return c.h.onChangeScalar(schema.FieldName, func(v any) {
		s, _ := schema.DecodeString(v, v != nil)
		cb(s)
	})
}

// OnChangeAuthor registers an author-change observer.
func (c *Catalogue) OnChangeAuthor(cb func(string)) error {
	return c.h.onChangeScalar(schema.FieldAuthor, func(v any) {
		s, _ := schema.DecodeString(v, v != nil)
		cb(s)
	})
}

// OnAddTags registers a tag-collection add observer.
func (c *Catalogue) OnAddTags(cb dispatch.SetCallback) error { return c.h.onAdd(crdt.FieldTags, cb) }

// OnRemoveTags registers a tag-collection remove observer.
func (c *Catalogue) OnRemoveTags(cb dispatch.SetCallback) error {
	return c.h.onRemove(crdt.FieldTags, cb)
}

// OnAddEvents registers an events-collection add observer.
func (c *Catalogue) OnAddEvents(cb dispatch.SetCallback) error {
	return c.h.onAdd(crdt.FieldEvents, cb)
}

// OnRemoveEvents registers an events-collection remove observer.
func (c *Catalogue) OnRemoveEvents(cb dispatch.SetCallback) error {
	return c.h.onRemove(crdt.FieldEvents, cb)
}

// OnAttrAdded registers an attribute-add observer.
func (c *Catalogue) OnAttrAdded(cb dispatch.AttrAddedCallback) error { return c.h.onAttrAdded(cb) }

// OnAttrRemoved registers an attribute-remove observer.
func (c *Catalogue) OnAttrRemoved(cb dispatch.AttrRemovedCallback) error {
	return c.h.onAttrRemoved(cb)
}

// OnDelete registers a tombstone observer.
func (c *Catalogue) OnDelete(cb dispatch.DeleteCallback) error { return c.h.onDelete(cb) }

// Repr renders the catalogue as a compact JSON object.
func (c *Catalogue) Repr() (string, error) {
	m, err := c.h.repr()
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
