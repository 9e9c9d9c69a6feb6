// Package catalog implements the typed object façade (Catalogue, Event)
// and the root database over the CRDT substrate in internal/crdt. Rather
// than one opaque Entry type validated against a caller-registered
// schema, each kind (Catalogue, Event) is a fixed Go struct with typed
// accessors, all funnelling through handle's shared
// get/set/collection plumbing so the "identical public contract for both
// kinds" requirement doesn't need duplicated logic per kind.
package catalog

import (
	"sort"

	"github.com/catalogd/catalogd/internal/core"
	"github.com/catalogd/catalogd/internal/crdt"
	"github.com/catalogd/catalogd/internal/dispatch"
	"github.com/catalogd/catalogd/internal/schema"
)

// handle is the shared plumbing embedded in both Catalogue and Event: a
// back-reference to the owning DB plus the uuid, re-verified against the
// document on every access rather than cached, so a handle never reports
// stale data for an object tombstoned after it was obtained.
type handle struct {
	db        *DB
	root      crdt.RootKind
	kindLabel string
	id        core.ID
}

// ID returns the handle's uuid.
func (h handle) ID() core.ID { return h.id }

// Exists reports whether the handle's object is still live, without
// raising ErrDeleted — used by callers resolving a possibly-dangling
// reference, such as a catalogue's event list after one of its events
// was deleted.
func (h handle) Exists() bool {
	return h.db.doc.Exists(h.root, h.id)
}

func (h handle) object() (*crdt.ObjectMap, error) {
	obj, ok := h.db.doc.Object(h.root, h.id)
	if !ok {
		return nil, &ErrDeleted{Kind: h.kindLabel, ID: h.id}
	}
	return obj, nil
}

func (h handle) equal(other handle) bool {
	return h.root == other.root && h.id == other.id
}

func (h handle) getScalar(field string) (any, bool, error) {
	obj, err := h.object()
	if err != nil {
		return nil, false, err
	}
	v, ok := obj.Scalars.Get(field)
	return v, ok, nil
}

func (h handle) setScalar(field string, value any) error {
	if _, err := h.object(); err != nil {
		return err
	}
	return h.db.doc.WithTxn(func(tx *crdt.Txn) error {
		tx.SetScalar(h.root, h.id, field, value)
		return nil
	})
}

func (h handle) deleteScalar(field string) error {
	if _, err := h.object(); err != nil {
		return err
	}
	return h.db.doc.WithTxn(func(tx *crdt.Txn) error {
		tx.DeleteScalar(h.root, h.id, field)
		return nil
	})
}

func (h handle) collection(field string) ([]string, error) {
	obj, err := h.object()
	if err != nil {
		return nil, err
	}
	set, ok := obj.Sets[field]
	if !ok {
		return nil, nil
	}
	return set.Elements(), nil
}

func (h handle) addToCollection(field string, elems ...string) error {
	if len(elems) == 0 {
		return nil
	}
	if _, err := h.object(); err != nil {
		return err
	}
	return h.db.doc.WithTxn(func(tx *crdt.Txn) error {
		tx.AddToSet(h.root, h.id, field, elems...)
		return nil
	})
}

func (h handle) removeFromCollection(field string, elems ...string) error {
	if len(elems) == 0 {
		return nil
	}
	if _, err := h.object(); err != nil {
		return err
	}
	return h.db.doc.WithTxn(func(tx *crdt.Txn) error {
		tx.RemoveFromSet(h.root, h.id, field, elems...)
		return nil
	})
}

func (h handle) replaceCollection(field string, elems []string) error {
	if _, err := h.object(); err != nil {
		return err
	}
	return h.db.doc.WithTxn(func(tx *crdt.Txn) error {
		tx.ReplaceSet(h.root, h.id, field, elems)
		return nil
	})
}

func (h handle) attributes() (map[string]any, error) {
	obj, err := h.object()
	if err != nil {
		return nil, err
	}
	return obj.Attrs.Snapshot(), nil
}

func (h handle) setAttr(key string, value any) error {
	if err := schema.ValidateAttributeValue(value); err != nil {
		return err
	}
	if _, err := h.object(); err != nil {
		return err
	}
	return h.db.doc.WithTxn(func(tx *crdt.Txn) error {
		tx.SetAttr(h.root, h.id, key, value)
		return nil
	})
}

func (h handle) deleteAttr(key string) error {
	if _, err := h.object(); err != nil {
		return err
	}
	return h.db.doc.WithTxn(func(tx *crdt.Txn) error {
		tx.DeleteAttr(h.root, h.id, key)
		return nil
	})
}

func (h handle) setAttributes(attrs map[string]any) error {
	for _, value := range attrs {
		if err := schema.ValidateAttributeValue(value); err != nil {
			return err
		}
	}
	if _, err := h.object(); err != nil {
		return err
	}
	return h.db.doc.WithTxn(func(tx *crdt.Txn) error {
		tx.ReplaceAttrs(h.root, h.id, attrs)
		return nil
	})
}

func (h handle) onChangeScalar(field string, cb func(any)) error {
	if _, err := h.object(); err != nil {
		return err
	}
	h.db.dispatcher.OnChangeScalar(h.root, h.id, field, cb)
	return nil
}

func (h handle) onAdd(field string, cb dispatch.SetCallback) error {
	if _, err := h.object(); err != nil {
		return err
	}
	h.db.dispatcher.OnAddSet(h.root, h.id, field, cb)
	return nil
}

func (h handle) onRemove(field string, cb dispatch.SetCallback) error {
	if _, err := h.object(); err != nil {
		return err
	}
	h.db.dispatcher.OnRemoveSet(h.root, h.id, field, cb)
	return nil
}

func (h handle) onAttrAdded(cb dispatch.AttrAddedCallback) error {
	if _, err := h.object(); err != nil {
		return err
	}
	h.db.dispatcher.OnAttrAdded(h.root, h.id, cb)
	return nil
}

func (h handle) onAttrRemoved(cb dispatch.AttrRemovedCallback) error {
	if _, err := h.object(); err != nil {
		return err
	}
	h.db.dispatcher.OnAttrRemoved(h.root, h.id, cb)
	return nil
}

func (h handle) onDelete(cb dispatch.DeleteCallback) error {
	if _, err := h.object(); err != nil {
		return err
	}
	h.db.dispatcher.OnDelete(h.root, h.id, cb)
	return nil
}

// repr renders a compact JSON-ish form: set-typed sub-maps flattened to
// sorted key arrays, attributes kept as an object, field order
// insignificant.
func (h handle) repr() (map[string]any, error) {
	obj, err := h.object()
	if err != nil {
		return nil, err
	}
	out := map[string]any{"uuid": h.id.String()}
	for k, v := range obj.Scalars.Snapshot() {
		out[k] = v
	}
	for field, set := range obj.Sets {
		elems := set.Elements()
		sort.Strings(elems)
		out[field] = elems
	}
	out["attributes"] = obj.Attrs.Snapshot()
	return out, nil
}
