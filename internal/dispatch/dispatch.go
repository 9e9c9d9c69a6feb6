// Package dispatch turns a batch of crdt.ChangeRecords into typed,
// per-object callbacks: scalar-field observers, collection add/remove
// observers, deletion observers, and root-level creation observers.
//
// A buffered-channel pub/sub keyed by (event type, entry type) would fit
// a long-lived event bus, but here the "publisher" is a single
// transaction commit delivering a handful of records to a handful of
// observers in strict order, with the whole batch atomic — a channel's
// full-buffer drop semantics can't guarantee that, so a direct call with
// panic isolation per callback is the right shape instead.
package dispatch

import (
	"log"

	"github.com/catalogd/catalogd/internal/core"
	"github.com/catalogd/catalogd/internal/crdt"
)

// Logger is the minimal surface Dispatcher needs to report a recovered
// callback panic, satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// ScalarCallback receives a scalar field's new validated value. A nil
// value means the field was unset.
type ScalarCallback func(value any)

// SetCallback receives the added or removed element keys of one
// collection mutation.
type SetCallback func(elems []string)

// AttrAddedCallback receives the key/value pairs added to the attributes
// map in one transaction.
type AttrAddedCallback func(values map[string]any)

// AttrRemovedCallback receives the keys removed from the attributes map.
type AttrRemovedCallback func(keys []string)

// DeleteCallback fires once, the transaction an object's top-level entry
// is removed.
type DeleteCallback func()

// CreateCallback fires once per object created under a root container.
type CreateCallback func(id core.ID)

// objectRegistry holds every callback registered against one (root, uuid)
// pair. Cleared entirely once the object is deleted, to free the
// closures it's holding.
type objectRegistry struct {
	scalar      map[string][]ScalarCallback
	setAdded    map[string][]SetCallback
	setRemoved  map[string][]SetCallback
	attrAdded   []AttrAddedCallback
	attrRemoved []AttrRemovedCallback
	deleted     []DeleteCallback
}

func newObjectRegistry() *objectRegistry {
	return &objectRegistry{
		scalar:     make(map[string][]ScalarCallback),
		setAdded:   make(map[string][]SetCallback),
		setRemoved: make(map[string][]SetCallback),
	}
}

// Dispatcher owns every object's callback registry and the two roots'
// creation-callback lists. One Dispatcher is installed as a Document's
// sole Observe hook by internal/catalog.DB.
type Dispatcher struct {
	logger Logger

	objects  map[crdt.RootKind]map[core.ID]*objectRegistry
	onCreate map[crdt.RootKind][]CreateCallback

	// mu guards the maps above, not the callbacks themselves: callbacks
	// run outside the lock so a callback that re-enters the dispatcher
	// (e.g. registering a new observer from inside on_create) can't
	// deadlock against Dispatch.
	mu chan struct{} // 1-buffered channel used as a non-reentrant mutex
}

// New creates an empty dispatcher. A nil logger defaults to the standard
// library logger.
func New(logger Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	d := &Dispatcher{
		logger: logger,
		objects: map[crdt.RootKind]map[core.ID]*objectRegistry{
			crdt.RootCatalogues: make(map[core.ID]*objectRegistry),
			crdt.RootEvents:     make(map[core.ID]*objectRegistry),
		},
		onCreate: make(map[crdt.RootKind][]CreateCallback),
		mu:       make(chan struct{}, 1),
	}
	d.mu <- struct{}{}
	return d
}

func (d *Dispatcher) lock()   { <-d.mu }
func (d *Dispatcher) unlock() { d.mu <- struct{}{} }

func (d *Dispatcher) registry(root crdt.RootKind, id core.ID) *objectRegistry {
	reg, ok := d.objects[root][id]
	if !ok {
		reg = newObjectRegistry()
		d.objects[root][id] = reg
	}
	return reg
}

// OnCreate registers a creation observer for every object inserted under root.
func (d *Dispatcher) OnCreate(root crdt.RootKind, cb CreateCallback) {
	d.lock()
	defer d.unlock()
	d.onCreate[root] = append(d.onCreate[root], cb)
}

// OnChangeScalar registers a per-field observer for one object.
func (d *Dispatcher) OnChangeScalar(root crdt.RootKind, id core.ID, field string, cb ScalarCallback) {
	d.lock()
	defer d.unlock()
	reg := d.registry(root, id)
	reg.scalar[field] = append(reg.scalar[field], cb)
}

// OnAddSet registers a collection-add observer for one object's field.
func (d *Dispatcher) OnAddSet(root crdt.RootKind, id core.ID, field string, cb SetCallback) {
	d.lock()
	defer d.unlock()
	reg := d.registry(root, id)
	reg.setAdded[field] = append(reg.setAdded[field], cb)
}

// OnRemoveSet registers a collection-remove observer for one object's field.
func (d *Dispatcher) OnRemoveSet(root crdt.RootKind, id core.ID, field string, cb SetCallback) {
	d.lock()
	defer d.unlock()
	reg := d.registry(root, id)
	reg.setRemoved[field] = append(reg.setRemoved[field], cb)
}

// OnAttrAdded registers an attribute-add observer for one object.
func (d *Dispatcher) OnAttrAdded(root crdt.RootKind, id core.ID, cb AttrAddedCallback) {
	d.lock()
	defer d.unlock()
	reg := d.registry(root, id)
	reg.attrAdded = append(reg.attrAdded, cb)
}

// OnAttrRemoved registers an attribute-remove observer for one object.
func (d *Dispatcher) OnAttrRemoved(root crdt.RootKind, id core.ID, cb AttrRemovedCallback) {
	d.lock()
	defer d.unlock()
	reg := d.registry(root, id)
	reg.attrRemoved = append(reg.attrRemoved, cb)
}

// OnDelete registers a tombstone observer for one object.
func (d *Dispatcher) OnDelete(root crdt.RootKind, id core.ID, cb DeleteCallback) {
	d.lock()
	defer d.unlock()
	reg := d.registry(root, id)
	reg.deleted = append(reg.deleted, cb)
}

// Dispatch delivers one transaction's change-record batch, in order, as
// the Document's Observe hook. It is the single entry point internal/catalog
// wires into crdt.Document.Observe.
func (d *Dispatcher) Dispatch(records []crdt.ChangeRecord) {
	for _, rec := range records {
		d.dispatchOne(rec)
	}
}

func (d *Dispatcher) dispatchOne(rec crdt.ChangeRecord) {
	switch rec.Kind {
	case crdt.ChangeCreated:
		d.lock()
		cbs := append([]CreateCallback(nil), d.onCreate[rec.Root]...)
		d.unlock()
		for _, cb := range cbs {
			d.safeCall(func() { cb(rec.ID) })
		}

	case crdt.ChangeDeleted:
		d.lock()
		reg, ok := d.objects[rec.Root][rec.ID]
		if ok {
			delete(d.objects[rec.Root], rec.ID)
		}
		d.unlock()
		if !ok {
			return
		}
		for _, cb := range reg.deleted {
			d.safeCall(cb)
		}

	case crdt.ChangeScalar:
		d.lock()
		reg, ok := d.objects[rec.Root][rec.ID]
		var cbs []ScalarCallback
		if ok {
			cbs = append(cbs, reg.scalar[rec.Field]...)
		}
		d.unlock()
		for _, cb := range cbs {
			value := rec.Value
			d.safeCall(func() { cb(value) })
		}

	case crdt.ChangeSetAdded:
		d.lock()
		reg, ok := d.objects[rec.Root][rec.ID]
		var cbs []SetCallback
		if ok {
			cbs = append(cbs, reg.setAdded[rec.Field]...)
		}
		d.unlock()
		for _, cb := range cbs {
			d.safeCall(func() { cb(rec.Added) })
		}

	case crdt.ChangeSetRemoved:
		d.lock()
		reg, ok := d.objects[rec.Root][rec.ID]
		var cbs []SetCallback
		if ok {
			cbs = append(cbs, reg.setRemoved[rec.Field]...)
		}
		d.unlock()
		for _, cb := range cbs {
			d.safeCall(func() { cb(rec.Removed) })
		}

	case crdt.ChangeAttrsAdded:
		d.lock()
		reg, ok := d.objects[rec.Root][rec.ID]
		var cbs []AttrAddedCallback
		if ok {
			cbs = append(cbs, reg.attrAdded...)
		}
		d.unlock()
		for _, cb := range cbs {
			d.safeCall(func() { cb(rec.AddedValues) })
		}

	case crdt.ChangeAttrsRemoved:
		d.lock()
		reg, ok := d.objects[rec.Root][rec.ID]
		var cbs []AttrRemovedCallback
		if ok {
			cbs = append(cbs, reg.attrRemoved...)
		}
		d.unlock()
		for _, cb := range cbs {
			d.safeCall(func() { cb(rec.Removed) })
		}
	}
}

// safeCall isolates one callback: a panic is recovered and logged, never
// propagated, so one misbehaving observer can't take down a commit or
// take out its sibling observers.
func (d *Dispatcher) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("dispatch: recovered callback panic: %v", r)
		}
	}()
	fn()
}
