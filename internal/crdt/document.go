package crdt

import (
	"fmt"
	"sync"

	"github.com/catalogd/catalogd/internal/core"
)

// RootKind names one of the document's two root containers.
type RootKind string

const (
	RootCatalogues RootKind = "catalogues"
	RootEvents     RootKind = "events"
)

// Known set-field names, shared across both kinds so dispatch and the wire
// codec don't need a kind-specific switch to know a field is a collection.
const (
	FieldTags     = "tags"
	FieldProducts = "products"
	FieldEvents   = "events"
)

// ObjectMap is the CRDT-backed state of one catalogue or event: a
// last-writer-wins register per scalar field, an observed-remove set per
// named collection field, and a last-writer-wins map for the freeform
// attributes bag. One struct serves both kinds identically — the schema
// layer decides which field names are meaningful for a given kind.
type ObjectMap struct {
	Scalars *LWWMap
	Sets    map[string]*ORSet
	Attrs   *LWWMap
}

func newObjectMap() *ObjectMap {
	return &ObjectMap{
		Scalars: NewLWWMap(),
		Sets:    make(map[string]*ORSet),
		Attrs:   NewLWWMap(),
	}
}

func (o *ObjectMap) setOf(field string) *ORSet {
	s, ok := o.Sets[field]
	if !ok {
		s = NewORSet()
		o.Sets[field] = s
	}
	return s
}

func (o *ObjectMap) clone() *ObjectMap {
	clone := newObjectMap()
	clone.Scalars = o.Scalars.Clone()
	clone.Attrs = o.Attrs.Clone()
	for field, set := range o.Sets {
		clone.Sets[field] = set.Clone()
	}
	return clone
}

// ChangeKind distinguishes the depth-0/1/2 change taxonomy: object
// create/delete, scalar field writes, and collection element add/remove.
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeDeleted
	ChangeScalar
	ChangeSetAdded
	ChangeSetRemoved
	ChangeAttrsAdded
	ChangeAttrsRemoved
)

// ChangeRecord is one entry of the batch a committed transaction delivers to
// the deep-observe hook, carrying enough information for the dispatcher
// (internal/dispatch) to resolve it into a typed per-object callback without
// consulting the document again.
type ChangeRecord struct {
	Kind        ChangeKind
	Root        RootKind
	ID          core.ID
	Field       string         // set for Scalar/SetAdded/SetRemoved
	Value       any            // set for Scalar
	Added       []string       // set for SetAdded
	Removed     []string       // set for SetRemoved/AttrsRemoved (keys)
	AddedValues map[string]any // set for AttrsAdded (key -> JSON value)
}

// ErrAlreadyInTransaction is returned by WithTxn when the document's single
// critical section is already held, e.g. a sync peer's HandleSyncMessage
// racing a local commit. One of the two benign races the sync engine must
// swallow rather than treat as a failure.
var ErrAlreadyInTransaction = fmt.Errorf("crdt: document already in a transaction")

// Document is the root CRDT container: two uuid-keyed object registries
// (catalogues, events) plus the clock that tags every local write and the
// oplog used to compute sync deltas (see wire.go).
type Document struct {
	mu    sync.Mutex
	clock *core.Clock

	catalogues map[core.ID]*ObjectMap
	events     map[core.ID]*ObjectMap

	oplog []Op

	observer    func([]ChangeRecord)
	commitHooks map[int]func([]Op, bool)
	nextHookID  int
}

// NewDocument creates an empty document for the given replica identity.
func NewDocument(replica core.ReplicaID) *Document {
	return &Document{
		clock:      core.NewClock(replica),
		catalogues: make(map[core.ID]*ObjectMap),
		events:     make(map[core.ID]*ObjectMap),
	}
}

// Observe installs the deep-observe hook. The database (internal/catalog)
// installs exactly one hook on construction and routes every batch to the
// change dispatcher (internal/dispatch).
func (d *Document) Observe(fn func([]ChangeRecord)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = fn
}

// Replica returns this document's local replica identity.
func (d *Document) Replica() core.ReplicaID {
	return d.clock.Replica()
}

func (d *Document) root(kind RootKind) map[core.ID]*ObjectMap {
	if kind == RootCatalogues {
		return d.catalogues
	}
	return d.events
}

// Txn is the transaction scope handed to callers of WithTxn. Every mutation
// method appends to both the oplog (for sync) and the pending change-record
// batch (for deep-observe): within a single transaction, all writes are
// atomic — observers see the full batch or none of it.
type Txn struct {
	doc     *Document
	records []ChangeRecord
	ops     []Op
	remote  bool
}

// WithTxn opens the document's one critical section. It is not reentrant:
// a second WithTxn call while one is already running on this document
// returns ErrAlreadyInTransaction instead of blocking. If fn returns an
// error no change records are delivered, since every façade mutation
// validates before it calls WithTxn and therefore never fails
// mid-transaction.
//
// A commit delivers two independent batches: the change-record batch
// drives internal/dispatch's typed callbacks, while the ops batch drives
// internal/sync's update-forwarding to connected peers.
func (d *Document) WithTxn(fn func(*Txn) error) error {
	return d.withTxn(false, fn)
}

func (d *Document) withTxn(remote bool, fn func(*Txn) error) error {
	if !d.mu.TryLock() {
		return ErrAlreadyInTransaction
	}
	defer d.mu.Unlock()

	txn := &Txn{doc: d, remote: remote}
	if err := fn(txn); err != nil {
		return err
	}
	if len(txn.records) > 0 && d.observer != nil {
		d.observer(txn.records)
	}
	if len(txn.ops) > 0 {
		for _, hook := range d.commitHooks {
			hook(txn.ops, remote)
		}
	}
	return nil
}

// OnCommit registers a hook that receives every op appended by a
// transaction, local or remote-applied, plus whether the commit came from
// ApplyOps (remote=true) or a local mutation (remote=false). The returned
// func removes the hook; internal/sync installs one hook for the lifetime
// of its engine, while cmd/catalogd's WebSocket server installs and
// removes one per connected client.
//
// Hooks forward only locally-originated commits to connected peers as
// UPDATE messages, never re-forwarding an update that was itself received
// from a peer — that is what keeps a sync mesh from looping a commit back
// to the replica that made it.
func (d *Document) OnCommit(fn func(ops []Op, remote bool)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.commitHooks == nil {
		d.commitHooks = make(map[int]func([]Op, bool))
	}
	id := d.nextHookID
	d.nextHookID++
	d.commitHooks[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.commitHooks, id)
	}
}

func (t *Txn) tick() core.Tag {
	return t.doc.clock.Tick()
}

func (t *Txn) appendOp(op Op) {
	t.doc.oplog = append(t.doc.oplog, op)
	t.ops = append(t.ops, op)
}

// IDs returns every id currently present in root. Unlike Document.IDs, it
// does not take the document lock, since it is only ever called from
// inside an already-open transaction.
func (t *Txn) IDs(root RootKind) []core.ID {
	m := t.doc.root(root)
	out := make([]core.ID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// CreateObject inserts a fresh object map under id in root: a depth-0
// creation.
func (t *Txn) CreateObject(root RootKind, id core.ID) *ObjectMap {
	obj := newObjectMap()
	t.doc.root(root)[id] = obj
	t.appendOp(Op{Kind: opCreate, Root: root, ID: id, Tag: t.tick()})
	t.records = append(t.records, ChangeRecord{Kind: ChangeCreated, Root: root, ID: id})
	return obj
}

// DeleteObject removes the top-level entry for id: a depth-0 deletion.
// The caller (internal/catalog) is responsible for cascading the
// deletion into any catalogue that references an event, in the same
// transaction, so no dangling reference is left behind.
func (t *Txn) DeleteObject(root RootKind, id core.ID) {
	delete(t.doc.root(root), id)
	t.appendOp(Op{Kind: opDelete, Root: root, ID: id, Tag: t.tick()})
	t.records = append(t.records, ChangeRecord{Kind: ChangeDeleted, Root: root, ID: id})
}

// Exists reports whether id is still present in root — the tombstone check
// every façade method performs before doing anything else.
func (d *Document) Exists(root RootKind, id core.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.root(root)[id]
	return ok
}

// Object returns the live ObjectMap for id, or false if it has been deleted
// or never existed.
func (d *Document) Object(root RootKind, id core.ID) (*ObjectMap, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.root(root)[id]
	return obj, ok
}

// IDs returns every id currently present in root.
func (d *Document) IDs(root RootKind) []core.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.root(root)
	out := make([]core.ID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// SetScalar writes field on id's scalar map: a depth-1 mutation.
func (t *Txn) SetScalar(root RootKind, id core.ID, field string, value any) {
	obj, ok := t.doc.root(root)[id]
	if !ok {
		return
	}
	tag := t.tick()
	if !obj.Scalars.Set(field, value, tag) {
		return
	}
	t.appendOp(Op{Kind: opScalar, Root: root, ID: id, Field: field, Value: value, Tag: tag})
	t.records = append(t.records, ChangeRecord{Kind: ChangeScalar, Root: root, ID: id, Field: field, Value: value})
}

// DeleteScalar removes field, used to represent an unset rating: the
// unset sentinel removes the key rather than storing a tombstone value.
func (t *Txn) DeleteScalar(root RootKind, id core.ID, field string) {
	obj, ok := t.doc.root(root)[id]
	if !ok {
		return
	}
	tag := t.tick()
	if !obj.Scalars.Delete(field, tag) {
		return
	}
	t.appendOp(Op{Kind: opScalarDelete, Root: root, ID: id, Field: field, Tag: tag})
	t.records = append(t.records, ChangeRecord{Kind: ChangeScalar, Root: root, ID: id, Field: field, Value: nil})
}

// AddToSet inserts elems into the named set field (tags/products/events):
// a depth-2 add.
func (t *Txn) AddToSet(root RootKind, id core.ID, field string, elems ...string) {
	obj, ok := t.doc.root(root)[id]
	if !ok || len(elems) == 0 {
		return
	}
	set := obj.setOf(field)
	for _, e := range elems {
		token := set.Add(e)
		t.appendOp(Op{Kind: opSetAdd, Root: root, ID: id, Field: field, Elem: e, Token: token, Tag: t.tick()})
	}
	t.records = append(t.records, ChangeRecord{Kind: ChangeSetAdded, Root: root, ID: id, Field: field, Added: append([]string(nil), elems...)})
}

// RemoveFromSet tombstones elems from the named set field, the depth-2
// remove. Removing an absent element is a no-op, so it never appears in
// the emitted change record.
func (t *Txn) RemoveFromSet(root RootKind, id core.ID, field string, elems ...string) {
	obj, ok := t.doc.root(root)[id]
	if !ok {
		return
	}
	set := obj.setOf(field)
	var removed []string
	for _, e := range elems {
		if !set.Contains(e) {
			continue
		}
		tokens := set.Remove(e)
		removed = append(removed, e)
		t.appendOp(Op{Kind: opSetRemove, Root: root, ID: id, Field: field, Elem: e, Tokens: tokens, Tag: t.tick()})
	}
	if len(removed) > 0 {
		t.records = append(t.records, ChangeRecord{Kind: ChangeSetRemoved, Root: root, ID: id, Field: field, Removed: removed})
	}
}

// ReplaceSet atomically clears the named set field and re-inserts
// newElems in one transaction: the façade's "collection set" operation.
func (t *Txn) ReplaceSet(root RootKind, id core.ID, field string, newElems []string) {
	obj, ok := t.doc.root(root)[id]
	if !ok {
		return
	}
	set := obj.setOf(field)
	existing := set.Elements()
	if len(existing) > 0 {
		for _, e := range existing {
			tokens := set.Remove(e)
			t.appendOp(Op{Kind: opSetRemove, Root: root, ID: id, Field: field, Elem: e, Tokens: tokens, Tag: t.tick()})
		}
		t.records = append(t.records, ChangeRecord{Kind: ChangeSetRemoved, Root: root, ID: id, Field: field, Removed: existing})
	}
	if len(newElems) > 0 {
		for _, e := range newElems {
			token := set.Add(e)
			t.appendOp(Op{Kind: opSetAdd, Root: root, ID: id, Field: field, Elem: e, Token: token, Tag: t.tick()})
		}
		t.records = append(t.records, ChangeRecord{Kind: ChangeSetAdded, Root: root, ID: id, Field: field, Added: append([]string(nil), newElems...)})
	}
}

// SetAttr writes one attribute key to a JSON-compatible value: the
// attributes variant of AddToSet, storing the value as JSON.
func (t *Txn) SetAttr(root RootKind, id core.ID, key string, value any) {
	obj, ok := t.doc.root(root)[id]
	if !ok {
		return
	}
	tag := t.tick()
	if !obj.Attrs.Set(key, value, tag) {
		return
	}
	t.appendOp(Op{Kind: opAttrSet, Root: root, ID: id, Field: key, Value: value, Tag: tag})
	t.records = append(t.records, ChangeRecord{Kind: ChangeAttrsAdded, Root: root, ID: id, AddedValues: map[string]any{key: value}})
}

// DeleteAttr removes one attribute key.
func (t *Txn) DeleteAttr(root RootKind, id core.ID, key string) {
	obj, ok := t.doc.root(root)[id]
	if !ok {
		return
	}
	tag := t.tick()
	if !obj.Attrs.Delete(key, tag) {
		return
	}
	t.appendOp(Op{Kind: opAttrDelete, Root: root, ID: id, Field: key, Tag: tag})
	t.records = append(t.records, ChangeRecord{Kind: ChangeAttrsRemoved, Root: root, ID: id, Removed: []string{key}})
}

// ReplaceAttrs atomically clears every attribute key and re-inserts
// newAttrs, batching the whole clear into one ChangeAttrsRemoved record
// and the whole re-insert into one ChangeAttrsAdded record — the
// attributes analogue of ReplaceSet, rather than one record per key.
func (t *Txn) ReplaceAttrs(root RootKind, id core.ID, newAttrs map[string]any) {
	obj, ok := t.doc.root(root)[id]
	if !ok {
		return
	}
	existingKeys := obj.Attrs.Keys()
	if len(existingKeys) > 0 {
		var removed []string
		for _, k := range existingKeys {
			tag := t.tick()
			if !obj.Attrs.Delete(k, tag) {
				continue
			}
			t.appendOp(Op{Kind: opAttrDelete, Root: root, ID: id, Field: k, Tag: tag})
			removed = append(removed, k)
		}
		if len(removed) > 0 {
			t.records = append(t.records, ChangeRecord{Kind: ChangeAttrsRemoved, Root: root, ID: id, Removed: removed})
		}
	}
	if len(newAttrs) > 0 {
		added := make(map[string]any, len(newAttrs))
		for k, v := range newAttrs {
			tag := t.tick()
			if !obj.Attrs.Set(k, v, tag) {
				continue
			}
			t.appendOp(Op{Kind: opAttrSet, Root: root, ID: id, Field: k, Value: v, Tag: tag})
			added[k] = v
		}
		if len(added) > 0 {
			t.records = append(t.records, ChangeRecord{Kind: ChangeAttrsAdded, Root: root, ID: id, AddedValues: added})
		}
	}
}
