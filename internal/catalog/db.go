package catalog

import (
	"log"
	"sync"

	"github.com/catalogd/catalogd/internal/core"
	"github.com/catalogd/catalogd/internal/crdt"
	"github.com/catalogd/catalogd/internal/dispatch"
	"github.com/catalogd/catalogd/internal/schema"
)

// DB is the root database: two uuid-keyed object registries backed by a
// single crdt.Document, plus the dispatcher routing its change-record
// batches to typed callbacks, giving two sibling root containers
// (catalogues and events) a field-level object façade.
type DB struct {
	doc        *crdt.Document
	dispatcher *dispatch.Dispatcher

	syncedMu sync.Mutex
	synced   map[core.ReplicaID]struct{}
}

// New creates an empty database for the given replica identity. A nil
// logger defaults to the standard library logger (see dispatch.New).
func New(replica core.ReplicaID, logger dispatch.Logger) *DB {
	doc := crdt.NewDocument(replica)
	disp := dispatch.New(logger)
	doc.Observe(disp.Dispatch)
	return &DB{
		doc:        doc,
		dispatcher: disp,
		synced:     make(map[core.ReplicaID]struct{}),
	}
}

// Document exposes the underlying CRDT document for internal/sync's wire
// protocol and internal/persist's replay/follow adapter; nothing in
// internal/catalog itself needs direct document access beyond this.
func (db *DB) Document() *crdt.Document { return db.doc }

// Replica returns this database's local replica identity.
func (db *DB) Replica() core.ReplicaID { return db.doc.Replica() }

// CreateEvent validates model, allocates a uuid, and inserts the event
// within one transaction.
func (db *DB) CreateEvent(model schema.EventModel) (*Event, error) {
	wire, err := schema.ValidateEvent(model)
	if err != nil {
		return nil, err
	}
	id := core.NewID()
	err = db.doc.WithTxn(func(tx *crdt.Txn) error {
		tx.CreateObject(crdt.RootEvents, id)
		for field, value := range wire {
			tx.SetScalar(crdt.RootEvents, id, field, value)
		}
		if len(model.Tags) > 0 {
			tx.AddToSet(crdt.RootEvents, id, crdt.FieldTags, model.Tags...)
		}
		if len(model.Products) > 0 {
			tx.AddToSet(crdt.RootEvents, id, crdt.FieldProducts, model.Products...)
		}
		for key, value := range model.Attributes {
			tx.SetAttr(crdt.RootEvents, id, key, value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newEvent(db, id), nil
}

// CreateCatalogue validates model, allocates a uuid, inserts the
// catalogue, and atomically adds references to any given events within
// the same transaction.
func (db *DB) CreateCatalogue(model schema.CatalogueModel, events ...*Event) (*Catalogue, error) {
	wire, err := schema.ValidateCatalogue(model)
	if err != nil {
		return nil, err
	}
	id := core.NewID()
	err = db.doc.WithTxn(func(tx *crdt.Txn) error {
		tx.CreateObject(crdt.RootCatalogues, id)
		for field, value := range wire {
			tx.SetScalar(crdt.RootCatalogues, id, field, value)
		}
		if len(model.Tags) > 0 {
			tx.AddToSet(crdt.RootCatalogues, id, crdt.FieldTags, model.Tags...)
		}
		refs := append([]string(nil), model.Events...)
		for _, e := range events {
			refs = append(refs, e.ID().String())
		}
		if len(refs) > 0 {
			tx.AddToSet(crdt.RootCatalogues, id, crdt.FieldEvents, refs...)
		}
		for key, value := range model.Attributes {
			tx.SetAttr(crdt.RootCatalogues, id, key, value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newCatalogue(db, id), nil
}

// GetEvent returns a handle for id, or ErrNotFound if it has never
// existed or has been deleted.
func (db *DB) GetEvent(id core.ID) (*Event, error) {
	if !db.doc.Exists(crdt.RootEvents, id) {
		return nil, &ErrNotFound{Kind: "event", ID: id}
	}
	return newEvent(db, id), nil
}

// GetCatalogue returns a handle for id, or ErrNotFound.
func (db *DB) GetCatalogue(id core.ID) (*Catalogue, error) {
	if !db.doc.Exists(crdt.RootCatalogues, id) {
		return nil, &ErrNotFound{Kind: "catalogue", ID: id}
	}
	return newCatalogue(db, id), nil
}

// Events returns a handle for every live event.
func (db *DB) Events() []*Event {
	ids := db.doc.IDs(crdt.RootEvents)
	out := make([]*Event, len(ids))
	for i, id := range ids {
		out[i] = newEvent(db, id)
	}
	return out
}

// Catalogues returns a handle for every live catalogue.
func (db *DB) Catalogues() []*Catalogue {
	ids := db.doc.IDs(crdt.RootCatalogues)
	out := make([]*Catalogue, len(ids))
	for i, id := range ids {
		out[i] = newCatalogue(db, id)
	}
	return out
}

// OnCreateEvent registers a creation observer fired once per new event.
func (db *DB) OnCreateEvent(cb func(*Event)) {
	db.dispatcher.OnCreate(crdt.RootEvents, func(id core.ID) { cb(newEvent(db, id)) })
}

// OnCreateCatalogue registers a creation observer fired once per new catalogue.
func (db *DB) OnCreateCatalogue(cb func(*Catalogue)) {
	db.dispatcher.OnCreate(crdt.RootCatalogues, func(id core.ID) { cb(newCatalogue(db, id)) })
}

// SyncWith pairs db with peer in-process, for tests and for any deployment
// where both replicas run in the same binary. It performs the bootstrap
// state-vector exchange and then installs each side's commit hook to
// forward every subsequent *local* commit to the other as an UPDATE — an
// ApplyOps-driven commit is never re-forwarded, so the two replicas never
// loop messages back and forth. Pairing with an already-synced peer is a
// no-op: sync is idempotent. internal/sync provides the equivalent
// protocol over a real network transport for separate-process peers.
func (db *DB) SyncWith(peer *DB) error {
	db.syncedMu.Lock()
	_, already := db.synced[peer.Replica()]
	if !already {
		db.synced[peer.Replica()] = struct{}{}
	}
	db.syncedMu.Unlock()
	if already {
		return nil
	}

	peer.syncedMu.Lock()
	peer.synced[db.Replica()] = struct{}{}
	peer.syncedMu.Unlock()

	// A's announce, diffed by B, applied back to A; then the mirror image
	// so both sides learn what the other had that they didn't.
	announceFromA := crdt.CreateSyncMessage(db.doc)
	replyFromB, err := crdt.HandleSyncMessage(announceFromA, peer.doc)
	if err != nil {
		return err
	}
	if replyFromB != nil {
		if _, err := crdt.HandleSyncMessage(replyFromB, db.doc); err != nil {
			return err
		}
	}

	announceFromB := crdt.CreateSyncMessage(peer.doc)
	replyFromA, err := crdt.HandleSyncMessage(announceFromB, db.doc)
	if err != nil {
		return err
	}
	if replyFromA != nil {
		if _, err := crdt.HandleSyncMessage(replyFromA, peer.doc); err != nil {
			return err
		}
	}

	db.doc.OnCommit(func(ops []crdt.Op, remote bool) {
		if remote {
			return
		}
		// "already in a transaction" is one of the two benign
		// sync races (a remote ApplyOps colliding with this forward) and
		// is swallowed; anything else is logged since SyncWith's hook has
		// no caller to propagate an error to.
		if err := peer.doc.ApplyOps(ops); err != nil && err != crdt.ErrAlreadyInTransaction {
			log.Printf("catalog: sync forward db->peer failed: %v", err)
		}
	})
	peer.doc.OnCommit(func(ops []crdt.Op, remote bool) {
		if remote {
			return
		}
		if err := db.doc.ApplyOps(ops); err != nil && err != crdt.ErrAlreadyInTransaction {
			log.Printf("catalog: sync forward peer->db failed: %v", err)
		}
	})
	return nil
}
