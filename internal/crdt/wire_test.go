package crdt

import (
	"testing"

	"github.com/catalogd/catalogd/internal/core"
)

func TestDiffSinceOmitsAlreadyKnownOps(t *testing.T) {
	doc := NewDocument(core.ReplicaID("r1"))
	id := core.NewID()
	doc.WithTxn(func(tx *Txn) error {
		tx.CreateObject(RootCatalogues, id)
		tx.SetScalar(RootCatalogues, id, "name", "v1")
		return nil
	})

	full := doc.DiffSince(map[core.ReplicaID]uint64{})
	if len(full) != 2 {
		t.Fatalf("expected 2 ops against an empty peer vector, got %d", len(full))
	}

	caughtUp := doc.DiffSince(doc.StateVector())
	if len(caughtUp) != 0 {
		t.Fatalf("expected 0 ops against our own state vector, got %d", len(caughtUp))
	}
}

func TestApplyOpsIsIdempotent(t *testing.T) {
	src := NewDocument(core.ReplicaID("a"))
	id := core.NewID()
	src.WithTxn(func(tx *Txn) error {
		tx.CreateObject(RootCatalogues, id)
		tx.AddToSet(RootCatalogues, id, FieldTags, "fresh")
		return nil
	})
	ops := src.DiffSince(map[core.ReplicaID]uint64{})

	dst := NewDocument(core.ReplicaID("b"))
	if err := dst.ApplyOps(ops); err != nil {
		t.Fatalf("ApplyOps: %v", err)
	}
	if err := dst.ApplyOps(ops); err != nil {
		t.Fatalf("ApplyOps (replay): %v", err)
	}

	obj, ok := dst.Object(RootCatalogues, id)
	if !ok {
		t.Fatalf("expected catalogue to exist after replay")
	}
	tags := obj.setOf(FieldTags).Elements()
	if len(tags) != 1 || tags[0] != "fresh" {
		t.Fatalf("expected exactly one 'fresh' tag after replaying the same ops twice, got %v", tags)
	}
}

func TestConcurrentSetAddIsAddWins(t *testing.T) {
	a := NewDocument(core.ReplicaID("a"))
	b := NewDocument(core.ReplicaID("b"))
	id := core.NewID()

	a.WithTxn(func(tx *Txn) error { tx.CreateObject(RootCatalogues, id); return nil })
	b.WithTxn(func(tx *Txn) error { tx.CreateObject(RootCatalogues, id); return nil })

	a.WithTxn(func(tx *Txn) error { tx.AddToSet(RootCatalogues, id, FieldTags, "organic"); return nil })
	// b concurrently removes a tag it never observed being added; this must
	// be a no-op since there is nothing live to remove yet.
	b.WithTxn(func(tx *Txn) error { tx.RemoveFromSet(RootCatalogues, id, FieldTags, "organic"); return nil })

	aOps := a.DiffSince(map[core.ReplicaID]uint64{})
	if err := b.ApplyOps(aOps); err != nil {
		t.Fatalf("ApplyOps: %v", err)
	}

	objB, _ := b.Object(RootCatalogues, id)
	if !objB.setOf(FieldTags).Contains("organic") {
		t.Fatalf("add-wins: 'organic' should survive a remove that never observed its add-token")
	}
}

func TestRemoveOnlyTombstonesObservedTokens(t *testing.T) {
	a := NewDocument(core.ReplicaID("a"))
	id := core.NewID()
	a.WithTxn(func(tx *Txn) error {
		tx.CreateObject(RootCatalogues, id)
		tx.AddToSet(RootCatalogues, id, FieldTags, "organic")
		return nil
	})
	// a removes the tag it has seen so far.
	a.WithTxn(func(tx *Txn) error {
		tx.RemoveFromSet(RootCatalogues, id, FieldTags, "organic")
		return nil
	})

	b := NewDocument(core.ReplicaID("b"))
	ops := a.DiffSince(map[core.ReplicaID]uint64{})
	if err := b.ApplyOps(ops); err != nil {
		t.Fatalf("ApplyOps: %v", err)
	}

	// b now independently re-adds the same element, minting a fresh token
	// concurrent with a's remove; replaying a's remove op again must not
	// touch b's new token.
	b.WithTxn(func(tx *Txn) error {
		tx.AddToSet(RootCatalogues, id, FieldTags, "organic")
		return nil
	})
	if err := b.ApplyOps(ops); err != nil {
		t.Fatalf("ApplyOps (replay): %v", err)
	}

	objB, _ := b.Object(RootCatalogues, id)
	if !objB.setOf(FieldTags).Contains("organic") {
		t.Fatalf("expected b's independently re-added tag to survive replay of a's earlier remove")
	}
}

func TestHandleSyncMessageRejectsGarbage(t *testing.T) {
	doc := NewDocument(core.ReplicaID("r1"))
	if _, err := HandleSyncMessage([]byte("not a sync message"), doc); err == nil {
		t.Fatalf("expected an error decoding a non-sync payload")
	}
}
