package crdt

import (
	"testing"

	"github.com/catalogd/catalogd/internal/core"
)

func TestWithTxnCreateAndScalar(t *testing.T) {
	doc := NewDocument(core.ReplicaID("r1"))
	id := core.NewID()

	var batches [][]ChangeRecord
	doc.Observe(func(records []ChangeRecord) {
		batches = append(batches, records)
	})

	err := doc.WithTxn(func(tx *Txn) error {
		tx.CreateObject(RootCatalogues, id)
		tx.SetScalar(RootCatalogues, id, "name", "Tomatoes")
		return nil
	})
	if err != nil {
		t.Fatalf("WithTxn: %v", err)
	}

	if !doc.Exists(RootCatalogues, id) {
		t.Fatalf("expected catalogue %s to exist", id)
	}
	obj, _ := doc.Object(RootCatalogues, id)
	name, ok := obj.Scalars.Get("name")
	if !ok || name != "Tomatoes" {
		t.Fatalf("expected name=Tomatoes, got %v (ok=%v)", name, ok)
	}
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("expected one batch of two change records, got %v", batches)
	}
}

func TestWithTxnNotReentrant(t *testing.T) {
	doc := NewDocument(core.ReplicaID("r1"))

	err := doc.WithTxn(func(tx *Txn) error {
		inner := doc.WithTxn(func(*Txn) error { return nil })
		if inner != ErrAlreadyInTransaction {
			t.Fatalf("expected ErrAlreadyInTransaction from nested WithTxn, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer WithTxn: %v", err)
	}
}

func TestDeleteObjectIsTombstone(t *testing.T) {
	doc := NewDocument(core.ReplicaID("r1"))
	id := core.NewID()

	doc.WithTxn(func(tx *Txn) error {
		tx.CreateObject(RootCatalogues, id)
		return nil
	})
	doc.WithTxn(func(tx *Txn) error {
		tx.DeleteObject(RootCatalogues, id)
		return nil
	})

	if doc.Exists(RootCatalogues, id) {
		t.Fatalf("expected catalogue %s to be gone after delete", id)
	}
}

func TestSetFieldLifecycle(t *testing.T) {
	doc := NewDocument(core.ReplicaID("r1"))
	id := core.NewID()

	doc.WithTxn(func(tx *Txn) error {
		tx.CreateObject(RootCatalogues, id)
		tx.AddToSet(RootCatalogues, id, FieldTags, "organic", "local")
		return nil
	})

	obj, _ := doc.Object(RootCatalogues, id)
	tags := obj.setOf(FieldTags).Elements()
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", tags)
	}

	doc.WithTxn(func(tx *Txn) error {
		tx.RemoveFromSet(RootCatalogues, id, FieldTags, "local")
		return nil
	})
	if obj.setOf(FieldTags).Contains("local") {
		t.Fatalf("expected 'local' tag removed")
	}
	if !obj.setOf(FieldTags).Contains("organic") {
		t.Fatalf("expected 'organic' tag to survive removal of 'local'")
	}
}

func TestReplaceSetIsAtomicClearAndInsert(t *testing.T) {
	doc := NewDocument(core.ReplicaID("r1"))
	id := core.NewID()

	doc.WithTxn(func(tx *Txn) error {
		tx.CreateObject(RootCatalogues, id)
		tx.AddToSet(RootCatalogues, id, FieldTags, "a", "b")
		return nil
	})
	doc.WithTxn(func(tx *Txn) error {
		tx.ReplaceSet(RootCatalogues, id, FieldTags, []string{"c"})
		return nil
	})

	obj, _ := doc.Object(RootCatalogues, id)
	got := obj.setOf(FieldTags).Elements()
	if len(got) != 1 || got[0] != "c" {
		t.Fatalf("expected only 'c' after replace, got %v", got)
	}
}

func TestRatingUnsetRemovesKeyNotTombstoneValue(t *testing.T) {
	doc := NewDocument(core.ReplicaID("r1"))
	id := core.NewID()

	doc.WithTxn(func(tx *Txn) error {
		tx.CreateObject(RootCatalogues, id)
		tx.SetScalar(RootCatalogues, id, "rating", 5)
		return nil
	})
	doc.WithTxn(func(tx *Txn) error {
		tx.DeleteScalar(RootCatalogues, id, "rating")
		return nil
	})

	obj, _ := doc.Object(RootCatalogues, id)
	if _, ok := obj.Scalars.Get("rating"); ok {
		t.Fatalf("expected rating key absent after unset")
	}
}

func TestConcurrentScalarWritesConvergeOnHigherTag(t *testing.T) {
	a := NewDocument(core.ReplicaID("a"))
	id := core.NewID()
	a.WithTxn(func(tx *Txn) error {
		tx.CreateObject(RootCatalogues, id)
		return nil
	})

	b := NewDocument(core.ReplicaID("b"))
	b.WithTxn(func(tx *Txn) error {
		tx.CreateObject(RootCatalogues, id)
		return nil
	})

	a.WithTxn(func(tx *Txn) error {
		tx.SetScalar(RootCatalogues, id, "name", "from-a")
		return nil
	})
	b.WithTxn(func(tx *Txn) error {
		tx.SetScalar(RootCatalogues, id, "name", "from-b")
		return nil
	})

	// Sync a -> b and b -> a; both sides must converge on the same winner.
	msg := CreateSyncMessage(a)
	reply, err := HandleSyncMessage(msg, b)
	if err != nil {
		t.Fatalf("HandleSyncMessage: %v", err)
	}
	if reply != nil {
		if _, err := HandleSyncMessage(reply, a); err != nil {
			t.Fatalf("HandleSyncMessage reply: %v", err)
		}
	}

	msg2 := CreateSyncMessage(b)
	reply2, err := HandleSyncMessage(msg2, a)
	if err != nil {
		t.Fatalf("HandleSyncMessage: %v", err)
	}
	if reply2 != nil {
		if _, err := HandleSyncMessage(reply2, b); err != nil {
			t.Fatalf("HandleSyncMessage reply: %v", err)
		}
	}

	objA, _ := a.Object(RootCatalogues, id)
	objB, _ := b.Object(RootCatalogues, id)
	nameA, _ := objA.Scalars.Get("name")
	nameB, _ := objB.Scalars.Get("name")
	if nameA != nameB {
		t.Fatalf("replicas diverged: a=%v b=%v", nameA, nameB)
	}
}
