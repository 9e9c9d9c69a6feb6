package dispatch

import (
	"testing"

	"github.com/catalogd/catalogd/internal/core"
	"github.com/catalogd/catalogd/internal/crdt"
)

func TestOnCreateFires(t *testing.T) {
	d := New(nil)
	var got core.ID
	d.OnCreate(crdt.RootCatalogues, func(id core.ID) { got = id })

	id := core.NewID()
	d.Dispatch([]crdt.ChangeRecord{{Kind: crdt.ChangeCreated, Root: crdt.RootCatalogues, ID: id}})

	if got != id {
		t.Fatalf("expected create callback to fire with %s, got %s", id, got)
	}
}

func TestScalarCallbackReceivesValue(t *testing.T) {
	d := New(nil)
	id := core.NewID()
	d.Dispatch([]crdt.ChangeRecord{{Kind: crdt.ChangeCreated, Root: crdt.RootCatalogues, ID: id}})

	var got any
	d.OnChangeScalar(crdt.RootCatalogues, id, "name", func(v any) { got = v })
	d.Dispatch([]crdt.ChangeRecord{{Kind: crdt.ChangeScalar, Root: crdt.RootCatalogues, ID: id, Field: "name", Value: "cat0"}})

	if got != "cat0" {
		t.Fatalf("expected scalar callback value cat0, got %v", got)
	}
}

func TestSetCallbacksReceiveDelta(t *testing.T) {
	d := New(nil)
	id := core.NewID()

	var added, removed []string
	d.OnAddSet(crdt.RootCatalogues, id, "tags", func(elems []string) { added = elems })
	d.OnRemoveSet(crdt.RootCatalogues, id, "tags", func(elems []string) { removed = elems })

	d.Dispatch([]crdt.ChangeRecord{
		{Kind: crdt.ChangeSetAdded, Root: crdt.RootCatalogues, ID: id, Field: "tags", Added: []string{"foo", "bar"}},
		{Kind: crdt.ChangeSetRemoved, Root: crdt.RootCatalogues, ID: id, Field: "tags", Removed: []string{"foo"}},
	})

	if len(added) != 2 || added[0] != "foo" || added[1] != "bar" {
		t.Fatalf("unexpected added delta: %v", added)
	}
	if len(removed) != 1 || removed[0] != "foo" {
		t.Fatalf("unexpected removed delta: %v", removed)
	}
}

func TestDeleteClearsRegistryAndFiresOnce(t *testing.T) {
	d := New(nil)
	id := core.NewID()

	calls := 0
	d.OnDelete(crdt.RootCatalogues, id, func() { calls++ })
	var sawScalarAfterDelete bool
	d.OnChangeScalar(crdt.RootCatalogues, id, "name", func(any) { sawScalarAfterDelete = true })

	d.Dispatch([]crdt.ChangeRecord{{Kind: crdt.ChangeDeleted, Root: crdt.RootCatalogues, ID: id}})
	if calls != 1 {
		t.Fatalf("expected delete callback to fire exactly once, fired %d times", calls)
	}

	// A scalar change record arriving for the same (now-tombstoned) uuid
	// must not reach the cleared registry's callback.
	d.Dispatch([]crdt.ChangeRecord{{Kind: crdt.ChangeScalar, Root: crdt.RootCatalogues, ID: id, Field: "name", Value: "ghost"}})
	if sawScalarAfterDelete {
		t.Fatalf("expected no scalar callback after the object's registry was cleared")
	}
}

func TestCallbackPanicDoesNotStopBatch(t *testing.T) {
	d := New(nil)
	id := core.NewID()

	var secondCalled bool
	d.OnChangeScalar(crdt.RootCatalogues, id, "name", func(any) { panic("boom") })
	d.OnChangeScalar(crdt.RootCatalogues, id, "name", func(any) { secondCalled = true })

	d.Dispatch([]crdt.ChangeRecord{
		{Kind: crdt.ChangeCreated, Root: crdt.RootCatalogues, ID: id},
	})
	d.Dispatch([]crdt.ChangeRecord{
		{Kind: crdt.ChangeScalar, Root: crdt.RootCatalogues, ID: id, Field: "name", Value: "cat0"},
	})

	if !secondCalled {
		t.Fatalf("expected the second callback to run despite the first panicking")
	}
}

func TestAttrCallbacks(t *testing.T) {
	d := New(nil)
	id := core.NewID()

	var added map[string]any
	var removed []string
	d.OnAttrAdded(crdt.RootEvents, id, func(values map[string]any) { added = values })
	d.OnAttrRemoved(crdt.RootEvents, id, func(keys []string) { removed = keys })

	d.Dispatch([]crdt.ChangeRecord{
		{Kind: crdt.ChangeAttrsAdded, Root: crdt.RootEvents, ID: id, AddedValues: map[string]any{"color": "red"}},
		{Kind: crdt.ChangeAttrsRemoved, Root: crdt.RootEvents, ID: id, Removed: []string{"color"}},
	})

	if added["color"] != "red" {
		t.Fatalf("expected attrAdded delta color=red, got %v", added)
	}
	if len(removed) != 1 || removed[0] != "color" {
		t.Fatalf("expected attrRemoved delta [color], got %v", removed)
	}
}
