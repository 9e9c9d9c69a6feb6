package integration

import (
	"testing"
	"time"

	"github.com/catalogd/catalogd/internal/catalog"
	"github.com/catalogd/catalogd/internal/core"
	"github.com/catalogd/catalogd/internal/schema"
)

func newTestDB(t *testing.T) *catalog.DB {
	t.Helper()
	return catalog.New(core.NewReplicaID(), nil)
}

func TestLWWFieldMergeAcrossReplicas(t *testing.T) {
	dbA := newTestDB(t)
	dbB := newTestDB(t)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entry, err := dbA.CreateEvent(schema.EventModel{Start: start, Stop: start, Author: "original"})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	if err := dbA.SyncWith(dbB); err != nil {
		t.Fatalf("initial SyncWith: %v", err)
	}

	onB, err := dbB.GetEvent(entry.ID())
	if err != nil {
		t.Fatalf("B should have the event after initial sync: %v", err)
	}
	author, err := onB.Author()
	if err != nil {
		t.Fatalf("Author: %v", err)
	}
	if author != "original" {
		t.Fatalf("B author mismatch: %q", author)
	}

	// Concurrent writes from both replicas to the same scalar field.
	onA, err := dbA.GetEvent(entry.ID())
	if err != nil {
		t.Fatalf("GetEvent on A: %v", err)
	}
	if err := onA.SetAuthor("from A"); err != nil {
		t.Fatalf("SetAuthor on A: %v", err)
	}
	if err := onB.SetAuthor("from B"); err != nil {
		t.Fatalf("SetAuthor on B: %v", err)
	}

	if err := dbA.SyncWith(dbB); err != nil {
		t.Fatalf("second SyncWith: %v", err)
	}

	finalA, err := dbA.GetEvent(entry.ID())
	if err != nil {
		t.Fatalf("GetEvent on A after sync: %v", err)
	}
	finalB, err := dbB.GetEvent(entry.ID())
	if err != nil {
		t.Fatalf("GetEvent on B after sync: %v", err)
	}
	authorA, _ := finalA.Author()
	authorB, _ := finalB.Author()
	if authorA != authorB {
		t.Fatalf("replicas did not converge on a single author: A=%q B=%q", authorA, authorB)
	}
	if authorA != "from A" && authorA != "from B" {
		t.Fatalf("converged author %q is neither of the concurrent writes", authorA)
	}
}

func TestORSetTagMergeAcrossReplicas(t *testing.T) {
	dbA := newTestDB(t)
	dbB := newTestDB(t)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entry, err := dbA.CreateEvent(schema.EventModel{Start: start, Stop: start, Author: "tag-test", Tags: []string{"initial"}})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if err := dbA.SyncWith(dbB); err != nil {
		t.Fatalf("initial SyncWith: %v", err)
	}

	onA, err := dbA.GetEvent(entry.ID())
	if err != nil {
		t.Fatalf("GetEvent on A: %v", err)
	}
	onB, err := dbB.GetEvent(entry.ID())
	if err != nil {
		t.Fatalf("GetEvent on B: %v", err)
	}

	if err := onA.AddTags("from-a"); err != nil {
		t.Fatalf("AddTags on A: %v", err)
	}
	if err := onB.AddTags("from-b"); err != nil {
		t.Fatalf("AddTags on B: %v", err)
	}

	if err := dbA.SyncWith(dbB); err != nil {
		t.Fatalf("second SyncWith: %v", err)
	}

	wantTags := map[string]bool{"initial": true, "from-a": true, "from-b": true}
	checkTags := func(t *testing.T, db *catalog.DB, label string) {
		ev, err := db.GetEvent(entry.ID())
		if err != nil {
			t.Fatalf("%s: GetEvent: %v", label, err)
		}
		tags, err := ev.Tags()
		if err != nil {
			t.Fatalf("%s: Tags: %v", label, err)
		}
		if len(tags) != len(wantTags) {
			t.Errorf("%s: expected %d tags, got %v", label, len(wantTags), tags)
		}
		for _, tag := range tags {
			if !wantTags[tag] {
				t.Errorf("%s: unexpected tag %q", label, tag)
			}
		}
	}
	checkTags(t, dbA, "A")
	checkTags(t, dbB, "B")
}

func TestConcurrentRemoveAndAddOfSameTagSurvives(t *testing.T) {
	dbA := newTestDB(t)
	dbB := newTestDB(t)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entry, err := dbA.CreateEvent(schema.EventModel{Start: start, Stop: start, Author: "tag-test", Tags: []string{"shared"}})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if err := dbA.SyncWith(dbB); err != nil {
		t.Fatalf("initial SyncWith: %v", err)
	}

	onA, err := dbA.GetEvent(entry.ID())
	if err != nil {
		t.Fatalf("GetEvent on A: %v", err)
	}
	onB, err := dbB.GetEvent(entry.ID())
	if err != nil {
		t.Fatalf("GetEvent on B: %v", err)
	}

	// A removes "shared" while B concurrently re-adds it (a fresh token).
	if err := onA.RemoveTags("shared"); err != nil {
		t.Fatalf("RemoveTags on A: %v", err)
	}
	if err := onB.AddTags("shared"); err != nil {
		t.Fatalf("AddTags on B: %v", err)
	}

	if err := dbA.SyncWith(dbB); err != nil {
		t.Fatalf("SyncWith: %v", err)
	}

	finalA, err := dbA.GetEvent(entry.ID())
	if err != nil {
		t.Fatalf("GetEvent on A after sync: %v", err)
	}
	tags, err := finalA.Tags()
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	found := false
	for _, tag := range tags {
		if tag == "shared" {
			found = true
		}
	}
	if !found {
		t.Error("concurrent re-add should survive a concurrent remove of the same element")
	}
}
