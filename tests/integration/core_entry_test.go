// Package integration exercises catalogd's packages together the way a
// real process does: internal/catalog's façade on top of a crdt.Document
// that internal/persist is actually logging to disk, rather than each
// package's own in-memory unit tests.
package integration

import (
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/catalogd/catalogd/internal/catalog"
	"github.com/catalogd/catalogd/internal/core"
	"github.com/catalogd/catalogd/internal/persist"
	"github.com/catalogd/catalogd/internal/schema"
)

type testRoom struct {
	db      *catalog.DB
	adapter *persist.Adapter
	path    string
}

func openTestRoom(t *testing.T, dir, passphrase string) *testRoom {
	t.Helper()
	path := filepath.Join(dir, "room.cat")
	db := catalog.New(core.NewReplicaID(), log.New(os.Stderr, "", 0))
	adapter, err := persist.Open(db.Document(), persist.Config{
		Path:       path,
		WriteDelay: 10 * time.Millisecond,
		Passphrase: passphrase,
	})
	if err != nil {
		t.Fatalf("persist.Open: %v", err)
	}
	return &testRoom{db: db, adapter: adapter, path: path}
}

func (r *testRoom) reopen(t *testing.T, passphrase string) *testRoom {
	t.Helper()
	if err := r.adapter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	db := catalog.New(core.NewReplicaID(), log.New(os.Stderr, "", 0))
	adapter, err := persist.Open(db.Document(), persist.Config{
		Path:       r.path,
		WriteDelay: 10 * time.Millisecond,
		Passphrase: passphrase,
	})
	if err != nil {
		t.Fatalf("reopen persist.Open: %v", err)
	}
	return &testRoom{db: db, adapter: adapter, path: r.path}
}

func TestCatalogueEventLifecycleWithPersistence(t *testing.T) {
	dir := t.TempDir()
	room := openTestRoom(t, dir, "")

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	stop := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	var createdEvents []core.ID
	for _, author := range []string{"alice", "bob", "carol"} {
		ev, err := room.db.CreateEvent(schema.EventModel{
			Start:  start,
			Stop:   stop,
			Author: author,
			Tags:   []string{"test", author},
		})
		if err != nil {
			t.Fatalf("CreateEvent(%s): %v", author, err)
		}
		createdEvents = append(createdEvents, ev.ID())
	}

	cat, err := room.db.CreateCatalogue(schema.CatalogueModel{Name: "week one", Author: "alice"})
	if err != nil {
		t.Fatalf("CreateCatalogue: %v", err)
	}

	for _, id := range createdEvents {
		ev, err := room.db.GetEvent(id)
		if err != nil {
			t.Fatalf("GetEvent: %v", err)
		}
		if err := cat.AddEvents(ev); err != nil {
			t.Fatalf("AddEvents: %v", err)
		}
	}

	t.Run("update an event", func(t *testing.T) {
		target, err := room.db.GetEvent(createdEvents[0])
		if err != nil {
			t.Fatalf("GetEvent: %v", err)
		}
		if err := target.SetAuthor("alice-updated"); err != nil {
			t.Fatalf("SetAuthor: %v", err)
		}
		if err := target.AddTags("updated"); err != nil {
			t.Fatalf("AddTags: %v", err)
		}

		author, err := target.Author()
		if err != nil {
			t.Fatalf("Author: %v", err)
		}
		if author != "alice-updated" {
			t.Errorf("Author() = %q, want %q", author, "alice-updated")
		}
	})

	t.Run("delete an event cascades out of the catalogue", func(t *testing.T) {
		target, err := room.db.GetEvent(createdEvents[1])
		if err != nil {
			t.Fatalf("GetEvent: %v", err)
		}
		if err := target.Delete(); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := room.db.GetEvent(createdEvents[1]); err == nil {
			t.Error("expected GetEvent to fail for a deleted event")
		}

		events, err := cat.Events()
		if err != nil {
			t.Fatalf("Events: %v", err)
		}
		for _, ev := range events {
			if ev.ID() == createdEvents[1] {
				t.Error("deleted event still referenced by catalogue")
			}
		}
	})

	if err := room.adapter.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	t.Run("reopen and verify persistence", func(t *testing.T) {
		reopened := room.reopen(t, "")
		defer reopened.adapter.Close()

		survivor, err := reopened.db.GetEvent(createdEvents[0])
		if err != nil {
			t.Fatalf("GetEvent after reopen: %v", err)
		}
		author, err := survivor.Author()
		if err != nil {
			t.Fatalf("Author after reopen: %v", err)
		}
		if author != "alice-updated" {
			t.Errorf("Author() after reopen = %q, want %q", author, "alice-updated")
		}

		if _, err := reopened.db.GetEvent(createdEvents[1]); err == nil {
			t.Error("deleted event resurrected after reopen")
		}

		survivingEvents, err := func() ([]int, error) {
			cat, err := reopened.db.GetCatalogue(cat.ID())
			if err != nil {
				return nil, err
			}
			evs, err := cat.Events()
			if err != nil {
				return nil, err
			}
			return []int{len(evs)}, nil
		}()
		if err != nil {
			t.Fatalf("catalogue after reopen: %v", err)
		}
		if survivingEvents[0] != 2 {
			t.Errorf("expected 2 surviving events in catalogue, got %d", survivingEvents[0])
		}
	})
}

func TestEncryptedRoomRoundTrip(t *testing.T) {
	dir := t.TempDir()
	room := openTestRoom(t, dir, "correct horse battery staple")

	if _, err := room.db.CreateCatalogue(schema.CatalogueModel{Name: "secret catalogue", Author: "alice"}); err != nil {
		t.Fatalf("CreateCatalogue: %v", err)
	}
	if err := room.adapter.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	t.Run("wrong passphrase fails to open", func(t *testing.T) {
		if err := room.adapter.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		db := catalog.New(core.NewReplicaID(), nil)
		_, err := persist.Open(db.Document(), persist.Config{
			Path:       room.path,
			Passphrase: "wrong passphrase",
		})
		if err == nil {
			t.Fatal("expected Open with wrong passphrase to fail")
		}

		reopened := room.reopen(t, "correct horse battery staple")
		defer reopened.adapter.Close()
		cats := reopened.db.Catalogues()
		if len(cats) != 1 {
			t.Fatalf("expected 1 catalogue after reopen, got %d", len(cats))
		}
	})
}
