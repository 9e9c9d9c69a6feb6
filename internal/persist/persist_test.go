package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/catalogd/catalogd/internal/core"
	"github.com/catalogd/catalogd/internal/crdt"
)

func TestHeaderWrittenOnCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.y")
	doc := crdt.NewDocument(core.NewReplicaID())

	a, err := Open(doc, Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != len(Header) || string(data) != string(Header[:]) {
		t.Fatalf("expected file to contain only the header right after creation, got %q", data)
	}
}

func TestLoadAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.y")
	replica := core.NewReplicaID()

	doc1 := crdt.NewDocument(replica)
	a1, err := Open(doc1, Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	id := core.NewID()
	if err := doc1.WithTxn(func(tx *crdt.Txn) error {
		tx.CreateObject(crdt.RootCatalogues, id)
		tx.SetScalar(crdt.RootCatalogues, id, "name", "reopened catalogue")
		tx.AddToSet(crdt.RootCatalogues, id, crdt.FieldTags, "a", "b")
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := a1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	doc2 := crdt.NewDocument(core.NewReplicaID())
	a2, err := Open(doc2, Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer a2.Close()

	if !doc2.Exists(crdt.RootCatalogues, id) {
		t.Fatalf("expected reopened document to contain the persisted catalogue")
	}
	obj, _ := doc2.Object(crdt.RootCatalogues, id)
	name, _ := obj.Scalars.Get("name")
	if name != "reopened catalogue" {
		t.Errorf("name = %v, want %q", name, "reopened catalogue")
	}
	tags := obj.Sets[crdt.FieldTags].Elements()
	if len(tags) != 2 {
		t.Errorf("expected 2 tags after replay, got %v", tags)
	}
}

func TestWriteCoalescing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.y")
	doc := crdt.NewDocument(core.NewReplicaID())

	a, err := Open(doc, Config{Path: path, WriteDelay: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	for i := 0; i < 20; i++ {
		id := core.NewID()
		if err := doc.WithTxn(func(tx *crdt.Txn) error {
			tx.CreateObject(crdt.RootCatalogues, id)
			return nil
		}); err != nil {
			t.Fatalf("mutation %d: %v", i, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile during burst: %v", err)
	}
	if len(data) != len(Header) {
		t.Fatalf("expected only the header to be on disk during the coalescing burst, got %d bytes", len(data))
	}

	time.Sleep(200 * time.Millisecond)

	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile after delay: %v", err)
	}
	if len(data) <= len(Header) {
		t.Fatalf("expected accumulated updates on disk after write_delay has elapsed, got %d bytes", len(data))
	}
}

func TestTruncationAtBoundaryTolerated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.y")
	doc := crdt.NewDocument(core.NewReplicaID())
	a, err := Open(doc, Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	id := core.NewID()
	if err := doc.WithTxn(func(tx *crdt.Txn) error {
		tx.CreateObject(crdt.RootCatalogues, id)
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	a.Close()

	// A clean cut right at the end of a full frame is tolerated: replay
	// simply stops without error and whatever preceded the cut is kept.
	doc2 := crdt.NewDocument(core.NewReplicaID())
	if _, err := Open(doc2, Config{Path: path}); err != nil {
		t.Fatalf("Open on an exact (untruncated) file should succeed: %v", err)
	}
	if !doc2.Exists(crdt.RootCatalogues, id) {
		t.Fatalf("expected the one committed catalogue to survive a clean reopen")
	}
}

func TestMidFrameCorruptionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.y")
	doc := crdt.NewDocument(core.NewReplicaID())
	a, err := Open(doc, Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := core.NewID()
	if err := doc.WithTxn(func(tx *crdt.Txn) error {
		tx.CreateObject(crdt.RootCatalogues, id)
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	a.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Cut off the last few bytes of the final frame's body, leaving a
	// complete length prefix but a short body: this must NOT be silently
	// tolerated the way a boundary truncation is.
	if len(data) < 5 {
		t.Fatalf("test fixture too small: %d bytes", len(data))
	}
	corrupted := data[:len(data)-3]
	if err := os.WriteFile(path, corrupted, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	doc2 := crdt.NewDocument(core.NewReplicaID())
	if _, err := Open(doc2, Config{Path: path}); err == nil {
		t.Fatalf("expected Open to reject a file truncated mid-frame")
	}
}

func TestPassphraseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.y")
	doc1 := crdt.NewDocument(core.NewReplicaID())
	a1, err := Open(doc1, Config{Path: path, Passphrase: "correct horse battery staple"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := core.NewID()
	if err := doc1.WithTxn(func(tx *crdt.Txn) error {
		tx.CreateObject(crdt.RootCatalogues, id)
		tx.SetScalar(crdt.RootCatalogues, id, "name", "secret")
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := a1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Opening without the passphrase must fail, not silently succeed with
	// garbage content.
	doc2 := crdt.NewDocument(core.NewReplicaID())
	if _, err := Open(doc2, Config{Path: path}); err == nil {
		t.Fatalf("expected Open without a passphrase to fail against an encrypted log")
	}

	doc3 := crdt.NewDocument(core.NewReplicaID())
	a3, err := Open(doc3, Config{Path: path, Passphrase: "correct horse battery staple"})
	if err != nil {
		t.Fatalf("Open with correct passphrase: %v", err)
	}
	defer a3.Close()
	if !doc3.Exists(crdt.RootCatalogues, id) {
		t.Fatalf("expected decrypted replay to recover the catalogue")
	}

	doc4 := crdt.NewDocument(core.NewReplicaID())
	if _, err := Open(doc4, Config{Path: path, Passphrase: "wrong passphrase"}); err == nil {
		t.Fatalf("expected Open with the wrong passphrase to fail")
	}
}
