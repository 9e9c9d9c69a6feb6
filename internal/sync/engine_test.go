package sync

import (
	"context"
	"testing"
	"time"

	"github.com/catalogd/catalogd/internal/core"
	"github.com/catalogd/catalogd/internal/crdt"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.EnableMDNS = false
	return cfg
}

func TestEngineLifecycle(t *testing.T) {
	doc := crdt.NewDocument(core.NewReplicaID())
	e, err := New(doc, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(e.Peers()) != 0 {
		t.Errorf("expected 0 peers, got %d", len(e.Peers()))
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestEngineSyncBetweenPeers(t *testing.T) {
	docA := crdt.NewDocument(core.NewReplicaID())
	docB := crdt.NewDocument(core.NewReplicaID())

	engineA, err := New(docA, testConfig())
	if err != nil {
		t.Fatalf("New A: %v", err)
	}
	engineB, err := New(docB, testConfig())
	if err != nil {
		t.Fatalf("New B: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := engineA.Start(ctx); err != nil {
		t.Fatalf("Start A: %v", err)
	}
	defer engineA.Stop()
	if err := engineB.Start(ctx); err != nil {
		t.Fatalf("Start B: %v", err)
	}
	defer engineB.Stop()

	id := core.NewID()
	if err := docA.WithTxn(func(tx *crdt.Txn) error {
		tx.CreateObject(crdt.RootCatalogues, id)
		tx.SetScalar(crdt.RootCatalogues, id, "name", "from peer A")
		return nil
	}); err != nil {
		t.Fatalf("seed docA: %v", err)
	}

	peerInfoA := engineA.GetHost().Peerstore().PeerInfo(engineA.GetHost().ID())
	if err := engineB.GetHost().Connect(ctx, peerInfoA); err != nil {
		t.Fatalf("connect B->A: %v", err)
	}

	if err := engineB.Sync(ctx, engineA.GetHost().ID()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if !docB.Exists(crdt.RootCatalogues, id) {
		t.Fatalf("expected docB to have learned catalogue %s from docA", id)
	}

	// A second Sync call against the same peer must be a no-op (idempotent
	// pairing) rather than erroring or re-pairing.
	if err := engineB.Sync(ctx, engineA.GetHost().ID()); err != nil {
		t.Fatalf("second sync should be a no-op, got: %v", err)
	}

	// A commit on A after pairing should propagate to B via the
	// commit-forwarding hook without a further explicit Sync call.
	id2 := core.NewID()
	if err := docA.WithTxn(func(tx *crdt.Txn) error {
		tx.CreateObject(crdt.RootCatalogues, id2)
		return nil
	}); err != nil {
		t.Fatalf("second seed docA: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !docB.Exists(crdt.RootCatalogues, id2) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !docB.Exists(crdt.RootCatalogues, id2) {
		t.Fatalf("expected docA's post-pairing commit to forward to docB")
	}
}
