package room

import (
	"testing"

	"github.com/catalogd/catalogd/internal/schema"
)

func TestCreateOpenAndPersist(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Shutdown()

	o, err := m.Create("my catalogue room", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cat, err := o.DB.CreateCatalogue(schema.CatalogueModel{Name: "test", Author: "tester"})
	if err != nil {
		t.Fatalf("CreateCatalogue: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	o2, err := m.Open(o.Info.ID, "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := o2.DB.GetCatalogue(cat.ID())
	if err != nil {
		t.Fatalf("GetCatalogue after reopen: %v", err)
	}
	name, err := got.Name()
	if err != nil {
		t.Fatalf("Name: %v", err)
	}
	if name != "test" {
		t.Errorf("Name() = %q, want %q", name, "test")
	}
}

func TestListAfterCreate(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Shutdown()

	if _, err := m.Create("room one", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create("room two", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rooms, err := m.Registry().List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
}
