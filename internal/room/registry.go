// Package room is cmd/catalogd's server-side bookkeeping layer: a registry
// of rooms (one CRDT document per room, each bound to its own on-disk log)
// and a manager that lazily opens and caches them. This is deliberately
// separate from the catalogue/event content itself, which only ever lives
// in a room's crdt.Document and its internal/persist log — the registry
// tracks which rooms exist, not what's inside them.
package room

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Info is one room's registry row.
type Info struct {
	ID         string
	Name       string
	Path       string // on-disk log path, internal/persist.Config.Path
	Encrypted  bool
	CreatedAt  int64
	LastOpened int64
}

// Registry is a sqlite-backed table of known rooms, keyed by ID. It is the
// server's directory of rooms, backed by database/sql + mattn/go-sqlite3
// rather than a flat JSON file, since the room server needs
// concurrent-safe access to it.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens (creating if absent) the room registry database at
// path. Use ":memory:" for a throwaway registry in tests.
func OpenRegistry(path string) (*Registry, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("room: open registry: %w", err)
	}
	r := &Registry{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("room: init schema: %w", err)
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS rooms (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			path        TEXT NOT NULL,
			encrypted   INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			last_opened INTEGER NOT NULL DEFAULT 0
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_rooms_name ON rooms(name);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Create inserts a new room row. id must be unique; name must be unique.
func (r *Registry) Create(id, name, path string, encrypted bool) (*Info, error) {
	info := &Info{ID: id, Name: name, Path: path, Encrypted: encrypted, CreatedAt: time.Now().Unix()}
	_, err := r.db.Exec(
		`INSERT INTO rooms (id, name, path, encrypted, created_at) VALUES (?, ?, ?, ?, ?)`,
		info.ID, info.Name, info.Path, boolToInt(info.Encrypted), info.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("room: create %q: %w", name, err)
	}
	return info, nil
}

// Get looks up a room by ID.
func (r *Registry) Get(id string) (*Info, error) {
	row := r.db.QueryRow(`SELECT id, name, path, encrypted, created_at, last_opened FROM rooms WHERE id = ?`, id)
	return scanInfo(row)
}

// GetByName looks up a room by its unique name.
func (r *Registry) GetByName(name string) (*Info, error) {
	row := r.db.QueryRow(`SELECT id, name, path, encrypted, created_at, last_opened FROM rooms WHERE name = ?`, name)
	return scanInfo(row)
}

// List returns every registered room.
func (r *Registry) List() ([]Info, error) {
	rows, err := r.db.Query(`SELECT id, name, path, encrypted, created_at, last_opened FROM rooms ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("room: list: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var i Info
		var enc int
		if err := rows.Scan(&i.ID, &i.Name, &i.Path, &enc, &i.CreatedAt, &i.LastOpened); err != nil {
			return nil, fmt.Errorf("room: scan: %w", err)
		}
		i.Encrypted = enc != 0
		out = append(out, i)
	}
	return out, rows.Err()
}

// TouchLastOpened records that a room was just opened.
func (r *Registry) TouchLastOpened(id string) error {
	_, err := r.db.Exec(`UPDATE rooms SET last_opened = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}

// Delete removes a room's registry row. The caller is responsible for
// removing its on-disk log separately — the registry only tracks metadata.
func (r *Registry) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM rooms WHERE id = ?`, id)
	return err
}

// Close releases the underlying database handle.
func (r *Registry) Close() error { return r.db.Close() }

func scanInfo(row *sql.Row) (*Info, error) {
	var i Info
	var enc int
	if err := row.Scan(&i.ID, &i.Name, &i.Path, &enc, &i.CreatedAt, &i.LastOpened); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("room: not found")
		}
		return nil, fmt.Errorf("room: scan: %w", err)
	}
	i.Encrypted = enc != 0
	return &i, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
