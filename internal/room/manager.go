package room

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/catalogd/catalogd/internal/catalog"
	"github.com/catalogd/catalogd/internal/core"
	"github.com/catalogd/catalogd/internal/persist"
)

// Open is one live room: its database, its persistence adapter, and the
// registry row it was opened from. cmd/catalogd's server opens one of
// these per room on a client's first connection and keeps it open until
// the manager shuts down; the last client disconnecting does not close it.
type Open struct {
	Info *Info
	DB   *catalog.DB

	persist *persist.Adapter
}

// Close flushes and releases the room's on-disk log. The room's registry
// row is untouched — it can be reopened later.
func (o *Open) Close() error {
	if o.persist == nil {
		return nil
	}
	return o.persist.Close()
}

// Manager lazily opens rooms named in a Registry, caching the ones
// currently in use in memory while the registry stays the durable
// source of truth for which ones exist.
type Manager struct {
	dataDir  string
	registry *Registry
	logger   *log.Logger

	mu   sync.Mutex
	open map[string]*Open
}

// NewManager creates a manager whose room logs live under dataDir and
// whose registry is backed by <dataDir>/rooms.db.
func NewManager(dataDir string, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default()
	}
	reg, err := OpenRegistry(filepath.Join(dataDir, "rooms.db"))
	if err != nil {
		return nil, err
	}
	return &Manager{
		dataDir:  dataDir,
		registry: reg,
		logger:   logger,
		open:     make(map[string]*Open),
	}, nil
}

// Registry exposes the underlying room directory for listing/deleting.
func (m *Manager) Registry() *Registry { return m.registry }

// Create registers a new room and returns it already open. name must not
// collide with an existing room; the on-disk log is created fresh at
// <dataDir>/<id>.cat — following cocat.cli's "{directory}/{room_id}.y"
// per-room file binding, adapted to this module's own file suffix.
func (m *Manager) Create(name, passphrase string) (*Open, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := sanitizeID(name)
	if _, err := m.registry.Get(id); err == nil {
		id = id + "-" + shortSuffix()
	}
	path := filepath.Join(m.dataDir, id+".cat")

	if _, err := m.registry.Create(id, name, path, passphrase != ""); err != nil {
		return nil, err
	}
	return m.openRoom(id, path, passphrase)
}

// Open returns a cached room or opens it from the registry + on-disk log.
func (m *Manager) Open(idOrName, passphrase string) (*Open, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o, ok := m.open[idOrName]; ok {
		return o, nil
	}

	info, err := m.registry.Get(idOrName)
	if err != nil {
		info, err = m.registry.GetByName(idOrName)
	}
	if err != nil {
		return nil, fmt.Errorf("room: not found: %s", idOrName)
	}
	if o, ok := m.open[info.ID]; ok {
		return o, nil
	}
	return m.openRoom(info.ID, info.Path, passphrase)
}

// openRoom does the actual catalog.DB + persist.Adapter wiring. Caller
// holds m.mu.
func (m *Manager) openRoom(id, path, passphrase string) (*Open, error) {
	db := catalog.New(core.NewReplicaID(), m.logger)
	adapter, err := persist.Open(db.Document(), persist.Config{
		Path:       path,
		WriteDelay: 200 * time.Millisecond,
		Passphrase: passphrase,
	})
	if err != nil {
		return nil, fmt.Errorf("room: open %s: %w", id, err)
	}

	info, err := m.registry.Get(id)
	if err != nil {
		adapter.Close()
		return nil, err
	}
	m.registry.TouchLastOpened(id)

	o := &Open{Info: info, DB: db, persist: adapter}
	m.open[id] = o
	return o, nil
}

// CloseRoom flushes and evicts a cached room without deleting it from the
// registry.
func (m *Manager) CloseRoom(id string) error {
	m.mu.Lock()
	o, ok := m.open[id]
	delete(m.open, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return o.Close()
}

// Shutdown closes every currently open room.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	rooms := make([]*Open, 0, len(m.open))
	for _, o := range m.open {
		rooms = append(rooms, o)
	}
	m.open = make(map[string]*Open)
	m.mu.Unlock()

	var firstErr error
	for _, o := range rooms {
		if err := o.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.registry.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func sanitizeID(s string) string {
	result := make([]byte, 0, len(s))
	for _, c := range []byte(strings.ToLower(s)) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			result = append(result, c)
		case c == ' ' || c == '_':
			result = append(result, '-')
		}
	}
	if len(result) == 0 {
		return "room"
	}
	return string(result)
}

func shortSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano()%10000)
}
