// Package wal is a reference implementation of the types.Wal collaborator,
// backed by goleveldb, the same key-value store the reference engine uses
// for its persistent state.
package wal

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// database abstracts the storage backend so the in-memory variant (used by
// tests and by callers who don't need durability across restarts) and the
// goleveldb-backed variant share one Wal implementation.
type database interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Close() error
}

// Wal implements types.Wal. Save/Load keys are engine-defined byte strings
// (the state driver writes its step-record checkpoint under the single
// CheckpointKey); Wal itself is agnostic to their structure.
type Wal struct {
	db database
}

// Open creates or opens a goleveldb-backed Wal at path.
func Open(path string) (*Wal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &Wal{db: levelDBAdapter{db}}, nil
}

// NewMemory creates an in-memory Wal, for tests and for hosts that don't
// need the log to survive a restart.
func NewMemory() *Wal {
	return &Wal{db: newMemDB()}
}

// Save implements types.Wal.
func (w *Wal) Save(key, value []byte) error {
	if err := w.db.Put(key, value); err != nil {
		return fmt.Errorf("wal: save: %w", err)
	}
	return nil
}

// Load implements types.Wal. A missing key is not an error: callers treat
// it as "nothing checkpointed yet" (e.g. first-ever startup).
func (w *Wal) Load(key []byte) ([]byte, error) {
	v, err := w.db.Get(key)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wal: load: %w", err)
	}
	return v, nil
}

// Close releases the underlying storage handle.
func (w *Wal) Close() error {
	return w.db.Close()
}

type levelDBAdapter struct{ db *leveldb.DB }

func (a levelDBAdapter) Put(key, value []byte) error { return a.db.Put(key, value, nil) }
func (a levelDBAdapter) Get(key []byte) ([]byte, error) {
	return a.db.Get(key, nil)
}
func (a levelDBAdapter) Close() error { return a.db.Close() }

type memDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemDB() *memDB {
	return &memDB{data: make(map[string][]byte)}
}

func (m *memDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *memDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, leveldb.ErrNotFound
	}
	return v, nil
}

func (m *memDB) Close() error { return nil }
