package store

import (
	"context"
	"sync"

	"github.com/iwvelando/loan-amortization/pkg/codec"
	"github.com/iwvelando/loan-amortization/pkg/loans"
)

// MemoryStore keeps snapshots in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]codec.Snapshot
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]codec.Snapshot)}
}

// Save stores a copy of snapshot under key, replacing any previous value.
func (m *MemoryStore) Save(_ context.Context, key string, snapshot codec.Snapshot) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[key] = copySnapshot(snapshot)
	return nil
}

// Load returns a copy of the snapshot stored under key.
func (m *MemoryStore) Load(_ context.Context, key string) (codec.Snapshot, error) {
	if err := ValidateKey(key); err != nil {
		return codec.Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.snapshots[key]
	if !ok {
		return codec.Snapshot{}, ErrNotFound
	}
	return copySnapshot(snapshot), nil
}

// Delete removes key. Deleting a missing key returns ErrNotFound.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[key]; !ok {
		return ErrNotFound
	}
	delete(m.snapshots, key)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func copySnapshot(s codec.Snapshot) codec.Snapshot {
	return codec.Snapshot{
		Config:   s.Config.Clone(),
		Schedule: append([]loans.AmortizationPeriod(nil), s.Schedule...),
		SavedAt:  s.SavedAt,
	}
}
