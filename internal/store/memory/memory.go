package memory

import (
	"context"
	"sync"

	"github.com/hamed0406/devicewatch/internal/store"
)

var _ store.Backend = (*Store)(nil)

// Store keeps values in process memory. Nothing survives a restart.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]string

	// FailGet/FailPut inject errors, for tests of degraded storage.
	FailGet error
	FailPut error
}

func New() *Store {
	return &Store{data: make(map[string]map[string]string)}
}

func (m *Store) Get(ctx context.Context, ns, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailGet != nil {
		return "", false, m.FailGet
	}
	v, ok := m.data[ns][key]
	return v, ok, nil
}

func (m *Store) Put(ctx context.Context, ns, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return m.FailPut
	}
	bucket := m.data[ns]
	if bucket == nil {
		bucket = make(map[string]string)
		m.data[ns] = bucket
	}
	bucket[key] = value
	return nil
}

func (m *Store) Delete(ctx context.Context, ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return m.FailPut
	}
	delete(m.data[ns], key)
	return nil
}
