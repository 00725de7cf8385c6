// Persistence interfaces for the transaction store. Implement StateStore to
// keep transaction history across restarts; the engine itself only ever sees
// the in-memory Store.
package txengine

import (
	"context"
	"sync"
)

// StateStore is the key-value persistence contract consumed by the Store.
//
// Thread safety: implementations MUST be safe for concurrent use.
type StateStore interface {
	// Save persists a record snapshot, creating or overwriting by ID.
	Save(ctx context.Context, record *TransactionRecord) error

	// Delete removes a record by ID. Deleting an absent ID is not an error.
	Delete(ctx context.Context, id string) error

	// LoadAll returns all persisted records in unspecified order.
	LoadAll(ctx context.Context) ([]*TransactionRecord, error)
}

// InMemoryStateStore is a StateStore backed by a map. Useful for tests and as
// a reference implementation.
type InMemoryStateStore struct {
	mu      sync.RWMutex
	records map[string]*TransactionRecord
}

// NewInMemoryStateStore creates an empty in-memory state store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{records: make(map[string]*TransactionRecord)}
}

func (s *InMemoryStateStore) Save(_ context.Context, record *TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *InMemoryStateStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *InMemoryStateStore) LoadAll(_ context.Context) ([]*TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TransactionRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	return out, nil
}

// Size returns the number of persisted records.
func (s *InMemoryStateStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
