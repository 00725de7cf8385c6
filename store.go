package txengine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// Store is the ordered collection of transaction records. It is the single
// shared mutable resource of the engine: only the engine writes to it, all
// other components read via snapshots or subscription events.
type Store struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*TransactionRecord

	historyLimit int
	persist      StateStore

	subMu  sync.Mutex
	subs   map[int]chan StoreEvent
	nextID int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithHistoryLimit caps the number of terminal records retained per chain.
func WithHistoryLimit(limit int) StoreOption {
	return func(s *Store) {
		s.historyLimit = limit
	}
}

// WithStateStore attaches a persistence backend. Every mutation is written
// through best-effort; persistence failures are logged, never propagated into
// lifecycle transitions.
func WithStateStore(persist StateStore) StoreOption {
	return func(s *Store) {
		s.persist = persist
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		records:      make(map[string]*TransactionRecord),
		subs:         make(map[int]chan StoreEvent),
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores previously persisted records. Intended to be called once at
// startup before the engine starts mutating.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	records, err := s.persist.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("couldn't load persisted transaction records: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Time.Before(records[j].Time)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if _, exists := s.records[r.ID]; exists {
			continue
		}
		s.records[r.ID] = r.Clone()
		s.order = append(s.order, r.ID)
	}
	return nil
}

// Add inserts a new record and prunes history.
func (s *Store) Add(r *TransactionRecord) {
	s.mu.Lock()
	s.records[r.ID] = r.Clone()
	s.order = append(s.order, r.ID)
	removed := s.pruneLocked(r.Params.ChainID)
	snapshot := s.records[r.ID].Clone()
	s.mu.Unlock()

	s.persistRecord(snapshot)
	s.emit(StoreEvent{Type: EventAdded, Record: snapshot})
	for _, gone := range removed {
		s.persistDelete(gone.ID)
		s.emit(StoreEvent{Type: EventRemoved, Record: gone})
	}
}

// Get returns a snapshot of the record, or nil if absent.
func (s *Store) Get(id string) *TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id].Clone()
}

// Update applies mutate and emits an event. The mutation runs against a clone
// and is committed only after the lifecycle invariants pass, so a rejected
// update leaves the stored record byte-for-byte untouched: terminal states
// never regress and receipts are never unset.
func (s *Store) Update(id string, mutate func(*TransactionRecord)) error {
	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return ErrRecordNotFound
	}

	prevStatus := r.Status
	hadReceipt := r.Receipt != nil

	next := r.Clone()
	mutate(next)

	if prevStatus.Terminal() && next.Status != prevStatus {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is terminal", ErrInvalidStatus, prevStatus)
	}
	if hadReceipt && next.Receipt == nil {
		s.mu.Unlock()
		return fmt.Errorf("receipt of record %s cannot be unset", id)
	}

	s.records[id] = next

	var removed []*TransactionRecord
	if next.Status.Terminal() && prevStatus != next.Status {
		removed = s.pruneLocked(next.Params.ChainID)
	}
	snapshot := next.Clone()
	s.mu.Unlock()

	s.persistRecord(snapshot)
	if snapshot.Status != prevStatus {
		s.emit(StoreEvent{Type: EventStatusChanged, Record: snapshot, PreviousStatus: prevStatus})
	} else {
		s.emit(StoreEvent{Type: EventUpdated, Record: snapshot})
	}
	for _, gone := range removed {
		s.persistDelete(gone.ID)
		s.emit(StoreEvent{Type: EventRemoved, Record: gone})
	}
	return nil
}

// List returns snapshots of all records matching the filter, in insertion
// order. A nil filter matches everything.
func (s *Store) List(filter func(*TransactionRecord) bool) []*TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*TransactionRecord
	for _, id := range s.order {
		r := s.records[id]
		if filter == nil || filter(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// PendingByNonce returns the non-terminal record holding the given
// (chainID, from, nonce) slot, if any. At most one can exist.
func (s *Store) PendingByNonce(chainID uint64, from common.Address, n uint64) *TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		r := s.records[id]
		if !r.Status.Terminal() &&
			r.Status != StatusUnapproved &&
			r.Params.ChainID == chainID &&
			r.Params.From == from &&
			r.Params.Nonce == n {
			return r.Clone()
		}
	}
	return nil
}

// Wipe removes records; administrative bulk removal with no status
// constraints. When chainID is non-zero only that chain is wiped.
func (s *Store) Wipe(chainID uint64) {
	s.remove(func(r *TransactionRecord) bool {
		return chainID == 0 || r.Params.ChainID == chainID
	})
}

// WipeByAddress removes all records sent from the given address.
func (s *Store) WipeByAddress(address common.Address) {
	s.remove(func(r *TransactionRecord) bool {
		return r.Params.From == address
	})
}

func (s *Store) remove(match func(*TransactionRecord) bool) {
	s.mu.Lock()
	var kept []string
	var removed []*TransactionRecord
	for _, id := range s.order {
		r := s.records[id]
		if match(r) {
			removed = append(removed, r.Clone())
			delete(s.records, id)
		} else {
			kept = append(kept, id)
		}
	}
	s.order = kept
	s.mu.Unlock()

	for _, gone := range removed {
		s.persistDelete(gone.ID)
		s.emit(StoreEvent{Type: EventRemoved, Record: gone})
	}
}

// pruneLocked enforces the history retention policy for a chain: terminal
// records beyond the limit are removed oldest-first. Non-terminal records are
// never removed, and at least the most recent terminal record is always kept.
// Must be called with the write lock held. Returns snapshots of removals.
func (s *Store) pruneLocked(chainID uint64) []*TransactionRecord {
	if s.historyLimit <= 0 {
		return nil
	}

	var terminal []string
	for _, id := range s.order {
		r := s.records[id]
		if r.Params.ChainID == chainID && r.Status.Terminal() {
			terminal = append(terminal, id)
		}
	}

	limit := s.historyLimit
	if limit < 1 {
		limit = 1
	}
	if len(terminal) <= limit {
		return nil
	}

	sort.SliceStable(terminal, func(i, j int) bool {
		return s.records[terminal[i]].Time.Before(s.records[terminal[j]].Time)
	})

	toRemove := terminal[:len(terminal)-limit]
	removeSet := make(map[string]bool, len(toRemove))
	var removed []*TransactionRecord
	for _, id := range toRemove {
		removeSet[id] = true
		removed = append(removed, s.records[id].Clone())
		delete(s.records, id)
	}

	var kept []string
	for _, id := range s.order {
		if !removeSet[id] {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return removed
}

// Subscribe registers an observer. Events are delivered best-effort: a
// subscriber that cannot keep up misses events rather than blocking the
// engine.
func (s *Store) Subscribe() (<-chan StoreEvent, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan StoreEvent, 64)
	s.subs[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *Store) emit(ev StoreEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Store) persistRecord(r *TransactionRecord) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Save(context.Background(), r); err != nil {
		logger.WithFields(logger.Fields{
			"record_id": r.ID,
			"error":     err,
		}).Warn("couldn't persist transaction record")
	}
}

func (s *Store) persistDelete(id string) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Delete(context.Background(), id); err != nil {
		logger.WithFields(logger.Fields{
			"record_id": id,
			"error":     err,
		}).Warn("couldn't delete persisted transaction record")
	}
}
