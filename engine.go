package txengine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hexwallet/txengine/internal/nonce"
)

// EngineDefaults holds default configuration inherited by every transaction
// the engine processes.
type EngineDefaults struct {
	SignTimeout  time.Duration
	PollInterval time.Duration
	FeeBump      FeeBumpPolicy
	AutoApprove  bool
}

// Engine is the transaction lifecycle engine. It owns transaction records end
// to end: category resolution, gas estimation, fee computation, nonce
// assignment, submission, status polling, replacement and history pruning.
//
// The engine is the only writer of its Store. All blocking work happens on
// network calls; store mutations are synchronous and atomic.
type Engine struct {
	defaultsMu sync.RWMutex
	defaults   EngineDefaults

	store  *Store
	signer Signer
	oracle FeeOracle

	// chain is the single active chain context; swapped only through
	// SwitchChain so submissions and polls never mix chains.
	chainMu sync.RWMutex
	chain   *ChainContext

	nonces *nonce.Tracker

	// eip1559Support caches per-chain fee model compatibility.
	eip1559Support *lru.Cache[uint64, bool]

	pollGate *IntervalGate

	futuresMu sync.Mutex
	futures   map[string]*txFuture

	idempMu     sync.Mutex
	idempotency map[string]string // idempotency key -> record ID

	permissions PermissionChecker

	selectedMu      sync.RWMutex
	selectedAccount common.Address

	// isDepositConfirmed gates confirmation of privacy-deposit-linked records.
	isDepositConfirmed func(depositID string) bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSigner sets the signing capability.
func WithSigner(s Signer) EngineOption {
	return func(e *Engine) { e.signer = s }
}

// WithFeeOracle sets the fee oracle.
func WithFeeOracle(o FeeOracle) EngineOption {
	return func(e *Engine) { e.oracle = o }
}

// WithChainContext sets the initial active chain.
func WithChainContext(cc *ChainContext) EngineOption {
	return func(e *Engine) { e.chain = cc }
}

// WithStore sets a pre-built store (for example one loaded from persistence).
func WithStore(s *Store) EngineOption {
	return func(e *Engine) { e.store = s }
}

// WithPermissionChecker sets the origin/account authorization policy.
func WithPermissionChecker(p PermissionChecker) EngineOption {
	return func(e *Engine) { e.permissions = p }
}

// WithDepositConfirmer injects the external confirmation-count predicate for
// privacy-deposit-linked transactions.
func WithDepositConfirmer(fn func(depositID string) bool) EngineOption {
	return func(e *Engine) { e.isDepositConfirmed = fn }
}

// WithSignTimeout bounds how long the engine waits for the signer.
func WithSignTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.defaults.SignTimeout = d }
}

// WithPollInterval sets the minimum time between status polling cycles.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.defaults.PollInterval = d }
}

// WithFeeBumpPolicy overrides the replacement fee bump policy.
func WithFeeBumpPolicy(p FeeBumpPolicy) EngineOption {
	return func(e *Engine) { e.defaults.FeeBump = p }
}

// WithAutoApprove makes AddTransaction approve and submit records without a
// separate ApproveTransaction call.
func WithAutoApprove() EngineOption {
	return func(e *Engine) { e.defaults.AutoApprove = true }
}

// WithDefaults sets all defaults at once.
func WithDefaults(d EngineDefaults) EngineOption {
	return func(e *Engine) { e.defaults = d }
}

// NewEngine creates an engine with the given options.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		defaults: EngineDefaults{
			SignTimeout:  DefaultSignTimeout,
			PollInterval: DefaultPollInterval,
			FeeBump:      DefaultFeeBumpPolicy(),
		},
		nonces:      nonce.NewTracker(),
		futures:     make(map[string]*txFuture),
		idempotency: make(map[string]string),
	}

	// The cache is tiny; the LRU bound only matters for wallets hopping
	// across many custom networks.
	e.eip1559Support, _ = lru.New[uint64, bool](64)

	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		e.store = NewStore()
	}
	if e.permissions == nil {
		e.permissions = NewPermissionRegistry()
	}
	e.pollGate = NewIntervalGate(e.defaults.PollInterval)

	return e
}

// Defaults returns the current default configuration.
func (e *Engine) Defaults() EngineDefaults {
	e.defaultsMu.RLock()
	defer e.defaultsMu.RUnlock()
	return e.defaults
}

// SetDefaults updates the default configuration. The poll gate picks up a
// changed interval on the next cycle.
func (e *Engine) SetDefaults(d EngineDefaults) {
	e.defaultsMu.Lock()
	e.defaults = d
	e.defaultsMu.Unlock()

	e.pollGate.SetInterval(d.PollInterval)
}

// Store returns the engine's transaction store.
func (e *Engine) Store() *Store { return e.store }

// SetSelectedAccount sets the account internal transactions must originate
// from.
func (e *Engine) SetSelectedAccount(addr common.Address) {
	e.selectedMu.Lock()
	defer e.selectedMu.Unlock()
	e.selectedAccount = addr
}

// SelectedAccount returns the currently selected account.
func (e *Engine) SelectedAccount() common.Address {
	e.selectedMu.RLock()
	defer e.selectedMu.RUnlock()
	return e.selectedAccount
}

// ChainContext returns the active chain context, or nil if none is set.
func (e *Engine) ChainContext() *ChainContext {
	e.chainMu.RLock()
	defer e.chainMu.RUnlock()
	return e.chain
}

// SwitchChain atomically swaps the active chain context. In-flight work holds
// a reference to the previous context and completes against it; new
// submissions and polls see only the new chain.
func (e *Engine) SwitchChain(cc *ChainContext) {
	e.chainMu.Lock()
	e.chain = cc
	e.chainMu.Unlock()

	e.pollGate.Reset()

	logger.WithFields(logger.Fields{
		"network":  cc.Network.GetName(),
		"chain_id": cc.Network.GetChainID(),
	}).Info("switched active chain")
}

// GetTransaction returns a snapshot of a record.
func (e *Engine) GetTransaction(id string) (*TransactionRecord, error) {
	r := e.store.Get(id)
	if r == nil {
		return nil, ErrRecordNotFound
	}
	return r, nil
}

// RejectTransaction transitions an unapproved record to REJECTED and rejects
// its completion channel with the standard rejection error.
func (e *Engine) RejectTransaction(id string) error {
	r := e.store.Get(id)
	if r == nil {
		return ErrRecordNotFound
	}
	if r.Status != StatusUnapproved {
		return fmt.Errorf("%w: cannot reject a %s transaction", ErrInvalidStatus, r.Status)
	}

	err := e.store.Update(id, func(rec *TransactionRecord) {
		rec.Status = StatusRejected
		rec.Err = MsgTransactionRejected
	})
	if err != nil {
		return err
	}

	e.resolveFuture(id, TxOutcome{Err: ErrTransactionRejected})
	return nil
}

// WipeTransactions removes records in bulk. When onlyCurrentChain is true,
// only records on the active chain are removed.
func (e *Engine) WipeTransactions(onlyCurrentChain bool) error {
	var chainID uint64
	if onlyCurrentChain {
		cc := e.ChainContext()
		if cc == nil {
			return ErrNoActiveChain
		}
		chainID = cc.Network.GetChainID()
	}

	wiped := e.store.List(func(r *TransactionRecord) bool {
		return chainID == 0 || r.Params.ChainID == chainID
	})
	e.store.Wipe(chainID)
	e.releaseFutures(wiped)
	return nil
}

// WipeTransactionsByAddress removes all records sent from the given address.
func (e *Engine) WipeTransactionsByAddress(address common.Address) {
	wiped := e.store.List(func(r *TransactionRecord) bool {
		return r.Params.From == address
	})
	e.store.WipeByAddress(address)
	e.releaseFutures(wiped)
}

// releaseFutures rejects and drops the futures of wiped records so no waiter
// stays blocked on an id that no longer exists.
func (e *Engine) releaseFutures(records []*TransactionRecord) {
	for _, rec := range records {
		e.resolveFuture(rec.ID, TxOutcome{Hash: rec.Params.Hash, Err: ErrRecordNotFound})
	}
}

// txFuture resolves a record's completion channel exactly once. Replacement
// records share the original's future so the caller's wait follows the
// replacement's outcome.
type txFuture struct {
	once sync.Once
	ch   chan TxOutcome
}

func newTxFuture() *txFuture {
	return &txFuture{ch: make(chan TxOutcome, 1)}
}

func (f *txFuture) resolve(outcome TxOutcome) {
	f.once.Do(func() {
		f.ch <- outcome
		close(f.ch)
	})
}

// futureFor registers (or returns) the completion future for a record.
func (e *Engine) futureFor(id string) *txFuture {
	e.futuresMu.Lock()
	defer e.futuresMu.Unlock()
	f, ok := e.futures[id]
	if !ok {
		f = newTxFuture()
		e.futures[id] = f
	}
	return f
}

// Wait returns the completion channel for a record. The channel receives
// exactly one TxOutcome when the record (or its replacement) reaches a
// terminal state. A record that already settled gets a pre-resolved channel
// rebuilt from the stored outcome; the engine does not retain futures past
// resolution.
func (e *Engine) Wait(id string) <-chan TxOutcome {
	for {
		e.futuresMu.Lock()
		if f, ok := e.futures[id]; ok {
			e.futuresMu.Unlock()
			return f.ch
		}

		rec := e.store.Get(id)
		if rec != nil && rec.Status.Terminal() {
			e.futuresMu.Unlock()
			if rec.ReplacedBy != "" {
				id = rec.ReplacedBy
				continue
			}
			done := newTxFuture()
			done.resolve(outcomeFromRecord(rec))
			return done.ch
		}

		// Registering under the same lock the resolver deletes under closes
		// the window where a resolution could slip between the map check and
		// the store read.
		f := newTxFuture()
		e.futures[id] = f
		e.futuresMu.Unlock()
		return f.ch
	}
}

// outcomeFromRecord reconstructs the completion outcome of a settled record.
func outcomeFromRecord(rec *TransactionRecord) TxOutcome {
	if rec.Status == StatusConfirmed {
		return TxOutcome{Hash: rec.Params.Hash}
	}
	msg := rec.Err
	if msg == "" {
		msg = fmt.Sprintf("transaction ended in status %s", rec.Status)
	}
	return TxOutcome{Hash: rec.Params.Hash, Err: errors.New(msg)}
}

// aliasFuture points newID at oldID's future, so waiters on the original
// record resolve with the replacement's outcome.
func (e *Engine) aliasFuture(oldID, newID string) {
	e.futuresMu.Lock()
	defer e.futuresMu.Unlock()
	f, ok := e.futures[oldID]
	if !ok {
		f = newTxFuture()
		e.futures[oldID] = f
	}
	e.futures[newID] = f
}

// resolveFuture settles a record's future and drops every map entry pointing
// at it, alias entries included, so the table doesn't grow with history.
func (e *Engine) resolveFuture(id string, outcome TxOutcome) {
	e.futuresMu.Lock()
	f, ok := e.futures[id]
	if ok {
		for k, v := range e.futures {
			if v == f {
				delete(e.futures, k)
			}
		}
	} else {
		f = newTxFuture()
	}
	e.futuresMu.Unlock()

	f.resolve(outcome)
}

// failRecord transitions a record to FAILED preserving the error, and rejects
// its completion future.
func (e *Engine) failRecord(id string, cause error) {
	updateErr := e.store.Update(id, func(rec *TransactionRecord) {
		rec.Status = StatusFailed
		rec.Err = cause.Error()
	})
	if updateErr != nil {
		logger.WithFields(logger.Fields{
			"record_id": id,
			"error":     updateErr,
		}).Error("couldn't mark record as failed")
	}
	e.resolveFuture(id, TxOutcome{Err: cause})
}
