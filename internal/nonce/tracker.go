// Package nonce provides thread-safe nonce reservation for wallet addresses.
// It combines the node's view of an account's transaction count with local
// tracking of nonces handed out in this session, so two concurrent approvals
// for the same address can never receive the same nonce.
package nonce

import (
	"sync"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// Tracker reserves nonces per (wallet, chainID).
type Tracker struct {
	// reserved maps wallet -> chainID -> highest nonce handed out locally.
	reserved sync.Map // map[common.Address]map[uint64]uint64

	// walletLocks provides the per-address exclusive section the lifecycle
	// engine holds across its read-nonce, assign, submit sequence.
	walletLocks sync.Map // map[common.Address]*sync.Mutex
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Lock acquires the exclusive section for a wallet and returns its unlock
// function. All *Locked methods must be called while it is held.
func (t *Tracker) Lock(wallet common.Address) func() {
	raw, _ := t.walletLocks.LoadOrStore(wallet, &sync.Mutex{})
	mu := raw.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// getOrCreateMap must be called with the wallet lock held.
func (t *Tracker) getOrCreateMap(wallet common.Address) map[uint64]uint64 {
	raw, _ := t.reserved.LoadOrStore(wallet, make(map[uint64]uint64))
	return raw.(map[uint64]uint64)
}

// ReserveLocked determines and reserves the next nonce to use, given the
// node's current transaction count for the wallet. The result is the maximum
// of the remote count and one past the highest locally reserved nonce, so
// transactions submitted earlier in this session but not yet visible to the
// node are never overwritten.
//
// Must be called with the wallet lock held.
func (t *Tracker) ReserveLocked(wallet common.Address, chainID uint64, remoteCount uint64) uint64 {
	nonces := t.getOrCreateMap(wallet)

	next := remoteCount
	decision := "remote transaction count"
	if local, ok := nonces[chainID]; ok && local+1 > remoteCount {
		next = local + 1
		decision = "local reservation tip"
	}

	nonces[chainID] = next

	logger.WithFields(logger.Fields{
		"wallet":       wallet.Hex(),
		"chain_id":     chainID,
		"remote_count": remoteCount,
		"nonce":        next,
		"decision":     decision,
	}).Debug("reserved nonce")

	return next
}

// ReleaseLocked returns an unused nonce to the pool. Only the tip of the
// reservation sequence can be released; releasing anything else would create
// a gap that could double-assign.
//
// Must be called with the wallet lock held.
func (t *Tracker) ReleaseLocked(wallet common.Address, chainID uint64, n uint64) {
	raw, ok := t.reserved.Load(wallet)
	if !ok {
		return
	}
	nonces := raw.(map[uint64]uint64)

	current, ok := nonces[chainID]
	if !ok || current != n {
		logger.WithFields(logger.Fields{
			"wallet":   wallet.Hex(),
			"chain_id": chainID,
			"nonce":    n,
		}).Debug("release skipped: not the reservation tip")
		return
	}

	if n == 0 {
		delete(nonces, chainID)
	} else {
		nonces[chainID] = n - 1
	}

	logger.WithFields(logger.Fields{
		"wallet":   wallet.Hex(),
		"chain_id": chainID,
		"nonce":    n,
	}).Debug("released nonce")
}

// Tip returns the highest locally reserved nonce for the wallet, if any.
func (t *Tracker) Tip(wallet common.Address, chainID uint64) (uint64, bool) {
	unlock := t.Lock(wallet)
	defer unlock()

	raw, ok := t.reserved.Load(wallet)
	if !ok {
		return 0, false
	}
	n, ok := raw.(map[uint64]uint64)[chainID]
	return n, ok
}
