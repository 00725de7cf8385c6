package txengine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// transferTopic is the event signature of ERC-20 Transfer(address,address,uint256).
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// TokenWatcher scans chain logs for ERC-20 transfers into watched addresses
// and materializes them as incoming records in the store. Scans are chunked
// to the network's log batch size; a failing chunk is bisected and retried so
// one oversized range can't stall the whole scan.
type TokenWatcher struct {
	store *Store

	mu          sync.Mutex
	watched     map[common.Address]struct{}
	denied      map[common.Address]struct{}
	lastScanned map[uint64]uint64 // chainID -> last scanned block
	seen        map[string]struct{}

	// knownGood caches token contracts that passed risk classification so
	// repeat transfers skip the deny-list check.
	knownGood *lru.Cache[common.Address, bool]
}

// NewTokenWatcher creates a watcher flushing into the given store.
func NewTokenWatcher(store *Store) *TokenWatcher {
	w := &TokenWatcher{
		store:       store,
		watched:     make(map[common.Address]struct{}),
		denied:      make(map[common.Address]struct{}),
		lastScanned: make(map[uint64]uint64),
		seen:        make(map[string]struct{}),
	}
	w.knownGood, _ = lru.New[common.Address, bool](256)
	return w
}

// Watch adds an address whose incoming transfers should be recorded.
func (w *TokenWatcher) Watch(addr common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[addr] = struct{}{}
}

// Unwatch removes an address.
func (w *TokenWatcher) Unwatch(addr common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, addr)
}

// DenyToken marks a token contract as untrusted. Transfers from denied
// contracts are still recorded but flagged invalid.
func (w *TokenWatcher) DenyToken(token common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.knownGood.Remove(token)
	w.denied[token] = struct{}{}
}

// AllowToken clears a token from the deny list.
func (w *TokenWatcher) AllowToken(token common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.denied, token)
}

// ScanRange fetches Transfer logs for all watched addresses in [from, to] and
// flushes any new incoming records, chunk by chunk, so a late failure keeps
// earlier chunks' records.
func (w *TokenWatcher) ScanRange(ctx context.Context, cc *ChainContext, from, to uint64) error {
	if from > to {
		return nil
	}

	recipients := w.watchedTopics()
	if len(recipients) == 0 {
		return nil
	}

	batch := cc.Network.LogBatchSize()
	if batch == 0 {
		batch = 1
	}

	for start := from; start <= to; {
		end := start + batch - 1
		if end > to {
			end = to
		}

		logs, err := w.fetchLogs(ctx, cc, start, end, recipients)
		if err != nil {
			return fmt.Errorf("log scan failed in blocks %d-%d: %w", start, end, err)
		}
		w.flush(ctx, cc, logs)

		start = end + 1
	}
	return nil
}

// fetchLogs retrieves the chunk's logs, recursively bisecting on failure.
// Node providers cap response sizes unpredictably; halving the range until it
// fits recovers without knowing the cap.
func (w *TokenWatcher) fetchLogs(ctx context.Context, cc *ChainContext, from, to uint64, recipients []common.Hash) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics: [][]common.Hash{
			{transferTopic},
			nil, // any sender
			recipients,
		},
	}

	logs, err := cc.Client.FilterLogs(ctx, query)
	if err == nil {
		return logs, nil
	}
	if from == to {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"from":  from,
		"to":    to,
		"error": err,
	}).Debug("log query failed, bisecting range")

	mid := from + (to-from)/2
	left, err := w.fetchLogs(ctx, cc, from, mid, recipients)
	if err != nil {
		return nil, err
	}
	right, err := w.fetchLogs(ctx, cc, mid+1, to, recipients)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// flush converts logs into incoming records, skipping ones already seen.
func (w *TokenWatcher) flush(ctx context.Context, cc *ChainContext, logs []types.Log) {
	for _, lg := range logs {
		if len(lg.Topics) != 3 || lg.Removed {
			continue
		}

		key := fmt.Sprintf("%s-%d", lg.TxHash.Hex(), lg.Index)
		w.mu.Lock()
		if _, dup := w.seen[key]; dup {
			w.mu.Unlock()
			continue
		}
		w.seen[key] = struct{}{}
		w.mu.Unlock()

		sender := common.BytesToAddress(lg.Topics[1].Bytes())
		recipient := common.BytesToAddress(lg.Topics[2].Bytes())
		value := new(big.Int).SetBytes(lg.Data)

		rec := &TransactionRecord{
			ID:                   uuid.NewString(),
			Status:               StatusConfirmed,
			Origin:               OriginInternal,
			Category:             CategoryIncoming,
			VerifiedOnBlockchain: true,
			Time:                 time.Now(),
			ConfirmationTime:     time.Now(),
			Invalid:              !w.classify(ctx, cc, lg, sender, recipient),
			Params: TxParams{
				From:    sender,
				To:      &recipient,
				Value:   value,
				ChainID: cc.Network.GetChainID(),
				Hash:    lg.TxHash,
			},
		}

		w.store.Add(rec)

		logger.WithFields(logger.Fields{
			"record_id": rec.ID,
			"token":     lg.Address.Hex(),
			"recipient": recipient.Hex(),
			"value":     value.String(),
			"invalid":   rec.Invalid,
		}).Debug("incoming token transfer recorded")
	}
}

// classify reports whether a transfer looks legitimate: the recipient must be
// watched, the token contract must not be denied, and the sender the log
// claims must match the transaction's recovered signer. Tokens that pass once
// are cached and skip the checks afterwards.
func (w *TokenWatcher) classify(ctx context.Context, cc *ChainContext, lg types.Log, sender, recipient common.Address) bool {
	if good, ok := w.knownGood.Get(lg.Address); ok && good {
		return true
	}

	w.mu.Lock()
	_, watchedRecipient := w.watched[recipient]
	_, deniedToken := w.denied[lg.Address]
	w.mu.Unlock()

	if !watchedRecipient || deniedToken {
		return false
	}
	if !w.senderMatches(ctx, cc, lg, sender) {
		return false
	}

	w.knownGood.Add(lg.Address, true)
	return true
}

// senderMatches cross-checks the logged Transfer sender against the signer
// recovered from the transaction that emitted it. A contract minting transfer
// logs on behalf of addresses its caller doesn't control is the airdrop-spam
// pattern this catches. A transaction the node can't return is not treated as
// spoofed.
func (w *TokenWatcher) senderMatches(ctx context.Context, cc *ChainContext, lg types.Log, sender common.Address) bool {
	tx, _, err := cc.Client.TransactionByHash(ctx, lg.TxHash)
	if err != nil || tx == nil {
		return true
	}

	chainID := new(big.Int).SetUint64(cc.Network.GetChainID())
	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return false
	}
	return from == sender
}

func (w *TokenWatcher) watchedTopics() []common.Hash {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]common.Hash, 0, len(w.watched))
	for addr := range w.watched {
		out = append(out, common.BytesToHash(addr.Bytes()))
	}
	return out
}

// Start scans from the last scanned block to the current head on every tick
// until the context is cancelled. The first tick scans only the head block so
// a fresh watcher doesn't replay the whole chain.
func (w *TokenWatcher) Start(ctx context.Context, cc *ChainContext, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.scanToHead(ctx, cc); err != nil {
					logger.WithFields(logger.Fields{
						"error": err,
					}).Warn("incoming transfer scan failed")
				}
			}
		}
	}()

	return done
}

func (w *TokenWatcher) scanToHead(ctx context.Context, cc *ChainContext) error {
	header, err := cc.Client.HeaderByNumber(ctx, nil)
	if err != nil {
		return err
	}
	head := header.Number.Uint64()
	chainID := cc.Network.GetChainID()

	w.mu.Lock()
	last, ok := w.lastScanned[chainID]
	w.mu.Unlock()

	from := head
	if ok && last < head {
		from = last + 1
	}

	if err := w.ScanRange(ctx, cc, from, head); err != nil {
		return err
	}

	w.mu.Lock()
	w.lastScanned[chainID] = head
	w.mu.Unlock()
	return nil
}
