package txengine

import (
	"context"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/core/types"
)

// QueryTransactionStatuses polls the node for every submitted record on the
// active chain and applies the resulting transitions. Calls arriving within
// the poll interval of the previous run are coalesced into no-ops; the return
// value reports whether this call actually ran.
func (e *Engine) QueryTransactionStatuses(ctx context.Context) bool {
	cc := e.ChainContext()
	if cc == nil {
		return false
	}

	return e.pollGate.Run(func() {
		e.pollOnce(ctx, cc)
	})
}

func (e *Engine) pollOnce(ctx context.Context, cc *ChainContext) {
	chainID := cc.Network.GetChainID()
	submitted := e.store.List(func(r *TransactionRecord) bool {
		return r.Status == StatusSubmitted && r.Params.ChainID == chainID
	})

	for _, rec := range submitted {
		if err := ctx.Err(); err != nil {
			return
		}
		e.pollRecord(ctx, cc, rec)
	}
}

// pollRecord checks a single submitted record. Polling is idempotent: a
// record already transitioned by a concurrent path is left alone by the
// store's terminal-state guard.
func (e *Engine) pollRecord(ctx context.Context, cc *ChainContext, rec *TransactionRecord) {
	if err := e.store.Update(rec.ID, func(r *TransactionRecord) {
		r.PollCount++
	}); err != nil {
		return
	}

	_, pending, err := cc.Client.TransactionByHash(ctx, rec.Params.Hash)
	if err != nil {
		// Unknown to the node: either still propagating or dropped. The
		// account nonce tells the difference.
		e.checkDropped(ctx, cc, rec)
		return
	}
	if pending {
		e.resetDropCount(rec)
		return
	}

	receipt, err := cc.Client.TransactionReceipt(ctx, rec.Params.Hash)
	if err != nil {
		logger.WithFields(logger.Fields{
			"record_id": rec.ID,
			"hash":      rec.Params.Hash.Hex(),
			"error":     err,
		}).Warn("mined transaction has no retrievable receipt yet")
		return
	}

	if receipt.Status == types.ReceiptStatusFailed {
		e.markReverted(rec, receipt)
		return
	}

	// Deposit-linked records confirm only once the external service reports
	// the deposit itself confirmed.
	if rec.DepositID != "" && e.isDepositConfirmed != nil && !e.isDepositConfirmed(rec.DepositID) {
		logger.WithFields(logger.Fields{
			"record_id":  rec.ID,
			"deposit_id": rec.DepositID,
		}).Debug("receipt present but deposit not yet confirmed, holding")
		return
	}

	e.markConfirmed(rec, receipt)
}

func (e *Engine) markConfirmed(rec *TransactionRecord, receipt *types.Receipt) {
	err := e.store.Update(rec.ID, func(r *TransactionRecord) {
		r.Status = StatusConfirmed
		r.Receipt = receipt
		r.VerifiedOnBlockchain = true
		r.ConfirmationTime = time.Now()
		r.BlocksDropCount = 0
	})
	if err != nil {
		return
	}

	e.resolveFuture(rec.ID, TxOutcome{Hash: rec.Params.Hash})

	logger.WithFields(logger.Fields{
		"record_id": rec.ID,
		"hash":      rec.Params.Hash.Hex(),
		"block":     receipt.BlockNumber,
	}).Info("transaction confirmed")
}

func (e *Engine) markReverted(rec *TransactionRecord, receipt *types.Receipt) {
	err := e.store.Update(rec.ID, func(r *TransactionRecord) {
		r.Status = StatusFailed
		r.Receipt = receipt
		r.VerifiedOnBlockchain = true
		r.Err = MsgTransactionReverted
	})
	if err != nil {
		return
	}

	e.resolveFuture(rec.ID, TxOutcome{Hash: rec.Params.Hash, Err: ErrTransactionReverted})

	logger.WithFields(logger.Fields{
		"record_id": rec.ID,
		"hash":      rec.Params.Hash.Hex(),
	}).Warn("transaction reverted")
}

// checkDropped counts consecutive cycles in which the account nonce has moved
// past a transaction the node no longer knows. A single observation is not
// enough; nodes briefly forget transactions during reorgs and mempool churn.
func (e *Engine) checkDropped(ctx context.Context, cc *ChainContext, rec *TransactionRecord) {
	if rec.PollCount+1 <= MinPollsBeforeDropCheck {
		return
	}

	accountNonce, err := cc.Client.NonceAt(ctx, rec.Params.From, nil)
	if err != nil {
		logger.WithFields(logger.Fields{
			"record_id": rec.ID,
			"error":     err,
		}).Warn("couldn't read account nonce for drop check")
		return
	}
	if accountNonce <= rec.Params.Nonce {
		e.resetDropCount(rec)
		return
	}

	var dropped bool
	err = e.store.Update(rec.ID, func(r *TransactionRecord) {
		r.BlocksDropCount++
		if r.BlocksDropCount >= DropThreshold {
			r.Status = StatusDropped
			r.Err = MsgTransactionDropped
			dropped = true
		}
	})
	if err != nil || !dropped {
		return
	}

	e.resolveFuture(rec.ID, TxOutcome{Hash: rec.Params.Hash, Err: ErrTransactionDropped})

	logger.WithFields(logger.Fields{
		"record_id": rec.ID,
		"hash":      rec.Params.Hash.Hex(),
		"nonce":     rec.Params.Nonce,
	}).Warn("transaction dropped")
}

func (e *Engine) resetDropCount(rec *TransactionRecord) {
	if rec.BlocksDropCount == 0 {
		return
	}
	_ = e.store.Update(rec.ID, func(r *TransactionRecord) {
		r.BlocksDropCount = 0
	})
}

// StartPolling runs QueryTransactionStatuses on the default poll interval
// until the context is cancelled. The returned channel closes when the loop
// exits.
func (e *Engine) StartPolling(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	interval := e.Defaults().PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.QueryTransactionStatuses(ctx)
			}
		}
	}()

	return done
}
