package txengine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/core/types"
)

// ApproveTransaction moves an unapproved record through signing and
// submission. The whole sequence runs under the sending wallet's lock so two
// concurrent approvals for the same address can never be assigned the same
// nonce.
//
// Signing or broadcast failure transitions the record to FAILED with the
// underlying error preserved; the reserved nonce is returned to the pool.
func (e *Engine) ApproveTransaction(ctx context.Context, id string) error {
	cc := e.ChainContext()
	if cc == nil {
		return ErrNoActiveChain
	}
	if e.signer == nil {
		return ErrNoSigner
	}

	rec := e.store.Get(id)
	if rec == nil {
		return ErrRecordNotFound
	}
	if rec.Status != StatusUnapproved {
		return fmt.Errorf("%w: cannot approve a %s transaction", ErrInvalidStatus, rec.Status)
	}
	if rec.Params.ChainID != cc.Network.GetChainID() {
		return ErrChainMismatch
	}

	from := rec.Params.From
	unlock := e.nonces.Lock(from)
	defer unlock()

	remoteCount, err := cc.Client.PendingNonceAt(ctx, from)
	if err != nil {
		cause := fmt.Errorf("couldn't read account nonce: %w", err)
		e.failRecord(id, cause)
		return cause
	}
	assignedNonce := e.nonces.ReserveLocked(from, rec.Params.ChainID, remoteCount)

	// The nonce slot must be free: at most one pending record per
	// (chainID, from, nonce). A stale tracker after a wipe could otherwise
	// double-assign.
	if holder := e.store.PendingByNonce(rec.Params.ChainID, from, assignedNonce); holder != nil {
		e.nonces.ReleaseLocked(from, rec.Params.ChainID, assignedNonce)
		cause := fmt.Errorf("%w: record %s holds nonce %d", ErrNonceDomainSuperseded, holder.ID, assignedNonce)
		e.failRecord(id, cause)
		return cause
	}

	err = e.store.Update(id, func(r *TransactionRecord) {
		r.Status = StatusApproved
		r.Params.Nonce = assignedNonce
	})
	if err != nil {
		e.nonces.ReleaseLocked(from, rec.Params.ChainID, assignedNonce)
		return err
	}
	if err := e.store.Update(id, func(r *TransactionRecord) {
		r.Status = StatusSigning
	}); err != nil {
		e.nonces.ReleaseLocked(from, rec.Params.ChainID, assignedNonce)
		return err
	}

	rec = e.store.Get(id)
	if rec.Params.Fee == nil {
		// Fees are normally filled at creation; a record restored from
		// persistence mid-flow may still lack them.
		if err := e.populateFees(ctx, cc, rec); err != nil {
			e.nonces.ReleaseLocked(from, rec.Params.ChainID, assignedNonce)
			e.failRecord(id, err)
			return err
		}
		fee := rec.Params.Fee
		if err := e.store.Update(id, func(r *TransactionRecord) {
			r.Params.Fee = fee
		}); err != nil {
			e.nonces.ReleaseLocked(from, rec.Params.ChainID, assignedNonce)
			return err
		}
	}
	tx, err := buildTransaction(rec.Params)
	if err != nil {
		e.nonces.ReleaseLocked(from, rec.Params.ChainID, assignedNonce)
		e.failRecord(id, err)
		return err
	}

	chainID := new(big.Int).SetUint64(rec.Params.ChainID)
	signed, err := signWithTimeout(ctx, e.signer, e.Defaults().SignTimeout, from, tx, chainID)
	if err != nil {
		cause := error(&SigningError{Err: err})
		e.nonces.ReleaseLocked(from, rec.Params.ChainID, assignedNonce)
		e.failRecord(id, cause)
		return cause
	}

	if err := cc.Client.SendTransaction(ctx, signed); err != nil {
		cause := error(&SubmissionError{Err: err})
		e.nonces.ReleaseLocked(from, rec.Params.ChainID, assignedNonce)
		e.failRecord(id, cause)
		return cause
	}

	hash := signed.Hash()
	if err := e.store.Update(id, func(r *TransactionRecord) {
		r.Status = StatusSubmitted
		r.Params.Hash = hash
		r.SubmittedTime = time.Now()
	}); err != nil {
		return err
	}

	logger.WithFields(logger.Fields{
		"record_id": id,
		"hash":      hash.Hex(),
		"nonce":     assignedNonce,
		"chain_id":  rec.Params.ChainID,
	}).Info("transaction submitted")

	return nil
}

// buildTransaction converts stored params into a signable transaction of the
// type matching the record's fee model.
func buildTransaction(p TxParams) (*types.Transaction, error) {
	value := p.Value
	if value == nil {
		value = new(big.Int)
	}

	switch fee := p.Fee.(type) {
	case LegacyFee:
		return types.NewTx(&types.LegacyTx{
			Nonce:    p.Nonce,
			GasPrice: fee.GasPrice,
			Gas:      p.GasLimit,
			To:       p.To,
			Value:    value,
			Data:     p.Data,
		}), nil
	case DynamicFee:
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(p.ChainID),
			Nonce:     p.Nonce,
			GasTipCap: fee.MaxPriorityFeePerGas,
			GasFeeCap: fee.MaxFeePerGas,
			Gas:       p.GasLimit,
			To:        p.To,
			Value:     value,
			Data:      p.Data,
		}), nil
	default:
		return nil, fmt.Errorf("transaction has no fee parameters")
	}
}
