package txengine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// FeeBumpPolicy controls how replacement transactions outbid the original.
// Nodes reject a replacement whose fee is not meaningfully above the pending
// transaction's, so the bump multiplies the original fee and adds a strict
// increment on top.
type FeeBumpPolicy struct {
	Numerator   int64
	Denominator int64
	Increment   *big.Int
}

// DefaultFeeBumpPolicy bumps by half again plus one wei.
func DefaultFeeBumpPolicy() FeeBumpPolicy {
	return FeeBumpPolicy{Numerator: 3, Denominator: 2, Increment: big.NewInt(1)}
}

// bump returns ceil(v * Numerator / Denominator) + Increment.
func (p FeeBumpPolicy) bump(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	num := new(big.Int).Mul(v, big.NewInt(p.Numerator))
	den := big.NewInt(p.Denominator)
	out, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() != 0 {
		out.Add(out, big.NewInt(1))
	}
	if p.Increment != nil {
		out.Add(out, p.Increment)
	}
	return out
}

// bumpFees applies the policy to every component of the fee model.
func (p FeeBumpPolicy) bumpFees(fee FeeParams) FeeParams {
	switch f := fee.(type) {
	case LegacyFee:
		return LegacyFee{GasPrice: p.bump(f.GasPrice)}
	case DynamicFee:
		return DynamicFee{
			MaxFeePerGas:         p.bump(f.MaxFeePerGas),
			MaxPriorityFeePerGas: p.bump(f.MaxPriorityFeePerGas),
		}
	default:
		return fee
	}
}

// SpeedUpTransaction rebroadcasts a submitted transaction with the same nonce
// and bumped fees. On success the original record is marked superseded and
// waiters on it follow the replacement's outcome. A failed broadcast leaves
// the original record untouched.
func (e *Engine) SpeedUpTransaction(ctx context.Context, id string) (*TransactionRecord, error) {
	return e.replaceTransaction(ctx, id, "speed up", func(orig TxParams) TxParams {
		out := orig.Clone()
		out.Fee = e.Defaults().FeeBump.bumpFees(orig.Fee)
		out.Hash = common.Hash{}
		return out
	}, func(orig *TransactionRecord) Category { return orig.Category })
}

// CancelTransaction replaces a submitted transaction with a zero-value
// self-transfer at the same nonce and bumped fees, burning the nonce so the
// original can never be mined.
func (e *Engine) CancelTransaction(ctx context.Context, id string) (*TransactionRecord, error) {
	return e.replaceTransaction(ctx, id, "cancel", func(orig TxParams) TxParams {
		self := orig.From
		return TxParams{
			From:     orig.From,
			To:       &self,
			Value:    new(big.Int),
			Nonce:    orig.Nonce,
			GasLimit: PlainTransferGas,
			Fee:      e.Defaults().FeeBump.bumpFees(orig.Fee),
			ChainID:  orig.ChainID,
		}
	}, func(*TransactionRecord) Category { return CategorySentEther })
}

func (e *Engine) replaceTransaction(
	ctx context.Context,
	id, kind string,
	buildParams func(orig TxParams) TxParams,
	category func(orig *TransactionRecord) Category,
) (*TransactionRecord, error) {
	cc := e.ChainContext()
	if cc == nil {
		return nil, ErrNoActiveChain
	}
	if e.signer == nil {
		return nil, ErrNoSigner
	}

	orig := e.store.Get(id)
	if orig == nil {
		return nil, ErrRecordNotFound
	}
	if orig.Status != StatusSubmitted {
		return nil, fmt.Errorf("%w: can only %s a submitted transaction", ErrInvalidStatus, kind)
	}
	if orig.Params.ChainID != cc.Network.GetChainID() {
		return nil, ErrChainMismatch
	}
	if orig.Params.Fee == nil {
		return nil, fmt.Errorf("submitted transaction carries no fee parameters")
	}

	params := buildParams(orig.Params)

	from := params.From
	unlock := e.nonces.Lock(from)
	defer unlock()

	tx, err := buildTransaction(params)
	if err != nil {
		return nil, err
	}

	chainID := new(big.Int).SetUint64(params.ChainID)
	signed, err := signWithTimeout(ctx, e.signer, e.Defaults().SignTimeout, from, tx, chainID)
	if err != nil {
		return nil, &SigningError{Err: err}
	}

	if err := cc.Client.SendTransaction(ctx, signed); err != nil {
		return nil, &SubmissionError{Err: err}
	}

	params.Hash = signed.Hash()
	replacement := &TransactionRecord{
		ID:            uuid.NewString(),
		Status:        StatusSubmitted,
		Origin:        orig.Origin,
		Category:      category(orig),
		Params:        params,
		Time:          time.Now(),
		SubmittedTime: time.Now(),
	}

	// The original goes terminal before the replacement enters the store, so
	// the nonce slot is never held by two pending records at once.
	if err := e.store.Update(id, func(r *TransactionRecord) {
		r.Status = StatusCancelled
		r.ReplacedBy = replacement.ID
		r.Err = MsgTransactionReplaced
	}); err != nil {
		logger.WithFields(logger.Fields{
			"record_id": id,
			"error":     err,
		}).Error("couldn't mark original record as superseded")
	}

	// Waiters on the original resolve with the replacement's outcome. The
	// alias is installed before the replacement is visible to polling.
	e.aliasFuture(id, replacement.ID)

	e.store.Add(replacement)

	logger.WithFields(logger.Fields{
		"record_id":   id,
		"replaced_by": replacement.ID,
		"hash":        params.Hash.Hex(),
		"nonce":       params.Nonce,
		"kind":        kind,
	}).Info("transaction replaced")

	return e.store.Get(replacement.ID), nil
}
