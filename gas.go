package txengine

import (
	"context"
	"math/big"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
)

// supportsEIP1559 reports whether the active chain carries a base fee. The
// answer is cached per chain ID; headers don't change fee market mid-chain.
func (e *Engine) supportsEIP1559(ctx context.Context, cc *ChainContext) bool {
	chainID := cc.Network.GetChainID()
	if supported, ok := e.eip1559Support.Get(chainID); ok {
		return supported
	}

	header, err := cc.Client.HeaderByNumber(ctx, nil)
	if err != nil {
		logger.WithFields(logger.Fields{
			"chain_id": chainID,
			"error":    err,
		}).Warn("couldn't fetch header for fee model detection, assuming legacy")
		return false
	}

	supported := header.BaseFee != nil
	e.eip1559Support.Add(chainID, supported)
	return supported
}

// ForceEIP1559Support overrides fee model detection for a chain. Used for
// networks whose nodes misreport the base fee field.
func (e *Engine) ForceEIP1559Support(chainID uint64, supported bool) {
	e.eip1559Support.Add(chainID, supported)
}

// estimateGas fills params.GasLimit. Estimation never fails the transaction:
// when the node rejects the estimate, the limit falls back to a fraction of
// the latest block gas limit and the record is flagged so the UI can warn.
func (e *Engine) estimateGas(ctx context.Context, cc *ChainContext, rec *TransactionRecord) {
	params := rec.Params

	// Plain value transfers to an account have a fixed cost; skip full
	// estimation on networks where that holds. The destination must be
	// code-free: a payable fallback can burn more than the minimum.
	if cc.Network.HasFixedTransferCost() &&
		len(params.Data) == 0 &&
		params.To != nil &&
		rec.Category == CategorySentEther {
		code, err := cc.Client.CodeAt(ctx, *params.To, nil)
		if err == nil && len(code) == 0 {
			rec.Params.GasLimit = PlainTransferGas
			return
		}
	}

	msg := ethereum.CallMsg{
		From: params.From,
		To:   params.To,
		Data: params.Data,
	}
	if params.Value != nil {
		msg.Value = new(big.Int).Set(params.Value)
	}

	gas, err := cc.Client.EstimateGas(ctx, msg)
	if err == nil {
		rec.Params.GasLimit = gas
		return
	}

	logger.WithFields(logger.Fields{
		"record_id": rec.ID,
		"error":     err,
	}).Warn("gas estimation failed, falling back to block gas limit fraction")

	rec.GasEstimationFailed = true
	rec.Params.GasLimit = e.fallbackGasLimit(ctx, cc)
}

// fallbackGasLimit returns a fraction of the latest block's gas limit, or the
// plain transfer cost if even the header is unreachable.
func (e *Engine) fallbackGasLimit(ctx context.Context, cc *ChainContext) uint64 {
	header, err := cc.Client.HeaderByNumber(ctx, nil)
	if err != nil || header.GasLimit == 0 {
		return PlainTransferGas
	}
	return header.GasLimit * GasEstimationFallbackPercent / 100
}

// populateFees fills params.Fee from the oracle when the caller didn't
// provide fee values, picking the fee model the chain supports.
func (e *Engine) populateFees(ctx context.Context, cc *ChainContext, rec *TransactionRecord) error {
	if rec.Params.Fee != nil {
		return nil
	}
	if e.oracle == nil {
		return ErrNoFeeOracle
	}

	eip1559 := e.supportsEIP1559(ctx, cc)
	fees, err := e.oracle.SuggestFees(ctx, cc.Network, eip1559)
	if err != nil {
		return err
	}
	rec.Params.Fee = fees
	return nil
}
