package txengine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// FeeOracle supplies current fee estimates per network. Exactly one fee model
// is returned, matching the network's EIP-1559 compatibility.
type FeeOracle interface {
	SuggestFees(ctx context.Context, network Network, eip1559 bool) (FeeParams, error)
}

// weiPerGwei converts between the human-facing gwei oracle floor values and
// on-wire wei amounts.
var weiPerGwei = decimal.NewFromInt(1_000_000_000)

// GweiToWei converts a gwei amount to wei, truncating sub-wei precision.
func GweiToWei(gwei decimal.Decimal) *big.Int {
	return gwei.Mul(weiPerGwei).BigInt()
}

// ChainFeeOracle derives fee suggestions from the chain itself: the node's
// gasPrice / maxPriorityFeePerGas hints plus the latest base fee. Results are
// cached per chain for a short TTL so bursts of approvals do not hammer the
// node.
type ChainFeeOracle struct {
	client ChainClient

	// MinPriorityFeeGwei floors the suggested tip; some nodes return zero.
	MinPriorityFeeGwei decimal.Decimal

	// TTL bounds how long a cached suggestion is served.
	TTL time.Duration

	mu       sync.Mutex
	cached   FeeParams
	cachedAt time.Time
}

// NewChainFeeOracle returns an oracle backed by the given client with a
// 15 second cache and a 1 gwei priority fee floor.
func NewChainFeeOracle(client ChainClient) *ChainFeeOracle {
	return &ChainFeeOracle{
		client:             client,
		MinPriorityFeeGwei: decimal.NewFromInt(1),
		TTL:                15 * time.Second,
	}
}

func (o *ChainFeeOracle) SuggestFees(ctx context.Context, network Network, eip1559 bool) (FeeParams, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cached != nil && time.Since(o.cachedAt) < o.TTL {
		return o.cached.Clone(), nil
	}

	var fee FeeParams
	if eip1559 {
		tip, err := o.client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("couldn't get tip cap suggestion: %w", err)
		}
		floor := GweiToWei(o.MinPriorityFeeGwei)
		if tip.Cmp(floor) < 0 {
			tip = floor
		}

		header, err := o.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("couldn't get latest header for base fee: %w", err)
		}
		baseFee := header.BaseFee
		if baseFee == nil {
			baseFee = big.NewInt(0)
		}

		// maxFee = 2*baseFee + tip leaves headroom for base fee growth over
		// the next few blocks.
		maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
		maxFee.Add(maxFee, tip)

		fee = DynamicFee{
			MaxFeePerGas:         maxFee,
			MaxPriorityFeePerGas: tip,
		}
	} else {
		price, err := o.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("couldn't get gas price suggestion: %w", err)
		}
		fee = LegacyFee{GasPrice: price}
	}

	o.cached = fee
	o.cachedAt = time.Now()
	return fee.Clone(), nil
}
