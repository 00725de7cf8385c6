package txengine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/KyberNetwork/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hexwallet/txengine/internal/circuitbreaker"
)

// ChainClient is the chain access contract the engine consumes. It is a
// subset of go-ethereum's ethclient.Client method set, so *ethclient.Client
// satisfies it directly.
type ChainClient interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// RetryPolicy bounds transient-failure retries on chain access calls.
// Exhausting the retries surfaces the last error rather than hanging.
type RetryPolicy struct {
	MaxRetries uint64
	Backoff    backoff.BackOff
}

// DefaultRetryPolicy returns the bounded constant-backoff policy used when
// none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultRPCRetries,
		Backoff:    backoff.NewConstantBackOff(DefaultRPCRetryBackoff),
	}
}

// guardedClient wraps a ChainClient with a circuit breaker and a bounded
// retry policy. All engine chain access goes through it.
type guardedClient struct {
	inner   ChainClient
	breaker *circuitbreaker.Breaker
	retry   RetryPolicy
	network string
}

// NewGuardedClient wraps client so every call is retried per policy and
// recorded against a per-network circuit breaker.
func NewGuardedClient(client ChainClient, network Network, policy RetryPolicy) ChainClient {
	return &guardedClient{
		inner:   client,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		retry:   policy,
		network: network.GetName(),
	}
}

// call runs fn under the breaker with bounded retries. Non-retryable failure
// modes (context cancellation) abort immediately.
func (c *guardedClient) call(ctx context.Context, op string, fn func() error) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("%w (network %s, op %s)", ErrCircuitBreakerOpen, c.network, op)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.retry.Backoff, c.retry.MaxRetries), ctx)
	err := backoff.Retry(func() error {
		callErr := fn()
		if callErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		logger.WithFields(logger.Fields{
			"network": c.network,
			"op":      op,
			"error":   callErr,
		}).Debug("chain access call failed, will retry if budget remains")
		return callErr
	}, policy)

	if err != nil {
		c.breaker.RecordFailure()
		return err
	}
	c.breaker.RecordSuccess()
	return nil
}

func (c *guardedClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (gas uint64, err error) {
	err = c.call(ctx, "estimateGas", func() (callErr error) {
		gas, callErr = c.inner.EstimateGas(ctx, msg)
		return callErr
	})
	return gas, err
}

func (c *guardedClient) PendingNonceAt(ctx context.Context, account common.Address) (nonce uint64, err error) {
	err = c.call(ctx, "getTransactionCount(pending)", func() (callErr error) {
		nonce, callErr = c.inner.PendingNonceAt(ctx, account)
		return callErr
	})
	return nonce, err
}

func (c *guardedClient) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (nonce uint64, err error) {
	err = c.call(ctx, "getTransactionCount", func() (callErr error) {
		nonce, callErr = c.inner.NonceAt(ctx, account, blockNumber)
		return callErr
	})
	return nonce, err
}

func (c *guardedClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	// Broadcasts are not retried blindly: a resubmission after an ambiguous
	// failure could double-send. The caller decides how to recover.
	if !c.breaker.Allow() {
		return fmt.Errorf("%w (network %s, op sendTransaction)", ErrCircuitBreakerOpen, c.network)
	}
	err := c.inner.SendTransaction(ctx, tx)
	if err != nil {
		c.breaker.RecordFailure()
		return err
	}
	c.breaker.RecordSuccess()
	return nil
}

func (c *guardedClient) TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, pending bool, err error) {
	err = c.call(ctx, "getTransaction", func() (callErr error) {
		tx, pending, callErr = c.inner.TransactionByHash(ctx, hash)
		return callErr
	})
	return tx, pending, err
}

func (c *guardedClient) TransactionReceipt(ctx context.Context, hash common.Hash) (receipt *types.Receipt, err error) {
	err = c.call(ctx, "getTransactionReceipt", func() (callErr error) {
		receipt, callErr = c.inner.TransactionReceipt(ctx, hash)
		return callErr
	})
	return receipt, err
}

func (c *guardedClient) HeaderByNumber(ctx context.Context, number *big.Int) (header *types.Header, err error) {
	err = c.call(ctx, "getBlock", func() (callErr error) {
		header, callErr = c.inner.HeaderByNumber(ctx, number)
		return callErr
	})
	return header, err
}

func (c *guardedClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) (code []byte, err error) {
	err = c.call(ctx, "getCode", func() (callErr error) {
		code, callErr = c.inner.CodeAt(ctx, account, blockNumber)
		return callErr
	})
	return code, err
}

func (c *guardedClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) (logs []types.Log, err error) {
	// getLogs failures are handled by the watcher's bisection, not by blind
	// retry of the same oversized range.
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("%w (network %s, op getLogs)", ErrCircuitBreakerOpen, c.network)
	}
	logs, err = c.inner.FilterLogs(ctx, q)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()
	return logs, nil
}

func (c *guardedClient) SuggestGasPrice(ctx context.Context) (price *big.Int, err error) {
	err = c.call(ctx, "gasPrice", func() (callErr error) {
		price, callErr = c.inner.SuggestGasPrice(ctx)
		return callErr
	})
	return price, err
}

func (c *guardedClient) SuggestGasTipCap(ctx context.Context) (tip *big.Int, err error) {
	err = c.call(ctx, "maxPriorityFeePerGas", func() (callErr error) {
		tip, callErr = c.inner.SuggestGasTipCap(ctx)
		return callErr
	})
	return tip, err
}

// BreakerStats exposes the circuit breaker state for a guarded client.
func BreakerStats(client ChainClient) (circuitbreaker.Stats, bool) {
	g, ok := client.(*guardedClient)
	if !ok {
		return circuitbreaker.Stats{}, false
	}
	return g.breaker.Stats(), true
}
