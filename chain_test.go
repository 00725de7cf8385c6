package txengine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexwallet/txengine/internal/circuitbreaker"
	"github.com/hexwallet/txengine/testutil"
)

func fastRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		Backoff:    backoff.NewConstantBackOff(time.Millisecond),
	}
}

func TestGuardedClient(t *testing.T) {
	ctx := context.Background()
	network := testutil.NewMockNetwork(1, "mock-mainnet")

	t.Run("transient failures are retried", func(t *testing.T) {
		calls := 0
		inner := &mockChainClient{}
		inner.pendingNonceAtFunc = func(context.Context, common.Address) (uint64, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("connection reset")
			}
			return 9, nil
		}

		g := NewGuardedClient(inner, network, fastRetryPolicy())
		n, err := g.PendingNonceAt(ctx, testutil.WalletAddr)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), n)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausted retries surface the last error", func(t *testing.T) {
		inner := &mockChainClient{}
		inner.pendingNonceAtFunc = func(context.Context, common.Address) (uint64, error) {
			return 0, errors.New("connection reset")
		}

		g := NewGuardedClient(inner, network, fastRetryPolicy())
		_, err := g.PendingNonceAt(ctx, testutil.WalletAddr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("broadcasts are never retried", func(t *testing.T) {
		calls := 0
		inner := &mockChainClient{}
		inner.sendTransactionFunc = func(context.Context, *types.Transaction) error {
			calls++
			return errors.New("connection reset")
		}

		g := NewGuardedClient(inner, network, fastRetryPolicy())
		err := g.SendTransaction(ctx, testutil.NewTx(0, testutil.CounterpartyAddr, testutil.OneEther))
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("log queries are never retried", func(t *testing.T) {
		calls := 0
		inner := &mockChainClient{}
		inner.filterLogsFunc = func(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
			calls++
			return nil, errors.New("too many results")
		}

		g := NewGuardedClient(inner, network, fastRetryPolicy())
		_, err := g.FilterLogs(ctx, ethereum.FilterQuery{})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("repeated failures open the breaker", func(t *testing.T) {
		inner := &mockChainClient{}
		inner.nonceAtFunc = func(context.Context, common.Address, *big.Int) (uint64, error) {
			return 0, errors.New("node is down")
		}

		g := NewGuardedClient(inner, network, fastRetryPolicy())

		threshold := circuitbreaker.DefaultConfig().FailureThreshold
		for i := 0; i < threshold; i++ {
			_, err := g.NonceAt(ctx, testutil.WalletAddr, nil)
			require.Error(t, err)
		}

		_, err := g.NonceAt(ctx, testutil.WalletAddr, nil)
		assert.ErrorIs(t, err, ErrCircuitBreakerOpen)

		stats, ok := BreakerStats(g)
		require.True(t, ok)
		assert.Equal(t, circuitbreaker.StateOpen, stats.State)
	})

	t.Run("context cancellation aborts immediately", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)

		calls := 0
		inner := &mockChainClient{}
		inner.pendingNonceAtFunc = func(context.Context, common.Address) (uint64, error) {
			calls++
			cancel()
			return 0, errors.New("connection reset")
		}

		g := NewGuardedClient(inner, network, fastRetryPolicy())
		_, err := g.PendingNonceAt(cancelled, testutil.WalletAddr)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("stats on an unwrapped client", func(t *testing.T) {
		_, ok := BreakerStats(&mockChainClient{})
		assert.False(t, ok)
	})
}
