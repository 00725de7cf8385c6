package txengine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexwallet/txengine/testutil"
)

var testToken = common.HexToAddress("0x4444444444444444444444444444444444444444")

func newWatcherContext(client *mockChainClient) *ChainContext {
	network := testutil.NewMockNetwork(1, "mock-mainnet")
	network.LogBatchValue = 100
	return &ChainContext{Network: network, Client: client}
}

func TestTokenWatcherScan(t *testing.T) {
	ctx := context.Background()

	t.Run("incoming transfer becomes a confirmed incoming record", func(t *testing.T) {
		client := &mockChainClient{}
		client.filterLogsFunc = func(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			return []types.Log{
				testutil.NewTransferLog(testToken, testutil.ExternalAddr, testutil.WalletAddr,
					big.NewInt(5000), 10, common.HexToHash("0xaa"), 0),
			}, nil
		}

		store := NewStore()
		w := NewTokenWatcher(store)
		w.Watch(testutil.WalletAddr)

		require.NoError(t, w.ScanRange(ctx, newWatcherContext(client), 1, 50))

		records := store.List(nil)
		require.Len(t, records, 1)
		rec := records[0]
		assert.Equal(t, StatusConfirmed, rec.Status)
		assert.Equal(t, CategoryIncoming, rec.Category)
		assert.True(t, rec.VerifiedOnBlockchain)
		assert.False(t, rec.Invalid)
		assert.Equal(t, testutil.ExternalAddr, rec.Params.From)
		assert.Equal(t, testutil.WalletAddr, *rec.Params.To)
		assert.Equal(t, "5000", rec.Params.Value.String())
	})

	t.Run("duplicate logs across scans are recorded once", func(t *testing.T) {
		client := &mockChainClient{}
		client.filterLogsFunc = func(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
			return []types.Log{
				testutil.NewTransferLog(testToken, testutil.ExternalAddr, testutil.WalletAddr,
					big.NewInt(1), 10, common.HexToHash("0xaa"), 0),
			}, nil
		}

		store := NewStore()
		w := NewTokenWatcher(store)
		w.Watch(testutil.WalletAddr)

		cc := newWatcherContext(client)
		require.NoError(t, w.ScanRange(ctx, cc, 1, 50))
		require.NoError(t, w.ScanRange(ctx, cc, 1, 50))

		assert.Len(t, store.List(nil), 1)
	})

	t.Run("no watched addresses is a no-op", func(t *testing.T) {
		client := &mockChainClient{}
		client.filterLogsFunc = func(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
			t.Fatal("no query should be issued")
			return nil, nil
		}

		w := NewTokenWatcher(NewStore())
		require.NoError(t, w.ScanRange(ctx, newWatcherContext(client), 1, 50))
	})

	t.Run("ranges are chunked to the network batch size", func(t *testing.T) {
		var mu sync.Mutex
		var ranges [][2]uint64

		client := &mockChainClient{}
		client.filterLogsFunc = func(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			mu.Lock()
			ranges = append(ranges, [2]uint64{q.FromBlock.Uint64(), q.ToBlock.Uint64()})
			mu.Unlock()
			return nil, nil
		}

		w := NewTokenWatcher(NewStore())
		w.Watch(testutil.WalletAddr)

		// Batch size 100 over 250 blocks: three chunks.
		require.NoError(t, w.ScanRange(ctx, newWatcherContext(client), 1, 250))

		require.Len(t, ranges, 3)
		assert.Equal(t, [2]uint64{1, 100}, ranges[0])
		assert.Equal(t, [2]uint64{101, 200}, ranges[1])
		assert.Equal(t, [2]uint64{201, 250}, ranges[2])
	})

	t.Run("oversized chunk is bisected until it fits", func(t *testing.T) {
		client := &mockChainClient{}
		client.filterLogsFunc = func(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
			if to-from > 10 {
				return nil, errors.New("query returned more than 10000 results")
			}
			if from <= 25 && 25 <= to {
				return []types.Log{
					testutil.NewTransferLog(testToken, testutil.ExternalAddr, testutil.WalletAddr,
						big.NewInt(7), 25, common.HexToHash("0xbb"), 0),
				}, nil
			}
			return nil, nil
		}

		store := NewStore()
		w := NewTokenWatcher(store)
		w.Watch(testutil.WalletAddr)

		require.NoError(t, w.ScanRange(ctx, newWatcherContext(client), 1, 100))

		records := store.List(nil)
		require.Len(t, records, 1)
		assert.Equal(t, "7", records[0].Params.Value.String())
	})

	t.Run("persistently failing single block surfaces the error", func(t *testing.T) {
		client := &mockChainClient{}
		client.filterLogsFunc = func(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
			return nil, errors.New("node is down")
		}

		w := NewTokenWatcher(NewStore())
		w.Watch(testutil.WalletAddr)

		err := w.ScanRange(ctx, newWatcherContext(client), 1, 100)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "node is down")
	})

	t.Run("earlier chunks survive a later failure", func(t *testing.T) {
		client := &mockChainClient{}
		client.filterLogsFunc = func(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			if q.FromBlock.Uint64() >= 101 {
				return nil, errors.New("node is down")
			}
			return []types.Log{
				testutil.NewTransferLog(testToken, testutil.ExternalAddr, testutil.WalletAddr,
					big.NewInt(1), q.FromBlock.Uint64(), common.HexToHash("0xcc"), 0),
			}, nil
		}

		store := NewStore()
		w := NewTokenWatcher(store)
		w.Watch(testutil.WalletAddr)

		err := w.ScanRange(ctx, newWatcherContext(client), 1, 250)
		require.Error(t, err)
		assert.Len(t, store.List(nil), 1)
	})
}

func TestTokenWatcherRiskClassification(t *testing.T) {
	ctx := context.Background()

	transferLogs := func(token common.Address, recipient common.Address) func(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
		return func(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
			return []types.Log{
				testutil.NewTransferLog(token, testutil.ExternalAddr, recipient,
					big.NewInt(1), 10, common.HexToHash("0xdd"), 0),
			}, nil
		}
	}

	t.Run("denied token transfers are flagged invalid", func(t *testing.T) {
		client := &mockChainClient{}
		client.filterLogsFunc = transferLogs(testToken, testutil.WalletAddr)

		store := NewStore()
		w := NewTokenWatcher(store)
		w.Watch(testutil.WalletAddr)
		w.DenyToken(testToken)

		require.NoError(t, w.ScanRange(ctx, newWatcherContext(client), 1, 50))

		records := store.List(nil)
		require.Len(t, records, 1)
		assert.True(t, records[0].Invalid)
	})

	t.Run("allowing a denied token clears the flag for later transfers", func(t *testing.T) {
		client := &mockChainClient{}
		store := NewStore()
		w := NewTokenWatcher(store)
		w.Watch(testutil.WalletAddr)
		w.DenyToken(testToken)

		client.filterLogsFunc = transferLogs(testToken, testutil.WalletAddr)
		require.NoError(t, w.ScanRange(ctx, newWatcherContext(client), 1, 50))

		w.AllowToken(testToken)
		client.filterLogsFunc = func(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
			return []types.Log{
				testutil.NewTransferLog(testToken, testutil.ExternalAddr, testutil.WalletAddr,
					big.NewInt(2), 11, common.HexToHash("0xee"), 0),
			}, nil
		}
		require.NoError(t, w.ScanRange(ctx, newWatcherContext(client), 51, 60))

		records := store.List(nil)
		require.Len(t, records, 2)
		assert.True(t, records[0].Invalid)
		assert.False(t, records[1].Invalid)
	})

	t.Run("logged sender must match the transaction signer", func(t *testing.T) {
		onChainTx := testutil.NewSignedTx(0, testutil.WalletAddr, big.NewInt(1), testutil.ChainIDMainnet)

		client := &mockChainClient{}
		client.transactionByHashFunc = func(context.Context, common.Hash) (*types.Transaction, bool, error) {
			return onChainTx, false, nil
		}
		client.filterLogsFunc = func(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
			return []types.Log{
				// The log claims a sender the signer doesn't control.
				testutil.NewTransferLog(testToken, testutil.ExternalAddr, testutil.WalletAddr,
					big.NewInt(1), 10, onChainTx.Hash(), 0),
				testutil.NewTransferLog(testToken, testutil.SignerAddr, testutil.WalletAddr,
					big.NewInt(2), 10, onChainTx.Hash(), 1),
			}, nil
		}

		store := NewStore()
		w := NewTokenWatcher(store)
		w.Watch(testutil.WalletAddr)

		require.NoError(t, w.ScanRange(ctx, newWatcherContext(client), 1, 50))

		records := store.List(nil)
		require.Len(t, records, 2)
		assert.True(t, records[0].Invalid)
		assert.False(t, records[1].Invalid)
	})

	t.Run("known-good tokens skip the deny list lookup", func(t *testing.T) {
		client := &mockChainClient{}
		client.filterLogsFunc = transferLogs(testToken, testutil.WalletAddr)

		store := NewStore()
		w := NewTokenWatcher(store)
		w.Watch(testutil.WalletAddr)

		// First transfer classifies the token as good and caches it.
		require.NoError(t, w.ScanRange(ctx, newWatcherContext(client), 1, 50))

		// A later deny takes effect because DenyToken evicts the cache entry.
		w.DenyToken(testToken)
		client.filterLogsFunc = func(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
			return []types.Log{
				testutil.NewTransferLog(testToken, testutil.ExternalAddr, testutil.WalletAddr,
					big.NewInt(3), 12, common.HexToHash("0xff"), 0),
			}, nil
		}
		require.NoError(t, w.ScanRange(ctx, newWatcherContext(client), 51, 60))

		records := store.List(nil)
		require.Len(t, records, 2)
		assert.False(t, records[0].Invalid)
		assert.True(t, records[1].Invalid)
	})
}

func TestTokenWatcherScanToHead(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var ranges [][2]uint64

	client := &mockChainClient{}
	head := big.NewInt(1000)
	client.headerByNumberFunc = func(context.Context, *big.Int) (*types.Header, error) {
		return &types.Header{Number: new(big.Int).Set(head), GasLimit: 30000000}, nil
	}
	client.filterLogsFunc = func(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
		mu.Lock()
		ranges = append(ranges, [2]uint64{q.FromBlock.Uint64(), q.ToBlock.Uint64()})
		mu.Unlock()
		return nil, nil
	}

	w := NewTokenWatcher(NewStore())
	w.Watch(testutil.WalletAddr)
	cc := newWatcherContext(client)

	// First pass scans only the head block.
	require.NoError(t, w.scanToHead(ctx, cc))
	require.Len(t, ranges, 1)
	assert.Equal(t, [2]uint64{1000, 1000}, ranges[0])

	// Subsequent passes resume from where the last one stopped.
	head.SetInt64(1005)
	require.NoError(t, w.scanToHead(ctx, cc))
	require.Len(t, ranges, 2)
	assert.Equal(t, [2]uint64{1001, 1005}, ranges[1])
}
