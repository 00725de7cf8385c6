package txengine

// Mock implementations live in the txengine package's test files rather than
// in testutil to avoid import cycles. See testutil/doc.go.

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// mockChainClient implements ChainClient with per-method overrides. Methods
// without an override return permissive defaults so tests only configure what
// they assert on.
type mockChainClient struct {
	mu sync.Mutex

	estimateGasFunc        func(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	pendingNonceAtFunc     func(ctx context.Context, account common.Address) (uint64, error)
	nonceAtFunc            func(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	sendTransactionFunc    func(ctx context.Context, tx *types.Transaction) error
	transactionByHashFunc  func(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	transactionReceiptFunc func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	headerByNumberFunc     func(ctx context.Context, number *big.Int) (*types.Header, error)
	codeAtFunc             func(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	filterLogsFunc         func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	suggestGasPriceFunc    func(ctx context.Context) (*big.Int, error)
	suggestGasTipCapFunc   func(ctx context.Context) (*big.Int, error)

	// sent collects every broadcast transaction, in order.
	sent []*types.Transaction
}

func (m *mockChainClient) sentTxs() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.Transaction(nil), m.sent...)
}

func (m *mockChainClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if m.estimateGasFunc != nil {
		return m.estimateGasFunc(ctx, msg)
	}
	return 21000, nil
}

func (m *mockChainClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if m.pendingNonceAtFunc != nil {
		return m.pendingNonceAtFunc(ctx, account)
	}
	return 0, nil
}

func (m *mockChainClient) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	if m.nonceAtFunc != nil {
		return m.nonceAtFunc(ctx, account, blockNumber)
	}
	return 0, nil
}

func (m *mockChainClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if m.sendTransactionFunc != nil {
		if err := m.sendTransactionFunc(ctx, tx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.sent = append(m.sent, tx)
	m.mu.Unlock()
	return nil
}

func (m *mockChainClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if m.transactionByHashFunc != nil {
		return m.transactionByHashFunc(ctx, hash)
	}
	return nil, false, errors.New("not found")
}

func (m *mockChainClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if m.transactionReceiptFunc != nil {
		return m.transactionReceiptFunc(ctx, hash)
	}
	return nil, errors.New("not found")
}

func (m *mockChainClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if m.headerByNumberFunc != nil {
		return m.headerByNumberFunc(ctx, number)
	}
	return &types.Header{
		Number:   big.NewInt(100),
		GasLimit: 30000000,
		BaseFee:  big.NewInt(10000000000),
	}, nil
}

func (m *mockChainClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if m.codeAtFunc != nil {
		return m.codeAtFunc(ctx, account, blockNumber)
	}
	return nil, nil
}

func (m *mockChainClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if m.filterLogsFunc != nil {
		return m.filterLogsFunc(ctx, q)
	}
	return nil, nil
}

func (m *mockChainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if m.suggestGasPriceFunc != nil {
		return m.suggestGasPriceFunc(ctx)
	}
	return big.NewInt(20000000000), nil
}

func (m *mockChainClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if m.suggestGasTipCapFunc != nil {
		return m.suggestGasTipCapFunc(ctx)
	}
	return big.NewInt(2000000000), nil
}

// mockSigner signs nothing: it returns the unsigned transaction as-is so the
// engine's flow can be exercised without key material. An override hook lets
// tests inject failures or delays.
type mockSigner struct {
	signTxFunc func(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

func (m *mockSigner) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if m.signTxFunc != nil {
		return m.signTxFunc(ctx, from, tx, chainID)
	}
	return tx, nil
}

// mockFeeOracle returns fixed fees per the requested model.
type mockFeeOracle struct {
	suggestFeesFunc func(ctx context.Context, network Network, eip1559 bool) (FeeParams, error)
}

func (m *mockFeeOracle) SuggestFees(ctx context.Context, network Network, eip1559 bool) (FeeParams, error) {
	if m.suggestFeesFunc != nil {
		return m.suggestFeesFunc(ctx, network, eip1559)
	}
	if eip1559 {
		return DynamicFee{
			MaxFeePerGas:         big.NewInt(20000000000),
			MaxPriorityFeePerGas: big.NewInt(2000000000),
		}, nil
	}
	return LegacyFee{GasPrice: big.NewInt(20000000000)}, nil
}
