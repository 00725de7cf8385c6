package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NewDynamicTx builds an EIP-1559 transaction with explicit fee caps.
func NewDynamicTx(nonce uint64, to common.Address, value *big.Int, gasLimit uint64, gasTipCap, gasFeeCap *big.Int, chainID *big.Int) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
	})
}

// NewTx builds a plain value transfer carrying the fixture fees on mainnet.
// Most polling and replacement tests only need the hash and nonce to line up.
func NewTx(nonce uint64, to common.Address, value *big.Int) *types.Transaction {
	return NewDynamicTx(nonce, to, value, 21000, TwoGwei, TwentyGwei, ChainIDMainnet)
}

// NewSignedTx signs a plain transfer with SignerKey, for tests that recover
// the sender from a fetched transaction.
func NewSignedTx(nonce uint64, to common.Address, value *big.Int, chainID *big.Int) *types.Transaction {
	tx, err := types.SignNewTx(SignerKey, types.LatestSignerForChainID(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: TwoGwei,
		GasFeeCap: TwentyGwei,
		Gas:       21000,
		To:        &to,
		Value:     value,
	})
	if err != nil {
		panic(err)
	}
	return tx
}

// NewReceiptForHash builds a mined receipt keyed by hash only, for code paths
// that never see the full transaction.
func NewReceiptForHash(hash common.Hash, status uint64) *types.Receipt {
	return &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(17_500_000),
		BlockHash:   common.HexToHash("0x5e1ec7ed5e1ec7ed5e1ec7ed5e1ec7ed5e1ec7ed5e1ec7ed5e1ec7ed5e1ec7ed"),
		GasUsed:     21000,
	}
}

// TransferEventTopic is the keccak hash of Transfer(address,address,uint256).
var TransferEventTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// NewTransferLog builds an ERC-20 Transfer event log the watcher can ingest.
func NewTransferLog(token, from, to common.Address, value *big.Int, blockNumber uint64, txHash common.Hash, index uint) types.Log {
	return types.Log{
		Address: token,
		Topics: []common.Hash{
			TransferEventTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: blockNumber,
		TxHash:      txHash,
		Index:       index,
	}
}
