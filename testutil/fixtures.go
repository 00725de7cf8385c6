package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Deterministic accounts shared by the engine tests.
var (
	// WalletAddr plays the engine's selected account and sends most
	// transactions under test.
	WalletAddr = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	// CounterpartyAddr receives value transfers and token movements.
	CounterpartyAddr = common.HexToAddress("0x000000000000000000000000000000000000b0b5")
	// ExternalAddr is an account the wallet does not control, used to probe
	// permission and authorization failures.
	ExternalAddr = common.HexToAddress("0x0000000000000000000000000000000000ca11e4")
)

// SignerKey backs the in-memory signer in tests that need real signatures,
// so senders can be recovered from the produced transactions.
var (
	SignerKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	SignerKey, _ = crypto.HexToECDSA(SignerKeyHex)
	SignerAddr   = crypto.PubkeyToAddress(SignerKey.PublicKey)
)

// Gwei converts a whole gwei amount to wei.
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

// Wei amounts the fee and transfer tests are written against.
var (
	OneEther   = big.NewInt(1_000_000_000_000_000_000)
	TwentyGwei = Gwei(20)
	TwoGwei    = Gwei(2)

	// BumpedTwentyGwei is the replacement fee a 1.5x-plus-one-wei bump
	// produces from TwentyGwei.
	BumpedTwentyGwei = big.NewInt(30_000_000_001)
)

// ChainIDMainnet matches the chain ID of the default mock network.
var ChainIDMainnet = big.NewInt(1)
