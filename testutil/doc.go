// Package testutil provides fixtures, transaction builders, and mock networks
// shared by the txengine tests.
//
// Mock collaborators that implement txengine interfaces (chain client, signer,
// fee oracle) live in the txengine package's own test files to avoid an import
// cycle; this package only holds values and builders with no txengine
// dependency.
//
// Fixtures:
//   - WalletAddr, CounterpartyAddr, ExternalAddr: deterministic accounts
//   - SignerKey, SignerKeyHex, SignerAddr: signing key and its address
//   - OneEther, TwentyGwei, TwoGwei, BumpedTwentyGwei, Gwei: wei amounts
//   - ChainIDMainnet: chain ID of the default mock network
//
// Builders:
//   - NewTx, NewDynamicTx, NewSignedTx: test transactions
//   - NewReceiptForHash: mined receipts
//   - NewTransferLog: ERC-20 Transfer event logs
//
// Networks:
//   - NewMockNetwork: mainnet-like, fixed plain-transfer cost
//   - NewMockL2Network: fast blocks, estimation always required
package testutil
