package txengine

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Constants for lifecycle processing
const (
	// PlainTransferGas is the fixed gas cost of a plain value transfer to an EOA.
	PlainTransferGas = uint64(21000)

	// GasEstimationFallbackPercent is the fraction of the latest block gas limit
	// used when eth_estimateGas fails.
	GasEstimationFallbackPercent = 90

	// DropThreshold is the number of consecutive polling cycles in which the
	// account nonce is observed past a submitted transaction's nonce before the
	// transaction is considered dropped.
	DropThreshold = 3

	// MinPollsBeforeDropCheck is the number of polling cycles a submitted
	// transaction must have been observed before drop counting starts. Fresh
	// submissions often race the node's nonce view.
	MinPollsBeforeDropCheck = 2

	DefaultSignTimeout     = 3 * time.Minute
	DefaultPollInterval    = 5 * time.Second
	DefaultHistoryLimit    = 40
	DefaultRPCRetries      = 3
	DefaultRPCRetryBackoff = 500 * time.Millisecond
)

// Status is the lifecycle state of a transaction record.
type Status string

const (
	StatusUnapproved Status = "unapproved"
	StatusApproved   Status = "approved"
	StatusSigning    Status = "signing"
	StatusSubmitted  Status = "submitted"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
	StatusDropped    Status = "dropped"
)

// Terminal reports whether no further lifecycle transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusRejected, StatusCancelled, StatusDropped:
		return true
	}
	return false
}

// validNext encodes the allowed lifecycle transitions. Terminal states have no
// successors; records never regress.
func (s Status) validNext(next Status) bool {
	switch s {
	case StatusUnapproved:
		return next == StatusApproved || next == StatusRejected || next == StatusFailed
	case StatusApproved:
		return next == StatusSigning || next == StatusFailed
	case StatusSigning:
		return next == StatusSubmitted || next == StatusFailed
	case StatusSubmitted:
		return next == StatusConfirmed || next == StatusFailed ||
			next == StatusDropped || next == StatusCancelled
	}
	return false
}

// Category classifies a transaction for downstream display and risk logic.
type Category string

const (
	CategorySentEther                 Category = "sentEther"
	CategoryContractDeployment        Category = "contractDeployment"
	CategoryContractInteraction       Category = "contractInteraction"
	CategoryTokenTransfer             Category = "tokenMethodTransfer"
	CategoryTokenApprove              Category = "tokenMethodApprove"
	CategoryIncoming                  Category = "incoming"
	CategoryBridge                    Category = "bridge"
	CategoryIncomingBridgePlaceholder Category = "incomingBridgePlaceholder"
	CategoryBlankDeposit              Category = "blankDeposit"
	CategoryBlankWithdrawal           Category = "blankWithdrawal"
	CategoryExchange                  Category = "exchange"
)

// FeeParams is the fee model of a transaction. Exactly one of the two
// implementations is carried by a record; a transaction never holds both a
// legacy gas price and EIP-1559 fee caps.
type FeeParams interface {
	// Clone returns a deep copy so store snapshots never alias caller state.
	Clone() FeeParams

	feeParams()
}

// LegacyFee is the pre-EIP-1559 single gas price model.
type LegacyFee struct {
	GasPrice *big.Int
}

func (f LegacyFee) feeParams() {}

func (f LegacyFee) Clone() FeeParams {
	return LegacyFee{GasPrice: cloneBig(f.GasPrice)}
}

// DynamicFee is the EIP-1559 fee model.
type DynamicFee struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

func (f DynamicFee) feeParams() {}

func (f DynamicFee) Clone() FeeParams {
	return DynamicFee{
		MaxFeePerGas:         cloneBig(f.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneBig(f.MaxPriorityFeePerGas),
	}
}

// TxParams holds the on-wire parameters of a transaction. Hash is the zero
// hash until the transaction has been broadcast.
type TxParams struct {
	From     common.Address
	To       *common.Address // nil means contract deployment
	Value    *big.Int
	Data     []byte
	Nonce    uint64
	GasLimit uint64
	Fee      FeeParams
	ChainID  uint64
	Hash     common.Hash
}

// Clone returns a deep copy of the params.
func (p TxParams) Clone() TxParams {
	out := p
	if p.To != nil {
		to := *p.To
		out.To = &to
	}
	out.Value = cloneBig(p.Value)
	if p.Data != nil {
		out.Data = append([]byte(nil), p.Data...)
	}
	if p.Fee != nil {
		out.Fee = p.Fee.Clone()
	}
	return out
}

// TransactionRecord is the central entity owned by the Store and mutated only
// by the Engine.
type TransactionRecord struct {
	ID       string
	Status   Status
	Origin   string
	Category Category
	Params   TxParams

	// Receipt is populated only once the node reports inclusion. Absence means
	// "not yet observed on-chain". Once set it is never unset.
	Receipt              *types.Receipt
	VerifiedOnBlockchain bool

	Time             time.Time
	SubmittedTime    time.Time
	ConfirmationTime time.Time

	// BlocksDropCount counts consecutive polling cycles where the account nonce
	// has advanced past this transaction without a receipt.
	BlocksDropCount int

	// PollCount counts how many polling cycles have observed this record since
	// submission.
	PollCount int

	// ReplacedBy links to the record that superseded this one with the same
	// nonce. The replacement does not link backward.
	ReplacedBy string

	// Err is the human-readable failure message. Never cleared once set.
	Err string

	// Transient UI-facing flags; not authoritative over any invariant.
	LoadingGasValues    bool
	GasEstimationFailed bool

	// DepositID links the record to a privacy deposit whose confirmation is
	// checked by an external service before the record may confirm.
	DepositID string

	// IdempotencyKey dedupes AddTransaction calls when set.
	IdempotencyKey string

	// Invalid marks an incoming token transfer rejected by risk classification.
	Invalid bool
}

// Clone returns a deep copy of the record. Store reads hand out clones so no
// partially-written record is ever observable.
func (r *TransactionRecord) Clone() *TransactionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Params = r.Params.Clone()
	out.Receipt = cloneReceipt(r.Receipt)
	return &out
}

func cloneReceipt(rcpt *types.Receipt) *types.Receipt {
	if rcpt == nil {
		return nil
	}
	out := *rcpt
	out.BlockNumber = cloneBig(rcpt.BlockNumber)
	out.EffectiveGasPrice = cloneBig(rcpt.EffectiveGasPrice)
	out.BlobGasPrice = cloneBig(rcpt.BlobGasPrice)
	if rcpt.Logs != nil {
		out.Logs = make([]*types.Log, len(rcpt.Logs))
		for i, lg := range rcpt.Logs {
			cp := *lg
			out.Logs[i] = &cp
		}
	}
	return &out
}

// TxOutcome is delivered on a record's completion channel when the record
// reaches a terminal state.
type TxOutcome struct {
	Hash common.Hash
	Err  error
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
