package txengine

import (
	"bytes"
	"context"
	"math/big"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ERC-20 method selectors the engine recognizes for categorization.
var (
	selectorTransfer = []byte{0xa9, 0x05, 0x9c, 0xbb}
	selectorApprove  = []byte{0x09, 0x5e, 0xa7, 0xb3}
)

// AddTxRequest describes a transaction to add to the engine.
//
// Zero-value fee and gas fields are filled by the engine from the oracle and
// estimator; explicit values are honored as-is.
type AddTxRequest struct {
	Origin string
	From   common.Address
	To     *common.Address
	Value  *big.Int
	Data   []byte

	// GasLimit, when non-zero, skips estimation.
	GasLimit uint64
	// Fee, when non-nil, skips the oracle.
	Fee FeeParams

	// DepositID links the record to an external privacy deposit whose
	// confirmation gates this record's confirmation.
	DepositID string

	// IdempotencyKey deduplicates retried submissions of the same intent.
	IdempotencyKey string
}

// AddTransaction validates the request, resolves its category, fills gas and
// fees, and stores a new UNAPPROVED record on the active chain. When the
// engine runs with auto-approval, the record is approved and submitted before
// returning.
//
// The returned record is a snapshot; use Wait(id) for the completion channel.
func (e *Engine) AddTransaction(ctx context.Context, req AddTxRequest) (*TransactionRecord, error) {
	cc := e.ChainContext()
	if cc == nil {
		return nil, ErrNoActiveChain
	}

	if err := e.authorizeRequest(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if existing := e.lookupIdempotent(req.IdempotencyKey); existing != nil {
			logger.WithFields(logger.Fields{
				"record_id":       existing.ID,
				"idempotency_key": req.IdempotencyKey,
			}).Debug("returning existing record for idempotency key")
			return existing, nil
		}
	}

	category, err := e.resolveCategory(ctx, cc, req)
	if err != nil {
		return nil, err
	}

	rec := &TransactionRecord{
		ID:       uuid.NewString(),
		Status:   StatusUnapproved,
		Origin:   req.Origin,
		Category: category,
		Time:     time.Now(),
		Params: TxParams{
			From:     req.From,
			To:       req.To,
			Value:    cloneBig(req.Value),
			Data:     bytes.Clone(req.Data),
			GasLimit: req.GasLimit,
			Fee:      req.Fee,
			ChainID:  cc.Network.GetChainID(),
		},
		DepositID:        req.DepositID,
		IdempotencyKey:   req.IdempotencyKey,
		LoadingGasValues: req.GasLimit == 0 || req.Fee == nil,
	}

	if rec.Params.GasLimit == 0 {
		e.estimateGas(ctx, cc, rec)
	}
	if err := e.populateFees(ctx, cc, rec); err != nil {
		return nil, err
	}
	rec.LoadingGasValues = false

	e.store.Add(rec)
	if req.IdempotencyKey != "" {
		e.registerIdempotent(req.IdempotencyKey, rec.ID)
	}
	e.futureFor(rec.ID)

	logger.WithFields(logger.Fields{
		"record_id": rec.ID,
		"origin":    rec.Origin,
		"category":  rec.Category,
		"chain_id":  rec.Params.ChainID,
	}).Info("transaction added")

	if e.Defaults().AutoApprove {
		if err := e.ApproveTransaction(ctx, rec.ID); err != nil {
			return e.store.Get(rec.ID), err
		}
	}

	return e.store.Get(rec.ID), nil
}

// authorizeRequest enforces origin rules: internal requests must come from
// the selected account, external origins need an explicit permission grant.
func (e *Engine) authorizeRequest(req AddTxRequest) error {
	if req.From == (common.Address{}) {
		return &ValidationError{Field: "from", Reason: "address is empty"}
	}

	if req.Origin == OriginInternal {
		if selected := e.SelectedAccount(); selected != (common.Address{}) && req.From != selected {
			return &ValidationError{Field: "from", Reason: "internal transactions must originate from the selected account"}
		}
		return nil
	}

	if !e.permissions.Allowed(req.Origin, req.From) {
		return &ValidationError{Field: "from", Reason: "origin has no permission for this address"}
	}
	return nil
}

// resolveCategory classifies the transaction by destination and calldata.
//
// Calldata against an address with no deployed code is rejected outright; it
// is always a mistake and the funds would be burned.
func (e *Engine) resolveCategory(ctx context.Context, cc *ChainContext, req AddTxRequest) (Category, error) {
	if req.To == nil {
		return CategoryContractDeployment, nil
	}
	if len(req.Data) == 0 {
		return CategorySentEther, nil
	}

	code, err := cc.Client.CodeAt(ctx, *req.To, nil)
	if err != nil {
		logger.WithFields(logger.Fields{
			"to":    req.To.Hex(),
			"error": err,
		}).Warn("couldn't inspect destination code, assuming contract interaction")
		return e.categoryBySelector(req.Data), nil
	}
	if len(code) == 0 {
		return "", &ValidationError{Field: "data", Reason: ErrDataToNonContract.Error()}
	}

	return e.categoryBySelector(req.Data), nil
}

func (e *Engine) categoryBySelector(data []byte) Category {
	if len(data) < 4 {
		return CategoryContractInteraction
	}
	switch {
	case bytes.Equal(data[:4], selectorTransfer):
		return CategoryTokenTransfer
	case bytes.Equal(data[:4], selectorApprove):
		return CategoryTokenApprove
	default:
		return CategoryContractInteraction
	}
}

func (e *Engine) lookupIdempotent(key string) *TransactionRecord {
	e.idempMu.Lock()
	id, ok := e.idempotency[key]
	e.idempMu.Unlock()
	if !ok {
		return nil
	}
	return e.store.Get(id)
}

func (e *Engine) registerIdempotent(key, id string) {
	e.idempMu.Lock()
	e.idempotency[key] = id
	e.idempMu.Unlock()
}
