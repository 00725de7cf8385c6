package txengine

import "fmt"

// Standard user-visible failure messages, suitable for direct display.
const (
	MsgTransactionReverted = "Transaction failed. The transaction was reverted by the EVM"
	MsgTransactionDropped  = "Transaction failed. The transaction was dropped or replaced by a new one"
	MsgTransactionRejected = "Transaction rejected by the user."
	MsgTransactionReplaced = "Transaction was replaced by a new one with the same nonce"
)

// Lifecycle errors
var (
	ErrInvalidFromAddress    = fmt.Errorf("from address is malformed or not authorized for the origin")
	ErrDataToNonContract     = fmt.Errorf("transaction data set against an address with no contract code")
	ErrRecordNotFound        = fmt.Errorf("transaction record not found")
	ErrInvalidStatus         = fmt.Errorf("operation not valid for the record's current status")
	ErrTransactionRejected   = fmt.Errorf(MsgTransactionRejected)
	ErrTransactionReverted   = fmt.Errorf(MsgTransactionReverted)
	ErrTransactionDropped    = fmt.Errorf(MsgTransactionDropped)
	ErrSignTimeout           = fmt.Errorf("signing timed out")
	ErrChainMismatch         = fmt.Errorf("record does not belong to the active chain")
	ErrNoActiveChain         = fmt.Errorf("no active chain context")
	ErrNoSigner              = fmt.Errorf("no signer configured")
	ErrNoFeeOracle           = fmt.Errorf("no fee oracle configured")
	ErrDuplicateSubmission   = fmt.Errorf("duplicate idempotency key: transaction already added")
	ErrCircuitBreakerOpen    = fmt.Errorf("circuit breaker is open: network temporarily unavailable")
	ErrNonceDomainSuperseded = fmt.Errorf("a pending transaction already holds this nonce")
)

// ValidationError rejects a malformed or unauthorized request synchronously,
// before any state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// SigningError preserves the signer's failure on the record.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// SubmissionError preserves the RPC broadcast failure on the record.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("broadcast failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
