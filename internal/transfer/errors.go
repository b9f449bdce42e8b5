package transfer

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InvalidTransferError reports a transfer request that fails validation
// before any balance is touched: malformed amount, currency mismatch,
// missing endpoints, or an account not eligible to move money.
type InvalidTransferError struct {
	Reason string
}

func (e *InvalidTransferError) Error() string {
	return "invalid transfer: " + e.Reason
}

// InsufficientFundsError reports a debit that would violate the source
// account's minimum-balance invariant.
type InsufficientFundsError struct {
	AccountID int64
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in account %d: have %s, need %s",
		e.AccountID, e.Balance.StringFixed(4), e.Requested.StringFixed(4))
}

// ConcurrencyConflictError reports a commit-time race. It is retried
// internally a bounded number of times before surfacing; callers seeing
// it may safely resubmit with the same idempotency key.
type ConcurrencyConflictError struct {
	Attempts int
	Err      error
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("transfer aborted by concurrent write after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("transfer aborted by concurrent write: %v", e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error {
	return e.Err
}
