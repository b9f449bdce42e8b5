package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type classifies a money movement by its endpoints.
type Type string

const (
	TypeTransfer   Type = "TRANSFER"
	TypeDeposit    Type = "DEPOSIT"
	TypeWithdrawal Type = "WITHDRAWAL"
)

// Status is the lifecycle state of a ledger entry. COMPLETED entries
// are immutable; corrections are new reversing entries.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusReversed  Status = "REVERSED"
)

// Transaction is one immutable record of a money movement. A nil source
// is an external deposit; a nil destination is an external withdrawal.
type Transaction struct {
	ID                   int64           `json:"id"`
	Number               string          `json:"transaction_number"`
	SourceAccountID      *int64          `json:"source_account_id,omitempty"`
	DestinationAccountID *int64          `json:"destination_account_id,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Type                 Type            `json:"transaction_type"`
	Status               Status          `json:"status"`
	Description          string          `json:"description"`
	TransactedAt         time.Time       `json:"transacted_at"`
	CreatedAt            time.Time       `json:"created_at"`
}

// NewNumber generates a globally unique, human-displayable transaction
// number. Internal ids are never exposed externally; this is.
func NewNumber() string {
	return fmt.Sprintf("TX-%s-%d", uuid.NewString()[:8], time.Now().UnixNano())
}

// ListFilter selects a page of ledger entries touching one account,
// optionally bounded by a time range.
type ListFilter struct {
	AccountID int64
	From      *time.Time
	To        *time.Time
	Page      int
	Size      int
}

func (f ListFilter) limit() int {
	if f.Size <= 0 {
		return 50
	}
	if f.Size > 500 {
		return 500
	}
	return f.Size
}

func (f ListFilter) offset() int {
	if f.Page <= 0 {
		return 0
	}
	return f.Page * f.limit()
}

// NotFoundError reports an unknown transaction number.
type NotFoundError struct {
	Number string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transaction %s not found", e.Number)
}
