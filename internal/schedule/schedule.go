package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a scheduled transaction.
type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
)

// Period is the recurrence interval of a recurring entry.
type Period string

const (
	PeriodDaily   Period = "DAILY"
	PeriodWeekly  Period = "WEEKLY"
	PeriodMonthly Period = "MONTHLY"
)

// Valid reports whether p is a known recurrence period.
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// ScheduledTransaction is a deferred or recurring transfer. The
// scheduler owns its status transitions; users create and cancel.
// Entries are never physically deleted.
type ScheduledTransaction struct {
	ID                   int64           `json:"id"`
	SourceAccountID      int64           `json:"source_account_id"`
	DestinationAccountID int64           `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Description          string          `json:"description"`
	ScheduledAt          time.Time       `json:"scheduled_at"`
	Recurring            bool            `json:"recurring"`
	Period               Period          `json:"recurrence_period,omitempty"`
	Status               Status          `json:"status"`
	ExecutedAt           *time.Time      `json:"executed_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// AllowedTransitions defines the valid status transitions. PROCESSING
// is the exclusive-claim marker; an entry returns to SCHEDULED only
// when a recurring execution advances its date.
func AllowedTransitions() map[Status][]Status {
	return map[Status][]Status{
		StatusScheduled:  {StatusProcessing, StatusCancelled},
		StatusProcessing: {StatusScheduled, StatusCompleted, StatusFailed},
		StatusCompleted:  {}, // Terminal state
		StatusCancelled:  {}, // Terminal state
		StatusFailed:     {}, // Terminal state
	}
}

// CanTransition checks if a status transition is allowed.
func CanTransition(from, to Status) bool {
	for _, allowed := range AllowedTransitions()[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidStateTransitionError represents an invalid status transition,
// e.g. cancelling an entry the scheduler has already claimed.
type InvalidStateTransitionError struct {
	ScheduleID int64
	From       Status
	To         Status
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s for scheduled transaction %d", e.From, e.To, e.ScheduleID)
}

// NotFoundError reports an unknown scheduled transaction id.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("scheduled transaction %d not found", e.ID)
}

// NextOccurrence advances the previous scheduled time by one period.
// Advancing the scheduled time rather than the wall clock keeps
// scheduler latency from accumulating calendar drift.
func NextOccurrence(prev time.Time, p Period) time.Time {
	switch p {
	case PeriodDaily:
		return prev.AddDate(0, 0, 1)
	case PeriodWeekly:
		return prev.AddDate(0, 0, 7)
	case PeriodMonthly:
		return prev.AddDate(0, 1, 0)
	default:
		return prev
	}
}

// CreateParams describes a new scheduled transaction.
type CreateParams struct {
	SourceAccountID      int64
	DestinationAccountID int64
	Amount               decimal.Decimal
	Description          string
	ScheduledAt          time.Time
	Recurring            bool
	Period               Period
}

func (p CreateParams) validate() error {
	if !p.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if p.Amount.Exponent() < -4 {
		return fmt.Errorf("amount must have at most 4 decimal places")
	}
	if p.SourceAccountID == p.DestinationAccountID {
		return fmt.Errorf("source and destination must be different accounts")
	}
	if p.ScheduledAt.IsZero() {
		return fmt.Errorf("scheduled time is required")
	}
	if p.Recurring && !p.Period.Valid() {
		return fmt.Errorf("invalid recurrence period: %s", p.Period)
	}
	if !p.Recurring && p.Period != "" {
		return fmt.Errorf("recurrence period requires the recurring flag")
	}
	return nil
}

// Store provides scheduled-transaction persistence. ClaimDue is the
// exclusivity primitive: an entry it returns belongs to the caller
// until completed, failed, or advanced.
type Store interface {
	Create(ctx context.Context, p CreateParams) (*ScheduledTransaction, error)
	Get(ctx context.Context, id int64) (*ScheduledTransaction, error)
	Cancel(ctx context.Context, id int64) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*ScheduledTransaction, error)
	Complete(ctx context.Context, id int64, executedAt time.Time) error
	Fail(ctx context.Context, id int64, executedAt time.Time) error
	Advance(ctx context.Context, id int64, nextAt, executedAt time.Time) error
}
