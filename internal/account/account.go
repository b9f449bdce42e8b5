package account

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Type classifies an account and decides its balance rules.
type Type string

const (
	TypeChecking Type = "CHECKING"
	TypeSavings  Type = "SAVINGS"
	TypeCredit   Type = "CREDIT"
	TypeLoan     Type = "LOAN"
)

// Valid reports whether t is a known account type.
func (t Type) Valid() bool {
	switch t {
	case TypeChecking, TypeSavings, TypeCredit, TypeLoan:
		return true
	}
	return false
}

// AllowsOverdraft reports whether the balance may go negative.
func (t Type) AllowsOverdraft() bool {
	return t == TypeCredit || t == TypeLoan
}

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusClosed   Status = "CLOSED"
)

// Valid reports whether s is a known account status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusClosed:
		return true
	}
	return false
}

// Account is a ledger account. The balance is mutated only by the
// transfer engine; the Store interface deliberately exposes no balance
// write operation.
type Account struct {
	ID        int64           `json:"id"`
	Number    string          `json:"account_number"`
	UserID    int64           `json:"user_id"`
	Name      string          `json:"name"`
	Type      Type            `json:"account_type"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency_code"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CreateParams describes a new account.
type CreateParams struct {
	UserID         int64
	Number         string
	Name           string
	Type           Type
	InitialBalance decimal.Decimal
	Currency       string
}

// Store provides account persistence. Balance mutation is not part of
// this contract: all balance changes flow through the transfer engine's
// atomic unit.
type Store interface {
	Create(ctx context.Context, p CreateParams) (*Account, error)
	Get(ctx context.Context, id int64) (*Account, error)
	GetByNumber(ctx context.Context, number string) (*Account, error)
	ListActiveByUser(ctx context.Context, userID int64) ([]*Account, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
}

var (
	numberPattern   = regexp.MustCompile(`^[0-9]+(-[0-9]+)*$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// ValidateNumber checks the human-facing account number format: digits
// and hyphens only, hyphens separating digit groups.
func ValidateNumber(number string) error {
	if number == "" {
		return fmt.Errorf("account number is required")
	}
	if len(number) > 32 {
		return fmt.Errorf("account number must be at most 32 characters")
	}
	if !numberPattern.MatchString(number) {
		return fmt.Errorf("account number %q may contain only digits and hyphens", number)
	}
	return nil
}

// ValidateCurrency checks for a three-letter uppercase currency code.
func ValidateCurrency(code string) error {
	if !currencyPattern.MatchString(code) {
		return fmt.Errorf("currency code %q must be three uppercase letters", code)
	}
	return nil
}

func (p CreateParams) validate() error {
	if err := ValidateNumber(p.Number); err != nil {
		return err
	}
	if err := ValidateCurrency(p.Currency); err != nil {
		return err
	}
	if !p.Type.Valid() {
		return fmt.Errorf("invalid account type: %s", p.Type)
	}
	if p.Name == "" {
		return fmt.Errorf("account name is required")
	}
	if p.InitialBalance.IsNegative() {
		return fmt.Errorf("initial balance must not be negative")
	}
	return nil
}
