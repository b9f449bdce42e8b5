package api

import "time"

type openAccountRequest struct {
	AccountNumber  string `json:"account_number"`
	Name           string `json:"name"`
	AccountType    string `json:"account_type"`
	InitialBalance string `json:"initial_balance"`
	CurrencyCode   string `json:"currency_code"`
}

type transferRequest struct {
	SourceAccountID      *int64 `json:"source_account_id"`
	DestinationAccountID *int64 `json:"destination_account_id"`
	Amount               string `json:"amount"`
	Description          string `json:"description"`
}

type scheduleRequest struct {
	SourceAccountID      int64     `json:"source_account_id"`
	DestinationAccountID int64     `json:"destination_account_id"`
	Amount               string    `json:"amount"`
	Description          string    `json:"description"`
	ScheduledAt          time.Time `json:"scheduled_at"`
	Recurring            bool      `json:"recurring"`
	RecurrencePeriod     string    `json:"recurrence_period,omitempty"`
}

type balanceResponse struct {
	AccountID     int64     `json:"account_id"`
	AccountNumber string    `json:"account_number"`
	Balance       string    `json:"balance"`
	CurrencyCode  string    `json:"currency_code"`
	AsOf          time.Time `json:"as_of"`
}

type transferResponse struct {
	TransactionNumber string `json:"transaction_number"`
	Type              string `json:"transaction_type"`
	Status            string `json:"status"`
	Amount            string `json:"amount"`
	IdempotencyKey    string `json:"idempotency_key"`
	Replayed          bool   `json:"replayed"`
}
