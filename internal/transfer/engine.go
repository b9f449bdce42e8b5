package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/example/bank-core/internal/account"
	"github.com/example/bank-core/internal/ledger"
	"github.com/example/bank-core/internal/notify"
	"github.com/example/bank-core/pkg/audit"
)

// Request describes one logical transfer. A nil source is an external
// deposit; a nil destination is an external withdrawal. The idempotency
// key makes replays of the same logical request apply at most once; the
// engine generates one when the caller supplies none.
type Request struct {
	IdempotencyKey       string
	SourceAccountID      *int64
	DestinationAccountID *int64
	Amount               decimal.Decimal
	Description          string
}

// Result is the outcome of Execute. Replayed is true when the request's
// idempotency key had already been applied and no balance changed.
type Result struct {
	Transaction    *ledger.Transaction
	IdempotencyKey string
	Replayed       bool
}

// Tx is the atomic unit the engine drives. Every mutation requested
// through a Tx either commits as a whole or leaves no trace.
type Tx interface {
	// FindIdempotencyKey returns the transaction previously recorded
	// under key, or nil when the key is unused.
	FindIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error)
	// LockAccounts locks the given accounts for the duration of the
	// transaction. ids must be sorted ascending; implementations must
	// acquire locks in that order so concurrent transfers over the same
	// pair never deadlock.
	LockAccounts(ctx context.Context, ids []int64) ([]*account.Account, error)
	ApplyBalanceDelta(ctx context.Context, accountID int64, delta decimal.Decimal) error
	AppendTransaction(ctx context.Context, txn *ledger.Transaction) error
	SaveIdempotencyKey(ctx context.Context, key string, transactionID int64) error
}

// Store runs a function inside one atomic transaction. Implementations
// translate commit-time races into ConcurrencyConflictError so the
// engine can retry.
type Store interface {
	Execute(ctx context.Context, fn func(tx Tx) error) error
}

// Engine validates and atomically applies transfers. It is the sole
// writer of account balances and ledger entries.
type Engine struct {
	store   Store
	sink    notify.Sink
	journal *audit.Journal
	log     zerolog.Logger
}

// NewEngine creates a transfer engine. sink and journal may be nil.
func NewEngine(store Store, sink notify.Sink, journal *audit.Journal, log zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		sink:    sink,
		journal: journal,
		log:     log,
	}
}

const (
	maxRetries   = 3
	retryBackoff = 10 * time.Millisecond
)

// Execute applies one transfer: lock endpoints in ascending id order,
// re-read balances under lock, enforce the minimum-balance invariant,
// debit/credit, and append the COMPLETED ledger entry — all or nothing.
// Serialization conflicts are retried with backoff before surfacing as
// ConcurrencyConflictError. Event emission is best-effort and happens
// after commit; it never rolls back a completed transfer.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	txnType := deriveType(req)

	var (
		res      *Result
		currency string
	)

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := e.store.Execute(ctx, func(tx Tx) error {
			prior, err := tx.FindIdempotencyKey(ctx, key)
			if err != nil {
				return err
			}
			if prior != nil {
				res = &Result{Transaction: prior, IdempotencyKey: key, Replayed: true}
				return nil
			}

			src, dst, cur, err := e.resolveEndpoints(ctx, tx, req)
			if err != nil {
				return err
			}
			currency = cur

			if src != nil {
				remaining := src.Balance.Sub(req.Amount)
				if remaining.IsNegative() && !src.Type.AllowsOverdraft() {
					return &InsufficientFundsError{
						AccountID: src.ID,
						Balance:   src.Balance,
						Requested: req.Amount,
					}
				}
				if err := tx.ApplyBalanceDelta(ctx, src.ID, req.Amount.Neg()); err != nil {
					return err
				}
			}
			if dst != nil {
				if err := tx.ApplyBalanceDelta(ctx, dst.ID, req.Amount); err != nil {
					return err
				}
			}

			now := time.Now().UTC()
			txn := &ledger.Transaction{
				Number:               ledger.NewNumber(),
				SourceAccountID:      req.SourceAccountID,
				DestinationAccountID: req.DestinationAccountID,
				Amount:               req.Amount,
				Type:                 txnType,
				Status:               ledger.StatusCompleted,
				Description:          req.Description,
				TransactedAt:         now,
				CreatedAt:            now,
			}
			if err := tx.AppendTransaction(ctx, txn); err != nil {
				return err
			}
			if err := tx.SaveIdempotencyKey(ctx, key, txn.ID); err != nil {
				return err
			}

			res = &Result{Transaction: txn, IdempotencyKey: key}
			return nil
		})
		if err != nil {
			var conflict *ConcurrencyConflictError
			if errors.As(err, &conflict) {
				if attempt == maxRetries-1 {
					return nil, &ConcurrencyConflictError{Attempts: maxRetries, Err: conflict.Err}
				}
				time.Sleep(time.Duration(attempt+1) * retryBackoff)
				continue
			}
			return nil, err
		}
		break
	}

	if !res.Replayed {
		e.publish(res.Transaction, currency)
	}
	return res, nil
}

// resolveEndpoints locks the referenced accounts and checks that each
// exists, is ACTIVE, and that both sides share a currency.
func (e *Engine) resolveEndpoints(ctx context.Context, tx Tx, req Request) (src, dst *account.Account, currency string, err error) {
	ids := make([]int64, 0, 2)
	if req.SourceAccountID != nil {
		ids = append(ids, *req.SourceAccountID)
	}
	if req.DestinationAccountID != nil {
		ids = append(ids, *req.DestinationAccountID)
	}
	// Ascending lock order is the deadlock-freedom invariant.
	if len(ids) == 2 && ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}

	locked, err := tx.LockAccounts(ctx, ids)
	if err != nil {
		return nil, nil, "", err
	}
	byID := make(map[int64]*account.Account, len(locked))
	for _, a := range locked {
		byID[a.ID] = a
	}

	if req.SourceAccountID != nil {
		src = byID[*req.SourceAccountID]
		if src == nil {
			return nil, nil, "", &account.NotFoundError{ID: *req.SourceAccountID}
		}
	}
	if req.DestinationAccountID != nil {
		dst = byID[*req.DestinationAccountID]
		if dst == nil {
			return nil, nil, "", &account.NotFoundError{ID: *req.DestinationAccountID}
		}
	}

	for _, a := range []*account.Account{src, dst} {
		if a != nil && a.Status != account.StatusActive {
			return nil, nil, "", &InvalidTransferError{
				Reason: fmt.Sprintf("account %d is %s", a.ID, a.Status),
			}
		}
	}

	if src != nil && dst != nil && src.Currency != dst.Currency {
		return nil, nil, "", &InvalidTransferError{
			Reason: fmt.Sprintf("currency mismatch: %s vs %s", src.Currency, dst.Currency),
		}
	}

	switch {
	case src != nil:
		currency = src.Currency
	case dst != nil:
		currency = dst.Currency
	}
	return src, dst, currency, nil
}

// publish emits the ledger event and appends the audit record. Both are
// outside the atomic unit: a sink failure never fails the transfer.
func (e *Engine) publish(txn *ledger.Transaction, currency string) {
	if e.sink != nil {
		e.sink.Emit(notify.Event{
			TransactionNumber:    txn.Number,
			Type:                 string(txn.Type),
			SourceAccountID:      txn.SourceAccountID,
			DestinationAccountID: txn.DestinationAccountID,
			Amount:               txn.Amount.StringFixed(4),
			Currency:             currency,
			Description:          txn.Description,
			OccurredAt:           txn.TransactedAt,
		})
	}
	if e.journal != nil {
		e.journal.Append(fmt.Sprintf("%s %s %s %s", txn.Number, txn.Type, txn.Amount.StringFixed(4), currency))
	}
	e.log.Info().
		Str("transaction_number", txn.Number).
		Str("type", string(txn.Type)).
		Str("amount", txn.Amount.StringFixed(4)).
		Msg("transfer completed")
}

func validate(req Request) error {
	if !req.Amount.IsPositive() {
		return &InvalidTransferError{Reason: "amount must be positive"}
	}
	if req.Amount.Exponent() < -4 {
		return &InvalidTransferError{Reason: "amount must have at most 4 decimal places"}
	}
	if req.SourceAccountID == nil && req.DestinationAccountID == nil {
		return &InvalidTransferError{Reason: "at least one of source and destination is required"}
	}
	if req.SourceAccountID != nil && req.DestinationAccountID != nil &&
		*req.SourceAccountID == *req.DestinationAccountID {
		return &InvalidTransferError{Reason: "source and destination must be different accounts"}
	}
	return nil
}

func deriveType(req Request) ledger.Type {
	switch {
	case req.SourceAccountID == nil:
		return ledger.TypeDeposit
	case req.DestinationAccountID == nil:
		return ledger.TypeWithdrawal
	default:
		return ledger.TypeTransfer
	}
}
