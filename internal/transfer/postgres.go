package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/example/bank-core/internal/account"
	"github.com/example/bank-core/internal/ledger"
)

// PostgresStore runs transfer transactions against Postgres with
// SERIALIZABLE isolation. Serialization failures, deadlocks, and
// idempotency-key insert races all surface as ConcurrencyConflictError
// for the engine's retry loop.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres transfer store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

// Execute runs fn inside one SERIALIZABLE transaction.
func (s *PostgresStore) Execute(ctx context.Context, fn func(tx Tx) error) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := s.Pool.Acquire(queryCtx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	pgtx, err := conn.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgtx.Rollback(queryCtx)

	if err := fn(&postgresTx{tx: pgtx}); err != nil {
		return classify(err)
	}

	if err := pgtx.Commit(queryCtx); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// classify maps commit-time races to the retryable conflict error.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return &ConcurrencyConflictError{Err: err}
		case "23505": // unique_violation: two replays racing on one key
			if pgErr.ConstraintName == "idempotency_keys_pkey" {
				return &ConcurrencyConflictError{Err: err}
			}
		}
	}
	return err
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) FindIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT t.id, t.transaction_number, t.source_account_id, t.destination_account_id,
		       t.amount::text, t.transaction_type, t.status, t.description, t.transacted_at, t.created_at
		FROM idempotency_keys k
		JOIN transactions t ON t.id = k.transaction_id
		WHERE k.key = $1
	`, key)

	txn, err := ledger.ScanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return txn, nil
}

func (t *postgresTx) LockAccounts(ctx context.Context, ids []int64) ([]*account.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	// ORDER BY id acquires the row locks in ascending order, matching
	// the engine's lock-order invariant.
	rows, err := t.tx.Query(ctx, `
		SELECT id, account_number, user_id, name, account_type, balance::text, currency_code, status, created_at, updated_at
		FROM accounts
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		var (
			a       account.Account
			accType string
			status  string
			cur     string
			balance string
		)
		err := rows.Scan(&a.ID, &a.Number, &a.UserID, &a.Name, &accType, &balance, &cur, &status, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan locked account: %w", err)
		}
		a.Type = account.Type(accType)
		a.Status = account.Status(status)
		a.Currency = cur
		a.Balance, err = decimal.NewFromString(balance)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance %q: %w", balance, err)
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

func (t *postgresTx) ApplyBalanceDelta(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE accounts
		SET balance = balance + $2::numeric, updated_at = now()
		WHERE id = $1
	`, accountID, delta.String())
	if err != nil {
		return fmt.Errorf("failed to apply balance change: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &account.NotFoundError{ID: accountID}
	}
	return nil
}

func (t *postgresTx) AppendTransaction(ctx context.Context, txn *ledger.Transaction) error {
	var src, dst sql.NullInt64
	if txn.SourceAccountID != nil {
		src = sql.NullInt64{Int64: *txn.SourceAccountID, Valid: true}
	}
	if txn.DestinationAccountID != nil {
		dst = sql.NullInt64{Int64: *txn.DestinationAccountID, Valid: true}
	}

	err := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (transaction_number, source_account_id, destination_account_id,
		                          amount, transaction_type, status, description, transacted_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
		RETURNING id, created_at
	`, txn.Number, src, dst, txn.Amount.String(), string(txn.Type), string(txn.Status),
		txn.Description, txn.TransactedAt).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (t *postgresTx) SaveIdempotencyKey(ctx context.Context, key string, transactionID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO idempotency_keys (key, transaction_id)
		VALUES ($1, $2)
	`, key, transactionID)
	if err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	return nil
}
