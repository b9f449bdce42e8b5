package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, transaction_number, source_account_id, destination_account_id, amount::text, transaction_type, status, description, transacted_at, created_at`

// PostgresLedger is the read side of the transaction ledger. Writes
// happen only inside the transfer engine's atomic unit.
type PostgresLedger struct {
	Pool *pgxpool.Pool
}

// NewPostgresLedger creates a Postgres ledger reader.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{Pool: pool}
}

// List returns a page of entries where the account appears as source or
// destination, newest first.
func (l *PostgresLedger) List(ctx context.Context, f ListFilter) ([]*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := "SELECT " + transactionColumns + ` FROM transactions
		WHERE (source_account_id = $1 OR destination_account_id = $1)`
	args := []interface{}{f.AccountID}
	argCount := 2

	if f.From != nil {
		query += fmt.Sprintf(" AND transacted_at >= $%d", argCount)
		args = append(args, *f.From)
		argCount++
	}
	if f.To != nil {
		query += fmt.Sprintf(" AND transacted_at <= $%d", argCount)
		args = append(args, *f.To)
		argCount++
	}

	query += fmt.Sprintf(" ORDER BY transacted_at DESC, id DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, f.limit(), f.offset())

	rows, err := l.Pool.Query(queryCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		t, err := ScanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// GetByNumber retrieves a ledger entry by its transaction number.
func (l *PostgresLedger) GetByNumber(ctx context.Context, number string) (*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := l.Pool.QueryRow(queryCtx,
		"SELECT "+transactionColumns+" FROM transactions WHERE transaction_number = $1", number)

	t, err := ScanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Number: number}
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// ScanTransaction scans one transaction row in transactionColumns order.
// Shared with the transfer engine's Postgres store, which reads entries
// back during idempotent replays.
func ScanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t        Transaction
		src, dst sql.NullInt64
		amount   string
		txnType  string
		status   string
	)
	err := row.Scan(&t.ID, &t.Number, &src, &dst, &amount, &txnType, &status, &t.Description, &t.TransactedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if src.Valid {
		v := src.Int64
		t.SourceAccountID = &v
	}
	if dst.Valid {
		v := dst.Int64
		t.DestinationAccountID = &v
	}
	t.Type = Type(txnType)
	t.Status = Status(status)
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	return &t, nil
}
