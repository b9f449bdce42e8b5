package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, account_number, user_id, name, account_type, balance::text, currency_code, status, created_at, updated_at`

// PostgresStore is the Postgres-backed account store.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres account store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

// Create opens a new account, enforcing account-number uniqueness.
func (s *PostgresStore) Create(ctx context.Context, p CreateParams) (*Account, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	const maxRetries = 3

	var created *Account
	for attempt := 0; attempt < maxRetries; attempt++ {
		a, err := s.createOnce(ctx, p)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "40001" {
				// Serialization failure, retry
				if attempt == maxRetries-1 {
					return nil, fmt.Errorf("failed to create account after %d retries due to serialization failure: %w", maxRetries, err)
				}
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return nil, err
		}
		created = a
		break
	}

	return created, nil
}

func (s *PostgresStore) createOnce(ctx context.Context, p CreateParams) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := s.Pool.Acquire(queryCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	var exists bool
	err = tx.QueryRow(queryCtx,
		"SELECT EXISTS(SELECT 1 FROM accounts WHERE account_number = $1)",
		p.Number).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check account existence: %w", err)
	}
	if exists {
		return nil, &DuplicateAccountNumberError{Number: p.Number}
	}

	row := tx.QueryRow(queryCtx, `
		INSERT INTO accounts (account_number, user_id, name, account_type, balance, currency_code, status)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		RETURNING `+accountColumns,
		p.Number, p.UserID, p.Name, string(p.Type), p.InitialBalance.String(), p.Currency, string(StatusActive))

	a, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, &DuplicateAccountNumberError{Number: p.Number}
		}
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	if err := tx.Commit(queryCtx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return a, nil
}

// Get retrieves an account by internal id.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// GetByNumber retrieves an account by its human-facing number.
func (s *PostgresStore) GetByNumber(ctx context.Context, number string) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx,
		"SELECT "+accountColumns+" FROM accounts WHERE account_number = $1", number)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Number: number}
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// ListActiveByUser returns all ACTIVE accounts owned by a user.
func (s *PostgresStore) ListActiveByUser(ctx context.Context, userID int64) ([]*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx,
		"SELECT "+accountColumns+" FROM accounts WHERE user_id = $1 AND status = $2 ORDER BY id",
		userID, string(StatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateStatus transitions an account's lifecycle state. Accounts are
// never physically deleted; CLOSED is terminal.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id int64, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid account status: %s", status)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx, `
		UPDATE accounts
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status <> $3
	`, id, string(status), string(StatusClosed))
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.Pool.QueryRow(queryCtx, "SELECT status FROM accounts WHERE id = $1", id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{ID: id}
		}
		if err != nil {
			return fmt.Errorf("failed to read account status: %w", err)
		}
		return fmt.Errorf("account %d is closed and cannot change status", id)
	}
	return nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		a        Account
		accType  string
		status   string
		balance  string
		currency string
	)
	err := row.Scan(&a.ID, &a.Number, &a.UserID, &a.Name, &accType, &balance, &currency, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Type = Type(accType)
	a.Status = Status(status)
	a.Currency = currency
	a.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance %q: %w", balance, err)
	}
	return &a, nil
}
