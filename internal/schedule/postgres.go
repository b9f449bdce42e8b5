package schedule

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

const scheduleColumns = `id, source_account_id, destination_account_id, amount::text, description, scheduled_at, recurring, COALESCE(recurrence_period, ''), status, executed_at, created_at, updated_at`

// PostgresStore persists scheduled transactions in Postgres.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres scheduled-transaction store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

// Create persists a new scheduled transaction in SCHEDULED status.
func (s *PostgresStore) Create(ctx context.Context, p CreateParams) (*ScheduledTransaction, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var period sql.NullString
	if p.Recurring {
		period = sql.NullString{String: string(p.Period), Valid: true}
	}

	row := s.Pool.QueryRow(queryCtx, `
		INSERT INTO scheduled_transactions (source_account_id, destination_account_id, amount,
		                                    description, scheduled_at, recurring, recurrence_period, status)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, 'SCHEDULED')
		RETURNING `+scheduleColumns,
		p.SourceAccountID, p.DestinationAccountID, p.Amount.String(),
		p.Description, p.ScheduledAt, p.Recurring, period)

	st, err := scanSchedule(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduled transaction: %w", err)
	}
	return st, nil
}

// Get retrieves a scheduled transaction by id.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*ScheduledTransaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx,
		"SELECT "+scheduleColumns+" FROM scheduled_transactions WHERE id = $1", id)

	st, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to get scheduled transaction: %w", err)
	}
	return st, nil
}

// Cancel moves a SCHEDULED entry to CANCELLED. An entry the scheduler
// has already claimed or finished cannot be cancelled.
func (s *PostgresStore) Cancel(ctx context.Context, id int64) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx, `
		UPDATE scheduled_transactions
		SET status = 'CANCELLED', updated_at = now()
		WHERE id = $1 AND status = 'SCHEDULED'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel scheduled transaction: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish a missing entry from one past the point of no return.
	var status string
	err = s.Pool.QueryRow(queryCtx,
		"SELECT status FROM scheduled_transactions WHERE id = $1", id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{ID: id}
		}
		return fmt.Errorf("failed to check scheduled transaction status: %w", err)
	}
	return &InvalidStateTransitionError{ScheduleID: id, From: Status(status), To: StatusCancelled}
}

// ClaimDue atomically claims up to limit due SCHEDULED entries by
// moving them to PROCESSING. SKIP LOCKED lets concurrent scheduler
// instances partition the due set without blocking each other, and the
// status guard guarantees each entry is claimed at most once.
func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*ScheduledTransaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, `
		UPDATE scheduled_transactions
		SET status = 'PROCESSING', updated_at = now()
		WHERE id IN (
			SELECT id FROM scheduled_transactions
			WHERE status = 'SCHEDULED' AND scheduled_at <= $1
			ORDER BY scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING `+scheduleColumns,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due scheduled transactions: %w", err)
	}
	defer rows.Close()

	var claimed []*ScheduledTransaction
	for rows.Next() {
		st, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled transaction: %w", err)
		}
		claimed = append(claimed, st)
	}
	return claimed, rows.Err()
}

// Complete moves a claimed entry to COMPLETED.
func (s *PostgresStore) Complete(ctx context.Context, id int64, executedAt time.Time) error {
	return s.finish(ctx, id, StatusCompleted, executedAt)
}

// Fail moves a claimed entry to FAILED. Failed executions are not
// retried automatically.
func (s *PostgresStore) Fail(ctx context.Context, id int64, executedAt time.Time) error {
	return s.finish(ctx, id, StatusFailed, executedAt)
}

func (s *PostgresStore) finish(ctx context.Context, id int64, to Status, executedAt time.Time) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx, `
		UPDATE scheduled_transactions
		SET status = $2, executed_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, string(to), executedAt)
	if err != nil {
		return fmt.Errorf("failed to update scheduled transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(queryCtx, id, to)
	}
	return nil
}

// Advance returns a recurring claimed entry to SCHEDULED at its next
// occurrence, recording when the current one executed.
func (s *PostgresStore) Advance(ctx context.Context, id int64, nextAt, executedAt time.Time) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx, `
		UPDATE scheduled_transactions
		SET status = 'SCHEDULED', scheduled_at = $2, executed_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, nextAt, executedAt)
	if err != nil {
		return fmt.Errorf("failed to advance scheduled transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(queryCtx, id, StatusScheduled)
	}
	return nil
}

func (s *PostgresStore) transitionError(ctx context.Context, id int64, to Status) error {
	var status string
	err := s.Pool.QueryRow(ctx,
		"SELECT status FROM scheduled_transactions WHERE id = $1", id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{ID: id}
		}
		return fmt.Errorf("failed to check scheduled transaction status: %w", err)
	}
	return &InvalidStateTransitionError{ScheduleID: id, From: Status(status), To: to}
}

func scanSchedule(row pgx.Row) (*ScheduledTransaction, error) {
	var (
		st       ScheduledTransaction
		amount   string
		period   string
		status   string
		executed sql.NullTime
	)
	err := row.Scan(&st.ID, &st.SourceAccountID, &st.DestinationAccountID, &amount, &st.Description,
		&st.ScheduledAt, &st.Recurring, &period, &status, &executed, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.Period = Period(period)
	st.Status = Status(status)
	if executed.Valid {
		t := executed.Time
		st.ExecutedAt = &t
	}
	st.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	return &st, nil
}
