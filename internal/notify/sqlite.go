package notify

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const eventSchema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	transaction_number TEXT NOT NULL,
	event_type TEXT NOT NULL,
	source_account_id INTEGER,
	destination_account_id INTEGER,
	amount TEXT NOT NULL,
	currency_code TEXT NOT NULL,
	description TEXT,
	occurred_at TIMESTAMP NOT NULL,
	delivered INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_ledger_events_delivered ON ledger_events(delivered);
`

// EventLog is a durable local event store. Events land here on commit
// and stay until an external forwarder marks them delivered, so a
// consumer outage never loses an event.
type EventLog struct {
	db  *sql.DB
	log zerolog.Logger
}

// StoredEvent is an event with its queue position.
type StoredEvent struct {
	ID int64
	Event
}

// OpenEventLog opens or creates the event database at path. Use
// ":memory:" for tests.
func OpenEventLog(path string, log zerolog.Logger) (*EventLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	if _, err := db.Exec(eventSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize event log schema: %w", err)
	}
	return &EventLog{db: db, log: log}, nil
}

// Emit persists the event. Implements Sink; errors are logged, never
// returned, because emission must not fail the transfer that caused it.
func (e *EventLog) Emit(ev Event) {
	var src, dst sql.NullInt64
	if ev.SourceAccountID != nil {
		src = sql.NullInt64{Int64: *ev.SourceAccountID, Valid: true}
	}
	if ev.DestinationAccountID != nil {
		dst = sql.NullInt64{Int64: *ev.DestinationAccountID, Valid: true}
	}

	_, err := e.db.Exec(`
		INSERT INTO ledger_events (transaction_number, event_type, source_account_id,
		                           destination_account_id, amount, currency_code, description, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.TransactionNumber, ev.Type, src, dst, ev.Amount, ev.Currency, ev.Description, ev.OccurredAt)
	if err != nil {
		e.log.Error().
			Err(err).
			Str("transaction_number", ev.TransactionNumber).
			Msg("failed to persist ledger event")
	}
}

// Undelivered returns up to limit events not yet marked delivered, in
// arrival order.
func (e *EventLog) Undelivered(ctx context.Context, limit int) ([]StoredEvent, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, transaction_number, event_type, source_account_id, destination_account_id,
		       amount, currency_code, COALESCE(description, ''), occurred_at
		FROM ledger_events
		WHERE delivered = 0
		ORDER BY id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query undelivered events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			se       StoredEvent
			src, dst sql.NullInt64
		)
		err := rows.Scan(&se.ID, &se.TransactionNumber, &se.Type, &src, &dst,
			&se.Amount, &se.Currency, &se.Description, &se.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if src.Valid {
			v := src.Int64
			se.SourceAccountID = &v
		}
		if dst.Valid {
			v := dst.Int64
			se.DestinationAccountID = &v
		}
		events = append(events, se)
	}
	return events, rows.Err()
}

// MarkDelivered flags an event as handed off.
func (e *EventLog) MarkDelivered(ctx context.Context, id int64) error {
	_, err := e.db.ExecContext(ctx,
		"UPDATE ledger_events SET delivered = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark event delivered: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (e *EventLog) Close() error {
	return e.db.Close()
}
