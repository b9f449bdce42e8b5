package transfer

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-core/internal/account"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		account_number TEXT NOT NULL UNIQUE,
		user_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		account_type TEXT NOT NULL,
		balance NUMERIC(20,4) NOT NULL DEFAULT 0,
		currency_code TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		transaction_number TEXT NOT NULL UNIQUE,
		source_account_id BIGINT REFERENCES accounts(id),
		destination_account_id BIGINT REFERENCES accounts(id),
		amount NUMERIC(20,4) NOT NULL,
		transaction_type TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT,
		transacted_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		transaction_id BIGINT NOT NULL REFERENCES transactions(id)
	)`,
}

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skipf("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("database not reachable, skipping integration test: %v", err)
	}

	for _, stmt := range schema {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	t.Cleanup(pool.Close)
	return pool
}

func createTestAccount(t *testing.T, pool *pgxpool.Pool, balance string) *account.Account {
	t.Helper()

	store := account.NewPostgresStore(pool)
	acc, err := store.Create(context.Background(), account.CreateParams{
		UserID:         1,
		Number:         fmt.Sprintf("%d", time.Now().UnixNano()),
		Name:           "integration test account",
		Type:           account.TypeChecking,
		InitialBalance: decimal.RequireFromString(balance),
		Currency:       "KRW",
	})
	require.NoError(t, err)
	return acc
}

func TestIntegrationTransferFlow(t *testing.T) {
	pool := setupPool(t)
	engine := NewEngine(NewPostgresStore(pool), nil, nil, zerolog.Nop())
	accounts := account.NewPostgresStore(pool)

	src := createTestAccount(t, pool, "100")
	dst := createTestAccount(t, pool, "50")

	key := uuid.NewString()
	res, err := engine.Execute(context.Background(), Request{
		IdempotencyKey:       key,
		SourceAccountID:      &src.ID,
		DestinationAccountID: &dst.ID,
		Amount:               decimal.RequireFromString("30.5"),
		Description:          "integration transfer",
	})
	require.NoError(t, err)
	require.False(t, res.Replayed)

	srcAfter, err := accounts.Get(context.Background(), src.ID)
	require.NoError(t, err)
	dstAfter, err := accounts.Get(context.Background(), dst.ID)
	require.NoError(t, err)

	assert.True(t, srcAfter.Balance.Equal(decimal.RequireFromString("69.5")), "source balance: %s", srcAfter.Balance)
	assert.True(t, dstAfter.Balance.Equal(decimal.RequireFromString("80.5")), "destination balance: %s", dstAfter.Balance)

	// Replaying the same key returns the stored entry untouched.
	replay, err := engine.Execute(context.Background(), Request{
		IdempotencyKey:       key,
		SourceAccountID:      &src.ID,
		DestinationAccountID: &dst.ID,
		Amount:               decimal.RequireFromString("30.5"),
	})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.Transaction.Number, replay.Transaction.Number)

	srcFinal, err := accounts.Get(context.Background(), src.ID)
	require.NoError(t, err)
	assert.True(t, srcFinal.Balance.Equal(srcAfter.Balance))
}

func TestIntegrationInsufficientFunds(t *testing.T) {
	pool := setupPool(t)
	engine := NewEngine(NewPostgresStore(pool), nil, nil, zerolog.Nop())

	src := createTestAccount(t, pool, "10")
	dst := createTestAccount(t, pool, "0")

	_, err := engine.Execute(context.Background(), Request{
		SourceAccountID:      &src.ID,
		DestinationAccountID: &dst.ID,
		Amount:               decimal.RequireFromString("10.0001"),
	})

	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
}
