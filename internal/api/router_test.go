package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-core/internal/account"
	"github.com/example/bank-core/internal/ledger"
	"github.com/example/bank-core/internal/schedule"
	"github.com/example/bank-core/internal/transfer"
)

type fakeAccounts struct {
	accounts map[int64]*account.Account
	nextID   int64
}

func (f *fakeAccounts) Create(_ context.Context, p account.CreateParams) (*account.Account, error) {
	for _, a := range f.accounts {
		if a.Number == p.Number {
			return nil, &account.DuplicateAccountNumberError{Number: p.Number}
		}
	}
	f.nextID++
	a := &account.Account{
		ID:       f.nextID,
		Number:   p.Number,
		UserID:   p.UserID,
		Name:     p.Name,
		Type:     p.Type,
		Balance:  p.InitialBalance,
		Currency: p.Currency,
		Status:   account.StatusActive,
	}
	f.accounts[a.ID] = a
	return a, nil
}

func (f *fakeAccounts) Get(_ context.Context, id int64) (*account.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return nil, &account.NotFoundError{ID: id}
	}
	return a, nil
}

func (f *fakeAccounts) GetByNumber(_ context.Context, number string) (*account.Account, error) {
	for _, a := range f.accounts {
		if a.Number == number {
			return a, nil
		}
	}
	return nil, &account.NotFoundError{Number: number}
}

func (f *fakeAccounts) ListActiveByUser(_ context.Context, userID int64) ([]*account.Account, error) {
	var out []*account.Account
	for _, a := range f.accounts {
		if a.UserID == userID && a.Status == account.StatusActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccounts) UpdateStatus(_ context.Context, id int64, status account.Status) error {
	a, ok := f.accounts[id]
	if !ok {
		return &account.NotFoundError{ID: id}
	}
	a.Status = status
	return nil
}

type fakeLedger struct {
	txns []*ledger.Transaction
}

func (f *fakeLedger) List(_ context.Context, filter ledger.ListFilter) ([]*ledger.Transaction, error) {
	var out []*ledger.Transaction
	for _, t := range f.txns {
		if (t.SourceAccountID != nil && *t.SourceAccountID == filter.AccountID) ||
			(t.DestinationAccountID != nil && *t.DestinationAccountID == filter.AccountID) {
			out = append(out, t)
		}
	}
	return out, nil
}

type stubEngine struct {
	err error
}

func (e *stubEngine) Execute(_ context.Context, req transfer.Request) (*transfer.Result, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &transfer.Result{
		Transaction: &ledger.Transaction{
			Number:               ledger.NewNumber(),
			SourceAccountID:      req.SourceAccountID,
			DestinationAccountID: req.DestinationAccountID,
			Amount:               req.Amount,
			Type:                 ledger.TypeTransfer,
			Status:               ledger.StatusCompleted,
			TransactedAt:         time.Now().UTC(),
		},
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

type fakeSchedules struct {
	entries map[int64]*schedule.ScheduledTransaction
	nextID  int64
}

func (f *fakeSchedules) Create(_ context.Context, p schedule.CreateParams) (*schedule.ScheduledTransaction, error) {
	f.nextID++
	st := &schedule.ScheduledTransaction{
		ID:                   f.nextID,
		SourceAccountID:      p.SourceAccountID,
		DestinationAccountID: p.DestinationAccountID,
		Amount:               p.Amount,
		ScheduledAt:          p.ScheduledAt,
		Recurring:            p.Recurring,
		Period:               p.Period,
		Status:               schedule.StatusScheduled,
	}
	f.entries[st.ID] = st
	return st, nil
}

func (f *fakeSchedules) Get(_ context.Context, id int64) (*schedule.ScheduledTransaction, error) {
	st, ok := f.entries[id]
	if !ok {
		return nil, &schedule.NotFoundError{ID: id}
	}
	return st, nil
}

func (f *fakeSchedules) Cancel(_ context.Context, id int64) error {
	st, ok := f.entries[id]
	if !ok {
		return &schedule.NotFoundError{ID: id}
	}
	if st.Status != schedule.StatusScheduled {
		return &schedule.InvalidStateTransitionError{ScheduleID: id, From: st.Status, To: schedule.StatusCancelled}
	}
	st.Status = schedule.StatusCancelled
	return nil
}

func (f *fakeSchedules) ClaimDue(context.Context, time.Time, int) ([]*schedule.ScheduledTransaction, error) {
	return nil, nil
}
func (f *fakeSchedules) Complete(context.Context, int64, time.Time) error { return nil }
func (f *fakeSchedules) Fail(context.Context, int64, time.Time) error    { return nil }
func (f *fakeSchedules) Advance(context.Context, int64, time.Time, time.Time) error {
	return nil
}

type fixture struct {
	accounts  *fakeAccounts
	engine    *stubEngine
	schedules *fakeSchedules
	handler   http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		accounts:  &fakeAccounts{accounts: make(map[int64]*account.Account)},
		engine:    &stubEngine{},
		schedules: &fakeSchedules{entries: make(map[int64]*schedule.ScheduledTransaction)},
	}
	f.handler = NewRouter(Dependencies{
		Logger:    zerolog.Nop(),
		Accounts:  f.accounts,
		Ledger:    &fakeLedger{},
		Engine:    f.engine,
		Schedules: f.schedules,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, userID string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedAccount(userID int64) *account.Account {
	a, _ := f.accounts.Create(context.Background(), account.CreateParams{
		UserID:   userID,
		Number:   "110-234-567890",
		Name:     "checking",
		Type:     account.TypeChecking,
		Currency: "KRW",
	})
	a.Balance = decimal.RequireFromString("100")
	return a
}

func TestMissingIdentityRejected(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/v1/accounts/1/balance", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOpenAccount(t *testing.T) {
	f := newFixture()
	body := openAccountRequest{
		AccountNumber:  "110-234-567890",
		Name:           "checking",
		AccountType:    "CHECKING",
		InitialBalance: "500",
		CurrencyCode:   "KRW",
	}

	rec := f.do(t, http.MethodPost, "/v1/accounts", "7", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var acc account.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	assert.Equal(t, int64(7), acc.UserID)
	assert.Equal(t, "110-234-567890", acc.Number)

	// Same number again conflicts.
	rec = f.do(t, http.MethodPost, "/v1/accounts", "7", body, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetBalance(t *testing.T) {
	f := newFixture()
	acc := f.seedAccount(7)

	rec := f.do(t, http.MethodGet, "/v1/accounts/1/balance", "7", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp balanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, acc.ID, resp.AccountID)
	assert.Equal(t, "100.0000", resp.Balance)

	// Another customer may not read it.
	rec = f.do(t, http.MethodGet, "/v1/accounts/1/balance", "8", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// An admin may.
	rec = f.do(t, http.MethodGet, "/v1/accounts/1/balance", "99", nil, map[string]string{"X-User-Role": "ADMIN"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTransferRequiresIdempotencyKey(t *testing.T) {
	f := newFixture()
	f.seedAccount(7)

	src, dst := int64(1), int64(2)
	body := transferRequest{SourceAccountID: &src, DestinationAccountID: &dst, Amount: "30"}

	rec := f.do(t, http.MethodPost, "/v1/transfers", "7", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransfer(t *testing.T) {
	f := newFixture()
	f.seedAccount(7)

	src, dst := int64(1), int64(2)
	body := transferRequest{SourceAccountID: &src, DestinationAccountID: &dst, Amount: "30"}
	headers := map[string]string{"Idempotency-Key": "key-1"}

	rec := f.do(t, http.MethodPost, "/v1/transfers", "7", body, headers)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp transferResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "30.0000", resp.Amount)
	assert.Equal(t, "key-1", resp.IdempotencyKey)
	assert.False(t, resp.Replayed)

	// Someone else's source account is forbidden.
	rec = f.do(t, http.MethodPost, "/v1/transfers", "8", body, headers)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTransferErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid", &transfer.InvalidTransferError{Reason: "bad"}, http.StatusBadRequest},
		{"insufficient", &transfer.InsufficientFundsError{AccountID: 1}, http.StatusUnprocessableEntity},
		{"conflict", &transfer.ConcurrencyConflictError{Attempts: 3}, http.StatusConflict},
		{"missing destination", &account.NotFoundError{ID: 2}, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.seedAccount(7)
			f.engine.err = tc.err

			src, dst := int64(1), int64(2)
			body := transferRequest{SourceAccountID: &src, DestinationAccountID: &dst, Amount: "30"}
			rec := f.do(t, http.MethodPost, "/v1/transfers", "7", body, map[string]string{"Idempotency-Key": "k"})
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestScheduleAndCancel(t *testing.T) {
	f := newFixture()
	f.seedAccount(7)

	body := scheduleRequest{
		SourceAccountID:      1,
		DestinationAccountID: 2,
		Amount:               "50",
		ScheduledAt:          time.Now().Add(24 * time.Hour).UTC(),
	}
	rec := f.do(t, http.MethodPost, "/v1/scheduled-transfers", "7", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var st schedule.ScheduledTransaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))

	rec = f.do(t, http.MethodDelete, "/v1/scheduled-transfers/1", "7", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Already cancelled: state transition conflict.
	rec = f.do(t, http.MethodDelete, "/v1/scheduled-transfers/1", "7", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelUnknownSchedule(t *testing.T) {
	f := newFixture()
	f.seedAccount(7)

	rec := f.do(t, http.MethodDelete, "/v1/scheduled-transfers/42", "7", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
