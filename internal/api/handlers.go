package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/example/bank-core/internal/account"
	"github.com/example/bank-core/internal/auth"
	"github.com/example/bank-core/internal/ledger"
	"github.com/example/bank-core/internal/schedule"
	"github.com/example/bank-core/internal/transfer"
)

// LedgerReader is the read side of the transaction ledger.
type LedgerReader interface {
	List(ctx context.Context, f ledger.ListFilter) ([]*ledger.Transaction, error)
}

// TransferEngine applies transfers atomically.
type TransferEngine interface {
	Execute(ctx context.Context, req transfer.Request) (*transfer.Result, error)
}

// Dependencies carries everything the HTTP handlers need.
type Dependencies struct {
	Logger    zerolog.Logger
	Accounts  account.Store
	Ledger    LedgerReader
	Engine    TransferEngine
	Schedules schedule.Store
}

// callerIdentity reads the identity the edge proxy established. The
// service trusts these headers; authentication happens upstream.
func callerIdentity(r *http.Request) (auth.Identity, bool) {
	userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || userID <= 0 {
		return auth.Identity{}, false
	}
	role := auth.Role(r.Header.Get("X-User-Role"))
	if role != auth.RoleAdmin {
		role = auth.RoleCustomer
	}
	return auth.Identity{UserID: userID, Role: role}, true
}

func handleOpenAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid identity")
			return
		}

		var req openAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
			return
		}

		balance := decimal.Zero
		if req.InitialBalance != "" {
			var err error
			balance, err = decimal.NewFromString(req.InitialBalance)
			if err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid initial balance")
				return
			}
		}

		acc, err := deps.Accounts.Create(r.Context(), account.CreateParams{
			UserID:         caller.UserID,
			Number:         req.AccountNumber,
			Name:           req.Name,
			Type:           account.Type(req.AccountType),
			InitialBalance: balance,
			Currency:       req.CurrencyCode,
		})
		if err != nil {
			var dup *account.DuplicateAccountNumberError
			if errors.As(err, &dup) {
				writeError(w, http.StatusConflict, "DUPLICATE_ACCOUNT_NUMBER", err.Error())
				return
			}
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, acc)
	}
}

func handleGetBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid identity")
			return
		}
		accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid account id")
			return
		}

		acc, err := deps.Accounts.Get(r.Context(), accountID)
		if err != nil {
			var nf *account.NotFoundError
			if errors.As(err, &nf) {
				writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to load account")
			return
		}
		if err := auth.Authorize(caller, acc.UserID); err != nil {
			writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, balanceResponse{
			AccountID:     acc.ID,
			AccountNumber: acc.Number,
			Balance:       acc.Balance.StringFixed(4),
			CurrencyCode:  acc.Currency,
			AsOf:          acc.UpdatedAt,
		})
	}
}

func handleListTransactions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid identity")
			return
		}
		accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid account id")
			return
		}

		acc, err := deps.Accounts.Get(r.Context(), accountID)
		if err != nil {
			var nf *account.NotFoundError
			if errors.As(err, &nf) {
				writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to load account")
			return
		}
		if err := auth.Authorize(caller, acc.UserID); err != nil {
			writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
			return
		}

		f := ledger.ListFilter{AccountID: accountID}
		q := r.URL.Query()
		if v := q.Get("from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid from timestamp")
				return
			}
			f.From = &t
		}
		if v := q.Get("to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid to timestamp")
				return
			}
			f.To = &t
		}
		f.Page, _ = strconv.Atoi(q.Get("page"))
		f.Size, _ = strconv.Atoi(q.Get("size"))

		txns, err := deps.Ledger.List(r.Context(), f)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to list transactions")
			return
		}
		if txns == nil {
			txns = []*ledger.Transaction{}
		}
		writeJSON(w, http.StatusOK, txns)
	}
}

func handleTransfer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid identity")
			return
		}
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Idempotency-Key header is required")
			return
		}

		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid amount")
			return
		}

		// The caller must own the account money leaves from. Deposits
		// with no source only need the destination to exist.
		owned := req.SourceAccountID
		if owned == nil {
			owned = req.DestinationAccountID
		}
		if owned == nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "at least one account is required")
			return
		}
		acc, err := deps.Accounts.Get(r.Context(), *owned)
		if err != nil {
			var nf *account.NotFoundError
			if errors.As(err, &nf) {
				writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to load account")
			return
		}
		if err := auth.Authorize(caller, acc.UserID); err != nil {
			writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
			return
		}

		res, err := deps.Engine.Execute(r.Context(), transfer.Request{
			IdempotencyKey:       key,
			SourceAccountID:      req.SourceAccountID,
			DestinationAccountID: req.DestinationAccountID,
			Amount:               amount,
			Description:          req.Description,
		})
		if err != nil {
			writeTransferError(w, err)
			return
		}

		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		writeJSON(w, status, transferResponse{
			TransactionNumber: res.Transaction.Number,
			Type:              string(res.Transaction.Type),
			Status:            string(res.Transaction.Status),
			Amount:            res.Transaction.Amount.StringFixed(4),
			IdempotencyKey:    res.IdempotencyKey,
			Replayed:          res.Replayed,
		})
	}
}

func writeTransferError(w http.ResponseWriter, err error) {
	var (
		invalid      *transfer.InvalidTransferError
		insufficient *transfer.InsufficientFundsError
		conflict     *transfer.ConcurrencyConflictError
		notFound     *account.NotFoundError
	)
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "INVALID_TRANSFER", err.Error())
	case errors.As(err, &insufficient):
		writeError(w, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "CONCURRENCY_CONFLICT", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "transfer failed")
	}
}

func handleScheduleTransfer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid identity")
			return
		}

		var req scheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid amount")
			return
		}

		acc, err := deps.Accounts.Get(r.Context(), req.SourceAccountID)
		if err != nil {
			var nf *account.NotFoundError
			if errors.As(err, &nf) {
				writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to load account")
			return
		}
		if err := auth.Authorize(caller, acc.UserID); err != nil {
			writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
			return
		}

		st, err := deps.Schedules.Create(r.Context(), schedule.CreateParams{
			SourceAccountID:      req.SourceAccountID,
			DestinationAccountID: req.DestinationAccountID,
			Amount:               amount,
			Description:          req.Description,
			ScheduledAt:          req.ScheduledAt,
			Recurring:            req.Recurring,
			Period:               schedule.Period(req.RecurrencePeriod),
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, st)
	}
}

func handleCancelSchedule(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerIdentity(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid identity")
			return
		}
		scheduleID, err := strconv.ParseInt(chi.URLParam(r, "scheduleID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid schedule id")
			return
		}

		st, err := deps.Schedules.Get(r.Context(), scheduleID)
		if err != nil {
			var nf *schedule.NotFoundError
			if errors.As(err, &nf) {
				writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to load scheduled transaction")
			return
		}
		acc, err := deps.Accounts.Get(r.Context(), st.SourceAccountID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to load account")
			return
		}
		if err := auth.Authorize(caller, acc.UserID); err != nil {
			writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
			return
		}

		if err := deps.Schedules.Cancel(r.Context(), scheduleID); err != nil {
			var (
				nf  *schedule.NotFoundError
				ist *schedule.InvalidStateTransitionError
			)
			switch {
			case errors.As(err, &nf):
				writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			case errors.As(err, &ist):
				writeError(w, http.StatusConflict, "INVALID_STATE_TRANSITION", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to cancel scheduled transaction")
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
