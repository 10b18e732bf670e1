package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sparkgate/sparkgate/internal/auth"
	"github.com/sparkgate/sparkgate/internal/ledger"
)

// BalanceReader reads an account's current spark balance, applying any
// pending daily refill.
type BalanceReader interface {
	Balance(ctx context.Context, accountID string) (float64, error)
}

// UsageReader answers ledger queries for an account.
type UsageReader interface {
	Summarize(ctx context.Context, q ledger.UsageQuery) (ledger.UsageSummary, error)
	List(ctx context.Context, q ledger.UsageQuery) ([]ledger.ChargeRecord, error)
}

// accountHandler groups balance and usage HTTP handlers.
type accountHandler struct {
	balances BalanceReader
	usage    UsageReader
}

func newAccountHandler(balances BalanceReader, usage UsageReader) *accountHandler {
	return &accountHandler{balances: balances, usage: usage}
}

// GetBalance handles GET /api/v1/balance.
func (h *accountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	sparks, err := h.balances.Balance(r.Context(), acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": acct.ID,
		"sparks":     sparks,
	})
}

// parseTimeParam parses a date query param in YYYY-MM-DD or RFC3339 format.
func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	// Try RFC3339 first.
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	// Fall back to date-only.
	t, err = time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// buildUsageQuery constructs a UsageQuery from query params, scoped to the
// authenticated account.
func buildUsageQuery(r *http.Request, accountID string) (*ledger.UsageQuery, error) {
	q := &ledger.UsageQuery{AccountID: accountID}

	q.ModelID = r.URL.Query().Get("model_id")
	q.Mode = r.URL.Query().Get("mode")

	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		return nil, err
	}
	q.From = from

	to, err := parseTimeParam(r.URL.Query().Get("to"))
	if err != nil {
		return nil, err
	}
	q.To = to

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, lErr := strconv.Atoi(limitStr)
		if lErr != nil || l < 1 {
			return nil, fmt.Errorf("invalid limit %q", limitStr)
		}
		q.Limit = l
	}

	return q, nil
}

// GetUsage handles GET /api/v1/usage.
func (h *accountHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	q, err := buildUsageQuery(r, acct.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "invalid query parameters")
		return
	}

	summary, err := h.usage.Summarize(r.Context(), *q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get usage summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// ListCharges handles GET /api/v1/usage/charges.
func (h *accountHandler) ListCharges(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	q, err := buildUsageQuery(r, acct.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "invalid query parameters")
		return
	}

	charges, err := h.usage.List(r.Context(), *q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list charges")
		return
	}
	if charges == nil {
		charges = []ledger.ChargeRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"charges": charges})
}
