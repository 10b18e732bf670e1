package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations over the charges table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// BatchInsert writes a slice of charge records in a single multi-row INSERT
// statement. It is a no-op when recs is empty.
func (s *Store) BatchInsert(ctx context.Context, recs []ChargeRecord) error {
	if len(recs) == 0 {
		return nil
	}

	const cols = 9
	args := make([]any, 0, len(recs)*cols)
	rows := make([]string, 0, len(recs))

	for i, rec := range recs {
		base := i * cols
		rows = append(rows, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			rec.ID,
			rec.AccountID,
			rec.ModelID,
			rec.Mode,
			rec.Sparks,
			rec.CostUSD,
			rec.PromptTokens,
			rec.CompletionTokens,
			rec.CreatedAt,
		)
	}

	query := `INSERT INTO charges
		(id, account_id, model_id, mode, sparks, cost_usd, prompt_tokens, completion_tokens, created_at)
		VALUES ` + strings.Join(rows, ", ")

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting charge records: %w", err)
	}
	return nil
}

// Summarize aggregates charges matching the query into a single summary.
func (s *Store) Summarize(ctx context.Context, q UsageQuery) (UsageSummary, error) {
	where, args := buildWhere(q)

	query := `SELECT
		COUNT(*),
		COALESCE(SUM(sparks), 0),
		COALESCE(SUM(cost_usd), 0),
		COALESCE(SUM(prompt_tokens + completion_tokens), 0)
		FROM charges` + where

	var sum UsageSummary
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&sum.TotalCalls, &sum.TotalSparks, &sum.TotalCostUSD, &sum.TotalTokens,
	)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("summarizing charges: %w", err)
	}
	return sum, nil
}

// List returns the most recent charge records matching the query, newest
// first. Limit defaults to 50 and is capped at 500.
func (s *Store) List(ctx context.Context, q UsageQuery) ([]ChargeRecord, error) {
	where, args := buildWhere(q)

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	args = append(args, limit)

	query := `SELECT id, account_id, model_id, mode, sparks, cost_usd,
		prompt_tokens, completion_tokens, created_at
		FROM charges` + where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing charges: %w", err)
	}
	defer rows.Close()

	var recs []ChargeRecord
	for rows.Next() {
		var rec ChargeRecord
		if err := rows.Scan(
			&rec.ID, &rec.AccountID, &rec.ModelID, &rec.Mode, &rec.Sparks,
			&rec.CostUSD, &rec.PromptTokens, &rec.CompletionTokens, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning charge record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// buildWhere assembles the WHERE clause shared by Summarize and List.
func buildWhere(q UsageQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.AccountID != "" {
		args = append(args, q.AccountID)
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if q.ModelID != "" {
		args = append(args, q.ModelID)
		conditions = append(conditions, fmt.Sprintf("model_id = $%d", len(args)))
	}
	if q.Mode != "" {
		args = append(args, q.Mode)
		conditions = append(conditions, fmt.Sprintf("mode = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
