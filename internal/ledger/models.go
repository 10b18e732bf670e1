// Package ledger persists charge records produced by settled queries and
// serves usage aggregates over them.
package ledger

import "time"

// ChargeRecord is the billing trace of one successful upstream call. Records
// are immutable once created and derive 1:1 from a successful call result.
type ChargeRecord struct {
	ID               string    `json:"id"`
	AccountID        string    `json:"account_id"`
	ModelID          string    `json:"model_id"`
	Mode             string    `json:"mode"`
	Sparks           float64   `json:"sparks"`
	CostUSD          float64   `json:"cost_usd"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageSummary holds aggregates over a set of charge records.
type UsageSummary struct {
	TotalCalls   int64   `json:"total_calls"`
	TotalSparks  float64 `json:"total_sparks"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	TotalTokens  int64   `json:"total_tokens"`
}

// UsageQuery filters charge records for summaries and listings.
type UsageQuery struct {
	AccountID string    `json:"account_id"`
	ModelID   string    `json:"model_id,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Limit     int       `json:"limit"`
}
