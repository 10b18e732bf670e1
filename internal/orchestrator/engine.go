// Package orchestrator decides which upstream models answer a query, under
// what budget, and in what order. Standard mode walks candidates
// sequentially with fallback; the remaining modes fan out concurrently. All
// modes settle actual spend against the account balance once every call has
// reached a terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sparkgate/sparkgate/internal/budget"
	"github.com/sparkgate/sparkgate/internal/catalog"
	"github.com/sparkgate/sparkgate/internal/executor"
	"github.com/sparkgate/sparkgate/internal/ledger"
	"github.com/sparkgate/sparkgate/internal/metrics"
	"github.com/sparkgate/sparkgate/internal/upstream"
)

// Mode selects the dispatch strategy for a query.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeMulti    Mode = "multi"
	ModeSummary  Mode = "summary"
	ModeConflict Mode = "conflict"
	ModeCustom   Mode = "custom"
)

// Valid reports whether m names a known dispatch mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeStandard, ModeMulti, ModeSummary, ModeConflict, ModeCustom:
		return true
	}
	return false
}

// Terminal request outcomes. Everything else is recovered per result.
var (
	ErrUserSelectedModelFailed = errors.New("user-selected model failed")
	ErrAllProvidersFailed      = errors.New("all candidate models failed")
	ErrNoSuccessfulResponses   = errors.New("no successful responses to summarize")
	ErrNoModelsSelected        = errors.New("no models selected")
)

// BalanceService reads and settles an account's spark balance.
type BalanceService interface {
	Balance(ctx context.Context, accountID string) (float64, error)
	// Deduct subtracts sparks from the balance, clamping at zero, and
	// returns the remaining balance.
	Deduct(ctx context.Context, accountID string, sparks float64) (float64, error)
}

// ChargeRecorder receives charge records for settled calls.
type ChargeRecorder interface {
	Record(rec ledger.ChargeRecord)
}

// CallExecutor performs one authorized upstream call.
type CallExecutor interface {
	Execute(ctx context.Context, auth budget.Authorization, messages []upstream.Message) (executor.Result, error)
}

// HistoryCompressor bounds the size of a transcript before dispatch.
type HistoryCompressor interface {
	Compress(ctx context.Context, history []upstream.Message) ([]upstream.Message, error)
}

// UpdateKind tags the intermediate updates streamed while a request runs.
type UpdateKind string

const (
	// UpdateResult carries one finished call result, in completion order.
	UpdateResult UpdateKind = "result"
	// UpdateTryingNext reports a failed fallback candidate being skipped.
	UpdateTryingNext UpdateKind = "trying_next"
)

// Update is one intermediate progress event for a running request.
type Update struct {
	Kind    UpdateKind
	ModelID string
	Result  *executor.Result
}

// Request is one query dispatch. A Request is used for exactly one Run call.
type Request struct {
	AccountID string
	Query     string
	Mode      Mode
	// Models is the resolved candidate list, in priority order.
	Models []catalog.Model
	// UserSelected disables fallback: an explicit model choice is never
	// silently replaced by another model.
	UserSelected bool
	// History holds prior conversation turns, oldest first.
	History []upstream.Message
	// Confirm supplies spend ceilings for models that require confirmation.
	// A nil Confirm cancels any call that would need one.
	Confirm budget.Confirmer
	// OnUpdate, when set, receives progress events. Calls are serialized.
	OnUpdate func(Update)

	cancelled atomic.Bool
}

// Cancel requests that the dispatch stop. In-flight upstream calls run to
// completion but their results are discarded and nothing is charged.
// Cancel is idempotent and safe to call from any goroutine.
func (r *Request) Cancel() {
	r.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (r *Request) Cancelled() bool {
	return r.cancelled.Load()
}

// FallbackInfo records the path the fallback sequencer took.
type FallbackInfo struct {
	Attempted []string `json:"attempted"`
	Succeeded string   `json:"succeeded"`
}

// Outcome is the aggregate terminal state of one request.
type Outcome struct {
	Mode        Mode              `json:"mode"`
	Results     []executor.Result `json:"results"`
	Fallback    *FallbackInfo     `json:"fallback,omitempty"`
	TotalSparks float64           `json:"total_sparks"`
	Balance     float64           `json:"balance"`
	Cancelled   bool              `json:"cancelled,omitempty"`
}

// Options carries the optional engine collaborators.
type Options struct {
	// Compressor, when set, bounds the history before dispatch.
	Compressor HistoryCompressor
	// SummaryModel is the auxiliary model used to synthesize summary-mode
	// answers.
	SummaryModel catalog.Model
	Logger       *slog.Logger
	// Metrics, when set, receives dispatch counters.
	Metrics *metrics.Metrics
}

// Engine runs query dispatches. Safe for concurrent use; per-request state
// lives on the Request.
type Engine struct {
	exec         CallExecutor
	balances     BalanceService
	charges      ChargeRecorder
	compressor   HistoryCompressor
	summaryModel catalog.Model
	logger       *slog.Logger
	mx           *metrics.Metrics
}

func NewEngine(exec CallExecutor, balances BalanceService, charges ChargeRecorder, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		exec:         exec,
		balances:     balances,
		charges:      charges,
		compressor:   opts.Compressor,
		summaryModel: opts.SummaryModel,
		logger:       logger,
		mx:           opts.Metrics,
	}
}

// Run dispatches the request and blocks until every call reaches a terminal
// state and spend is settled. A cancelled request returns an Outcome with
// Cancelled set, an empty result set and no charges; cancellation is not an
// error.
func (e *Engine) Run(ctx context.Context, req *Request) (*Outcome, error) {
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", req.Mode)
	}
	if len(req.Models) == 0 {
		if req.Mode == ModeCustom {
			return nil, ErrNoModelsSelected
		}
		return nil, ErrAllProvidersFailed
	}

	messages, err := e.buildMessages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("preparing transcript: %w", err)
	}

	balance, err := e.balances.Balance(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}

	confirm := req.Confirm
	if confirm == nil {
		confirm = budget.CeilingMap(nil)
	}
	authorizer := budget.NewAuthorizer(confirm)

	if e.mx != nil {
		e.mx.ActiveQueries.Inc()
		defer e.mx.ActiveQueries.Dec()
	}

	if req.Mode == ModeStandard {
		return e.runFallback(ctx, req, authorizer, balance, messages)
	}
	return e.runFanOut(ctx, req, authorizer, balance, messages)
}

// buildMessages compresses the history when a compressor is configured and
// appends the query as the final user turn. The request history is never
// mutated.
func (e *Engine) buildMessages(ctx context.Context, req *Request) ([]upstream.Message, error) {
	history := req.History
	if e.compressor != nil && len(history) > 0 {
		compressed, err := e.compressor.Compress(ctx, history)
		if err != nil {
			return nil, err
		}
		history = compressed
	}

	messages := make([]upstream.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, upstream.Message{Role: "user", Content: req.Query})
	return messages, nil
}

// settle sums charges for successful results, records them with the ledger
// and deducts the total from the account. Deduction is clamped at zero; an
// overdraft is logged, not rolled back.
func (e *Engine) settle(ctx context.Context, req *Request, results []executor.Result, balance float64) (float64, float64) {
	now := time.Now().UTC()
	total := 0.0
	for _, res := range results {
		if res.Status != executor.StatusSuccess {
			continue
		}
		total += res.Sparks
		e.charges.Record(ledger.ChargeRecord{
			ID:               uuid.NewString(),
			AccountID:        req.AccountID,
			ModelID:          res.ModelID,
			Mode:             string(req.Mode),
			Sparks:           res.Sparks,
			CostUSD:          res.CostUSD,
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			CreatedAt:        now,
		})
	}
	if total == 0 {
		return 0, balance
	}

	if total > balance {
		e.logger.Warn("charges exceed available balance",
			"account_id", req.AccountID,
			"total_sparks", total,
			"balance", balance,
		)
		if e.mx != nil {
			e.mx.IncOverdraft()
		}
	}

	remaining, err := e.balances.Deduct(ctx, req.AccountID, total)
	if err != nil {
		e.logger.Error("balance deduction failed",
			"account_id", req.AccountID,
			"total_sparks", total,
			"error", err,
		)
		remaining = balance - total
		if remaining < 0 {
			remaining = 0
		}
	}
	return total, remaining
}

func (e *Engine) emit(req *Request, u Update) {
	if req.OnUpdate != nil {
		req.OnUpdate(u)
	}
}

func cancelledOutcome(mode Mode, balance float64) *Outcome {
	return &Outcome{Mode: mode, Balance: balance, Cancelled: true}
}
