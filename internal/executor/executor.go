// Package executor performs a single metered model call and turns the
// response into a settled result with its spark cost attached.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/sparkgate/sparkgate/internal/budget"
	"github.com/sparkgate/sparkgate/internal/metrics"
	"github.com/sparkgate/sparkgate/internal/upstream"
)

// ErrEmptyResponse marks a provider answer that carried neither text nor
// usage metering. Such calls settle as errors with the flat fee only.
var ErrEmptyResponse = errors.New("provider returned empty response")

// Status describes the lifecycle state of a call result.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Result is the settled outcome of one model call. Results carry their own
// cost so the orchestrator can sum and deduct them without re-deriving
// pricing.
type Result struct {
	ID               string  `json:"id"`
	ModelID          string  `json:"model_id"`
	ModelName        string  `json:"model_name"`
	Status           Status  `json:"status"`
	Text             string  `json:"text,omitempty"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	Sparks           float64 `json:"sparks"`
	Message          string  `json:"message,omitempty"`
	InConflict       bool    `json:"in_conflict,omitempty"`
}

// Caller is the slice of the upstream client the executor needs.
type Caller interface {
	ChatCompletion(ctx context.Context, req upstream.ChatRequest) (*upstream.ChatResponse, error)
}

// Executor dispatches authorized calls against an upstream provider.
type Executor struct {
	caller Caller
	mx     *metrics.Metrics
}

func New(caller Caller) *Executor {
	return &Executor{caller: caller}
}

// WithMetrics attaches call counters and latency histograms.
func (e *Executor) WithMetrics(m *metrics.Metrics) *Executor {
	e.mx = m
	return e
}

// Execute runs one chat completion under the given authorization and settles
// the cost from the provider's usage report. Provider failures are folded
// into a Result with StatusError so callers keep per-model outcomes; the
// error return is reserved for context cancellation.
func (e *Executor) Execute(ctx context.Context, auth budget.Authorization, messages []upstream.Message) (Result, error) {
	res := Result{
		ID:        uuid.NewString(),
		ModelID:   auth.Model.ID,
		ModelName: auth.Model.Name,
		Status:    StatusPending,
	}

	req := upstream.ChatRequest{
		Model:    auth.Model.ID,
		Messages: messages,
	}
	if auth.Capped {
		req.MaxTokens = auth.MaxTokens
	}

	start := time.Now()
	resp, err := e.caller.ChatCompletion(ctx, req)
	if e.mx != nil {
		e.mx.ObserveUpstreamDuration(auth.Model.ID, time.Since(start).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			res.Status = StatusCancelled
			e.observe(res.ModelID, StatusCancelled, "")
			return res, ctx.Err()
		}
		res.Status = StatusError
		res.Message = errorMessage(err)
		e.observe(res.ModelID, StatusError, errorType(err))
		return res, nil
	}

	text := resp.Text()
	if text == "" && resp.Usage == nil {
		// Failed calls never settle, so no fee attaches here.
		res.Status = StatusError
		res.Message = ErrEmptyResponse.Error()
		e.observe(res.ModelID, StatusError, "empty_response")
		return res, nil
	}

	e.observe(res.ModelID, StatusSuccess, "")
	res.Status = StatusSuccess
	res.Text = text
	if resp.Usage != nil {
		res.PromptTokens = resp.Usage.PromptTokens
		res.CompletionTokens = resp.Usage.CompletionTokens
	}
	res.CostUSD, res.Sparks = budget.SparksFromUsage(res.PromptTokens, res.CompletionTokens, auth.Model.Pricing, resp.Usage != nil)
	return res, nil
}

// errorMessage maps transport failures to a short operator-readable string.
func errorMessage(err error) string {
	var statusErr *upstream.StatusError
	switch {
	case errors.Is(err, upstream.ErrTimeout):
		return "provider timed out"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("provider rejected call: status %d", statusErr.StatusCode)
	default:
		return err.Error()
	}
}

// errorType buckets transport failures for the error counter.
func errorType(err error) string {
	var statusErr *upstream.StatusError
	switch {
	case errors.Is(err, upstream.ErrTimeout):
		return "timeout"
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "other"
	}
}

func (e *Executor) observe(modelID string, status Status, errType string) {
	if e.mx == nil {
		return
	}
	e.mx.IncUpstreamCall(modelID, string(status))
	if errType != "" {
		e.mx.IncUpstreamError(errType, modelID)
	}
}
