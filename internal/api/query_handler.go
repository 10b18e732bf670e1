package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/sparkgate/sparkgate/internal/auth"
	"github.com/sparkgate/sparkgate/internal/budget"
	"github.com/sparkgate/sparkgate/internal/catalog"
	"github.com/sparkgate/sparkgate/internal/chat"
	"github.com/sparkgate/sparkgate/internal/executor"
	"github.com/sparkgate/sparkgate/internal/metrics"
	"github.com/sparkgate/sparkgate/internal/orchestrator"
	"github.com/sparkgate/sparkgate/internal/upstream"
)

// QueryRunner dispatches one orchestrated query to completion.
type QueryRunner interface {
	Run(ctx context.Context, req *orchestrator.Request) (*orchestrator.Outcome, error)
}

// ModelSource lists the current model catalog.
type ModelSource interface {
	List(ctx context.Context) ([]catalog.Model, error)
}

// queryHandler groups query dispatch HTTP handlers.
type queryHandler struct {
	engine  QueryRunner
	models  ModelSource
	tokens  *chat.Codec
	metrics *metrics.Metrics
}

func newQueryHandler(engine QueryRunner, models ModelSource, tokens *chat.Codec, m *metrics.Metrics) *queryHandler {
	return &queryHandler{engine: engine, models: models, tokens: tokens, metrics: m}
}

type queryRequest struct {
	Query    string             `json:"query"`
	Mode     string             `json:"mode"`
	ModelIDs []string           `json:"model_ids,omitempty"`
	Ceilings map[string]float64 `json:"ceilings,omitempty"`
}

// queryResult is an executor result plus the continuation token clients use
// to follow up on it via the chat endpoint.
type queryResult struct {
	executor.Result
	ContextToken string `json:"context_token,omitempty"`
}

type queryResponse struct {
	Mode        orchestrator.Mode          `json:"mode"`
	Results     []queryResult              `json:"results"`
	Fallback    *orchestrator.FallbackInfo `json:"fallback,omitempty"`
	TotalSparks float64                    `json:"total_sparks"`
	Balance     float64                    `json:"balance"`
	Cancelled   bool                       `json:"cancelled,omitempty"`
}

// Dispatch handles POST /api/v1/query.
func (h *queryHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	var req queryRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if req.Query == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "query is required")
		return
	}

	mode := orchestrator.Mode(req.Mode)
	if req.Mode == "" {
		mode = orchestrator.ModeStandard
	}
	if !mode.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "unknown mode: "+req.Mode)
		return
	}

	available, err := h.models.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load model catalog")
		return
	}

	models, userSelected, err := resolveModels(mode, req.ModelIDs, available)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}

	orcReq := &orchestrator.Request{
		AccountID:    acct.ID,
		Query:        req.Query,
		Mode:         mode,
		Models:       models,
		UserSelected: userSelected,
		Confirm:      budget.CeilingMap(req.Ceilings),
	}

	// A dropped client connection cancels the dispatch: in-flight calls
	// finish but nothing is returned or charged.
	stop := context.AfterFunc(r.Context(), orcReq.Cancel)
	defer stop()

	outcome, err := h.engine.Run(r.Context(), orcReq)
	if err != nil {
		if h.metrics != nil {
			h.metrics.IncQuery(string(mode), "error")
		}
		writeDispatchError(w, h.metrics, err)
		return
	}

	if h.metrics != nil {
		if outcome.Cancelled {
			h.metrics.IncQuery(string(mode), "cancelled")
		} else {
			h.metrics.IncQuery(string(mode), "ok")
			h.metrics.AddQuerySparks(string(mode), outcome.TotalSparks)
		}
	}
	auditLog(r, "query.dispatch", "query", "",
		"mode", string(mode),
		"models", len(models),
		"sparks", outcome.TotalSparks,
		"cancelled", outcome.Cancelled,
	)

	writeJSON(w, http.StatusOK, h.toQueryResponse(req.Query, outcome))
}

// resolveModels maps the request's mode and optional explicit model IDs to a
// candidate list. An explicit list disables fallback substitution.
func resolveModels(mode orchestrator.Mode, ids []string, available []catalog.Model) ([]catalog.Model, bool, error) {
	if len(ids) > 0 {
		models := make([]catalog.Model, 0, len(ids))
		for _, id := range ids {
			m, ok := catalog.ByID(available, id)
			if !ok {
				return nil, false, errors.New("unknown model: " + id)
			}
			models = append(models, m)
		}
		return models, true, nil
	}

	switch mode {
	case orchestrator.ModeStandard:
		return catalog.StandardModels(available), false, nil
	case orchestrator.ModeMulti:
		return catalog.MultiSourceModels(available), false, nil
	case orchestrator.ModeSummary:
		return catalog.SummaryModels(available), false, nil
	case orchestrator.ModeConflict:
		return catalog.ConflictModels(available), false, nil
	case orchestrator.ModeCustom:
		return nil, false, errors.New("custom mode requires model_ids")
	}
	return nil, false, errors.New("unknown mode: " + string(mode))
}

// toQueryResponse attaches a continuation token to every successful result.
func (h *queryHandler) toQueryResponse(query string, outcome *orchestrator.Outcome) queryResponse {
	results := make([]queryResult, 0, len(outcome.Results))
	for _, res := range outcome.Results {
		qr := queryResult{Result: res}
		if res.Status == executor.StatusSuccess {
			token, err := h.tokens.Encode(chat.Token{
				OriginalQuery: query,
				ModelID:       res.ModelID,
			})
			if err == nil {
				qr.ContextToken = token
			}
		}
		results = append(results, qr)
	}
	return queryResponse{
		Mode:        outcome.Mode,
		Results:     results,
		Fallback:    outcome.Fallback,
		TotalSparks: outcome.TotalSparks,
		Balance:     outcome.Balance,
		Cancelled:   outcome.Cancelled,
	}
}

// writeDispatchError maps terminal dispatch errors to HTTP responses.
func writeDispatchError(w http.ResponseWriter, m *metrics.Metrics, err error) {
	countRejection := func(reason string) {
		if m != nil {
			m.IncBudgetRejection(reason)
		}
	}
	switch {
	case errors.Is(err, budget.ErrInsufficientBalance):
		countRejection("insufficient_balance")
		writeError(w, http.StatusPaymentRequired, "insufficient_sparks", err.Error())
	case errors.Is(err, budget.ErrBudgetTooLow):
		countRejection("budget_too_low")
		writeError(w, http.StatusPaymentRequired, "budget_too_low", err.Error())
	case errors.Is(err, budget.ErrAuthorizationCancelled):
		countRejection("authorization_cancelled")
		writeError(w, http.StatusBadRequest, "authorization_cancelled",
			"a model requiring a spend ceiling had none supplied")
	case errors.Is(err, orchestrator.ErrNoModelsSelected):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	case errors.Is(err, orchestrator.ErrUserSelectedModelFailed),
		errors.Is(err, orchestrator.ErrAllProvidersFailed),
		errors.Is(err, orchestrator.ErrNoSuccessfulResponses):
		writeError(w, http.StatusBadGateway, "upstream_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "query dispatch failed")
	}
}

// historyFromMessages converts API message payloads to upstream messages.
func historyFromMessages(msgs []chatMessage) []upstream.Message {
	out := make([]upstream.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, upstream.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
