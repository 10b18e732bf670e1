package orchestrator

import (
	"context"
	"fmt"

	"github.com/sparkgate/sparkgate/internal/budget"
	"github.com/sparkgate/sparkgate/internal/executor"
	"github.com/sparkgate/sparkgate/internal/upstream"
)

// runFallback tries candidates strictly in order and stops at the first
// success. Automatic candidates that fail are skipped with a trying-next
// update; a user-selected candidate that fails ends the request.
func (e *Engine) runFallback(ctx context.Context, req *Request, authorizer *budget.Authorizer, balance float64, messages []upstream.Message) (*Outcome, error) {
	info := &FallbackInfo{}

	for _, model := range req.Models {
		if req.Cancelled() {
			return cancelledOutcome(req.Mode, balance), nil
		}
		info.Attempted = append(info.Attempted, model.ID)

		auth, err := authorizer.Authorize(ctx, model, balance)
		if err != nil {
			// Authorization failures end the request before any
			// upstream call starts. Skipping to a candidate the user
			// never approved a ceiling for would spend blind.
			return nil, fmt.Errorf("authorizing %s: %w", model.ID, err)
		}

		res, err := e.exec.Execute(ctx, auth, messages)
		if err != nil {
			if req.Cancelled() || ctx.Err() != nil {
				return cancelledOutcome(req.Mode, balance), nil
			}
			return nil, fmt.Errorf("executing %s: %w", model.ID, err)
		}
		if req.Cancelled() {
			// Result discarded, nothing settles.
			return cancelledOutcome(req.Mode, balance), nil
		}

		if res.Status == executor.StatusSuccess {
			info.Succeeded = model.ID
			e.emit(req, Update{Kind: UpdateResult, ModelID: model.ID, Result: &res})
			total, remaining := e.settle(ctx, req, []executor.Result{res}, balance)
			return &Outcome{
				Mode:        req.Mode,
				Results:     []executor.Result{res},
				Fallback:    info,
				TotalSparks: total,
				Balance:     remaining,
			}, nil
		}

		if req.UserSelected {
			return nil, fmt.Errorf("%w: %s: %s", ErrUserSelectedModelFailed, model.ID, res.Message)
		}

		e.logger.Warn("candidate failed, trying next",
			"model_id", model.ID,
			"message", res.Message,
		)
		if e.mx != nil {
			e.mx.IncFallbackAdvance(model.ID)
		}
		e.emit(req, Update{Kind: UpdateTryingNext, ModelID: model.ID, Result: &res})
	}

	return nil, ErrAllProvidersFailed
}
