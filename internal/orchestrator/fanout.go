package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sparkgate/sparkgate/internal/budget"
	"github.com/sparkgate/sparkgate/internal/catalog"
	"github.com/sparkgate/sparkgate/internal/conflict"
	"github.com/sparkgate/sparkgate/internal/executor"
	"github.com/sparkgate/sparkgate/internal/upstream"
)

const summaryPrompt = "Multiple assistants answered the same question. Synthesize their answers into a single coherent response. Resolve overlaps, keep unique facts, do not mention the individual assistants."

// runFanOut launches one authorize+execute task per candidate and waits for
// all of them. A task failure never aborts its siblings; the failure becomes
// an error-status entry in the aggregate result set.
func (e *Engine) runFanOut(ctx context.Context, req *Request, authorizer *budget.Authorizer, balance float64, messages []upstream.Message) (*Outcome, error) {
	results := make([]executor.Result, len(req.Models))

	var wg sync.WaitGroup
	var emitMu sync.Mutex
	for i, model := range req.Models {
		i, model := i, model
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := e.runTask(ctx, req, authorizer, balance, model, messages)
			results[i] = res
			if req.Cancelled() {
				return
			}
			emitMu.Lock()
			e.emit(req, Update{Kind: UpdateResult, ModelID: model.ID, Result: &res})
			emitMu.Unlock()
		}()
	}
	wg.Wait()

	if req.Cancelled() {
		// Every result is discarded; the caller sees an empty set and the
		// balance is untouched.
		return cancelledOutcome(req.Mode, balance), nil
	}

	switch req.Mode {
	case ModeSummary:
		return e.finishSummary(ctx, req, results, balance, messages)
	case ModeConflict:
		annotateConflicts(results)
	}

	total, remaining := e.settle(ctx, req, results, balance)
	return &Outcome{
		Mode:        req.Mode,
		Results:     results,
		TotalSparks: total,
		Balance:     remaining,
	}, nil
}

// runTask performs authorize+execute for one candidate. Failures of either
// step are folded into an error-status result.
func (e *Engine) runTask(ctx context.Context, req *Request, authorizer *budget.Authorizer, balance float64, model catalog.Model, messages []upstream.Message) executor.Result {
	if req.Cancelled() {
		return executor.Result{
			ID:        uuid.NewString(),
			ModelID:   model.ID,
			ModelName: model.Name,
			Status:    executor.StatusCancelled,
		}
	}

	auth, err := authorizer.Authorize(ctx, model, balance)
	if err != nil {
		return executor.Result{
			ID:        uuid.NewString(),
			ModelID:   model.ID,
			ModelName: model.Name,
			Status:    executor.StatusError,
			Message:   err.Error(),
		}
	}

	res, err := e.exec.Execute(ctx, auth, messages)
	if err != nil {
		res.Status = executor.StatusCancelled
	}
	return res
}

// finishSummary issues one auxiliary call over the concatenated successful
// texts. All charges, including the discarded fan-out results, still settle;
// only the synthesized result is returned.
func (e *Engine) finishSummary(ctx context.Context, req *Request, results []executor.Result, balance float64, messages []upstream.Message) (*Outcome, error) {
	var texts []string
	for _, res := range results {
		if res.Status == executor.StatusSuccess {
			texts = append(texts, res.Text)
		}
	}
	if len(texts) == 0 {
		return nil, ErrNoSuccessfulResponses
	}

	// The auxiliary model is low-cost and runs without a confirmation step,
	// with the whole balance as its ceiling.
	auth, err := budget.NewAuthorizer(budget.AutoApprove).Authorize(ctx, e.summaryModel, balance)
	if err != nil {
		e.settle(ctx, req, results, balance)
		return nil, fmt.Errorf("authorizing summary call: %w", err)
	}

	var prompt strings.Builder
	prompt.WriteString(req.Query)
	prompt.WriteString("\n\nAnswers:\n")
	for i, text := range texts {
		fmt.Fprintf(&prompt, "%d. %s\n", i+1, text)
	}

	sumRes, err := e.exec.Execute(ctx, auth, []upstream.Message{
		{Role: "system", Content: summaryPrompt},
		{Role: "user", Content: prompt.String()},
	})
	if err != nil || req.Cancelled() {
		return cancelledOutcome(req.Mode, balance), nil
	}
	if sumRes.Status != executor.StatusSuccess {
		e.settle(ctx, req, results, balance)
		return nil, fmt.Errorf("summary call failed: %s", sumRes.Message)
	}
	e.emit(req, Update{Kind: UpdateResult, ModelID: sumRes.ModelID, Result: &sumRes})

	settleSet := append(append([]executor.Result{}, results...), sumRes)
	total, remaining := e.settle(ctx, req, settleSet, balance)
	return &Outcome{
		Mode:        req.Mode,
		Results:     []executor.Result{sumRes},
		TotalSparks: total,
		Balance:     remaining,
	}, nil
}

// annotateConflicts marks every successful result that materially disagrees
// with at least one sibling.
func annotateConflicts(results []executor.Result) {
	var answers []conflict.Answer
	for _, res := range results {
		if res.Status == executor.StatusSuccess {
			answers = append(answers, conflict.Answer{ID: res.ID, Text: res.Text})
		}
	}

	flagged := make(map[string]struct{})
	for _, id := range conflict.Detect(answers) {
		flagged[id] = struct{}{}
	}
	for i := range results {
		if _, ok := flagged[results[i].ID]; ok {
			results[i].InConflict = true
		}
	}
}
