package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sparkgate/sparkgate/internal/budget"
	"github.com/sparkgate/sparkgate/internal/catalog"
	"github.com/sparkgate/sparkgate/internal/executor"
	"github.com/sparkgate/sparkgate/internal/ledger"
	"github.com/sparkgate/sparkgate/internal/upstream"
)

// chargeMode labels continuation charges in the ledger.
const chargeMode = "chat"

// CallExecutor performs one authorized upstream call.
type CallExecutor interface {
	Execute(ctx context.Context, auth budget.Authorization, messages []upstream.Message) (executor.Result, error)
}

// BalanceService reads and settles an account's spark balance.
type BalanceService interface {
	Balance(ctx context.Context, accountID string) (float64, error)
	Deduct(ctx context.Context, accountID string, sparks float64) (float64, error)
}

// ChargeRecorder receives charge records for settled calls.
type ChargeRecorder interface {
	Record(rec ledger.ChargeRecord)
}

// HistoryCompressor bounds the size of a transcript before dispatch.
type HistoryCompressor interface {
	Compress(ctx context.Context, history []upstream.Message) ([]upstream.Message, error)
}

// Service runs conversation continuations. Continuations skip the
// confirmation step: the model was already approved when the original query
// ran, so the whole balance backs each follow-up turn.
type Service struct {
	exec       CallExecutor
	balances   BalanceService
	charges    ChargeRecorder
	compressor HistoryCompressor
	logger     *slog.Logger
}

func NewService(exec CallExecutor, balances BalanceService, charges ChargeRecorder, compressor HistoryCompressor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		exec:       exec,
		balances:   balances,
		charges:    charges,
		compressor: compressor,
		logger:     logger,
	}
}

// Continue sends the conversation to the token's model and returns the new
// assistant turn. The caller resolves the token's model against the catalog
// before invoking this; messages hold the conversation so far, oldest first,
// ending with the user's latest turn.
func (s *Service) Continue(ctx context.Context, accountID string, model catalog.Model, token Token, messages []upstream.Message) (executor.Result, error) {
	if s.compressor != nil {
		compressed, err := s.compressor.Compress(ctx, messages)
		if err != nil {
			return executor.Result{}, fmt.Errorf("compressing history: %w", err)
		}
		messages = compressed
	}
	messages = foldContext(token, messages)

	balance, err := s.balances.Balance(ctx, accountID)
	if err != nil {
		return executor.Result{}, fmt.Errorf("reading balance: %w", err)
	}

	auth, err := budget.NewAuthorizer(budget.AutoApprove).Authorize(ctx, model, balance)
	if err != nil {
		return executor.Result{}, fmt.Errorf("authorizing %s: %w", model.ID, err)
	}

	res, err := s.exec.Execute(ctx, auth, messages)
	if err != nil {
		return executor.Result{}, err
	}
	if res.Status != executor.StatusSuccess {
		return res, nil
	}

	s.charges.Record(ledger.ChargeRecord{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		ModelID:          res.ModelID,
		Mode:             chargeMode,
		Sparks:           res.Sparks,
		CostUSD:          res.CostUSD,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		CreatedAt:        time.Now().UTC(),
	})
	if res.Sparks > balance {
		s.logger.Warn("continuation charge exceeds available balance",
			"account_id", accountID,
			"sparks", res.Sparks,
			"balance", balance,
		)
	}
	if _, err := s.balances.Deduct(ctx, accountID, res.Sparks); err != nil {
		s.logger.Error("balance deduction failed",
			"account_id", accountID,
			"sparks", res.Sparks,
			"error", err,
		)
	}
	return res, nil
}

// foldContext prepends the original query as framing. Some providers drop or
// deprioritize system turns mid-conversation, so the framing is folded into
// the first user turn instead of sent as its own message.
func foldContext(token Token, messages []upstream.Message) []upstream.Message {
	framing := fmt.Sprintf("This conversation continues an answer to the question: %q. Stay on that topic unless asked otherwise.\n\n", token.OriginalQuery)

	out := make([]upstream.Message, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Role == "user" {
			out[i].Content = framing + out[i].Content
			return out
		}
	}
	return append([]upstream.Message{{Role: "user", Content: framing}}, out...)
}
