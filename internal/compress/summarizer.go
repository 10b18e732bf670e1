package compress

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sparkgate/sparkgate/internal/upstream"
)

// DefaultSummaryModel is the inexpensive auxiliary model used for history
// digests and answer synthesis.
const DefaultSummaryModel = "google/gemini-flash-1.5"

// truncateAt bounds the shortcut digest taken for single-turn chunks.
const truncateAt = 75

const summaryInstruction = "Condense the following conversation turns into one short factual sentence. Keep names, numbers and decisions. Reply with the sentence only."

// LLMSummarizer produces digests by calling a small auxiliary model. A chunk
// holding a single turn is truncated locally instead, which keeps trailing
// odd-sized chunks from costing a model call.
type LLMSummarizer struct {
	caller  Caller
	modelID string
}

// Caller is the slice of the upstream client the summarizer needs.
type Caller interface {
	ChatCompletion(ctx context.Context, req upstream.ChatRequest) (*upstream.ChatResponse, error)
}

func NewLLMSummarizer(caller Caller, modelID string) *LLMSummarizer {
	if modelID == "" {
		modelID = DefaultSummaryModel
	}
	return &LLMSummarizer{caller: caller, modelID: modelID}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, turns []upstream.Message) (string, error) {
	if len(turns) == 0 {
		return "", errors.New("no turns to summarize")
	}
	if len(turns) == 1 {
		return truncate(turns[0].Content, truncateAt), nil
	}

	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}

	resp, err := s.caller.ChatCompletion(ctx, upstream.ChatRequest{
		Model: s.modelID,
		Messages: []upstream.Message{
			{Role: "system", Content: summaryInstruction},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summary call: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("summary model returned empty response")
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
