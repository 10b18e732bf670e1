// Package compress shrinks long conversation histories before they are sent
// upstream, trading older turns for a generated summary while keeping the
// most recent exchange verbatim.
package compress

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sparkgate/sparkgate/internal/upstream"
)

const (
	// DefaultThreshold is the total character count above which a history
	// gets compressed.
	DefaultThreshold = 14000

	// keepRecent is how many trailing turns survive compression verbatim.
	keepRecent = 3

	// chunkSize groups older turns into batches for summarization.
	chunkSize = 5

	// summaryPrefix marks the synthetic turn that replaces summarized
	// history so downstream prompts can identify it.
	summaryPrefix = "CONTEXT SUMMARY: "
)

// Summarizer condenses a batch of turns into a short digest.
type Summarizer interface {
	Summarize(ctx context.Context, turns []upstream.Message) (string, error)
}

// Compressor rewrites oversized histories. The zero value is not usable;
// construct with New.
type Compressor struct {
	summarizer Summarizer
	threshold  int
}

func New(summarizer Summarizer) *Compressor {
	return &Compressor{summarizer: summarizer, threshold: DefaultThreshold}
}

// WithThreshold overrides the compression trigger, mainly for tests.
func (c *Compressor) WithThreshold(n int) *Compressor {
	c.threshold = n
	return c
}

// Compress returns the history unchanged when it fits under the threshold.
// Otherwise it keeps the last turns verbatim, summarizes the older ones in
// concurrent chunks, and prepends a single system turn holding the joined
// digests. The input slice is never mutated.
func (c *Compressor) Compress(ctx context.Context, history []upstream.Message) ([]upstream.Message, error) {
	if totalChars(history) <= c.threshold {
		return history, nil
	}
	// With nothing older than the verbatim tail there is nothing to
	// summarize, even when the size trigger fires.
	if len(history) <= keepRecent {
		return history, nil
	}

	split := len(history) - keepRecent
	older, recent := history[:split], history[split:]

	chunks := chunkTurns(older, chunkSize)
	digests := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			digest, err := c.summarizer.Summarize(gctx, chunk)
			if err != nil {
				return fmt.Errorf("summarizing chunk %d: %w", i, err)
			}
			digests[i] = digest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]upstream.Message, 0, len(recent)+1)
	out = append(out, upstream.Message{
		Role:    "system",
		Content: summaryPrefix + strings.Join(digests, "; "),
	})
	out = append(out, recent...)
	return out, nil
}

func chunkTurns(turns []upstream.Message, size int) [][]upstream.Message {
	var chunks [][]upstream.Message
	for start := 0; start < len(turns); start += size {
		end := start + size
		if end > len(turns) {
			end = len(turns)
		}
		chunks = append(chunks, turns[start:end])
	}
	return chunks
}

func totalChars(turns []upstream.Message) int {
	n := 0
	for _, t := range turns {
		n += len(t.Content)
	}
	return n
}
