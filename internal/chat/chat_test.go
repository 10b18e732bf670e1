package chat

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/sparkgate/sparkgate/internal/budget"
	"github.com/sparkgate/sparkgate/internal/catalog"
	"github.com/sparkgate/sparkgate/internal/executor"
	"github.com/sparkgate/sparkgate/internal/ledger"
	"github.com/sparkgate/sparkgate/internal/upstream"
)

func TestTokenRoundTrip(t *testing.T) {
	tok := Token{OriginalQuery: "what is the tallest mountain", ModelID: "acme/medium"}

	decoded, err := DecodeToken(tok.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != tok {
		t.Errorf("decoded = %+v, want %+v", decoded, tok)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not base64!!!", "bm90IGpzb24", Token{}.Encode()} {
		if _, err := DecodeToken(s); err == nil {
			t.Errorf("DecodeToken(%q) succeeded, want error", s)
		}
	}
}

const testTokenKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestCodecSealedRoundTrip(t *testing.T) {
	codec, err := NewCodec(testTokenKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tok := Token{OriginalQuery: "how deep is the Mariana Trench", ModelID: "acme/medium"}
	sealed, err := codec.Encode(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The payload must not be readable without the key.
	if strings.Contains(sealed, "Mariana") {
		t.Error("sealed token leaks plaintext")
	}
	if _, err := DecodeToken(sealed); err == nil {
		t.Error("sealed token decodes as plain, want error")
	}

	decoded, err := codec.Decode(sealed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != tok {
		t.Errorf("decoded = %+v, want %+v", decoded, tok)
	}
}

func TestCodecRejectsTamperedToken(t *testing.T) {
	codec, err := NewCodec(testTokenKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sealed, err := codec.Encode(Token{OriginalQuery: "q", ModelID: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Flip one character of the ciphertext.
	b := []byte(sealed)
	last := len(b) - 1
	if b[last] == 'A' {
		b[last] = 'B'
	} else {
		b[last] = 'A'
	}

	if _, err := codec.Decode(string(b)); err == nil {
		t.Error("tampered token decoded, want error")
	}
}

func TestCodecWithoutKeyPassesThrough(t *testing.T) {
	codec, err := NewCodec("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tok := Token{OriginalQuery: "q", ModelID: "m"}
	encoded, err := codec.Encode(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if encoded != tok.Encode() {
		t.Errorf("keyless codec should emit plain tokens")
	}

	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != tok {
		t.Errorf("decoded = %+v, want %+v", decoded, tok)
	}
}

func TestNewCodecRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"zz", "abcd", testTokenKey + "00"} {
		if _, err := NewCodec(key); err == nil {
			t.Errorf("NewCodec(%q) succeeded, want error", key)
		}
	}
}

type chatExec struct {
	messages []upstream.Message
	sparks   float64
	fail     bool
}

func (c *chatExec) Execute(ctx context.Context, auth budget.Authorization, messages []upstream.Message) (executor.Result, error) {
	c.messages = messages
	res := executor.Result{ID: uuid.NewString(), ModelID: auth.Model.ID}
	if c.fail {
		res.Status = executor.StatusError
		res.Message = "provider timed out"
		return res, nil
	}
	res.Status = executor.StatusSuccess
	res.Text = "follow-up answer"
	res.Sparks = c.sparks
	return res, nil
}

type chatBalances struct {
	balance  float64
	deducted float64
}

func (b *chatBalances) Balance(ctx context.Context, accountID string) (float64, error) {
	return b.balance, nil
}

func (b *chatBalances) Deduct(ctx context.Context, accountID string, sparks float64) (float64, error) {
	b.deducted += sparks
	b.balance -= sparks
	if b.balance < 0 {
		b.balance = 0
	}
	return b.balance, nil
}

type chatCharges struct {
	recs []ledger.ChargeRecord
}

func (c *chatCharges) Record(rec ledger.ChargeRecord) {
	c.recs = append(c.recs, rec)
}

func chatModel() catalog.Model {
	return catalog.Model{ID: "acme/medium", Name: "Acme Medium", Tier: catalog.TierMedium}
}

func TestContinueSettlesChatCharge(t *testing.T) {
	exec := &chatExec{sparks: 1.25}
	balances := &chatBalances{balance: 10}
	charges := &chatCharges{}
	svc := NewService(exec, balances, charges, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tok := Token{OriginalQuery: "original question", ModelID: "acme/medium"}
	res, err := svc.Continue(context.Background(), "acct", chatModel(), tok, []upstream.Message{
		{Role: "user", Content: "original question"},
		{Role: "assistant", Content: "original answer"},
		{Role: "user", Content: "and a follow-up?"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Text != "follow-up answer" {
		t.Errorf("text = %q", res.Text)
	}
	if len(charges.recs) != 1 {
		t.Fatalf("charges = %d, want 1", len(charges.recs))
	}
	if charges.recs[0].Mode != "chat" {
		t.Errorf("mode = %q, want chat", charges.recs[0].Mode)
	}
	if balances.deducted != 1.25 {
		t.Errorf("deducted = %v, want 1.25", balances.deducted)
	}

	// Framing folds into the first user turn rather than a system message.
	first := exec.messages[0]
	if first.Role != "user" {
		t.Fatalf("first turn role = %q", first.Role)
	}
	if !strings.Contains(first.Content, "original question") {
		t.Errorf("framing missing: %q", first.Content)
	}
	if !strings.HasSuffix(first.Content, "original question") {
		t.Errorf("original turn content not preserved: %q", first.Content)
	}
}

func TestContinueFailedCallChargesNothing(t *testing.T) {
	exec := &chatExec{fail: true}
	balances := &chatBalances{balance: 10}
	charges := &chatCharges{}
	svc := NewService(exec, balances, charges, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := svc.Continue(context.Background(), "acct", chatModel(), Token{OriginalQuery: "q"}, []upstream.Message{
		{Role: "user", Content: "q"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != executor.StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if len(charges.recs) != 0 {
		t.Errorf("charges = %d, want 0", len(charges.recs))
	}
	if balances.deducted != 0 {
		t.Errorf("deducted = %v, want 0", balances.deducted)
	}
}

func TestContinueCompressesFirst(t *testing.T) {
	exec := &chatExec{}
	svc := NewService(exec, &chatBalances{balance: 10}, &chatCharges{}, compressorFunc(func(ctx context.Context, history []upstream.Message) ([]upstream.Message, error) {
		return []upstream.Message{{Role: "system", Content: "CONTEXT SUMMARY: earlier turns"}, history[len(history)-1]}, nil
	}), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.Continue(context.Background(), "acct", chatModel(), Token{OriginalQuery: "q"}, []upstream.Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(exec.messages) != 2 {
		t.Fatalf("messages = %d, want compressed pair", len(exec.messages))
	}
	if exec.messages[0].Role != "system" {
		t.Errorf("first role = %q, want the summary turn", exec.messages[0].Role)
	}
}

type compressorFunc func(ctx context.Context, history []upstream.Message) ([]upstream.Message, error)

func (f compressorFunc) Compress(ctx context.Context, history []upstream.Message) ([]upstream.Message, error) {
	return f(ctx, history)
}
