package budget

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/sparkgate/sparkgate/internal/catalog"
)

func pricedModel(completion float64) catalog.Model {
	return catalog.Model{
		ID:     "borealis/chat",
		Name:   "Borealis Chat",
		Family: "borealis",
		Tier:   catalog.TierBasic,
		Pricing: catalog.Pricing{
			Prompt:     0.000001,
			Completion: completion,
		},
	}
}

func TestAuthorizeInsufficientBalance(t *testing.T) {
	a := NewAuthorizer(AutoApprove)

	_, err := a.Authorize(context.Background(), pricedModel(0.000002), FlatTransactionFee/2)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestAuthorizeUncappedWhenCompletionFree(t *testing.T) {
	a := NewAuthorizer(AutoApprove)

	// Regardless of how small the balance is (above the fee), a model with
	// no completion price gets no token cap.
	for _, balance := range []float64{0.002, 1, 100} {
		auth, err := a.Authorize(context.Background(), pricedModel(0), balance)
		if err != nil {
			t.Fatalf("balance %v: unexpected error: %v", balance, err)
		}
		if auth.Capped {
			t.Errorf("balance %v: expected uncapped authorization", balance)
		}
	}
}

func TestAuthorizeBudgetTooLow(t *testing.T) {
	model := pricedModel(0.000002)
	model.Tier = catalog.TierProfessional

	tests := []struct {
		name    string
		ceiling float64
	}{
		{"ceiling equals fee", FlatTransactionFee},
		{"ceiling below fee", FlatTransactionFee / 2},
		{"usable rounds to zero tokens", FlatTransactionFee + 0.0000001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthorizer(CeilingMap{model.ID: tt.ceiling})
			_, err := a.Authorize(context.Background(), model, 100)
			if !errors.Is(err, ErrBudgetTooLow) {
				t.Fatalf("expected ErrBudgetTooLow, got %v", err)
			}
		})
	}
}

func TestAuthorizeBasicTierUsesWholeBalance(t *testing.T) {
	confirmCalled := false
	confirm := ConfirmerFunc(func(_ context.Context, _ catalog.Model, _ float64) (float64, error) {
		confirmCalled = true
		return 0, nil
	})
	a := NewAuthorizer(confirm)

	auth, err := a.Authorize(context.Background(), pricedModel(0.000002), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if confirmCalled {
		t.Error("Basic-tier model must not trigger confirmation")
	}
	if auth.Ceiling != 50 {
		t.Errorf("ceiling = %v, want full balance 50", auth.Ceiling)
	}

	// cap = floor(((50 - fee) / rate) / completionPrice)
	want := int(math.Floor(((50 - FlatTransactionFee) / USDToSparks) / 0.000002))
	if !auth.Capped || auth.MaxTokens != want {
		t.Errorf("cap = %d (capped=%v), want %d", auth.MaxTokens, auth.Capped, want)
	}
}

func TestAuthorizeConfirmationCancelled(t *testing.T) {
	model := pricedModel(0.000002)
	model.Tier = catalog.TierPremium

	a := NewAuthorizer(CeilingMap{})
	_, err := a.Authorize(context.Background(), model, 100)
	if !errors.Is(err, ErrAuthorizationCancelled) {
		t.Fatalf("expected ErrAuthorizationCancelled, got %v", err)
	}
}

func TestRequiresConfirmation(t *testing.T) {
	tests := []struct {
		name  string
		model catalog.Model
		want  bool
	}{
		{"free model", catalog.Model{IsFree: true, Tier: catalog.TierPremium}, false},
		{"basic tier", catalog.Model{Tier: catalog.TierBasic}, false},
		{"medium tier", catalog.Model{Tier: catalog.TierMedium}, true},
		{"premium tier", catalog.Model{Tier: catalog.TierPremium}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RequiresConfirmation(tt.model); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSparksFromUsageRounding(t *testing.T) {
	pricing := catalog.Pricing{Prompt: 0.000001, Completion: 0.000002}

	costUSD, sparks := SparksFromUsage(1000, 500, pricing, true)

	if costUSD != 0.002 {
		t.Errorf("costUSD = %v, want 0.002", costUSD)
	}
	if sparks != 2.001 {
		t.Errorf("sparks = %v, want 2.001", sparks)
	}
}

func TestSparksFromUsageAbsentMetering(t *testing.T) {
	costUSD, sparks := SparksFromUsage(0, 0, catalog.Pricing{Prompt: 0.5}, false)

	if costUSD != 0 {
		t.Errorf("costUSD = %v, want 0", costUSD)
	}
	if sparks != FlatTransactionFee {
		t.Errorf("sparks = %v, want flat fee %v", sparks, FlatTransactionFee)
	}
}

func TestAuthorizeConcurrent(t *testing.T) {
	a := NewAuthorizer(AutoApprove)
	model := pricedModel(0.000002)

	done := make(chan error, 50)
	for i := 0; i < 50; i++ {
		go func() {
			_, err := a.Authorize(context.Background(), model, 100)
			done <- err
		}()
	}
	for i := 0; i < 50; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent authorize failed: %v", err)
		}
	}
}
