// Package budget converts a spend ceiling in sparks into a hard completion
// token cap for a single upstream call, and decides whether the spend needs an
// explicit confirmation first.
package budget

import (
	"context"
	"errors"
	"math"

	"github.com/sparkgate/sparkgate/internal/catalog"
)

// Spark economy constants. Sparks are the user's spendable balance unit,
// convertible to USD at a fixed rate.
const (
	// USDToSparks is the fixed conversion rate from USD to sparks.
	USDToSparks = 1000.0
	// FlatTransactionFee is charged in sparks on every upstream call,
	// independent of token usage.
	FlatTransactionFee = 0.001
	// StartingSparks is the balance granted to a newly created account.
	StartingSparks = 100.0
)

// Authorization failures. These occur before any upstream request is made.
var (
	ErrInsufficientBalance    = errors.New("balance below the minimum transaction fee")
	ErrAuthorizationCancelled = errors.New("spend authorization cancelled")
	ErrBudgetTooLow           = errors.New("budget too low to generate any tokens")
)

// Confirmer obtains an explicit spend ceiling for a model whose tier requires
// it. Implementations may block (e.g. on a human decision); returning
// ErrAuthorizationCancelled declines the spend.
type Confirmer interface {
	ConfirmCeiling(ctx context.Context, model catalog.Model, balance float64) (float64, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, model catalog.Model, balance float64) (float64, error)

// ConfirmCeiling calls f.
func (f ConfirmerFunc) ConfirmCeiling(ctx context.Context, model catalog.Model, balance float64) (float64, error) {
	return f(ctx, model, balance)
}

// AutoApprove is a Confirmer that authorizes the caller's entire balance
// without asking. Used for auxiliary calls (summary synthesis, chat
// continuation) that are not individually budgeted by the user.
var AutoApprove Confirmer = ConfirmerFunc(func(_ context.Context, _ catalog.Model, balance float64) (float64, error) {
	return balance, nil
})

// CeilingMap is a Confirmer backed by pre-confirmed ceilings keyed by model
// ID. The confirmation itself happened outside the engine (the presentation
// layer's spend dialog); a model with no entry counts as declined.
type CeilingMap map[string]float64

// ConfirmCeiling returns the pre-confirmed ceiling for the model, or
// ErrAuthorizationCancelled when none was supplied.
func (c CeilingMap) ConfirmCeiling(_ context.Context, model catalog.Model, _ float64) (float64, error) {
	ceiling, ok := c[model.ID]
	if !ok || ceiling <= 0 {
		return 0, ErrAuthorizationCancelled
	}
	return ceiling, nil
}

// Authorization is the approved spend for exactly one upstream call. It is
// never reused.
type Authorization struct {
	Model     catalog.Model
	Ceiling   float64 // sparks the caller may spend on this call
	MaxTokens int     // completion token cap; meaningful only when Capped
	Capped    bool
}

// Authorizer derives Authorizations from a model, a requested ceiling, and the
// caller's balance. It holds no mutable state and is safe for concurrent use.
type Authorizer struct {
	confirm Confirmer
}

// NewAuthorizer creates an Authorizer that obtains ceilings from the given
// Confirmer when a model's tier requires explicit approval.
func NewAuthorizer(confirm Confirmer) *Authorizer {
	return &Authorizer{confirm: confirm}
}

// Authorize produces the spend authorization for one call to model given the
// caller's current balance. Free and Basic-tier models never require
// confirmation; their ceiling defaults to the entire balance. All other tiers
// go through the Confirmer.
func (a *Authorizer) Authorize(ctx context.Context, model catalog.Model, balance float64) (Authorization, error) {
	if balance < FlatTransactionFee {
		return Authorization{}, ErrInsufficientBalance
	}

	ceiling := balance
	if RequiresConfirmation(model) {
		c, err := a.confirm.ConfirmCeiling(ctx, model, balance)
		if err != nil {
			return Authorization{}, err
		}
		ceiling = c
	}

	auth := Authorization{Model: model, Ceiling: ceiling}

	// Models with no completion price cannot run away on output cost, so
	// their token budget stays uncapped.
	if model.Pricing.Completion <= 0 {
		return auth, nil
	}

	usable := ceiling - FlatTransactionFee
	if usable <= 0 {
		return Authorization{}, ErrBudgetTooLow
	}
	tokens := int(math.Floor((usable / USDToSparks) / model.Pricing.Completion))
	if tokens <= 0 {
		return Authorization{}, ErrBudgetTooLow
	}

	auth.MaxTokens = tokens
	auth.Capped = true
	return auth, nil
}

// RequiresConfirmation reports whether spending on the model needs an
// explicit, externally supplied ceiling.
func RequiresConfirmation(model catalog.Model) bool {
	return !model.IsFree && model.Tier != catalog.TierBasic
}

// SparksFromUsage computes the USD cost and the spark charge for one call
// given metered token usage and the model's pricing. A nil usage (metering
// entirely absent upstream) charges the flat fee only.
func SparksFromUsage(promptTokens, completionTokens int, pricing catalog.Pricing, hasUsage bool) (costUSD, sparks float64) {
	if !hasUsage {
		return 0, FlatTransactionFee
	}

	promptCost := float64(promptTokens) * pricing.Prompt
	completionCost := float64(completionTokens) * pricing.Completion
	costUSD = promptCost + completionCost + pricing.Request

	// Charges are rounded to four decimal places of a spark.
	sparks = math.Round((costUSD*USDToSparks+FlatTransactionFee)*10000) / 10000
	return costUSD, sparks
}
