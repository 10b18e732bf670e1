package catalog

// Tier is a coarse price/quality bucket assigned to each model.
type Tier string

// The four catalog tiers, ordered cheapest to most expensive.
const (
	TierBasic        Tier = "Basic"
	TierMedium       Tier = "Medium"
	TierProfessional Tier = "Professional"
	TierPremium      Tier = "Premium"
)

// Pricing holds the USD prices for a model: per prompt token, per completion
// token, and a flat amount per request.
type Pricing struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
	Request    float64 `json:"request"`
}

// Model is an upstream inference target from the provider catalog. Models are
// immutable once fetched for a session; the catalog is refreshed externally.
type Model struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Rank    int     `json:"rank"`
	Family  string  `json:"family"`
	Tier    Tier    `json:"tier"`
	IsFree  bool    `json:"is_free"`
	Pricing Pricing `json:"pricing"`
}
