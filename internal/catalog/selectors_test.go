package catalog

import "testing"

func testCatalog() []Model {
	return []Model{
		{ID: "acme/large", Name: "Acme Large", Rank: 4, Family: "acme", Tier: TierProfessional,
			Pricing: Pricing{Prompt: 0.000003, Completion: 0.000015}},
		{ID: "acme/small", Name: "Acme Small", Rank: 1, Family: "acme", Tier: TierBasic, IsFree: true},
		{ID: "borealis/chat", Name: "Borealis Chat", Rank: 2, Family: "borealis", Tier: TierMedium,
			Pricing: Pricing{Prompt: 0.000001, Completion: 0.000002}},
		{ID: "cirrus/free", Name: "Cirrus Free", Rank: 3, Family: "cirrus", Tier: TierBasic, IsFree: true},
		{ID: "cirrus/pro", Name: "Cirrus Pro", Rank: 5, Family: "cirrus", Tier: TierPremium,
			Pricing: Pricing{Prompt: 0.00001, Completion: 0.00003, Request: 0.002}},
	}
}

func TestStandardModelsFreeOnlyInRankOrder(t *testing.T) {
	got := StandardModels(testCatalog())

	want := []string{"acme/small", "cirrus/free"}
	if len(got) != len(want) {
		t.Fatalf("expected %d models, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestMultiSourceModelsDistinctFamilies(t *testing.T) {
	got := MultiSourceModels(testCatalog())

	if len(got) != 3 {
		t.Fatalf("expected 3 models, got %d", len(got))
	}
	seen := make(map[string]bool)
	for _, m := range got {
		if seen[m.Family] {
			t.Errorf("family %q selected twice", m.Family)
		}
		seen[m.Family] = true
	}
	// Best-ranked representative of each family.
	if got[0].ID != "acme/small" || got[1].ID != "borealis/chat" || got[2].ID != "cirrus/free" {
		t.Errorf("unexpected selection: %v, %v, %v", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestMultiSourceModelsDeterministic(t *testing.T) {
	models := testCatalog()
	// Reverse the input ordering; selection must not change.
	reversed := make([]Model, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		reversed = append(reversed, models[i])
	}

	a := MultiSourceModels(models)
	b := MultiSourceModels(reversed)

	if len(a) != len(b) {
		t.Fatalf("selection size differs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("position %d differs: %q vs %q", i, a[i].ID, b[i].ID)
		}
	}
}

func TestByID(t *testing.T) {
	models := testCatalog()

	m, ok := ByID(models, "borealis/chat")
	if !ok {
		t.Fatal("expected to find borealis/chat")
	}
	if m.Name != "Borealis Chat" {
		t.Errorf("got name %q, want %q", m.Name, "Borealis Chat")
	}

	if _, ok := ByID(models, "nope/missing"); ok {
		t.Error("expected missing model to report not found")
	}
}
