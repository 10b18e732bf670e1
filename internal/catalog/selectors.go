package catalog

import "sort"

// defaultFanOutSize is the number of distinct provider families queried by the
// automatic multi-source, summary, and conflict modes.
const defaultFanOutSize = 3

// byRank orders models by ascending rank, breaking ties by ID so selection is
// deterministic over any input ordering.
func byRank(models []Model) []Model {
	sorted := make([]Model, len(models))
	copy(sorted, models)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// StandardModels returns the free models in rank order. Standard mode walks
// this list as a fallback chain.
func StandardModels(models []Model) []Model {
	var free []Model
	for _, m := range byRank(models) {
		if m.IsFree {
			free = append(free, m)
		}
	}
	return free
}

// MultiSourceModels returns the best-ranked model from each of the top
// distinct provider families. Fanning out across families keeps the answers
// independent of one another.
func MultiSourceModels(models []Model) []Model {
	seen := make(map[string]bool)
	var picked []Model
	for _, m := range byRank(models) {
		if seen[m.Family] {
			continue
		}
		seen[m.Family] = true
		picked = append(picked, m)
		if len(picked) == defaultFanOutSize {
			break
		}
	}
	return picked
}

// SummaryModels returns the default candidate set for summary mode.
func SummaryModels(models []Model) []Model {
	return MultiSourceModels(models)
}

// ConflictModels returns the default candidate set for conflict mode.
// Disagreement detection needs answers from unrelated providers.
func ConflictModels(models []Model) []Model {
	return MultiSourceModels(models)
}

// ByID returns the model with the given ID, or false if it is not in the set.
func ByID(models []Model, id string) (Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}
