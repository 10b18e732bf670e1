// Package conflict flags pairs of model answers that disagree with each
// other. Detection is a deterministic lexical heuristic so that the same
// inputs always produce the same flags, regardless of call ordering.
package conflict

import (
	"regexp"
	"strings"
)

// similarityThreshold is the Jaccard token overlap below which two answers
// are considered to diverge. Tuned against multi-source dispatches where
// agreeing models paraphrase each other heavily.
const similarityThreshold = 0.22

// minTokens guards against flagging trivially short answers, which share
// almost no vocabulary even when they agree.
const minTokens = 8

var (
	wordPattern   = regexp.MustCompile(`[a-z0-9]+(?:\.[0-9]+)?`)
	numberPattern = regexp.MustCompile(`-?[0-9]+(?:\.[0-9]+)?`)
)

// Answer is one model response under comparison.
type Answer struct {
	ID   string
	Text string
}

// Pair is an unordered pair of answer IDs judged to disagree. A is always
// the answer that appeared first in the input.
type Pair struct {
	A string
	B string
}

// Pairs compares every pair of answers and returns the disagreeing ones in
// input order. The relation is symmetric and an answer is never paired with
// itself.
func Pairs(answers []Answer) []Pair {
	if len(answers) < 2 {
		return nil
	}

	tokens := make([]map[string]struct{}, len(answers))
	numbers := make([]map[string]struct{}, len(answers))
	for i, a := range answers {
		tokens[i] = tokenSet(a.Text)
		numbers[i] = numberSet(a.Text)
	}

	var pairs []Pair
	for i := 0; i < len(answers); i++ {
		for j := i + 1; j < len(answers); j++ {
			if pairConflicts(tokens[i], tokens[j], numbers[i], numbers[j]) {
				pairs = append(pairs, Pair{A: answers[i].ID, B: answers[j].ID})
			}
		}
	}
	return pairs
}

// Detect returns the IDs of answers that conflict with at least one other,
// in input order.
func Detect(answers []Answer) []string {
	flagged := make(map[string]struct{})
	for _, p := range Pairs(answers) {
		flagged[p.A] = struct{}{}
		flagged[p.B] = struct{}{}
	}
	if len(flagged) == 0 {
		return nil
	}

	ids := make([]string, 0, len(flagged))
	for _, a := range answers {
		if _, ok := flagged[a.ID]; ok {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// pairConflicts reports whether two answers disagree. Either a low lexical
// overlap or a direct numeric contradiction counts.
func pairConflicts(ta, tb, na, nb map[string]struct{}) bool {
	if len(ta) < minTokens || len(tb) < minTokens {
		return false
	}
	if numbersDisagree(na, nb) {
		return true
	}
	return jaccard(ta, tb) < similarityThreshold
}

// numbersDisagree reports a contradiction when both answers state numeric
// claims but share none of them.
func numbersDisagree(na, nb map[string]struct{}) bool {
	if len(na) == 0 || len(nb) == 0 {
		return false
	}
	for n := range na {
		if _, ok := nb[n]; ok {
			return false
		}
	}
	return true
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		set[tok] = struct{}{}
	}
	return set
}

func numberSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, n := range numberPattern.FindAllString(text, -1) {
		set[n] = struct{}{}
	}
	return set
}
