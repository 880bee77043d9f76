// Package scorer ranks candidate ontology mappings for a property value and
// assigns a confidence to the resulting prediction.
package scorer

import (
	"math"
	"strings"

	"github.com/agext/levenshtein"
	"golang.org/x/text/cases"
)

// alignment weighs gaps twice as heavily as mismatches. The prefix bonus is
// disabled so the score stays symmetric.
var alignment = levenshtein.NewParams().
	InsCost(2).
	DelCost(2).
	SubCost(1).
	BonusScale(0)

// EditSimilarity is the weighted edit-distance similarity of a and b in
// [0,1]. Two empty strings are identical.
func EditSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	return levenshtein.Similarity(a, b, alignment)
}

// TokenSimilarity is the Jaccard index of the whitespace-separated token
// sets of a and b.
func TokenSimilarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

// Lexical combines both similarity measures and squares the mean, so weak
// matches fall away quickly.
func Lexical(query, matched string) float64 {
	mean := (EditSimilarity(query, matched) + TokenSimilarity(query, matched)) / 2
	return math.Pow(mean, 2)
}

// LexicalFold is Lexical after case folding both strings.
func LexicalFold(query, matched string) float64 {
	return Lexical(fold(query), fold(matched))
}

func fold(s string) string {
	return cases.Fold().String(s)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
