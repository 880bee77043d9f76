package scorer

import (
	"sort"

	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/resolve"
)

// OriginOLS marks candidates found only by ontology lookup rather than in
// curated annotations.
const OriginOLS = "ols"

// Candidate is one possible mapping for a queried property value.
type Candidate struct {
	Annotation *model.Annotation `json:"annotation"`
	// MatchedText is the text the search matched, usually the property value.
	MatchedText string `json:"matched_text"`
	// Score is the search score before lexical scoring. Zero means the
	// annotation's quality is used instead.
	Score  float64 `json:"score"`
	Origin string  `json:"origin,omitempty"`
}

// FromAnnotations wraps stored annotations as candidates matched on their
// property values.
func FromAnnotations(annotations []*model.Annotation) []*Candidate {
	out := make([]*Candidate, 0, len(annotations))
	for _, a := range annotations {
		if a == nil {
			continue
		}
		c := &Candidate{Annotation: a}
		if a.Property != nil {
			c.MatchedText = a.Property.Value
		}
		if a.Provenance != nil {
			c.Origin = a.Provenance.Source.Name
		}
		out = append(out, c)
	}
	return out
}

// base is the candidate's score before lexical weighting.
func (c *Candidate) base() float64 {
	if c.Score > 0 {
		return c.Score
	}
	if c.Annotation == nil {
		return 0
	}
	return c.Annotation.Quality()
}

// Scorer scores a set of candidates. Every candidate passed in appears in
// the returned map.
type Scorer interface {
	Score(cands []*Candidate) map[*Candidate]float64
	ScoreQuery(cands []*Candidate, query string) map[*Candidate]float64
	ScoreTyped(cands []*Candidate, query, typ string) map[*Candidate]float64
}

// ScoredCandidate pairs a candidate with a score.
type ScoredCandidate struct {
	*Candidate
	Value float64
}

// Scored flattens a score map into a slice sorted by descending score, ties
// broken by annotation URI.
func Scored(scores map[*Candidate]float64) []ScoredCandidate {
	out := make([]ScoredCandidate, 0, len(scores))
	for c, s := range scores {
		out = append(out, ScoredCandidate{Candidate: c, Value: s})
	}
	sortScored(out)
	return out
}

func sortScored(s []ScoredCandidate) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Value != s[j].Value {
			return s[i].Value > s[j].Value
		}
		return uriOf(s[i].Candidate) < uriOf(s[j].Candidate)
	})
}

func uriOf(c *Candidate) string {
	if c == nil || c.Annotation == nil {
		return ""
	}
	return c.Annotation.URI
}

// QualityScorer ranks on quality alone and ignores the query.
type QualityScorer struct{}

// Score implements Scorer.
func (QualityScorer) Score(cands []*Candidate) map[*Candidate]float64 {
	out := make(map[*Candidate]float64, len(cands))
	for _, c := range cands {
		out[c] = c.base()
	}
	return out
}

// ScoreQuery implements Scorer.
func (q QualityScorer) ScoreQuery(cands []*Candidate, _ string) map[*Candidate]float64 {
	return q.Score(cands)
}

// ScoreTyped implements Scorer.
func (q QualityScorer) ScoreTyped(cands []*Candidate, _, _ string) map[*Candidate]float64 {
	return q.Score(cands)
}

// StringQualityScorer weights quality by the lexical similarity between the
// query and each candidate's matched text.
type StringQualityScorer struct {
	CaseSensitive bool
}

// Score implements Scorer. Without a query there is nothing to compare, so
// this is quality only.
func (s StringQualityScorer) Score(cands []*Candidate) map[*Candidate]float64 {
	return QualityScorer{}.Score(cands)
}

// ScoreQuery implements Scorer.
func (s StringQualityScorer) ScoreQuery(cands []*Candidate, query string) map[*Candidate]float64 {
	out := make(map[*Candidate]float64, len(cands))
	for _, c := range cands {
		out[c] = c.base() * s.similarity(query, c.MatchedText)
	}
	return out
}

// ScoreTyped implements Scorer. Candidates whose property type differs from
// typ after normalization score 0. An empty typ matches everything.
func (s StringQualityScorer) ScoreTyped(cands []*Candidate, query, typ string) map[*Candidate]float64 {
	out := s.ScoreQuery(cands, query)
	if typ == "" {
		return out
	}
	want := resolve.NormalizeType(&model.Property{Type: typ})
	for c := range out {
		var p *model.Property
		if c.Annotation != nil {
			p = c.Annotation.Property
		}
		if resolve.NormalizeType(p) != want {
			out[c] = 0
		}
	}
	return out
}

func (s StringQualityScorer) similarity(query, matched string) float64 {
	if s.CaseSensitive {
		return Lexical(query, matched)
	}
	return LexicalFold(query, matched)
}
