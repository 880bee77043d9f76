package scorer

import (
	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/config"
)

// Confidence is how much a prediction can be trusted. It belongs to the
// whole result set, not to individual candidates.
type Confidence string

// Confidence levels.
const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceGood   Confidence = "GOOD"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

const (
	// normFloor is where a candidate with no similarity lands after Normalize.
	normFloor = 50
	// olsCeiling caps ontology-only candidates below curated ones.
	olsCeiling = 75
)

// Result is a candidate with its normalized score.
type Result struct {
	Candidate  *Candidate `json:"candidate"`
	Score      float64    `json:"score"`
	Confidence Confidence `json:"confidence"`
}

// Prediction is the ranked outcome of scoring a query.
type Prediction struct {
	Query      string     `json:"query"`
	Type       string     `json:"type,omitempty"`
	Results    []Result   `json:"results"`
	Confidence Confidence `json:"confidence"`
}

// Calculator runs the prediction pipeline: score, normalize, cut off and
// classify.
type Calculator struct {
	scorer Scorer
	cfg    config.ScoringConfig
	log    *zap.Logger
}

// NewCalculator creates a Calculator. A nil scorer uses a StringQualityScorer
// honouring cfg.CaseSensitive.
func NewCalculator(s Scorer, cfg config.ScoringConfig) *Calculator {
	if s == nil {
		s = StringQualityScorer{CaseSensitive: cfg.CaseSensitive}
	}
	return &Calculator{
		scorer: s,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "scorer")),
	}
}

// Predict ranks cands against query and, when typ is set, property type.
func (c *Calculator) Predict(cands []*Candidate, query, typ string) Prediction {
	maxBefore := 0.0
	for _, cand := range cands {
		if b := cand.base(); b > maxBefore {
			maxBefore = b
		}
	}

	var raw map[*Candidate]float64
	if typ != "" {
		raw = c.scorer.ScoreTyped(cands, query, typ)
	} else {
		raw = c.scorer.ScoreQuery(cands, query)
	}

	scored := Scored(raw)
	for i := range scored {
		scored[i].Value = Normalize(maxBefore, scored[i].Value)
	}

	kept := Cutoff(scored, c.cfg.CutoffPercentage, c.cfg.CutoffScore)
	degradeOLS(kept)

	confidence := Classify(kept, c.cfg.CutoffScore)
	pred := Prediction{
		Query:      query,
		Type:       typ,
		Results:    make([]Result, 0, len(kept)),
		Confidence: confidence,
	}
	for _, s := range kept {
		pred.Results = append(pred.Results, Result{
			Candidate:  s.Candidate,
			Score:      s.Value,
			Confidence: confidence,
		})
	}

	c.log.Debug("scorer: prediction complete",
		zap.String("query", query),
		zap.Int("candidates", len(cands)),
		zap.Int("kept", len(kept)),
		zap.String("confidence", string(confidence)),
	)
	return pred
}

// Normalize maps a post-scoring value onto [50,100] relative to the best
// pre-scoring value. A candidate that kept its full score gets 100.
func Normalize(maxBefore, s float64) float64 {
	if maxBefore <= 0 {
		return normFloor
	}
	dx := 100 * (maxBefore - s) / maxBefore
	return normFloor + normFloor*(100-dx)/100
}

// Cutoff keeps candidates scoring at least pct of the top score and at
// least minScore, highest first.
func Cutoff(scored []ScoredCandidate, pct, minScore float64) []ScoredCandidate {
	if len(scored) == 0 {
		return nil
	}
	sorted := append([]ScoredCandidate(nil), scored...)
	sortScored(sorted)

	floor := sorted[0].Value * pct
	out := make([]ScoredCandidate, 0, len(sorted))
	for _, s := range sorted {
		if s.Value >= floor && s.Value >= minScore {
			out = append(out, s)
		}
	}
	return out
}

// Classify assigns the confidence of a filtered result set. A candidate
// clears the cutoff when its score exceeds minScore.
func Classify(filtered []ScoredCandidate, minScore float64) Confidence {
	if len(filtered) == 0 {
		return ConfidenceLow
	}
	cleared := false
	for _, s := range filtered {
		if s.Value > minScore {
			cleared = true
			break
		}
	}
	switch {
	case cleared && len(filtered) == 1:
		return ConfidenceHigh
	case cleared, len(filtered) == 1:
		return ConfidenceGood
	default:
		return ConfidenceMedium
	}
}

// degradeOLS pulls ontology-only candidates down so the best of them sits at
// 75, keeping their distance from the top score.
func degradeOLS(kept []ScoredCandidate) {
	if len(kept) == 0 {
		return
	}
	top := kept[0].Value
	changed := false
	for i := range kept {
		if kept[i].Origin == OriginOLS {
			kept[i].Value = olsCeiling - (top - kept[i].Value)
			changed = true
		}
	}
	if changed {
		sortScored(kept)
	}
}
