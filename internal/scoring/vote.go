package scoring

import (
	"github.com/formsense/formsense/pkg/types"
)

// Quality labels the coverage of a vote.
const (
	QualityFull    = "full"
	QualityPartial = "partial"
	QualityPoor    = "poor"
)

// fullQualityMin is the number of contributing criteria for a "full" vote.
const fullQualityMin = 3

// Criterion is one scored aspect of an exercise.
type Criterion struct {
	Name     string
	Requires []string
	Weight   float64
	Rule     Rule
	// HintSection selects the phrase section used for hints; defaults to Name.
	HintSection string
}

// CriterionScore is the per-criterion part of an Outcome.
type CriterionScore struct {
	Name      string
	Available bool
	Score     float64
	Scored    bool
	Reason    string
}

// Outcome is the result of Score.
type Outcome struct {
	Criteria []CriterionScore

	// Overall is defined only when HasOverall is true.
	Overall    float64
	HasOverall bool
	Quality    string

	Used    []string
	Skipped []string
	Caps    []AppliedCap
}

// ScoreOf returns the score of the named criterion.
func (o Outcome) ScoreOf(name string) (float64, bool) {
	for _, c := range o.Criteria {
		if c.Name == name {
			return c.Score, c.Scored
		}
	}
	return 0, false
}

// Score evaluates every criterion that available reports as available, then
// votes and applies caps. weights overrides Criterion.Weight per name.
func Score(criteria []Criterion, available func(name string) bool, weights map[string]float64,
	caps []Cap, m types.Measurements) Outcome {

	var out Outcome
	scores := make(map[string]float64, len(criteria))

	var num, den float64
	for _, c := range criteria {
		cs := CriterionScore{Name: c.Name}
		if !available(c.Name) {
			cs.Reason = "unavailable"
			out.Criteria = append(out.Criteria, cs)
			out.Skipped = append(out.Skipped, c.Name)
			continue
		}
		cs.Available = true

		res := Evaluate(c.Rule, m)
		cs.Score, cs.Scored, cs.Reason = res.Score, res.Scored, res.Reason
		out.Criteria = append(out.Criteria, cs)
		if !res.Scored {
			out.Skipped = append(out.Skipped, c.Name)
			continue
		}

		w := c.Weight
		if ov, ok := weights[c.Name]; ok {
			w = ov
		}
		scores[c.Name] = res.Score
		if w <= 0 {
			out.Skipped = append(out.Skipped, c.Name)
			continue
		}
		num += res.Score * w
		den += w
		out.Used = append(out.Used, c.Name)
	}

	if den <= 0 {
		out.Quality = QualityPoor
		return out
	}

	out.HasOverall = true
	out.Overall = clamp01(num / den)
	if len(out.Used) >= fullQualityMin {
		out.Quality = QualityFull
	} else {
		out.Quality = QualityPartial
	}
	out.Overall, out.Caps = ApplyCaps(out.Overall, caps, scores)
	return out
}
