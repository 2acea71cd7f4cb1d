package scoring

import (
	"fmt"
	"math"

	"github.com/formsense/formsense/pkg/types"
)

// Result is the outcome of evaluating one rule.
type Result struct {
	Score  float64
	Scored bool
	// Reason explains a missing score.
	Reason string
}

// Evaluate applies rule to m. It never panics; a missing or non-numeric input
// yields an unscored Result.
func Evaluate(rule Rule, m types.Measurements) Result {
	switch r := rule.(type) {
	case ThresholdWindow:
		v, ok := r.In.Resolve(m)
		if !ok {
			return missing(r.In.Keys)
		}
		if r.LargerIsBetter {
			return scored(largerBetter(v, r.Good, r.Bad, r.Warn, r.WarnScore))
		}
		return scored(smallerBetter(v, r.Good, r.Bad, r.Warn, r.WarnScore))
	case SymmetricThreshold:
		v, ok := r.In.Resolve(m)
		if !ok {
			return missing(r.In.Keys)
		}
		return scored(smallerBetter(math.Abs(v), r.Good, r.Bad, r.Warn, r.WarnScore))
	case BandCenter:
		v, ok := r.In.Resolve(m)
		if !ok {
			return missing(r.In.Keys)
		}
		return scored(band(v, r.MinOK, r.MaxOK, r.MinCutoff, r.MaxCutoff))
	case BooleanFlag:
		v, ok := m[r.Key]
		if !ok {
			return missing([]string{r.Key})
		}
		if v.Truthy() {
			return scored(r.WhenTrue)
		}
		return scored(r.WhenFalse)
	case nil:
		return Result{Reason: "no_rule"}
	default:
		return Result{Reason: fmt.Sprintf("unsupported_rule:%T", rule)}
	}
}

func scored(s float64) Result { return Result{Score: clamp01(s), Scored: true} }

func missing(keys []string) Result {
	return Result{Reason: fmt.Sprintf("missing_input:%v", keys)}
}

// linmap maps x from [x0,x1] onto [y0,y1], clamping to the segment.
func linmap(x, x0, x1, y0, y1 float64) float64 {
	if x0 == x1 {
		return y0
	}
	t := (x - x0) / (x1 - x0)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return y0 + t*(y1-y0)
}

func smallerBetter(v, good, bad float64, warn *float64, mid float64) float64 {
	if v <= good {
		return 1
	}
	if warn != nil && v <= *warn {
		return linmap(v, good, *warn, 1, mid)
	}
	if v >= bad {
		return 0
	}
	if warn != nil {
		return linmap(v, *warn, bad, mid, 0)
	}
	return linmap(v, good, bad, 1, 0)
}

func largerBetter(v, good, bad float64, warn *float64, mid float64) float64 {
	if v >= good {
		return 1
	}
	if warn != nil && v >= *warn {
		return linmap(v, *warn, good, mid, 1)
	}
	if v <= bad {
		return 0
	}
	if warn != nil {
		return linmap(v, bad, *warn, 0, mid)
	}
	return linmap(v, bad, good, 0, 1)
}

func band(v, minOK, maxOK, minCut, maxCut float64) float64 {
	switch {
	case v >= minOK && v <= maxOK:
		return 1
	case v < minOK:
		if v <= minCut {
			return 0
		}
		return linmap(v, minCut, minOK, 0, 1)
	default:
		if v >= maxCut {
			return 0
		}
		return linmap(v, maxOK, maxCut, 1, 0)
	}
}

// clamp01 constrains v to [0, 1].
func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
