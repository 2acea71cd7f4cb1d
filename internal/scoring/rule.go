package scoring

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/formsense/formsense/pkg/types"
)

// DefaultWarnScore is the score at the warn bound when a rule does not set one.
const DefaultWarnScore = 0.6

// Aggregate selects how a multi-key input is collapsed to one number.
type Aggregate string

const (
	AggValue  Aggregate = "value"
	AggMin    Aggregate = "min"
	AggMax    Aggregate = "max"
	AggMean   Aggregate = "mean"
	AggMaxAbs Aggregate = "max_abs"
)

// Input is the measurement a rule reads.
type Input struct {
	Agg  Aggregate
	Keys []string
}

// Resolve reads the input from m. ok is false when any key is missing or
// non-numeric.
func (in Input) Resolve(m types.Measurements) (float64, bool) {
	if len(in.Keys) == 0 {
		return 0, false
	}
	vals := make([]float64, 0, len(in.Keys))
	for _, k := range in.Keys {
		v, ok := m[k]
		if !ok || !v.IsNumber() || !v.Finite() {
			return 0, false
		}
		f, _ := v.Float()
		vals = append(vals, f)
	}
	switch in.Agg {
	case AggMin:
		return floats.Min(vals), true
	case AggMax:
		return floats.Max(vals), true
	case AggMean:
		return stat.Mean(vals, nil), true
	case AggMaxAbs:
		abs := make([]float64, len(vals))
		for i, v := range vals {
			abs[i] = math.Abs(v)
		}
		return floats.Max(abs), true
	default:
		return vals[0], true
	}
}

// Rule is a compiled scoring rule. The set of implementations is closed.
type Rule interface {
	// Keys returns the measurement keys the rule reads.
	Keys() []string
	rule()
}

// ThresholdWindow scores a value against good and bad bounds. When
// LargerIsBetter is false, values at or below Good score 1 and values at or
// above Bad score 0.
type ThresholdWindow struct {
	In             Input
	LargerIsBetter bool
	Good, Bad      float64
	Warn           *float64
	WarnScore      float64
}

// BandCenter gives full credit inside [MinOK, MaxOK] and falls linearly to 0
// at the cutoffs.
type BandCenter struct {
	In                   Input
	MinOK, MaxOK         float64
	MinCutoff, MaxCutoff float64
}

// SymmetricThreshold is a smaller-is-better threshold over |value|.
type SymmetricThreshold struct {
	In        Input
	Good, Bad float64
	Warn      *float64
	WarnScore float64
}

// BooleanFlag scores WhenTrue if the flag is truthy and WhenFalse otherwise.
type BooleanFlag struct {
	Key       string
	WhenTrue  float64
	WhenFalse float64
}

func (r ThresholdWindow) Keys() []string    { return r.In.Keys }
func (r BandCenter) Keys() []string         { return r.In.Keys }
func (r SymmetricThreshold) Keys() []string { return r.In.Keys }
func (r BooleanFlag) Keys() []string        { return []string{r.Key} }

func (ThresholdWindow) rule()    {}
func (BandCenter) rule()         {}
func (SymmetricThreshold) rule() {}
func (BooleanFlag) rule()        {}

// RuleSpec is the YAML shape of a criterion's scoring block.
type RuleSpec struct {
	Type      string   `yaml:"type"`
	Direction string   `yaml:"direction"`
	Key       string   `yaml:"key"`
	Keys      []string `yaml:"keys"`
	Agg       string   `yaml:"agg"`

	Good      *float64 `yaml:"good"`
	Warn      *float64 `yaml:"warn"`
	Bad       *float64 `yaml:"bad"`
	WarnScore *float64 `yaml:"warn_score"`
	MidScore  *float64 `yaml:"mid_score"`

	MinOK     *float64 `yaml:"min_ok"`
	MaxOK     *float64 `yaml:"max_ok"`
	Min       *float64 `yaml:"min"`
	Max       *float64 `yaml:"max"`
	MinCutoff *float64 `yaml:"min_cutoff"`
	MaxCutoff *float64 `yaml:"max_cutoff"`

	WhenTrue  *float64 `yaml:"when_true"`
	WhenFalse *float64 `yaml:"when_false"`
}

// Compile validates spec and returns the matching Rule.
func Compile(spec RuleSpec) (Rule, error) {
	switch spec.Type {
	case "threshold_window", "smaller_better", "bigger_better", "larger_better",
		"smaller_better_of_min", "abs_smaller_better_of_max":
		return compileThreshold(spec)
	case "band_center", "in_range", "tempo_window":
		return compileBand(spec)
	case "symmetric_threshold":
		in, err := compileInput(spec, AggValue)
		if err != nil {
			return nil, err
		}
		good, bad, err := bounds(spec)
		if err != nil {
			return nil, err
		}
		if good > bad {
			return nil, fmt.Errorf("scoring: symmetric_threshold: good %v above bad %v", good, bad)
		}
		return SymmetricThreshold{In: in, Good: good, Bad: bad, Warn: spec.Warn, WarnScore: warnScore(spec)}, nil
	case "boolean_flag":
		if spec.Key == "" {
			return nil, fmt.Errorf("scoring: boolean_flag: key is required")
		}
		if spec.WhenTrue == nil {
			return nil, fmt.Errorf("scoring: boolean_flag: when_true is required")
		}
		r := BooleanFlag{Key: spec.Key, WhenTrue: *spec.WhenTrue, WhenFalse: 1}
		if spec.WhenFalse != nil {
			r.WhenFalse = *spec.WhenFalse
		}
		if !in01(r.WhenTrue) || !in01(r.WhenFalse) {
			return nil, fmt.Errorf("scoring: boolean_flag: scores must be within [0,1]")
		}
		return r, nil
	case "":
		return nil, fmt.Errorf("scoring: rule type is required")
	default:
		return nil, fmt.Errorf("scoring: unknown rule type %q", spec.Type)
	}
}

func compileThreshold(spec RuleSpec) (Rule, error) {
	agg := AggValue
	switch spec.Type {
	case "smaller_better_of_min":
		agg = AggMin
	case "abs_smaller_better_of_max":
		agg = AggMaxAbs
	}
	in, err := compileInput(spec, agg)
	if err != nil {
		return nil, err
	}
	good, bad, err := bounds(spec)
	if err != nil {
		return nil, err
	}

	larger := spec.Type == "bigger_better" || spec.Type == "larger_better"
	switch spec.Direction {
	case "":
	case "smaller", "lower":
		larger = false
	case "larger", "higher", "bigger":
		larger = true
	default:
		return nil, fmt.Errorf("scoring: %s: unknown direction %q", spec.Type, spec.Direction)
	}
	if (!larger && good > bad) || (larger && good < bad) {
		return nil, fmt.Errorf("scoring: %s: good %v and bad %v are inverted", spec.Type, good, bad)
	}
	if spec.Warn != nil {
		w := *spec.Warn
		if w < math.Min(good, bad) || w > math.Max(good, bad) {
			return nil, fmt.Errorf("scoring: %s: warn %v outside [good,bad]", spec.Type, w)
		}
	}
	return ThresholdWindow{
		In:             in,
		LargerIsBetter: larger,
		Good:           good,
		Bad:            bad,
		Warn:           spec.Warn,
		WarnScore:      warnScore(spec),
	}, nil
}

func compileBand(spec RuleSpec) (Rule, error) {
	in, err := compileInput(spec, AggValue)
	if err != nil {
		return nil, err
	}
	minOK, maxOK := spec.MinOK, spec.MaxOK
	if minOK == nil {
		minOK = spec.Min
	}
	if maxOK == nil {
		maxOK = spec.Max
	}
	if minOK == nil || maxOK == nil || spec.MinCutoff == nil || spec.MaxCutoff == nil {
		return nil, fmt.Errorf("scoring: %s: min_ok, max_ok, min_cutoff and max_cutoff are required", spec.Type)
	}
	r := BandCenter{In: in, MinOK: *minOK, MaxOK: *maxOK, MinCutoff: *spec.MinCutoff, MaxCutoff: *spec.MaxCutoff}
	if !(r.MinCutoff <= r.MinOK && r.MinOK <= r.MaxOK && r.MaxOK <= r.MaxCutoff) {
		return nil, fmt.Errorf("scoring: %s: bounds must satisfy min_cutoff <= min_ok <= max_ok <= max_cutoff", spec.Type)
	}
	return r, nil
}

func compileInput(spec RuleSpec, def Aggregate) (Input, error) {
	in := Input{Agg: def}
	if spec.Agg != "" {
		in.Agg = Aggregate(spec.Agg)
	}
	switch in.Agg {
	case AggValue, AggMin, AggMax, AggMean, AggMaxAbs:
	default:
		return Input{}, fmt.Errorf("scoring: %s: unknown aggregate %q", spec.Type, spec.Agg)
	}
	switch {
	case len(spec.Keys) > 0:
		in.Keys = spec.Keys
		if in.Agg == AggValue && len(in.Keys) > 1 {
			return Input{}, fmt.Errorf("scoring: %s: several keys need an aggregate", spec.Type)
		}
	case spec.Key != "":
		in.Keys = []string{spec.Key}
	default:
		return Input{}, fmt.Errorf("scoring: %s: key or keys is required", spec.Type)
	}
	return in, nil
}

func bounds(spec RuleSpec) (good, bad float64, err error) {
	if spec.Good == nil || spec.Bad == nil {
		return 0, 0, fmt.Errorf("scoring: %s: good and bad are required", spec.Type)
	}
	return *spec.Good, *spec.Bad, nil
}

func warnScore(spec RuleSpec) float64 {
	switch {
	case spec.WarnScore != nil:
		return *spec.WarnScore
	case spec.MidScore != nil:
		return *spec.MidScore
	default:
		return DefaultWarnScore
	}
}

func in01(v float64) bool { return v >= 0 && v <= 1 }
