package scoring

import (
	"fmt"
	"strconv"
	"strings"
)

// Cap lowers the overall score to Ceiling when a criterion score satisfies
// the condition "<Criterion> <Op> <Threshold>".
type Cap struct {
	When      string
	Criterion string
	Op        string
	Threshold float64
	Ceiling   float64
}

// AppliedCap records one cap that fired.
type AppliedCap struct {
	When   string  `json:"when"`
	Cap    float64 `json:"cap"`
	Actual float64 `json:"actual"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// CapSpec is the YAML shape of one safety cap.
type CapSpec struct {
	When string  `yaml:"when"`
	Cap  float64 `yaml:"cap"`
}

// ParseCap compiles a condition such as "knee_valgus <= 0.4".
//
// Supported operators: <, <=, >, >=, ==.
func ParseCap(when string, ceiling float64) (Cap, error) {
	parts := strings.Fields(when)
	if len(parts) != 3 {
		return Cap{}, fmt.Errorf("scoring: cap %q: want \"<criterion> <op> <value>\"", when)
	}
	field, op, rhs := parts[0], parts[1], parts[2]
	switch op {
	case "<", "<=", ">", ">=", "==":
	default:
		return Cap{}, fmt.Errorf("scoring: cap %q: unknown operator %q", when, op)
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return Cap{}, fmt.Errorf("scoring: cap %q: parse threshold: %w", when, err)
	}
	if ceiling < 0 || ceiling > 1 {
		return Cap{}, fmt.Errorf("scoring: cap %q: ceiling %v outside [0,1]", when, ceiling)
	}
	return Cap{When: when, Criterion: field, Op: op, Threshold: threshold, Ceiling: ceiling}, nil
}

// ApplyCaps applies caps in order. Caps whose criterion has no score are
// skipped. The returned score is never above overall.
func ApplyCaps(overall float64, caps []Cap, scores map[string]float64) (float64, []AppliedCap) {
	var applied []AppliedCap
	for _, c := range caps {
		v, ok := scores[c.Criterion]
		if !ok || !compareFloat(v, c.Op, c.Threshold) {
			continue
		}
		before := overall
		if c.Ceiling < overall {
			overall = c.Ceiling
		}
		applied = append(applied, AppliedCap{
			When:   c.When,
			Cap:    c.Ceiling,
			Actual: v,
			Before: before,
			After:  overall,
		})
	}
	return overall, applied
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
