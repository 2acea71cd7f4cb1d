package availability

import (
	"fmt"
	"strings"

	"github.com/formsense/formsense/internal/library"
	"github.com/formsense/formsense/pkg/types"
)

// ReasonMissingCritical prefixes the unscored reason.
const ReasonMissingCritical = "missing_critical"

// Criterion is the availability of one criterion.
type Criterion struct {
	Name      string
	Available bool
	Missing   []string
	Reason    string
}

// Result is the availability of every criterion of an exercise.
type Result struct {
	Criteria        []Criterion
	Unscored        bool
	MissingCritical []string
	Reason          string
}

// Available reports whether the named criterion is available.
func (r Result) Available(name string) bool {
	for _, c := range r.Criteria {
		if c.Name == name {
			return c.Available
		}
	}
	return false
}

// Count returns the number of available criteria.
func (r Result) Count() int {
	n := 0
	for _, c := range r.Criteria {
		if c.Available {
			n++
		}
	}
	return n
}

// Evaluate checks every criterion's required keys against m. A key counts as
// present when it exists with a finite value.
func Evaluate(ex *library.Exercise, m types.Measurements) Result {
	var res Result
	for _, c := range ex.Criteria {
		ca := Criterion{Name: c.Name}
		for _, key := range c.Requires {
			v, ok := m[key]
			if !ok || !v.Finite() {
				ca.Missing = append(ca.Missing, key)
			}
		}
		ca.Available = len(ca.Missing) == 0
		if !ca.Available {
			ca.Reason = fmt.Sprintf("missing: %s", strings.Join(ca.Missing, ", "))
		}
		res.Criteria = append(res.Criteria, ca)
	}

	for _, name := range ex.Critical {
		if !res.Available(name) {
			res.MissingCritical = append(res.MissingCritical, name)
		}
	}
	if len(res.MissingCritical) > 0 {
		res.Unscored = true
		res.Reason = fmt.Sprintf("%s: %s", ReasonMissingCritical, strings.Join(res.MissingCritical, ", "))
	}
	return res
}
