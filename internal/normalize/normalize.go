package normalize

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/formsense/formsense/pkg/types"
)

// Rewrite records one raw key that was renamed to its canonical key.
type Rewrite struct {
	Raw       string `json:"raw"`
	Canonical string `json:"canonical"`
}

// Conflict records disagreeing reporters for one canonical key.
type Conflict struct {
	Canonical string        `json:"canonical"`
	Unit      string        `json:"unit,omitempty"`
	Tolerance float64       `json:"tolerance"`
	Keys      []string      `json:"keys"`
	Values    []types.Value `json:"values"`
}

// Stats summarises one normalization pass.
type Stats struct {
	InputKeys     int `json:"input_keys"`
	CanonicalKeys int `json:"canonical_keys"`
	Rewrites      int `json:"rewrites"`
	Conflicts     int `json:"conflicts"`
	Unknowns      int `json:"unknowns"`
	Invalid       int `json:"invalid"`
}

// Result is the output of Normalize.
type Result struct {
	Canonical types.Measurements
	Rewrites  []Rewrite
	Conflicts []Conflict
	Unknowns  []string
	// Invalid lists raw keys whose value was a non-finite number.
	Invalid []string
	Stats   Stats
}

// Normalizer rewrites raw measurements onto canonical keys. It holds no
// mutable state and is safe for concurrent use.
type Normalizer struct {
	aliases *Aliases
}

// New returns a Normalizer backed by a.
func New(a *Aliases) *Normalizer {
	return &Normalizer{aliases: a}
}

type reporter struct {
	key string
	val types.Value
}

// Normalize maps raw onto canonical keys. Keys are visited in sorted order so
// that the result, including conflict listings, is deterministic.
func (n *Normalizer) Normalize(raw types.Measurements) Result {
	res := Result{Canonical: make(types.Measurements)}
	res.Stats.InputKeys = len(raw)

	groups := make(map[string][]reporter)
	for _, key := range raw.Keys() {
		val := raw[key].Coerce()
		if !val.Finite() {
			res.Invalid = append(res.Invalid, key)
			continue
		}
		canon, ok := n.aliases.Canonical(key)
		if !ok {
			res.Unknowns = append(res.Unknowns, key)
			continue
		}
		if canon != key {
			res.Rewrites = append(res.Rewrites, Rewrite{Raw: key, Canonical: canon})
		}
		groups[canon] = append(groups[canon], reporter{key: key, val: val})
	}

	canonKeys := make([]string, 0, len(groups))
	for k := range groups {
		canonKeys = append(canonKeys, k)
	}
	sort.Strings(canonKeys)

	for _, canon := range canonKeys {
		reps := groups[canon]
		if len(reps) == 1 {
			res.Canonical[canon] = reps[0].val
			continue
		}
		val, conflict := n.merge(canon, reps)
		res.Canonical[canon] = val
		if conflict != nil {
			res.Conflicts = append(res.Conflicts, *conflict)
		}
	}

	res.Stats.CanonicalKeys = len(res.Canonical)
	res.Stats.Rewrites = len(res.Rewrites)
	res.Stats.Conflicts = len(res.Conflicts)
	res.Stats.Unknowns = len(res.Unknowns)
	res.Stats.Invalid = len(res.Invalid)
	return res
}

// merge resolves several reporters of one canonical key. Numeric reporters
// win over non-numeric ones and are averaged.
func (n *Normalizer) merge(canon string, reps []reporter) (types.Value, *Conflict) {
	unit := n.aliases.Unit(canon)
	tol := n.aliases.Tolerance(unit)

	var nums []float64
	var others []types.Value
	for _, r := range reps {
		if r.val.IsNumber() {
			f, _ := r.val.Float()
			nums = append(nums, f)
		} else {
			others = append(others, r.val)
		}
	}

	var chosen types.Value
	var conflict bool
	if len(nums) > 0 {
		conflict = floats.Max(nums)-floats.Min(nums) > tol
		chosen = types.Number(stat.Mean(nums, nil))
	} else {
		chosen = others[0]
		for _, o := range others[1:] {
			if !o.Equal(chosen) {
				conflict = true
				break
			}
		}
	}
	if !conflict {
		return chosen, nil
	}

	c := &Conflict{Canonical: canon, Unit: unit, Tolerance: tol}
	for _, r := range reps {
		c.Keys = append(c.Keys, r.key)
		c.Values = append(c.Values, r.val)
	}
	return chosen, c
}
