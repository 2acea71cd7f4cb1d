package library

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/formsense/formsense/internal/scoring"
	"github.com/formsense/formsense/internal/segmenter"
)

// Equipment values understood by the classifier.
const (
	EquipmentNone       = "none"
	EquipmentBarbell    = "barbell"
	EquipmentDumbbell   = "dumbbell"
	EquipmentKettlebell = "kettlebell"
)

// MatchHints describe how the classifier recognises an exercise.
type MatchHints struct {
	MustHave    []string             `yaml:"must_have"`
	MustNotHave []string             `yaml:"must_not_have"`
	AnyOf       []string             `yaml:"any_of"`
	Ranges      map[string][]float64 `yaml:"ranges"`
	PoseView    []string             `yaml:"pose_view"`
	Weight      *float64             `yaml:"weight"`
}

// Exercise is a fully resolved exercise definition.
type Exercise struct {
	ID          string
	Family      string
	Equipment   string
	DisplayName string
	Selectable  bool

	// Criteria are ordered by name.
	Criteria []scoring.Criterion
	Critical []string
	Caps     []scoring.Cap
	Weights  map[string]float64

	Match      MatchHints
	RepSignal  segmenter.Config
	Thresholds map[string]map[string]float64

	// Origin is the file the exercise was declared in.
	Origin string
}

// Criterion returns the named criterion.
func (e *Exercise) Criterion(name string) (scoring.Criterion, bool) {
	for _, c := range e.Criteria {
		if c.Name == name {
			return c, true
		}
	}
	return scoring.Criterion{}, false
}

// IsCritical reports whether name is a critical criterion.
func (e *Exercise) IsCritical(name string) bool {
	for _, c := range e.Critical {
		if c == name {
			return true
		}
	}
	return false
}

// MatchWeight returns the classifier weight, default 1.
func (e *Exercise) MatchWeight() float64 {
	if e.Match.Weight == nil {
		return 1
	}
	return *e.Match.Weight
}

// exerciseDoc is the resolved YAML shape of one exercise.
type exerciseDoc struct {
	ID          string `yaml:"id"`
	Family      string `yaml:"family"`
	Equipment   string `yaml:"equipment"`
	DisplayName string `yaml:"display_name"`
	Selectable  *bool  `yaml:"selectable"`
	Meta        struct {
		Selectable  *bool       `yaml:"selectable"`
		DisplayName string      `yaml:"display_name"`
		MatchHints  *MatchHints `yaml:"match_hints"`
	} `yaml:"meta"`

	Criteria        map[string]criterionDoc       `yaml:"criteria"`
	Critical        []string                      `yaml:"critical"`
	SafetyCaps      []scoring.CapSpec             `yaml:"safety_caps"`
	WeightsOverride map[string]float64            `yaml:"weights_override"`
	MatchHints      *MatchHints                   `yaml:"match_hints"`
	RepSignal       segmenter.Config              `yaml:"rep_signal"`
	Thresholds      map[string]map[string]float64 `yaml:"thresholds"`
}

type criterionDoc struct {
	Requires    []string         `yaml:"requires"`
	Weight      *float64         `yaml:"weight"`
	Disabled    bool             `yaml:"disabled"`
	HintSection string           `yaml:"hint_section"`
	Scoring     scoring.RuleSpec `yaml:"scoring"`
}

// baseDir holds abstract exercises that are only meant to be extended.
const baseDir = "_base"

// underBaseDir reports whether origin sits below a _base directory.
func underBaseDir(origin string) bool {
	for _, seg := range strings.Split(path.Dir(origin), "/") {
		if seg == baseDir {
			return true
		}
	}
	return false
}

// build validates doc and compiles it into an Exercise.
func (doc *exerciseDoc) build(origin string) (*Exercise, error) {
	ex := &Exercise{
		ID:          doc.ID,
		Family:      doc.Family,
		Equipment:   doc.Equipment,
		DisplayName: doc.DisplayName,
		Selectable:  !strings.HasSuffix(doc.ID, ".base") && !underBaseDir(origin),
		Critical:    doc.Critical,
		Weights:     doc.WeightsOverride,
		RepSignal:   doc.RepSignal,
		Thresholds:  doc.Thresholds,
		Origin:      origin,
	}
	if ex.Equipment == "" {
		ex.Equipment = EquipmentNone
	}
	if ex.DisplayName == "" {
		ex.DisplayName = doc.Meta.DisplayName
	}
	switch {
	case doc.Selectable != nil:
		ex.Selectable = ex.Selectable && *doc.Selectable
	case doc.Meta.Selectable != nil:
		ex.Selectable = ex.Selectable && *doc.Meta.Selectable
	}
	switch {
	case doc.MatchHints != nil:
		ex.Match = *doc.MatchHints
	case doc.Meta.MatchHints != nil:
		ex.Match = *doc.Meta.MatchHints
	}
	if err := validateMatch(ex.Match); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(doc.Criteria))
	for name, c := range doc.Criteria {
		if !c.Disabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		c := doc.Criteria[name]
		rule, err := scoring.Compile(c.Scoring)
		if err != nil {
			return nil, fmt.Errorf("criterion %q: %w", name, err)
		}
		w := 1.0
		if c.Weight != nil {
			w = *c.Weight
		}
		if w < 0 {
			return nil, fmt.Errorf("criterion %q: negative weight %v", name, w)
		}
		requires := c.Requires
		if len(requires) == 0 {
			requires = rule.Keys()
		}
		ex.Criteria = append(ex.Criteria, scoring.Criterion{
			Name:        name,
			Requires:    requires,
			Weight:      w,
			Rule:        rule,
			HintSection: c.HintSection,
		})
	}

	for _, name := range ex.Critical {
		if _, ok := ex.Criterion(name); !ok {
			return nil, fmt.Errorf("critical %q is not a declared criterion", name)
		}
	}
	for name, w := range ex.Weights {
		if _, ok := ex.Criterion(name); !ok {
			return nil, fmt.Errorf("weights_override: unknown criterion %q", name)
		}
		if w < 0 {
			return nil, fmt.Errorf("weights_override: negative weight for %q", name)
		}
	}
	for i, spec := range doc.SafetyCaps {
		c, err := scoring.ParseCap(spec.When, spec.Cap)
		if err != nil {
			return nil, fmt.Errorf("safety_caps[%d]: %w", i, err)
		}
		if _, ok := ex.Criterion(c.Criterion); !ok {
			return nil, fmt.Errorf("safety_caps[%d]: unknown criterion %q", i, c.Criterion)
		}
		ex.Caps = append(ex.Caps, c)
	}
	if err := ex.RepSignal.Validate(); err != nil {
		return nil, fmt.Errorf("rep_signal: %w", err)
	}
	return ex, nil
}

func validateMatch(m MatchHints) error {
	for key, r := range m.Ranges {
		if len(r) != 2 || r[0] > r[1] {
			return fmt.Errorf("match_hints.ranges.%s: want [lo, hi]", key)
		}
	}
	if m.Weight != nil && *m.Weight < 0 {
		return fmt.Errorf("match_hints.weight: negative weight")
	}
	return nil
}
