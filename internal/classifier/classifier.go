package classifier

import (
	"sort"
	"time"

	"github.com/formsense/formsense/internal/library"
	"github.com/formsense/formsense/pkg/types"
)

// Default settings.
const (
	DefaultMinAccept          = 0.40
	DefaultMarginKeep         = 0.10
	DefaultMarginSwitch       = 0.20
	DefaultConfidenceAlpha    = 0.25
	DefaultLowConfidence      = 0.30
	DefaultLowConfidenceFor   = time.Second
	DefaultStrongSwitchMargin = 0.45
)

// Posture thresholds of the barbell-hold fallback.
const (
	barHoldElbowMaxDeg    = 110.0
	barHoldShoulderMinDeg = 35.0
)

// viewKeys are the canonical keys that may carry the camera view tag.
var viewKeys = []string{"view.mode", "view_mode", "view.primary"}

// Settings tune the classifier.
type Settings struct {
	MinAccept                float64
	MarginKeep               float64
	MarginSwitch             float64
	ConfidenceAlpha          float64
	LowConfidence            float64
	LowConfidenceFor         time.Duration
	FreezeDuringRep          bool
	StrongSwitchMargin       float64
	StrongSwitchBypassFreeze bool
	// PostureEquipment enables the barbell-hold posture fallback.
	PostureEquipment bool
	// FallbackID is chosen when nothing is accepted and there is no previous
	// selection.
	FallbackID string
}

// DefaultSettings returns the default tuning.
func DefaultSettings() Settings {
	return Settings{
		MinAccept:          DefaultMinAccept,
		MarginKeep:         DefaultMarginKeep,
		MarginSwitch:       DefaultMarginSwitch,
		ConfidenceAlpha:    DefaultConfidenceAlpha,
		LowConfidence:      DefaultLowConfidence,
		LowConfidenceFor:   DefaultLowConfidenceFor,
		FreezeDuringRep:    true,
		StrongSwitchMargin: DefaultStrongSwitchMargin,
		PostureEquipment:   true,
	}
}

// Decision explains how a selection was reached.
type Decision string

const (
	DecisionInitial        Decision = "initial"
	DecisionBestMatch      Decision = "best_match"
	DecisionSwitched       Decision = "switched"
	DecisionStrongOverride Decision = "strong_override"
	DecisionKeptPrevious   Decision = "kept_previous"
	DecisionKeptMidBand    Decision = "kept_previous_mid_band"
	DecisionFrozen         Decision = "frozen"
	DecisionBelowAccept    Decision = "kept_previous_below_accept"
	DecisionFallback       Decision = "fallback"
	DecisionNoCandidate    Decision = "no_candidate"
)

// Candidate is one scored exercise.
type Candidate struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// State is the classifier's memory between frames.
type State struct {
	PrevID        string
	Confidence    float64
	HasConfidence bool
	LowSince      time.Time
	LastSwitch    time.Time
	// LastSwitchStrong marks LastSwitch as a strong override.
	LastSwitchStrong bool
}

// Result is the outcome of Pick.
type Result struct {
	ExerciseID string
	Equipment  string
	Decision   Decision
	Confidence float64
	Margin     float64
	Candidates []Candidate
	Frozen     bool

	// Switched is true when this frame accepted a switch away from a previous
	// selection.
	Switched       bool
	StrongOverride bool
	// Challenger is the top candidate that was not selected, if any.
	Challenger string

	// LowConfidence is true once confidence has stayed below the threshold
	// for at least Settings.LowConfidenceFor.
	LowConfidence    bool
	LowConfidenceFor time.Duration
}

// Classifier resolves the active exercise. It is not safe for concurrent use.
type Classifier struct {
	settings Settings
	state    State
}

// New returns a Classifier with empty state.
func New(s Settings) *Classifier {
	return &Classifier{settings: s}
}

// State returns a copy of the current state.
func (c *Classifier) State() State { return c.state }

// Reset clears the state.
func (c *Classifier) Reset() { c.state = State{} }

// SetSettings replaces the tuning while keeping state.
func (c *Classifier) SetSettings(s Settings) { c.settings = s }

// Pick chooses the exercise for one frame. freeze reports an active
// repetition window.
func (c *Classifier) Pick(m types.Measurements, lib *library.Library, freeze bool, now time.Time) Result {
	s := c.settings
	res := Result{Equipment: InferEquipment(m, s.PostureEquipment), Frozen: freeze}

	pool := candidatesFor(lib, res.Equipment)
	if len(pool) == 0 {
		res.ExerciseID = c.state.PrevID
		res.Decision = DecisionNoCandidate
		res.Confidence = c.state.Confidence
		return res
	}

	for _, ex := range pool {
		res.Candidates = append(res.Candidates, Candidate{ID: ex.ID, Score: ScoreCandidate(m, ex)})
	}
	sort.SliceStable(res.Candidates, func(i, j int) bool {
		return res.Candidates[i].Score > res.Candidates[j].Score
	})
	top := res.Candidates[0]
	if len(res.Candidates) > 1 {
		res.Margin = top.Score - res.Candidates[1].Score
	} else {
		res.Margin = top.Score
	}

	c.trackConfidence(top.Score, now, &res)
	prev := c.state.PrevID

	switch {
	case top.Score < s.MinAccept:
		switch {
		case prev != "":
			res.ExerciseID, res.Decision = prev, DecisionBelowAccept
		case s.FallbackID != "":
			res.ExerciseID, res.Decision = s.FallbackID, DecisionFallback
		default:
			res.Decision = DecisionNoCandidate
		}
		return res

	case prev == "":
		res.ExerciseID, res.Decision = top.ID, DecisionInitial

	case top.ID == prev:
		res.ExerciseID, res.Decision = prev, DecisionBestMatch

	case res.Margin >= s.StrongSwitchMargin && (!freeze || s.StrongSwitchBypassFreeze):
		res.ExerciseID, res.Decision = top.ID, DecisionStrongOverride
		res.Switched, res.StrongOverride = true, true

	case freeze && s.FreezeDuringRep:
		res.ExerciseID, res.Decision = prev, DecisionFrozen

	case res.Margin < s.MarginKeep:
		res.ExerciseID, res.Decision = prev, DecisionKeptPrevious

	case res.Margin >= s.MarginSwitch:
		res.ExerciseID, res.Decision = top.ID, DecisionSwitched
		res.Switched = true

	default:
		res.ExerciseID, res.Decision = prev, DecisionKeptMidBand
	}

	if res.ExerciseID != top.ID {
		res.Challenger = top.ID
	}
	if res.Switched {
		c.state.LastSwitch = now
		c.state.LastSwitchStrong = res.StrongOverride
	}
	c.state.PrevID = res.ExerciseID
	return res
}

func (c *Classifier) trackConfidence(instant float64, now time.Time, res *Result) {
	s := c.settings
	if !c.state.HasConfidence {
		c.state.Confidence, c.state.HasConfidence = instant, true
	} else {
		c.state.Confidence = s.ConfidenceAlpha*instant + (1-s.ConfidenceAlpha)*c.state.Confidence
	}
	res.Confidence = c.state.Confidence

	if c.state.Confidence >= s.LowConfidence {
		c.state.LowSince = time.Time{}
		return
	}
	if c.state.LowSince.IsZero() {
		c.state.LowSince = now
	}
	res.LowConfidenceFor = now.Sub(c.state.LowSince)
	res.LowConfidence = res.LowConfidenceFor >= s.LowConfidenceFor
}

// candidatesFor returns the selectable exercises for the given equipment, or
// every selectable exercise when none matches.
func candidatesFor(lib *library.Library, equipment string) []*library.Exercise {
	if lib == nil {
		return nil
	}
	all := lib.Selectable()
	var filtered []*library.Exercise
	for _, ex := range all {
		if ex.Equipment == equipment {
			filtered = append(filtered, ex)
		}
	}
	if len(filtered) == 0 {
		return all
	}
	return filtered
}

// InferEquipment derives a coarse equipment tag from object-detection flags.
// With posture enabled, a barbell-hold posture (both elbows bent, a raised
// shoulder, pose available) also counts as a barbell.
func InferEquipment(m types.Measurements, posture bool) string {
	switch {
	case m.Truthy("objdet.bar_present"):
		return library.EquipmentBarbell
	case m.Truthy("objdet.dumbbell_present"):
		return library.EquipmentDumbbell
	case m.Truthy("objdet.kettlebell_present"):
		return library.EquipmentKettlebell
	}
	if posture && barHold(m) {
		return library.EquipmentBarbell
	}
	return library.EquipmentNone
}

func barHold(m types.Measurements) bool {
	if v, ok := m["pose.available"]; ok && !v.Truthy() {
		return false
	}
	el, okL := m.Float("elbow_left_deg")
	er, okR := m.Float("elbow_right_deg")
	sl, okSL := m.Float("shoulder_left_deg")
	sr, okSR := m.Float("shoulder_right_deg")
	if !okL || !okR || !okSL || !okSR {
		return false
	}
	return el < barHoldElbowMaxDeg && er < barHoldElbowMaxDeg &&
		(sl > barHoldShoulderMinDeg || sr > barHoldShoulderMinDeg)
}

// ScoreCandidate scores ex against m from its match hints.
func ScoreCandidate(m types.Measurements, ex *library.Exercise) float64 {
	h := ex.Match
	for _, k := range h.MustNotHave {
		if m.Truthy(k) {
			return 0
		}
	}

	mustHave := h.MustHave
	if len(mustHave) == 0 {
		mustHave = requiredKeys(ex)
	}

	var hits, checks float64
	for _, k := range mustHave {
		checks++
		if present(m, k) {
			hits++
		}
	}
	if len(h.AnyOf) > 0 {
		checks++
		for _, k := range h.AnyOf {
			if present(m, k) {
				hits++
				break
			}
		}
	}
	for key, r := range h.Ranges {
		checks++
		if v, ok := m.Float(key); ok && m[key].IsNumber() && v >= r[0] && v <= r[1] {
			hits++
		}
	}
	if len(h.PoseView) > 0 {
		checks++
		if view, ok := viewTag(m); ok && contains(h.PoseView, view) {
			hits++
		}
	}
	if checks == 0 {
		return 0
	}
	return clamp01(hits / checks * ex.MatchWeight())
}

// present is true for any finite value except a false flag.
func present(m types.Measurements, key string) bool {
	v, ok := m[key]
	if !ok || !v.Finite() {
		return false
	}
	if v.Kind() == types.KindBool {
		return v.Truthy()
	}
	return true
}

func requiredKeys(ex *library.Exercise) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range ex.Criteria {
		for _, k := range c.Requires {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func viewTag(m types.Measurements) (string, bool) {
	for _, k := range viewKeys {
		if v, ok := m[k]; ok && v.Kind() == types.KindText && v.String() != "" {
			return v.String(), true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
