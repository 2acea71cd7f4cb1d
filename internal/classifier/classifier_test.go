package classifier

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/formsense/formsense/internal/library"
	"github.com/formsense/formsense/pkg/types"
)

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func tick(n int) time.Time { return baseTime.Add(time.Duration(n) * 100 * time.Millisecond) }

func testLibrary(t *testing.T) *library.Library {
	t.Helper()
	fsys := fstest.MapFS{
		"aliases.yaml": {Data: []byte("canonical_keys:\n  a1: {unit: deg}\n")},
		"exercises/a.yaml": {Data: []byte(`
id: ex.a
match_hints: {must_have: [a1, a2], weight: 0.95}
`)},
		"exercises/b.yaml": {Data: []byte(`
id: ex.b
match_hints: {must_have: [b1, b2]}
`)},
		"exercises/c.yaml": {Data: []byte(`
id: ex.c
match_hints: {must_have: [c1, c2], weight: 0.8}
`)},
		"exercises/d.yaml": {Data: []byte(`
id: ex.d
equipment: dumbbell
match_hints: {must_have: [d1]}
`)},
		"exercises/base.yaml": {Data: []byte(`
id: ex.base
match_hints: {must_have: [a1]}
`)},
	}
	lib, err := library.LoadFS(fsys)
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	return lib
}

func keys(names ...string) types.Measurements {
	m := types.Measurements{}
	for _, n := range names {
		m[n] = types.Number(1)
	}
	return m
}

func TestPick_Initial(t *testing.T) {
	c := New(DefaultSettings())
	res := c.Pick(keys("a1", "a2"), testLibrary(t), false, tick(0))
	if res.ExerciseID != "ex.a" || res.Decision != DecisionInitial {
		t.Errorf("got %q (%s), want ex.a initial", res.ExerciseID, res.Decision)
	}
	if res.Switched {
		t.Error("the first selection is not a switch")
	}
	if !c.State().LastSwitch.IsZero() {
		t.Error("initial selection stamped LastSwitch")
	}
}

func TestPick_KeepsPreviousBelowKeepMargin(t *testing.T) {
	lib := testLibrary(t)
	c := New(DefaultSettings())
	c.Pick(keys("a1", "a2"), lib, false, tick(0))

	// ex.b scores 1.0, ex.a 0.95: margin 0.05 < 0.10.
	res := c.Pick(keys("a1", "a2", "b1", "b2"), lib, false, tick(1))
	if res.ExerciseID != "ex.a" || res.Decision != DecisionKeptPrevious {
		t.Errorf("got %q (%s), want ex.a kept_previous", res.ExerciseID, res.Decision)
	}
	if res.Challenger != "ex.b" {
		t.Errorf("challenger = %q, want ex.b", res.Challenger)
	}
}

func TestPick_MidBandKeepsPrevious(t *testing.T) {
	lib := testLibrary(t)
	c := New(DefaultSettings())
	c.Pick(keys("c1", "c2"), lib, false, tick(0))

	// ex.a 0.95 vs ex.c 0.80: margin 0.15 between keep and switch.
	res := c.Pick(keys("a1", "a2", "c1", "c2"), lib, false, tick(1))
	if res.ExerciseID != "ex.c" || res.Decision != DecisionKeptMidBand {
		t.Errorf("got %q (%s), want ex.c kept mid band", res.ExerciseID, res.Decision)
	}
}

func TestPick_SwitchesAtSwitchMargin(t *testing.T) {
	lib := testLibrary(t)
	s := DefaultSettings()
	s.StrongSwitchMargin = 0.9
	c := New(s)
	c.Pick(keys("a1", "a2"), lib, false, tick(0))

	// ex.b 1.0 vs ex.a 0.475: margin 0.525.
	res := c.Pick(keys("a1", "b1", "b2"), lib, false, tick(1))
	if res.ExerciseID != "ex.b" || res.Decision != DecisionSwitched || !res.Switched {
		t.Errorf("got %q (%s switched=%v), want ex.b switched", res.ExerciseID, res.Decision, res.Switched)
	}
	if !c.State().LastSwitch.Equal(tick(1)) {
		t.Errorf("LastSwitch = %v, want %v", c.State().LastSwitch, tick(1))
	}
}

func TestPick_FreezeKeepsPrevious(t *testing.T) {
	lib := testLibrary(t)
	c := New(DefaultSettings())
	c.Pick(keys("a1", "a2"), lib, false, tick(0))

	res := c.Pick(keys("b1", "b2"), lib, true, tick(1))
	if res.ExerciseID != "ex.a" || res.Decision != DecisionFrozen {
		t.Errorf("got %q (%s), want ex.a frozen", res.ExerciseID, res.Decision)
	}
}

func TestPick_StrongOverrideBypassesFreeze(t *testing.T) {
	lib := testLibrary(t)
	s := DefaultSettings()
	s.StrongSwitchBypassFreeze = true
	c := New(s)
	c.Pick(keys("a1", "a2"), lib, false, tick(0))

	res := c.Pick(keys("b1", "b2"), lib, true, tick(1))
	if res.ExerciseID != "ex.b" || res.Decision != DecisionStrongOverride {
		t.Errorf("got %q (%s), want ex.b strong override", res.ExerciseID, res.Decision)
	}
	if !res.Switched || !c.State().LastSwitchStrong {
		t.Error("strong override not recorded as a switch")
	}
}

func TestPick_StrongOverrideWithoutFreeze(t *testing.T) {
	lib := testLibrary(t)
	c := New(DefaultSettings())
	c.Pick(keys("a1", "a2"), lib, false, tick(0))

	res := c.Pick(keys("b1", "b2"), lib, false, tick(1))
	if res.Decision != DecisionStrongOverride {
		t.Errorf("decision = %s, want strong override", res.Decision)
	}
}

func TestPick_BelowAccept(t *testing.T) {
	lib := testLibrary(t)

	c := New(DefaultSettings())
	if res := c.Pick(keys(), lib, false, tick(0)); res.Decision != DecisionNoCandidate || res.ExerciseID != "" {
		t.Errorf("empty frame: got %q (%s), want no candidate", res.ExerciseID, res.Decision)
	}

	s := DefaultSettings()
	s.FallbackID = "ex.b"
	c = New(s)
	if res := c.Pick(keys(), lib, false, tick(0)); res.Decision != DecisionFallback || res.ExerciseID != "ex.b" {
		t.Errorf("fallback: got %q (%s)", res.ExerciseID, res.Decision)
	}

	c = New(DefaultSettings())
	c.Pick(keys("a1", "a2"), lib, false, tick(0))
	if res := c.Pick(keys(), lib, false, tick(1)); res.Decision != DecisionBelowAccept || res.ExerciseID != "ex.a" {
		t.Errorf("below accept: got %q (%s), want ex.a kept", res.ExerciseID, res.Decision)
	}
}

func TestPick_EquipmentFilter(t *testing.T) {
	lib := testLibrary(t)
	c := New(DefaultSettings())
	m := keys("d1", "a1", "a2")
	m["objdet.dumbbell_present"] = types.Bool(true)

	res := c.Pick(m, lib, false, tick(0))
	if res.Equipment != library.EquipmentDumbbell || res.ExerciseID != "ex.d" {
		t.Errorf("got %q on %q, want ex.d on dumbbell", res.ExerciseID, res.Equipment)
	}
	if len(res.Candidates) != 1 {
		t.Errorf("candidates = %v, want only ex.d", res.Candidates)
	}
}

func TestPick_LowConfidenceTracked(t *testing.T) {
	lib := testLibrary(t)
	c := New(DefaultSettings())

	if res := c.Pick(keys(), lib, false, tick(0)); res.LowConfidence {
		t.Error("low confidence reported immediately")
	}
	res := c.Pick(keys(), lib, false, tick(5))
	if res.LowConfidence || res.LowConfidenceFor != 500*time.Millisecond {
		t.Errorf("at 500ms: low=%v for=%v", res.LowConfidence, res.LowConfidenceFor)
	}
	res = c.Pick(keys(), lib, false, tick(10))
	if !res.LowConfidence {
		t.Error("low confidence not reported after 1s")
	}

	for i := 11; i < 40; i++ {
		res = c.Pick(keys("b1", "b2"), lib, false, tick(i))
	}
	if res.LowConfidence || !c.State().LowSince.IsZero() {
		t.Errorf("confidence %v still flagged low", res.Confidence)
	}
}

func TestInferEquipment(t *testing.T) {
	tests := []struct {
		name    string
		m       types.Measurements
		posture bool
		want    string
	}{
		{"bar flag", types.Measurements{"objdet.bar_present": types.Bool(true)}, false, library.EquipmentBarbell},
		{"kettlebell", types.Measurements{"objdet.kettlebell_present": types.Bool(true)}, false, library.EquipmentKettlebell},
		{"nothing", types.Measurements{}, true, library.EquipmentNone},
		{"bar hold posture", types.Measurements{
			"elbow_left_deg":     types.Number(80),
			"elbow_right_deg":    types.Number(85),
			"shoulder_left_deg":  types.Number(40),
			"shoulder_right_deg": types.Number(20),
		}, true, library.EquipmentBarbell},
		{"bar hold disabled", types.Measurements{
			"elbow_left_deg":     types.Number(80),
			"elbow_right_deg":    types.Number(85),
			"shoulder_left_deg":  types.Number(40),
			"shoulder_right_deg": types.Number(20),
		}, false, library.EquipmentNone},
		{"pose unavailable", types.Measurements{
			"pose.available":     types.Bool(false),
			"elbow_left_deg":     types.Number(80),
			"elbow_right_deg":    types.Number(85),
			"shoulder_left_deg":  types.Number(40),
			"shoulder_right_deg": types.Number(20),
		}, true, library.EquipmentNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferEquipment(tt.m, tt.posture); got != tt.want {
				t.Errorf("InferEquipment = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScoreCandidate(t *testing.T) {
	w := 0.5
	ex := &library.Exercise{
		ID: "squat",
		Match: library.MatchHints{
			MustHave:    []string{"knee_left_deg", "knee_right_deg"},
			MustNotHave: []string{"objdet.bar_present"},
			AnyOf:       []string{"hip_left_deg", "hip_right_deg"},
			Ranges:      map[string][]float64{"torso_forward_deg": {0, 60}},
			PoseView:    []string{"side"},
		},
	}
	m := types.Measurements{
		"knee_left_deg":     types.Number(90),
		"knee_right_deg":    types.Number(92),
		"hip_right_deg":     types.Number(100),
		"torso_forward_deg": types.Number(75),
		"view_mode":         types.Text("side"),
	}
	// 2 must-have + any_of + view hit, range miss: 4/5.
	if got := ScoreCandidate(m, ex); got != 0.8 {
		t.Errorf("score = %v, want 0.8", got)
	}

	ex.Match.Weight = &w
	if got := ScoreCandidate(m, ex); got != 0.4 {
		t.Errorf("weighted score = %v, want 0.4", got)
	}

	m["objdet.bar_present"] = types.Bool(true)
	if got := ScoreCandidate(m, ex); got != 0 {
		t.Errorf("must_not_have score = %v, want 0", got)
	}
}
