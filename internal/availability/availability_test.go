package availability

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/formsense/formsense/internal/library"
	"github.com/formsense/formsense/internal/scoring"
	"github.com/formsense/formsense/pkg/types"
)

func testExercise() *library.Exercise {
	return &library.Exercise{
		ID: "squat.test",
		Criteria: []scoring.Criterion{
			{Name: "depth", Requires: []string{"knee_left_deg", "knee_right_deg"}},
			{Name: "torso", Requires: []string{"torso_forward_deg"}},
			{Name: "heels", Requires: []string{"heels_lifted"}},
		},
		Critical: []string{"depth", "torso"},
	}
}

func TestEvaluate_AllPresent(t *testing.T) {
	res := Evaluate(testExercise(), types.Measurements{
		"knee_left_deg":     types.Number(90),
		"knee_right_deg":    types.Number(92),
		"torso_forward_deg": types.Number(10),
		"heels_lifted":      types.Bool(false),
	})
	if res.Unscored || res.Count() != 3 {
		t.Errorf("unscored = %v count = %d, want scored with 3", res.Unscored, res.Count())
	}
}

func TestEvaluate_MissingCritical(t *testing.T) {
	res := Evaluate(testExercise(), types.Measurements{
		"knee_left_deg": types.Number(90),
		"heels_lifted":  types.Bool(true),
	})
	if !res.Unscored {
		t.Fatal("want unscored")
	}
	if res.Reason != "missing_critical: depth, torso" {
		t.Errorf("reason = %q", res.Reason)
	}
	if diff := cmp.Diff([]string{"knee_right_deg"}, res.Criteria[0].Missing); diff != "" {
		t.Errorf("depth missing (-want +got):\n%s", diff)
	}
	if !res.Available("heels") {
		t.Error("heels should be available")
	}
}

func TestEvaluate_NonCriticalMissingStillScored(t *testing.T) {
	res := Evaluate(testExercise(), types.Measurements{
		"knee_left_deg":     types.Number(90),
		"knee_right_deg":    types.Number(92),
		"torso_forward_deg": types.Number(10),
	})
	if res.Unscored {
		t.Errorf("unscored with reason %q, want scored", res.Reason)
	}
	if res.Available("heels") {
		t.Error("heels should be unavailable")
	}
}
