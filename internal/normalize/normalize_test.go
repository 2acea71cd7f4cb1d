package normalize

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/formsense/formsense/pkg/types"
)

const testAliases = `
canonical_keys:
  knee_left_deg:
    aliases: [left_knee_angle, knee_l]
    unit: deg
  torso_forward_deg:
    aliases: [torso_lean]
    unit: deg
  view_mode:
    aliases: [camera_view]
    unit: text
tolerances:
  deg: 3.0
`

func mustAliases(t *testing.T) *Aliases {
	t.Helper()
	a, err := ParseAliases([]byte(testAliases))
	if err != nil {
		t.Fatalf("ParseAliases: %v", err)
	}
	return a
}

// valueComparer lets cmp compare the unexported Value fields.
var valueComparer = cmp.Comparer(func(a, b types.Value) bool { return a.Equal(b) })

func TestNormalize_RewritesAliases(t *testing.T) {
	n := New(mustAliases(t))
	res := n.Normalize(types.Measurements{
		"left_knee_angle": types.Number(92),
		"torso_lean":      types.Text("18.5"),
		"pose.confidence": types.Number(0.9),
	})

	want := types.Measurements{
		"knee_left_deg":     types.Number(92),
		"torso_forward_deg": types.Number(18.5),
		"pose.confidence":   types.Number(0.9),
	}
	if diff := cmp.Diff(want, res.Canonical, valueComparer); diff != "" {
		t.Errorf("canonical mismatch (-want +got):\n%s", diff)
	}
	if res.Stats.Rewrites != 2 {
		t.Errorf("Rewrites = %d, want 2", res.Stats.Rewrites)
	}
}

func TestNormalize_ConflictUsesMean(t *testing.T) {
	n := New(mustAliases(t))
	res := n.Normalize(types.Measurements{
		"left_knee_angle": types.Number(90),
		"knee_l":          types.Number(100),
	})

	got, _ := res.Canonical.Float("knee_left_deg")
	if got != 95 {
		t.Errorf("knee_left_deg = %v, want 95", got)
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.Canonical != "knee_left_deg" || c.Unit != "deg" || c.Tolerance != 3 {
		t.Errorf("unexpected conflict record: %+v", c)
	}
	if diff := cmp.Diff([]string{"knee_l", "left_knee_angle"}, c.Keys); diff != "" {
		t.Errorf("conflict keys (-want +got):\n%s", diff)
	}
}

func TestNormalize_WithinToleranceIsNotConflict(t *testing.T) {
	n := New(mustAliases(t))
	res := n.Normalize(types.Measurements{
		"left_knee_angle": types.Number(90),
		"knee_l":          types.Number(92),
	})
	if len(res.Conflicts) != 0 {
		t.Errorf("conflicts = %+v, want none", res.Conflicts)
	}
	if got, _ := res.Canonical.Float("knee_left_deg"); got != 91 {
		t.Errorf("knee_left_deg = %v, want 91", got)
	}
}

func TestNormalize_TextConflict(t *testing.T) {
	n := New(mustAliases(t))
	res := n.Normalize(types.Measurements{
		"camera_view": types.Text("front"),
		"view_mode":   types.Text("side"),
	})
	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(res.Conflicts))
	}
}

func TestNormalize_DropsUnknownAndInvalid(t *testing.T) {
	n := New(mustAliases(t))
	res := n.Normalize(types.Measurements{
		"mystery":           types.Number(1),
		"knee_left_deg":     types.Number(math.NaN()),
		"torso_forward_deg": types.Number(math.Inf(1)),
	})
	if len(res.Canonical) != 0 {
		t.Errorf("canonical = %v, want empty", res.Canonical)
	}
	if diff := cmp.Diff([]string{"mystery"}, res.Unknowns); diff != "" {
		t.Errorf("unknowns (-want +got):\n%s", diff)
	}
	if res.Stats.Invalid != 2 {
		t.Errorf("Invalid = %d, want 2", res.Stats.Invalid)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := New(mustAliases(t))
	first := n.Normalize(types.Measurements{
		"left_knee_angle": types.Number(90),
		"knee_l":          types.Number(100),
		"torso_lean":      types.Number(12),
		"camera_view":     types.Text("front"),
		"rep.active":      types.Bool(true),
		"junk":            types.Number(3),
	})
	second := n.Normalize(first.Canonical)

	if diff := cmp.Diff(first.Canonical, second.Canonical, valueComparer); diff != "" {
		t.Errorf("second pass changed canonical map (-first +second):\n%s", diff)
	}
	if second.Stats.Rewrites != 0 || second.Stats.Conflicts != 0 || second.Stats.Unknowns != 0 {
		t.Errorf("second pass stats = %+v, want zero rewrites/conflicts/unknowns", second.Stats)
	}
}

func TestParseAliases_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "tolerances: {deg: 1}"},
		{"bad yaml", "canonical_keys: [unterminated"},
		{"negative tolerance", "canonical_keys: {a: {unit: deg}}\ntolerances: {deg: -1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAliases([]byte(tt.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseAliases_Duplicates(t *testing.T) {
	a, err := ParseAliases([]byte(`
canonical_keys:
  a_deg: {aliases: [shared], unit: deg}
  b_deg: {aliases: [shared], unit: deg}
`))
	if err != nil {
		t.Fatalf("ParseAliases: %v", err)
	}
	if c, _ := a.Canonical("shared"); c != "a_deg" {
		t.Errorf("shared resolves to %q, want a_deg", c)
	}
	if len(a.Duplicates) != 1 {
		t.Errorf("Duplicates = %v, want [shared]", a.Duplicates)
	}
}
