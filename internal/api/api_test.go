package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/formsense/formsense/internal/api"
	"github.com/formsense/formsense/internal/diag"
	"github.com/formsense/formsense/internal/engine"
	"github.com/formsense/formsense/internal/library"
	"github.com/formsense/formsense/internal/report"
)

// --- test helpers -----------------------------------------------------------

var testFS = fstest.MapFS{
	"aliases.yaml": {Data: []byte(`
canonical_keys:
  knee_left_deg: {unit: deg}
  knee_right_deg: {unit: deg}
`)},
	"exercises/squat.test.yaml": {Data: []byte(`
id: squat.test
family: squat
display_name: Test Squat
match_hints:
  must_have: [knee_left_deg, knee_right_deg]
criteria:
  depth:
    requires: [knee_left_deg, knee_right_deg]
    scoring:
      type: smaller_better_of_min
      keys: [knee_left_deg, knee_right_deg]
      good: 85
      bad: 150
critical: [depth]
`)},
}

type fixture struct {
	h       http.Handler
	eng     *engine.Engine
	rec     *diag.Recorder
	reports []*report.Report
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lib, err := library.LoadFS(testFS)
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	f := &fixture{rec: diag.NewRecorder(100)}
	holder := library.NewHolder(lib)
	f.eng = engine.New(holder, f.rec, engine.DefaultOptions())
	f.h = api.New(f.eng, holder, f.rec, func(r *report.Report) { f.reports = append(f.reports, r) })
	return f
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- tests ------------------------------------------------------------------

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rr := do(t, f.h, http.MethodGet, "/api/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.ExerciseCount != 1 || resp.SelectableCount != 1 || resp.LibraryVersion == "" {
		t.Errorf("health: got %+v", resp)
	}
}

func TestExercises(t *testing.T) {
	f := newFixture(t)

	var list []api.ExerciseResponse
	decode(t, do(t, f.h, http.MethodGet, "/api/v1/exercises", ""), &list)
	if len(list) != 1 || list[0].ID != "squat.test" || list[0].DisplayName != "Test Squat" {
		t.Fatalf("list: got %+v", list)
	}
	if list[0].Criteria != nil {
		t.Error("list entries should omit criteria")
	}

	var one api.ExerciseResponse
	decode(t, do(t, f.h, http.MethodGet, "/api/v1/exercises/squat.test", ""), &one)
	if len(one.Criteria) != 1 || one.Criteria[0].Name != "depth" || !one.Criteria[0].Critical {
		t.Errorf("detail: got %+v", one)
	}

	if rr := do(t, f.h, http.MethodGet, "/api/v1/exercises/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown exercise: got %d, want 404", rr.Code)
	}
}

func TestFrames(t *testing.T) {
	f := newFixture(t)

	rr := do(t, f.h, http.MethodPost, "/api/v1/frames",
		`{"session":"s1","ts_ms":1000,"exercise":"squat.test","metrics":{"knee_left_deg":85,"knee_right_deg":88}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body.String())
	}
	var rep report.Report
	decode(t, rr, &rep)
	if rep.Meta.Session != "s1" || rep.Exercise == nil || rep.Exercise.ID != "squat.test" {
		t.Errorf("report: got meta %+v exercise %+v", rep.Meta, rep.Exercise)
	}
	if rep.Scoring.Score == nil {
		t.Errorf("expected a scored frame, got reason %q", rep.Scoring.UnscoredReason)
	}
	if len(f.reports) != 1 {
		t.Errorf("onReport calls: got %d, want 1", len(f.reports))
	}
	if f.eng.Sessions() != 1 {
		t.Errorf("sessions: got %d, want 1", f.eng.Sessions())
	}
}

func TestFrames_BadRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "{", http.StatusBadRequest},
		{"missing ts", http.MethodPost, `{"metrics":{}}`, http.StatusBadRequest},
		{"too large", http.MethodPost, `{"ts_ms":1,"pad":"` + strings.Repeat("x", 1<<20) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rr := do(t, f.h, tc.method, "/api/v1/frames", tc.body); rr.Code != tc.code {
				t.Errorf("status: got %d, want %d", rr.Code, tc.code)
			}
		})
	}
	if len(f.reports) != 0 {
		t.Errorf("rejected frames reached onReport: %d", len(f.reports))
	}
}

func TestDiagnostics(t *testing.T) {
	f := newFixture(t)
	do(t, f.h, http.MethodPost, "/api/v1/frames", `{"session":"a","ts_ms":1,"exercise":"nope","metrics":{}}`)
	do(t, f.h, http.MethodPost, "/api/v1/frames", `{"session":"b","ts_ms":1,"exercise":"nope","metrics":{}}`)

	var all []diag.Event
	decode(t, do(t, f.h, http.MethodGet, "/api/v1/diagnostics", ""), &all)
	if len(all) < 2 {
		t.Fatalf("events: got %d, want at least 2", len(all))
	}

	var onlyA []diag.Event
	decode(t, do(t, f.h, http.MethodGet, "/api/v1/diagnostics?session=a&n=10", ""), &onlyA)
	for _, e := range onlyA {
		if e.Session != "a" {
			t.Errorf("session filter leaked event for %q", e.Session)
		}
	}
	if len(onlyA) == 0 {
		t.Error("expected events for session a")
	}

	if rr := do(t, f.h, http.MethodGet, "/api/v1/diagnostics?n=zero", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad n: got %d, want 400", rr.Code)
	}

	var counts []diag.Count
	decode(t, do(t, f.h, http.MethodGet, "/api/v1/diagnostics/counts", ""), &counts)
	var unknown uint64
	for _, c := range counts {
		if c.Kind == diag.KindUnknownExercise {
			unknown += c.Total
		}
	}
	if unknown != 2 {
		t.Errorf("unknown_exercise total: got %d, want 2", unknown)
	}
}

func TestSessions_Delete(t *testing.T) {
	f := newFixture(t)
	do(t, f.h, http.MethodPost, "/api/v1/frames", `{"session":"s1","ts_ms":1,"metrics":{}}`)

	if rr := do(t, f.h, http.MethodDelete, "/api/v1/sessions/s1", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d, want 204", rr.Code)
	}
	if rr := do(t, f.h, http.MethodDelete, "/api/v1/sessions/s1", ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d, want 404", rr.Code)
	}
	if rr := do(t, f.h, http.MethodGet, "/api/v1/sessions/s1", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("get: got %d, want 405", rr.Code)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	do(t, f.h, http.MethodPost, "/api/v1/frames", `{"session":"a","ts_ms":1,"exercise":"nope","metrics":{}}`)

	rr := do(t, api.Metrics(f.rec), http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `formsense_diagnostic_events_total{kind="unknown_exercise"`) {
		t.Errorf("metrics body missing counter:\n%s", rr.Body.String())
	}
}
