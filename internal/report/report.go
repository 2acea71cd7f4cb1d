package report

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/formsense/formsense/internal/availability"
	"github.com/formsense/formsense/internal/classifier"
	"github.com/formsense/formsense/internal/diag"
	"github.com/formsense/formsense/internal/library"
	"github.com/formsense/formsense/internal/scoring"
	"github.com/formsense/formsense/internal/segmenter"
	"github.com/formsense/formsense/pkg/types"
)

// Unscored reasons set by the runtime rather than by availability.
const (
	ReasonNoExercise    = "no_exercise_selected"
	ReasonGracePeriod   = "grace_period"
	ReasonLowConfidence = "low_pose_confidence"
	ReasonNonMonotonic  = "non_monotonic_timestamp"
	ReasonNoScored      = "no_scored_criteria"
	ReasonInternalError = "internal_error"
)

// repPrefix is the reserved namespace of live repetition and set fields.
const repPrefix = "rep."

// topReasons is the number of distinct missing reasons kept in coverage.
const topReasons = 3

// Grades are the lower bounds of the A, B and C letter grades.
type Grades struct {
	A, B, C float64
}

// DefaultGrades are used when Options.Grades is zero.
var DefaultGrades = Grades{A: 0.85, B: 0.75, C: 0.60}

// Options shape every report.
type Options struct {
	PayloadVersion string
	Grades         Grades
	// RoundScorePct rounds percentages to the nearest integer instead of
	// truncating.
	RoundScorePct    bool
	EchoMeasurements bool
}

// Report is the output of one frame.
type Report struct {
	Meta         Meta               `json:"meta"`
	Exercise     *Exercise          `json:"exercise"`
	Classifier   *Classifier        `json:"classifier,omitempty"`
	Scoring      Scoring            `json:"scoring"`
	Coverage     Coverage           `json:"coverage"`
	Hints        []string           `json:"hints"`
	Diagnostics  []diag.Event       `json:"diagnostics,omitempty"`
	Measurements types.Measurements `json:"measurements,omitempty"`
	Rep          map[string]any     `json:"rep,omitempty"`
	RepEvent     *segmenter.Event   `json:"rep_event,omitempty"`
	Set          *segmenter.Summary `json:"set,omitempty"`
}

// Meta identifies the report.
type Meta struct {
	ReportID       string    `json:"report_id"`
	GeneratedAt    time.Time `json:"generated_at"`
	PayloadVersion string    `json:"payload_version"`
	LibraryVersion string    `json:"library_version"`
	Session        string    `json:"session"`
	FrameTime      time.Time `json:"frame_ts"`
}

// Exercise is the identity of the active exercise.
type Exercise struct {
	ID          string `json:"id"`
	Family      string `json:"family,omitempty"`
	Equipment   string `json:"equipment"`
	DisplayName string `json:"display_name"`
}

// Classifier summarises the selection decision.
type Classifier struct {
	Decision       classifier.Decision    `json:"decision"`
	Pinned         bool                   `json:"pinned,omitempty"`
	Equipment      string                 `json:"equipment,omitempty"`
	Confidence     float64                `json:"confidence"`
	Margin         float64                `json:"margin"`
	Candidates     []classifier.Candidate `json:"candidates,omitempty"`
	Switched       bool                   `json:"switched,omitempty"`
	StrongOverride bool                   `json:"strong_override,omitempty"`
	Frozen         bool                   `json:"frozen,omitempty"`
	LowConfidence  bool                   `json:"low_confidence,omitempty"`
}

// Scoring is the overall and per-criterion result. Score is nil whenever the
// frame is unscored.
type Scoring struct {
	Score          *float64             `json:"score"`
	ScorePct       *int                 `json:"score_pct"`
	Quality        string               `json:"quality,omitempty"`
	UnscoredReason string               `json:"unscored_reason,omitempty"`
	Grade          string               `json:"grade,omitempty"`
	AppliedCaps    []scoring.AppliedCap `json:"applied_caps"`
	Criteria       []Criterion          `json:"criteria"`
}

// Criterion is one criterion's availability and score.
type Criterion struct {
	ID        string   `json:"id"`
	Available bool     `json:"available"`
	Missing   []string `json:"missing,omitempty"`
	Score     *float64 `json:"score"`
	ScorePct  *int     `json:"score_pct"`
	Reason    string   `json:"reason,omitempty"`
}

// Coverage explains how much of the exercise could be evaluated.
type Coverage struct {
	AvailableRatio    float64  `json:"available_ratio"`
	AvailablePct      int      `json:"available_pct"`
	AvailableCount    int      `json:"available_count"`
	TotalCriteria     int      `json:"total_criteria"`
	MissingReasonsTop []string `json:"missing_reasons_top"`
	MissingCritical   []string `json:"missing_critical"`
}

// Unscored reports whether the frame carries no overall score.
func (r *Report) Unscored() bool { return r.Scoring.Score == nil }

// Input is the per-frame material for Build. Nil stages were not reached.
type Input struct {
	Session   string
	FrameTime time.Time
	// Now stamps GeneratedAt; zero uses the wall clock.
	Now time.Time

	LibraryVersion string
	Exercise       *library.Exercise
	Classification *classifier.Result
	Pinned         bool
	Availability   *availability.Result
	Outcome        *scoring.Outcome

	// UnscoredReason forces the frame unscored when no availability failure
	// already did.
	UnscoredReason string

	Hints       []string
	Diagnostics []diag.Event
	Canonical   types.Measurements
	RepEvent    *segmenter.Event
	Set         *segmenter.Summary
}

// Build assembles the report for one frame. It never returns nil.
func Build(in Input, opts Options) *Report {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	r := &Report{
		Meta: Meta{
			ReportID:       uuid.NewString(),
			GeneratedAt:    now,
			PayloadVersion: opts.PayloadVersion,
			LibraryVersion: in.LibraryVersion,
			Session:        in.Session,
			FrameTime:      in.FrameTime,
		},
		Hints:       append([]string{}, in.Hints...),
		Diagnostics: in.Diagnostics,
		RepEvent:    in.RepEvent,
		Set:         in.Set,
		Rep:         repTree(in.Canonical),
	}
	if opts.EchoMeasurements {
		r.Measurements = echo(in.Canonical)
	}
	if ex := in.Exercise; ex != nil {
		r.Exercise = &Exercise{ID: ex.ID, Family: ex.Family, Equipment: ex.Equipment, DisplayName: ex.DisplayName}
		if r.Exercise.DisplayName == "" {
			r.Exercise.DisplayName = ex.ID
		}
	}
	if c := in.Classification; c != nil {
		r.Classifier = &Classifier{
			Decision:       c.Decision,
			Pinned:         in.Pinned,
			Equipment:      c.Equipment,
			Confidence:     c.Confidence,
			Margin:         c.Margin,
			Candidates:     topCandidates(c.Candidates),
			Switched:       c.Switched,
			StrongOverride: c.StrongOverride,
			Frozen:         c.Frozen,
			LowConfidence:  c.LowConfidence,
		}
	}

	r.Scoring = buildScoring(in, opts)
	r.Coverage = buildCoverage(in)
	return r
}

func buildScoring(in Input, opts Options) Scoring {
	s := Scoring{AppliedCaps: []scoring.AppliedCap{}, Criteria: []Criterion{}}

	if in.Exercise != nil {
		for _, c := range in.Exercise.Criteria {
			cr := Criterion{ID: c.Name}
			if in.Availability != nil {
				for _, a := range in.Availability.Criteria {
					if a.Name == c.Name {
						cr.Available, cr.Missing, cr.Reason = a.Available, a.Missing, a.Reason
					}
				}
			}
			if in.Outcome != nil {
				for _, cs := range in.Outcome.Criteria {
					if cs.Name != c.Name || !cs.Scored {
						continue
					}
					score := cs.Score
					cr.Score, cr.ScorePct = &score, pct(score, opts.RoundScorePct)
					if cr.Reason == "" {
						cr.Reason = cs.Reason
					}
				}
			}
			s.Criteria = append(s.Criteria, cr)
		}
	}

	switch {
	case in.Availability != nil && in.Availability.Unscored:
		s.UnscoredReason = in.Availability.Reason
	case in.UnscoredReason != "":
		s.UnscoredReason = in.UnscoredReason
	case in.Exercise == nil:
		s.UnscoredReason = ReasonNoExercise
	case in.Outcome == nil || !in.Outcome.HasOverall:
		s.UnscoredReason = ReasonNoScored
	}
	if in.Outcome != nil {
		s.Quality = in.Outcome.Quality
	}
	if s.UnscoredReason != "" {
		return s
	}

	overall := in.Outcome.Overall
	s.Score = &overall
	s.ScorePct = pct(overall, opts.RoundScorePct)
	s.Grade = grade(overall, opts.Grades)
	if len(in.Outcome.Caps) > 0 {
		s.AppliedCaps = in.Outcome.Caps
	}
	return s
}

func buildCoverage(in Input) Coverage {
	c := Coverage{MissingReasonsTop: []string{}, MissingCritical: []string{}}
	if in.Exercise == nil {
		return c
	}
	c.TotalCriteria = len(in.Exercise.Criteria)

	counts := make(map[string]int)
	var order []string
	for _, crit := range in.Exercise.Criteria {
		reason := "not_provided"
		available := false
		if in.Availability != nil {
			for _, a := range in.Availability.Criteria {
				if a.Name == crit.Name {
					available = a.Available
					if a.Reason != "" {
						reason = a.Reason
					}
				}
			}
		}
		if available {
			c.AvailableCount++
			continue
		}
		if counts[reason] == 0 {
			order = append(order, reason)
		}
		counts[reason]++
	}
	if c.TotalCriteria > 0 {
		c.AvailableRatio = float64(c.AvailableCount) / float64(c.TotalCriteria)
	}
	c.AvailablePct = int(math.Round(c.AvailableRatio * 100))

	// Most frequent first, first seen breaks ties.
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > topReasons {
		order = order[:topReasons]
	}
	c.MissingReasonsTop = append(c.MissingReasonsTop, order...)

	if in.Availability != nil {
		c.MissingCritical = append(c.MissingCritical, in.Availability.MissingCritical...)
	}
	return c
}

func pct(v float64, round bool) *int {
	var p int
	if round {
		p = int(math.Round(v * 100))
	} else {
		p = int(math.Floor(v*100 + 1e-9))
	}
	return &p
}

// grade maps an overall score onto A to D.
func grade(v float64, g Grades) string {
	if g == (Grades{}) {
		g = DefaultGrades
	}
	switch {
	case v >= g.A:
		return "A"
	case v >= g.B:
		return "B"
	case v >= g.C:
		return "C"
	default:
		return "D"
	}
}

func topCandidates(cs []classifier.Candidate) []classifier.Candidate {
	const keep = 3
	if len(cs) > keep {
		cs = cs[:keep]
	}
	return append([]classifier.Candidate(nil), cs...)
}

// echo copies the canonical map without the rep namespace, which is
// reported as a tree instead.
func echo(m types.Measurements) types.Measurements {
	out := make(types.Measurements, len(m))
	for k, v := range m {
		if !strings.HasPrefix(k, repPrefix) {
			out[k] = v
		}
	}
	return out
}

// repTree nests the rep.* keys of m on their dots. A key that is both a
// value and a parent keeps the value under "value".
func repTree(m types.Measurements) map[string]any {
	var root map[string]any
	for _, k := range m.Keys() {
		if !strings.HasPrefix(k, repPrefix) {
			continue
		}
		if root == nil {
			root = make(map[string]any)
		}
		parts := strings.Split(strings.TrimPrefix(k, repPrefix), ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				if leaf, isLeaf := node[p]; isLeaf {
					child["value"] = leaf
				}
				node[p] = child
			}
			node = child
		}
		last := parts[len(parts)-1]
		if child, ok := node[last].(map[string]any); ok {
			child["value"] = m[k]
		} else {
			node[last] = m[k]
		}
	}
	return root
}
