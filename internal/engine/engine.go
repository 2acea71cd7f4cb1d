package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/formsense/formsense/internal/availability"
	"github.com/formsense/formsense/internal/classifier"
	"github.com/formsense/formsense/internal/diag"
	"github.com/formsense/formsense/internal/hints"
	"github.com/formsense/formsense/internal/library"
	"github.com/formsense/formsense/internal/normalize"
	"github.com/formsense/formsense/internal/report"
	"github.com/formsense/formsense/internal/scoring"
	"github.com/formsense/formsense/internal/segmenter"
	"github.com/formsense/formsense/pkg/types"
)

// Control signals carried in raw frames. They are consumed by the set
// counter and never reach normalization.
const (
	SignalSetBegin = "set.begin"
	SignalSetEnd   = "set.end"
)

// Keys a host may set to report an active repetition window.
var freezeKeys = []string{"rep.freeze_active", "rep.in_rep_window"}

// Engine turns frames into reports.
//
// All exported methods are safe for concurrent use. Frames of one session are
// processed one at a time; frames of different sessions run in parallel.
type Engine struct {
	lib  *library.Holder
	sink diag.Sink

	mu       sync.Mutex
	opts     Options
	sessions map[string]*session
	now      func() time.Time // injectable for deterministic tests
}

// New returns an Engine reading exercises from lib and emitting diagnostics
// to sink. A nil sink discards events.
func New(lib *library.Holder, sink diag.Sink, opts Options) *Engine {
	if sink == nil {
		sink = diag.Discard
	}
	return &Engine{
		lib:      lib,
		sink:     sink,
		opts:     opts,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// SetOptions replaces the options. Running sessions pick up the classifier
// settings on their next frame; set counter settings apply to new sessions.
func (e *Engine) SetOptions(opts Options) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts = opts
}

// Options returns the current options.
func (e *Engine) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// Sessions returns the number of live sessions.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// ResetSession discards the state of one session. It reports whether the
// session existed.
func (e *Engine) ResetSession(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[id]; !ok {
		return false
	}
	delete(e.sessions, id)
	return true
}

func (e *Engine) acquire(id string) (*session, Options) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		s = newSession(id, e.opts)
		e.sessions[id] = s
		slog.Debug("engine: session started", "session", id)
	}
	s.seen = e.now()
	return s, e.opts
}

// Evict removes sessions that have not received a frame within the session
// TTL before now. It returns the number of sessions removed.
func (e *Engine) Evict(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := now.Add(-e.opts.SessionTTL)
	removed := 0
	for id, s := range e.sessions {
		if !s.seen.After(cutoff) {
			delete(e.sessions, id)
			removed++
		}
	}
	return removed
}

// Run starts the idle-session eviction loop. It ticks at half the session TTL
// (minimum 1 second) and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	interval := e.Options().SessionTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := e.Evict(now); n > 0 {
				slog.Debug("engine: evicted idle sessions", "count", n)
			}
		}
	}
}

// Process runs one frame through the pipeline and returns its report. The
// report is never nil.
func (e *Engine) Process(fr types.Frame) *report.Report {
	id := fr.Session
	if id == "" {
		id = DefaultSession
	}
	s, opts := e.acquire(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cls.SetSettings(opts.Classifier)

	f := &frame{e: e, s: s, opts: opts, lib: e.lib.Load(), at: fr.At}
	f.in = report.Input{Session: id, FrameTime: fr.At, Now: e.now().UTC()}
	if f.lib != nil {
		f.in.LibraryVersion = f.lib.Version
	}

	if s.hasFrame && !fr.At.After(s.lastFrame) {
		f.emit(diag.KindNonMonotonic, diag.SeverityWarn, "frame timestamp does not advance",
			map[string]any{"ts": fr.At, "previous": s.lastFrame})
		f.in.UnscoredReason = report.ReasonNonMonotonic
		return f.finish()
	}
	s.hasFrame, s.lastFrame = true, fr.At

	if f.lib == nil {
		f.emit(diag.KindException, diag.SeverityError, "no exercise library loaded", nil)
		f.in.UnscoredReason = report.ReasonInternalError
		return f.finish()
	}

	raw := fr.Raw.Clone()
	begin, end := raw.Truthy(SignalSetBegin), raw.Truthy(SignalSetEnd)
	delete(raw, SignalSetBegin)
	delete(raw, SignalSetEnd)

	canonical := f.normalize(raw)
	f.in.Canonical = canonical

	// Control signals are operator commands and apply even to gated frames.
	if begin || end {
		f.guard("set_signals", func() {
			if sum, closed := s.sets.Signals(begin, end, fr.At); closed {
				f.closedSet(sum)
			}
		})
	}

	if f.lowPoseConfidence(canonical, raw) {
		f.in.UnscoredReason = report.ReasonLowConfidence
		return f.finish()
	}

	ex := f.resolve(fr.Exercise, canonical)
	if ex == nil {
		f.in.UnscoredReason = report.ReasonNoExercise
		return f.finish()
	}
	f.in.Exercise = ex
	if ex.ID != s.exerciseID {
		if s.exerciseID != "" {
			s.seg.Reset()
		}
		s.exerciseID = ex.ID
	}

	if f.inGrace() {
		f.in.UnscoredReason = report.ReasonGracePeriod
		return f.finish()
	}

	f.track(ex, canonical)

	av := availability.Evaluate(ex, canonical)
	f.in.Availability = &av
	f.reportMissing(ex, av)
	if av.Unscored {
		return f.finish()
	}

	out := scoring.Score(ex.Criteria, av.Available, ex.Weights, ex.Caps, canonical)
	f.in.Outcome = &out
	f.guard("hints", func() {
		f.in.Hints = hints.Generate(hints.Input{
			Exercise:     ex,
			Outcome:      out,
			Measurements: canonical,
			Phrases:      f.lib.Phrases,
			Language:     opts.Language,
			Max:          opts.MaxHints,
		})
	})
	return f.finish()
}

// frame carries the state of one Process call.
type frame struct {
	e    *Engine
	s    *session
	opts Options
	lib  *library.Library
	at   time.Time
	in   report.Input
}

func (f *frame) emit(kind diag.Kind, sev diag.Severity, msg string, ctx map[string]any) {
	ev := diag.Event{Time: f.at, Session: f.s.id, Kind: kind, Severity: sev, Message: msg, Context: ctx}
	f.e.sink.Emit(ev)
	f.s.remember(ev, f.opts.DiagnosticsTail)
}

func (f *frame) finish() *report.Report {
	f.in.Diagnostics = f.s.diagnostics()
	return report.Build(f.in, f.opts.Report)
}

// guard runs fn and turns a panic into an exception event. It reports
// whether fn completed.
func (f *frame) guard(stage string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			f.emit(diag.KindException, diag.SeverityError, stage+" failed",
				map[string]any{"stage": stage, "panic": fmt.Sprint(r)})
		}
	}()
	fn()
	return true
}

func (f *frame) normalize(raw types.Measurements) types.Measurements {
	res := normalize.New(f.lib.Aliases).Normalize(raw)
	for _, c := range res.Conflicts {
		f.emit(diag.KindAliasConflict, diag.SeverityWarn, "aliased values disagree",
			map[string]any{"canonical": c.Canonical, "keys": c.Keys, "tolerance": c.Tolerance})
	}
	if len(res.Unknowns) > 0 {
		f.emit(diag.KindUnknownKey, diag.SeverityInfo, "dropped unknown keys",
			map[string]any{"keys": res.Unknowns})
	}
	if len(res.Invalid) > 0 {
		f.emit(diag.KindInvalidValue, diag.SeverityWarn, "dropped non-finite values",
			map[string]any{"keys": res.Invalid})
	}
	return res.Canonical
}

// lowPoseConfidence applies the optional gate. The first configured key that
// holds a number decides; canonical values win over raw ones.
func (f *frame) lowPoseConfidence(canonical, raw types.Measurements) bool {
	if !f.opts.LowConfidenceGate {
		return false
	}
	for _, key := range f.opts.PoseConfidenceKeys {
		v, ok := canonical[key]
		if !ok {
			v, ok = raw[key]
		}
		v = v.Coerce()
		if !ok || !v.IsNumber() || !v.Finite() {
			continue
		}
		c, _ := v.Float()
		if c >= f.opts.LowConfidenceMin {
			return false
		}
		f.emit(diag.KindLowConfidence, diag.SeverityWarn, "pose confidence below minimum",
			map[string]any{"key": key, "confidence": c, "min": f.opts.LowConfidenceMin})
		return true
	}
	return false
}

// resolve returns the pinned exercise or asks the session classifier.
func (f *frame) resolve(pinned string, m types.Measurements) *library.Exercise {
	if pinned != "" {
		if ex, ok := f.lib.Exercise(pinned); ok {
			f.in.Pinned = true
			return ex
		}
		f.emit(diag.KindUnknownExercise, diag.SeverityWarn, "pinned exercise is not in the library",
			map[string]any{"exercise": pinned})
	}

	freeze := f.s.seg.Active()
	for _, k := range freezeKeys {
		freeze = freeze || m.Truthy(k)
	}
	prev := f.s.cls.State().PrevID
	res := f.s.cls.Pick(m, f.lib, freeze, f.at)
	f.in.Classification = &res

	switch {
	case res.StrongOverride:
		f.emit(diag.KindOverride, diag.SeverityInfo, "strong override switched exercise",
			map[string]any{"from": prev, "to": res.ExerciseID, "margin": res.Margin})
	case res.Switched:
		f.emit(diag.KindSwitch, diag.SeverityInfo, "switched exercise",
			map[string]any{"from": prev, "to": res.ExerciseID, "margin": res.Margin})
	case res.Decision == classifier.DecisionFrozen && res.Challenger != "":
		f.emit(diag.KindFreeze, diag.SeverityInfo, "switch held during repetition",
			map[string]any{"kept": res.ExerciseID, "challenger": res.Challenger, "margin": res.Margin})
	}
	if res.LowConfidence && !f.s.lowConf {
		f.emit(diag.KindLowConfidence, diag.SeverityWarn, "classifier confidence stayed low",
			map[string]any{"confidence": res.Confidence, "for_s": res.LowConfidenceFor.Seconds()})
	}
	f.s.lowConf = res.LowConfidence

	if res.ExerciseID == "" {
		return nil
	}
	ex, ok := f.lib.Exercise(res.ExerciseID)
	if !ok {
		f.emit(diag.KindUnknownExercise, diag.SeverityError, "selected exercise is not in the library",
			map[string]any{"exercise": res.ExerciseID})
		return nil
	}
	return ex
}

// inGrace reports whether the last accepted switch is still inside the grace
// window.
func (f *frame) inGrace() bool {
	if f.in.Pinned || f.opts.GraceWindow <= 0 {
		return false
	}
	st := f.s.cls.State()
	if st.LastSwitch.IsZero() {
		return false
	}
	if st.LastSwitchStrong && f.opts.BypassGraceOnStrong {
		return false
	}
	return f.at.Sub(st.LastSwitch) < f.opts.GraceWindow
}

// track advances the segmenter and set counter and injects their rep.*
// fields into m. A failing stage degrades to default fields.
func (f *frame) track(ex *library.Exercise, m types.Measurements) {
	var upd segmenter.Update
	var ev *segmenter.Event
	if !f.guard("segmenter", func() { upd, ev = f.s.seg.Update(m, f.at, ex.RepSignal) }) {
		f.s.seg.Reset()
		upd, ev = segmenter.Update{}, nil
	}
	for k, v := range upd.Fields() {
		m[k] = v
	}
	f.in.RepEvent = ev

	f.guard("set_counter", func() {
		if sum, closed := f.s.sets.Update(ev, f.at); closed {
			f.closedSet(sum)
		}
		for k, v := range f.s.sets.Fields() {
			m[k] = v
		}
	})
}

func (f *frame) closedSet(sum segmenter.Summary) {
	f.in.Set = &sum
	f.emit(diag.KindSetClosed, diag.SeverityInfo, "set closed",
		map[string]any{"set_index": sum.Index, "reps": sum.Reps, "ok": sum.OK, "forced": sum.Forced})
}

// reportMissing emits the availability diagnostics of one frame.
func (f *frame) reportMissing(ex *library.Exercise, av availability.Result) {
	missing := make(map[string][]string)
	for _, c := range av.Criteria {
		if !c.Available && !ex.IsCritical(c.Name) {
			missing[c.Name] = c.Missing
		}
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		f.emit(diag.KindMissingInput, diag.SeverityInfo, "criteria skipped for missing inputs",
			map[string]any{"exercise": ex.ID, "criteria": names, "missing": missing})
	}
	if av.Unscored {
		f.emit(diag.KindUnscored, diag.SeverityWarn, av.Reason,
			map[string]any{"exercise": ex.ID, "missing_critical": av.MissingCritical})
	}
}
