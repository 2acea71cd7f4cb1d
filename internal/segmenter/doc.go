// Package segmenter turns a per-frame motion signal into discrete
// repetitions and groups repetitions into sets.
//
// signal.go picks the signal: a configured source ("value|min|a,b" or a plain
// key) or, failing that, the first usable fallback among joint-angle pairs
// (knee, hip, elbow, shoulder), vertical bar or wrist pixel positions, and
// any ratio key.
//
// reps.go runs the repetition state machine over an EMA-smoothed signal:
//
//	start -> towards -> turn -> away -> start
//
// The start reference and the turn point are anchored at the sample before
// the transition, so a repetition spans from the last rest sample to the
// first sample back within tolerance of the reference. Closing emits an
// Event only for good or partial repetitions; fast, slow and short closures
// update the live quality and error flags but are not counted.
//
// sets.go counts repetitions into sets with an idle timeout, explicit begin
// and end signals, and a minimum repetition count for a set to be valid.
//
// Segmenter and SetCounter are not safe for concurrent use; callers own one
// instance per session.
package segmenter
