// Package report assembles the immutable per-frame report.
//
// Build takes the outcome of every pipeline stage for one frame and returns a
// Report tree: meta, exercise identity, classifier summary, scoring with
// applied caps and per-criterion detail, coverage statistics, hints, recent
// diagnostics, echoed measurements and the rep.* namespace as a nested tree.
// A Report is never mutated after Build returns.
package report
