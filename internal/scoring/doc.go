// Package scoring turns canonical measurements into per-criterion scores in
// [0,1] and a single weighted overall score.
//
// rule.go defines the closed set of rule kinds as a sealed interface and
// compiles the YAML rule spec of a criterion into one of them at library load
// time, so a malformed rule fails loading instead of failing a frame:
//
//	threshold_window     smaller or larger is better, optional warn bound
//	band_center          full credit inside [min_ok,max_ok], linear to cutoffs
//	tempo_window         band_center over a duration in seconds
//	symmetric_threshold  threshold_window over the absolute value
//	boolean_flag         configured score when truthy, default 1.0 otherwise
//
// Inputs are single keys or composites (min, max, mean, max_abs) over several
// keys; a composite with any missing input yields no score.
//
// vote.go combines available criterion scores with a weighted mean and then
// applies the exercise's safety caps in declaration order. A cap can only
// lower the overall score.
package scoring
