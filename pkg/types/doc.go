// Package types defines the measurement values shared by every stage of the
// formsense pipeline. A Value is a tagged number, boolean, or text scalar;
// Measurements is a flat key/value map as produced by an upstream pose
// estimator (raw keys) or by the normalizer (canonical keys).
//
// Frame carries one timestamped observation for one session. Timestamps are
// wall-clock times supplied by the caller so that every downstream state
// machine can be driven deterministically in tests.
package types
