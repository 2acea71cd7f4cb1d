// Package hints turns per-criterion scores into short, ranked coaching
// phrases.
package hints
