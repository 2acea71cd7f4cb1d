// Package availability decides which criteria of an exercise can be scored
// from the measurements of one frame, and whether the frame is unscored
// because a critical criterion is missing.
package availability
