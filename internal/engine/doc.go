// Package engine runs the per-frame pipeline and owns per-session state.
//
// Process sequences one frame through normalization, the optional pose
// confidence gate, exercise resolution (pinned or classified), the grace
// window, repetition and set tracking, availability, scoring and hints, and
// returns a report. It never returns nil: every failure becomes an unscored
// report or a diagnostic event.
//
// Each session owns its classifier, segmenter and set counter behind its own
// mutex, so sessions run in parallel without sharing state. Idle sessions are
// evicted after a TTL by Evict or the Run loop.
package engine
