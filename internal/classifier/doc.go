// Package classifier chooses the active exercise for each frame.
//
// Candidates are the library's selectable exercises filtered to the
// equipment inferred from object-detection flags (falling back to the full
// selectable set). Each candidate is scored from its match hints: one check
// per must-have key, one for any_of, one per range, one for the preferred
// view, normalised by the number of checks and scaled by the hint weight.
// A truthy must_not_have key disqualifies the candidate.
//
// The decision favours stability. A new top candidate replaces the previous
// selection only when its margin over the runner-up reaches the switch
// threshold; below the keep threshold, and in the band between the two, the
// previous selection stays. While a repetition is in progress the selection
// is frozen unless a strong override is allowed to bypass the freeze.
//
// Confidence is an EMA of the top candidate's score. The classifier records
// when confidence first fell below the low-confidence threshold so callers
// can report sustained low confidence.
package classifier
