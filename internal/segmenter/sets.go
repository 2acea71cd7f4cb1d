package segmenter

import (
	"time"

	"github.com/formsense/formsense/pkg/types"
)

// Default set counting parameters.
const (
	DefaultSetMinReps     = 1
	DefaultSetIdleTimeout = 7 * time.Second
)

// Summary describes one closed set.
type Summary struct {
	Index    int           `json:"set_index"`
	Reps     int           `json:"reps"`
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
	Forced   bool          `json:"forced"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
}

// SetCounter groups counted repetitions into sets.
type SetCounter struct {
	minReps int
	idle    time.Duration

	active     bool
	index      int
	reps       int
	start      time.Time
	lastRep    time.Time
	hasLastRep bool

	total int
	last  *Summary
}

// NewSetCounter returns a SetCounter. A set is valid when it holds at least
// minReps repetitions; an open set closes after idle without a repetition.
func NewSetCounter(minReps int, idle time.Duration) *SetCounter {
	if minReps < 1 {
		minReps = DefaultSetMinReps
	}
	if idle <= 0 {
		idle = DefaultSetIdleTimeout
	}
	return &SetCounter{minReps: minReps, idle: idle}
}

// Reset discards all state.
func (c *SetCounter) Reset() {
	*c = *NewSetCounter(c.minReps, c.idle)
}

// Active reports whether a set is open.
func (c *SetCounter) Active() bool { return c.active }

// Last returns the most recently closed set.
func (c *SetCounter) Last() (Summary, bool) {
	if c.last == nil {
		return Summary{}, false
	}
	return *c.last, true
}

// Begin opens a new set. It is a no-op while a set is open.
func (c *SetCounter) Begin(now time.Time) {
	if c.active {
		return
	}
	c.active = true
	c.index++
	c.reps = 0
	c.start = now
	c.hasLastRep = false
}

// End closes the open set. forced marks an explicit end, which is always
// valid. ok is false when no set was open.
func (c *SetCounter) End(now time.Time, forced bool) (Summary, bool) {
	if !c.active {
		return Summary{}, false
	}
	s := Summary{
		Index:    c.index,
		Reps:     c.reps,
		Duration: now.Sub(c.start),
		OK:       forced || c.reps >= c.minReps,
		Forced:   forced,
		Start:    c.start,
		End:      now,
	}
	if s.OK {
		c.total++
	}
	c.active = false
	c.last = &s
	return s, true
}

// Update counts ev into the open set, opening one if needed. Without an
// event it closes the set once the idle timeout is exceeded.
func (c *SetCounter) Update(ev *Event, now time.Time) (Summary, bool) {
	if ev != nil {
		c.Begin(now)
		c.reps++
		c.lastRep, c.hasLastRep = now, true
		return Summary{}, false
	}
	if !c.active {
		return Summary{}, false
	}
	since := c.start
	if c.hasLastRep {
		since = c.lastRep
	}
	if now.Sub(since) > c.idle {
		return c.End(now, false)
	}
	return Summary{}, false
}

// Signals applies explicit begin/end control signals. An end closes the set
// before a begin in the same frame opens the next one.
func (c *SetCounter) Signals(begin, end bool, now time.Time) (Summary, bool) {
	var s Summary
	var closed bool
	if end {
		s, closed = c.End(now, true)
	}
	if begin {
		c.Begin(now)
	}
	return s, closed
}

// Fields renders the counter as rep.set_* measurements.
func (c *SetCounter) Fields() types.Measurements {
	f := types.Measurements{
		"rep.set_active": types.Bool(c.active),
		"rep.set_index":  types.Number(float64(c.index)),
		"rep.set_reps":   types.Number(float64(c.reps)),
		"rep.set_total":  types.Number(float64(c.total)),
	}
	if c.last != nil {
		f["rep.set_last_ok"] = types.Bool(c.last.OK)
		f["rep.set_last_reps"] = types.Number(float64(c.last.Reps))
		f["rep.set_last_duration_s"] = types.Number(c.last.Duration.Seconds())
	}
	return f
}
