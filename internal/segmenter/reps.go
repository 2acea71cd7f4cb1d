package segmenter

import (
	"math"
	"time"

	"github.com/formsense/formsense/pkg/types"
)

// historySize is the number of counted repetitions kept per segmenter.
const historySize = 10

// abandonFactor × max repetition duration ends a repetition that never
// returned to its reference.
const abandonFactor = 2

// Phase is a state of the repetition state machine.
type Phase string

const (
	PhaseStart   Phase = "start"
	PhaseTowards Phase = "towards"
	PhaseTurn    Phase = "turn"
	PhaseAway    Phase = "away"
)

// Direction of the smoothed signal between two samples.
type Direction string

const (
	DirNone Direction = "none"
	DirUp   Direction = "up"
	DirDown Direction = "down"
)

// Quality classifies a closed repetition.
type Quality string

const (
	QualityGood    Quality = "good"
	QualityPartial Quality = "partial"
	QualityShort   Quality = "short"
	QualityFast    Quality = "fast"
	QualitySlow    Quality = "slow"
)

// Counted reports whether a closure with this quality emits an Event.
func (q Quality) Counted() bool { return q == QualityGood || q == QualityPartial }

// Event is one counted repetition.
type Event struct {
	RepID      int           `json:"rep_id"`
	Start      time.Time     `json:"start"`
	Turn       time.Time     `json:"turn"`
	End        time.Time     `json:"end"`
	Duration   time.Duration `json:"duration"`
	Eccentric  time.Duration `json:"eccentric"`
	Concentric time.Duration `json:"concentric"`
	ROM        float64       `json:"rom"`
	Units      string        `json:"units"`
	Quality    Quality       `json:"quality"`
	Signal     string        `json:"signal"`
}

// Errors flags the problems of the most recent closure or frame.
type Errors struct {
	MissingSignal bool
	FastRep       bool
	SlowRep       bool
	SmallROM      bool
}

// Update is the live state after one frame.
type Update struct {
	Phase      Phase
	PhaseName  string
	Active     bool
	Direction  Direction
	RepID      int
	Units      string
	Signal     string
	AutoSignal bool
	Progress   float64
	Errors     Errors

	// Last closure, counted or not. Valid when HasLast is true.
	HasLast     bool
	LastQuality Quality
	LastTiming  time.Duration
	LastEcc     time.Duration
	LastCon     time.Duration
	LastROM     float64

	// Rest is the time since the last closure while idle.
	HasRest bool
	Rest    time.Duration
}

// Eccentric reports whether the movement is heading towards the target.
func (u Update) Eccentric() bool { return u.Phase == PhaseTowards }

// Concentric reports whether the movement is returning from the turn.
func (u Update) Concentric() bool { return u.Phase == PhaseAway }

// Fields renders u as rep.* measurements for injection into the canonical map.
func (u Update) Fields() types.Measurements {
	f := types.Measurements{
		"rep.state":                     types.Text(string(u.Phase)),
		"rep.phase":                     types.Text(u.PhaseName),
		"rep.active":                    types.Bool(u.Active),
		"rep.dir":                       types.Text(string(u.Direction)),
		"rep.rep_id":                    types.Number(float64(u.RepID)),
		"rep.in_rep_window":             types.Bool(u.Active),
		"rep.freeze_active":             types.Bool(u.Active),
		"rep.eccentric":                 types.Bool(u.Eccentric()),
		"rep.concentric":                types.Bool(u.Concentric()),
		"rep.progress":                  types.Number(u.Progress),
		"rep.errors.missing_signal":     types.Bool(u.Errors.MissingSignal),
		"rep.errors.fast_rep":           types.Bool(u.Errors.FastRep),
		"rep.errors.slow_rep":           types.Bool(u.Errors.SlowRep),
		"rep.errors.small_rom":          types.Bool(u.Errors.SmallROM),
		"rep.warnings.auto_signal_used": types.Bool(u.AutoSignal),
	}
	if u.Units != "" {
		f["rep.units"] = types.Text(u.Units)
	}
	if u.HasLast {
		f["rep.quality"] = types.Text(string(u.LastQuality))
		f["rep.timing_s"] = types.Number(u.LastTiming.Seconds())
		f["rep.ecc_s"] = types.Number(u.LastEcc.Seconds())
		f["rep.con_s"] = types.Number(u.LastCon.Seconds())
		f["rep.rom"] = types.Number(u.LastROM)
	}
	if u.HasRest {
		f["rep.rest_s"] = types.Number(u.Rest.Seconds())
	}
	return f
}

type closure struct {
	quality Quality
	timing  time.Duration
	ecc     time.Duration
	con     time.Duration
	rom     float64
}

// Segmenter is the per-session repetition state machine.
type Segmenter struct {
	phase Phase
	dir   Direction
	units string

	hasPrev bool
	prevAt  time.Time
	prevEMA float64

	hasRef  bool
	ref     float64
	startAt time.Time
	turnAt  time.Time
	turnVal float64

	count   int
	errs    Errors
	hasLast bool
	last    closure

	hasLastEnd bool
	lastEnd    time.Time

	history []Event
}

// New returns a Segmenter in the start phase.
func New() *Segmenter {
	return &Segmenter{phase: PhaseStart, dir: DirNone}
}

// Reset discards all state, including counts and history.
func (s *Segmenter) Reset() {
	*s = *New()
}

// Active reports whether a repetition is in progress.
func (s *Segmenter) Active() bool { return s.phase != PhaseStart }

// Count returns the number of counted repetitions.
func (s *Segmenter) Count() int { return s.count }

// History returns the most recent counted repetitions, oldest first.
func (s *Segmenter) History() []Event {
	out := make([]Event, len(s.history))
	copy(out, s.history)
	return out
}

// softReset returns to start without touching counts, history or the last
// closure. The next valid sample re-seeds the smoother and the reference.
func (s *Segmenter) softReset() {
	s.phase = PhaseStart
	s.dir = DirNone
	s.hasPrev = false
	s.hasRef = false
}

// Update advances the state machine with one frame. It returns an Event when
// a good or partial repetition closes on this frame.
func (s *Segmenter) Update(m types.Measurements, now time.Time, cfg Config) (Update, *Event) {
	sig, ok := pickSignal(m, cfg)
	if !ok {
		s.softReset()
		u := s.snapshot(now, cfg, params{}, 0)
		u.Errors.MissingSignal = true
		return u, nil
	}
	if s.hasPrev && sig.units != s.units {
		s.softReset()
	}
	s.units = sig.units
	p := cfg.resolve(sig.units)

	if !s.hasPrev {
		s.hasPrev = true
		s.prevAt, s.prevEMA = now, sig.value
		if !s.hasRef {
			s.ref, s.hasRef = sig.value, true
		}
		u := s.snapshot(now, cfg, p, sig.value)
		u.Signal, u.AutoSignal = sig.name, sig.auto
		return u, nil
	}

	ema := p.alpha*sig.value + (1-p.alpha)*s.prevEMA
	// Changes below phase delta keep the previous direction, so a slow
	// return still confirms the turn once the dwell has passed.
	d := ema - s.prevEMA
	switch {
	case d >= p.phaseDelta:
		s.dir = DirUp
	case d <= -p.phaseDelta:
		s.dir = DirDown
	}
	towards := (p.towardsMin && s.dir == DirDown) || (!p.towardsMin && s.dir == DirUp)
	away := s.dir != DirNone && !towards

	var ev *Event
	switch s.phase {
	case PhaseStart:
		if towards {
			s.phase = PhaseTowards
			s.startAt = s.prevAt
			s.ref = s.prevEMA
			s.errs = Errors{}
		}
	case PhaseTowards:
		if away {
			s.phase = PhaseTurn
			s.turnAt, s.turnVal = s.prevAt, s.prevEMA
			if now.Sub(s.turnAt) >= p.minTurn {
				s.phase = PhaseAway
			}
		}
	case PhaseTurn:
		if away && now.Sub(s.turnAt) >= p.minTurn {
			s.phase = PhaseAway
		}
	case PhaseAway:
		rom := math.Abs(s.turnVal - s.ref)
		scale := rom
		if scale <= 0 {
			scale = p.romGood
		}
		tol := math.Max(p.phaseDelta, p.closeTol*scale)
		if math.Abs(ema-s.ref) <= tol {
			ev = s.close(now, ema, rom, p, sig)
		}
	}

	if s.phase != PhaseStart && now.Sub(s.startAt) > abandonFactor*p.maxRep {
		s.abandon(now, ema)
	}

	s.prevAt, s.prevEMA = now, ema
	u := s.snapshot(now, cfg, p, ema)
	u.Signal, u.AutoSignal = sig.name, sig.auto
	return u, ev
}

func (s *Segmenter) close(now time.Time, ema, rom float64, p params, sig signal) *Event {
	c := closure{
		timing: now.Sub(s.startAt),
		ecc:    s.turnAt.Sub(s.startAt),
		con:    now.Sub(s.turnAt),
		rom:    rom,
	}
	switch {
	case c.timing < p.minRep:
		c.quality = QualityFast
	case c.timing > p.maxRep:
		c.quality = QualitySlow
	case rom >= p.romGood:
		c.quality = QualityGood
	case rom >= p.romPartial:
		c.quality = QualityPartial
	default:
		c.quality = QualityShort
	}
	s.errs = Errors{
		FastRep:  c.quality == QualityFast,
		SlowRep:  c.quality == QualitySlow,
		SmallROM: c.quality == QualityShort,
	}
	s.last, s.hasLast = c, true

	var ev *Event
	if c.quality.Counted() {
		s.count++
		ev = &Event{
			RepID:      s.count,
			Start:      s.startAt,
			Turn:       s.turnAt,
			End:        now,
			Duration:   c.timing,
			Eccentric:  c.ecc,
			Concentric: c.con,
			ROM:        rom,
			Units:      sig.units,
			Quality:    c.quality,
			Signal:     sig.name,
		}
		s.history = append(s.history, *ev)
		if len(s.history) > historySize {
			s.history = s.history[len(s.history)-historySize:]
		}
	}

	s.phase = PhaseStart
	s.ref = ema
	s.lastEnd, s.hasLastEnd = now, true
	return ev
}

// abandon ends a repetition that never came back to its reference.
func (s *Segmenter) abandon(now time.Time, ema float64) {
	s.errs = Errors{SlowRep: true}
	s.last = closure{quality: QualitySlow, timing: now.Sub(s.startAt)}
	s.hasLast = true
	s.phase = PhaseStart
	s.ref = ema
	s.lastEnd, s.hasLastEnd = now, true
}

func (s *Segmenter) snapshot(now time.Time, cfg Config, p params, ema float64) Update {
	u := Update{
		Phase:     s.phase,
		PhaseName: cfg.phaseName(s.phase),
		Active:    s.phase != PhaseStart,
		Direction: s.dir,
		RepID:     s.count,
		Units:     s.units,
		Errors:    s.errs,
		Progress:  s.progress(p, ema),
	}
	if s.hasLast {
		u.HasLast = true
		u.LastQuality = s.last.quality
		u.LastTiming = s.last.timing
		u.LastEcc = s.last.ecc
		u.LastCon = s.last.con
		u.LastROM = s.last.rom
	}
	if !u.Active && s.hasLastEnd {
		u.HasRest = true
		u.Rest = now.Sub(s.lastEnd)
	}
	return u
}

// progress is 0..0.5 on the way to the turn and 0.5..1 on the way back.
func (s *Segmenter) progress(p params, ema float64) float64 {
	switch s.phase {
	case PhaseTowards:
		expected := p.romGood
		if s.hasLast && s.last.rom > 0 {
			expected = s.last.rom
		}
		if expected <= 0 {
			return 0
		}
		return 0.5 * math.Min(1, math.Abs(ema-s.ref)/expected)
	case PhaseTurn:
		return 0.5
	case PhaseAway:
		span := math.Abs(s.turnVal - s.ref)
		if span <= 0 {
			return 0.5
		}
		return 0.5 + 0.5*math.Min(1, math.Abs(ema-s.turnVal)/span)
	default:
		return 0
	}
}
