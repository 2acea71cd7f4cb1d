package segmenter

import (
	"fmt"
	"strings"
	"time"
)

// Default segmentation parameters for degree signals.
const (
	DefaultEMAAlpha       = 0.30
	DefaultPhaseDelta     = 2.0
	DefaultMinROMGood     = 15.0
	DefaultPartialFactor  = 0.6
	DefaultMinRep         = 400 * time.Millisecond
	DefaultMaxRep         = 6000 * time.Millisecond
	DefaultMinTurn        = 80 * time.Millisecond
	DefaultCloseTolerance = 0.4
)

// Units of a repetition signal.
const (
	UnitsDeg   = "deg"
	UnitsRatio = "ratio"
	UnitsPx    = "px"
)

// unitDefaults holds phase delta and good ROM per unit.
var unitDefaults = map[string][2]float64{
	UnitsDeg:   {DefaultPhaseDelta, DefaultMinROMGood},
	UnitsRatio: {0.01, 0.12},
	UnitsPx:    {3.0, 30.0},
}

// Config is the rep_signal block of an exercise.
type Config struct {
	// Source names the signal: a canonical key, or "value|<agg>|<k1>,<k2>"
	// where agg is one of min, max, mean, first. Empty selects automatically.
	Source string `yaml:"source"`

	// Target is the extremum the movement travels towards: "min" or "max".
	Target string `yaml:"target"`

	// Units overrides the inferred signal units.
	Units string `yaml:"units"`

	EMAAlpha   *float64          `yaml:"ema_alpha"`
	Thresholds Thresholds        `yaml:"thresholds"`
	PhaseMap   map[string]string `yaml:"phase_map"`
}

// Thresholds holds the optional overrides of the segmentation parameters.
type Thresholds struct {
	PhaseDelta     *float64 `yaml:"phase_delta"`
	MinROMGood     *float64 `yaml:"min_rom_good"`
	MinROMPartial  *float64 `yaml:"min_rom_partial"`
	MinRepMs       *float64 `yaml:"min_rep_ms"`
	MaxRepMs       *float64 `yaml:"max_rep_ms"`
	MinTurnMs      *float64 `yaml:"min_turn_ms"`
	CloseTolerance *float64 `yaml:"close_tolerance"`
}

// Validate reports malformed settings. It is called at library load time.
func (c Config) Validate() error {
	switch c.Target {
	case "", "min", "max":
	default:
		return fmt.Errorf("segmenter: target %q must be min or max", c.Target)
	}
	if c.Units != "" {
		if _, ok := unitDefaults[c.Units]; !ok {
			return fmt.Errorf("segmenter: unknown units %q", c.Units)
		}
	}
	if c.EMAAlpha != nil && (*c.EMAAlpha <= 0 || *c.EMAAlpha > 1) {
		return fmt.Errorf("segmenter: ema_alpha %v outside (0,1]", *c.EMAAlpha)
	}
	if c.Source != "" {
		if _, err := parseSource(c.Source); err != nil {
			return err
		}
	}
	th := c.Thresholds
	for name, v := range map[string]*float64{
		"phase_delta":     th.PhaseDelta,
		"min_rom_good":    th.MinROMGood,
		"min_rom_partial": th.MinROMPartial,
		"min_rep_ms":      th.MinRepMs,
		"max_rep_ms":      th.MaxRepMs,
		"min_turn_ms":     th.MinTurnMs,
		"close_tolerance": th.CloseTolerance,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("segmenter: %s must not be negative", name)
		}
	}
	if th.MinRepMs != nil && th.MaxRepMs != nil && *th.MinRepMs > *th.MaxRepMs {
		return fmt.Errorf("segmenter: min_rep_ms above max_rep_ms")
	}
	return nil
}

// params are the resolved parameters for one signal.
type params struct {
	alpha      float64
	phaseDelta float64
	romGood    float64
	romPartial float64
	minRep     time.Duration
	maxRep     time.Duration
	minTurn    time.Duration
	closeTol   float64
	towardsMin bool
}

func (c Config) resolve(units string) params {
	d, ok := unitDefaults[units]
	if !ok {
		d = unitDefaults[UnitsDeg]
	}
	p := params{
		alpha:      DefaultEMAAlpha,
		phaseDelta: d[0],
		romGood:    d[1],
		minRep:     DefaultMinRep,
		maxRep:     DefaultMaxRep,
		minTurn:    DefaultMinTurn,
		closeTol:   DefaultCloseTolerance,
		towardsMin: c.Target != "max",
	}
	if c.EMAAlpha != nil {
		p.alpha = *c.EMAAlpha
	}
	th := c.Thresholds
	if th.PhaseDelta != nil {
		p.phaseDelta = *th.PhaseDelta
	}
	if th.MinROMGood != nil {
		p.romGood = *th.MinROMGood
	}
	p.romPartial = DefaultPartialFactor * p.romGood
	if th.MinROMPartial != nil {
		p.romPartial = *th.MinROMPartial
	}
	if th.MinRepMs != nil {
		p.minRep = millis(*th.MinRepMs)
	}
	if th.MaxRepMs != nil {
		p.maxRep = millis(*th.MaxRepMs)
	}
	if th.MinTurnMs != nil {
		p.minTurn = millis(*th.MinTurnMs)
	}
	if th.CloseTolerance != nil {
		p.closeTol = *th.CloseTolerance
	}
	return p
}

func millis(ms float64) time.Duration { return time.Duration(ms * float64(time.Millisecond)) }

// phaseName maps an internal phase to its display name.
func (c Config) phaseName(p Phase) string {
	if name, ok := c.PhaseMap[string(p)]; ok && strings.TrimSpace(name) != "" {
		return name
	}
	return string(p)
}
