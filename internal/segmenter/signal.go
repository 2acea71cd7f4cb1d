package segmenter

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/formsense/formsense/pkg/types"
)

// jointPairs are the automatic fallbacks, in priority order. The smaller
// angle of each left/right pair is used.
var jointPairs = [][2]string{
	{"knee_left_deg", "knee_right_deg"},
	{"hip_left_deg", "hip_right_deg"},
	{"elbow_left_deg", "elbow_right_deg"},
	{"shoulder_left_deg", "shoulder_right_deg"},
}

// pixelKeys are vertical positions tried after the joint pairs.
var pixelKeys = []string{"bar.y_px", "wrist_left_y_px", "wrist_right_y_px"}

type source struct {
	agg  string
	keys []string
}

func parseSource(s string) (source, error) {
	if !strings.Contains(s, "|") {
		return source{agg: "first", keys: []string{strings.TrimSpace(s)}}, nil
	}
	parts := strings.Split(s, "|")
	if len(parts) != 3 || strings.TrimSpace(parts[0]) != "value" {
		return source{}, fmt.Errorf("segmenter: source %q: want value|<agg>|<keys>", s)
	}
	src := source{agg: strings.TrimSpace(parts[1])}
	switch src.agg {
	case "min", "max", "mean", "first":
	case "avg":
		src.agg = "mean"
	default:
		return source{}, fmt.Errorf("segmenter: source %q: unknown aggregate %q", s, src.agg)
	}
	for _, k := range strings.Split(parts[2], ",") {
		if k = strings.TrimSpace(k); k != "" {
			src.keys = append(src.keys, k)
		}
	}
	if len(src.keys) == 0 {
		return source{}, fmt.Errorf("segmenter: source %q: no keys", s)
	}
	return src, nil
}

// read aggregates the numeric keys that are present. ok is false when none is.
func (s source) read(m types.Measurements) (float64, bool) {
	var vals []float64
	for _, k := range s.keys {
		v, ok := m[k]
		if !ok || !v.IsNumber() || !v.Finite() {
			continue
		}
		f, _ := v.Float()
		vals = append(vals, f)
	}
	if len(vals) == 0 {
		return 0, false
	}
	switch s.agg {
	case "min":
		return floats.Min(vals), true
	case "max":
		return floats.Max(vals), true
	case "mean":
		return stat.Mean(vals, nil), true
	default:
		return vals[0], true
	}
}

func (s source) String() string {
	if len(s.keys) == 1 {
		return s.keys[0]
	}
	return s.agg + "(" + strings.Join(s.keys, ",") + ")"
}

// signal is one sample of the chosen motion signal.
type signal struct {
	value float64
	name  string
	units string
	auto  bool
}

func pickSignal(m types.Measurements, cfg Config) (signal, bool) {
	if cfg.Source != "" {
		src, err := parseSource(cfg.Source)
		if err != nil {
			return signal{}, false
		}
		v, ok := src.read(m)
		if !ok {
			return signal{}, false
		}
		units := cfg.Units
		if units == "" {
			units = inferUnits(src.keys[0])
		}
		return signal{value: v, name: src.String(), units: units}, true
	}

	for _, pair := range jointPairs {
		src := source{agg: "min", keys: pair[:]}
		if v, ok := src.read(m); ok {
			return auto(v, src.String(), UnitsDeg, cfg), true
		}
	}
	for _, k := range pixelKeys {
		if v, ok := m.Float(k); ok && m[k].IsNumber() {
			return auto(v, k, UnitsPx, cfg), true
		}
	}
	for _, k := range m.Keys() {
		if !strings.Contains(k, "ratio") || !m[k].IsNumber() {
			continue
		}
		v, _ := m.Float(k)
		return auto(v, k, UnitsRatio, cfg), true
	}
	return signal{}, false
}

func auto(v float64, name, units string, cfg Config) signal {
	if cfg.Units != "" {
		units = cfg.Units
	}
	return signal{value: v, name: name, units: units, auto: true}
}

func inferUnits(key string) string {
	switch {
	case strings.HasSuffix(key, "_px"):
		return UnitsPx
	case strings.Contains(key, "ratio"):
		return UnitsRatio
	default:
		return UnitsDeg
	}
}
