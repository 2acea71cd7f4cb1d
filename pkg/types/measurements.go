package types

import (
	"sort"
	"time"
)

// Measurements maps a measurement key to its value for one frame.
type Measurements map[string]Value

// Clone returns a shallow copy of m. A nil map clones to an empty map.
func (m Measurements) Clone() Measurements {
	out := make(Measurements, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the keys of m in sorted order.
func (m Measurements) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Float returns the numeric value stored under key.
func (m Measurements) Float(key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return v.Float()
}

// Has reports whether key is present.
func (m Measurements) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Truthy reports whether key is present and truthy.
func (m Measurements) Truthy(key string) bool {
	v, ok := m[key]
	return ok && v.Truthy()
}

// Frame is one timestamped observation for one session.
type Frame struct {
	// Session groups frames that belong to one independent stream.
	Session string

	// At is the frame timestamp. Frames of one session must be strictly
	// increasing in time.
	At time.Time

	// Exercise optionally pins the exercise id, bypassing classification.
	Exercise string

	// Raw holds the upstream measurements, keyed by raw (alias) names.
	Raw Measurements
}
