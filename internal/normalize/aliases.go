package normalize

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPassPrefixes are the key prefixes kept verbatim without an alias entry.
var DefaultPassPrefixes = []string{"features.", "bar.", "rep.", "pose.", "view.", "objdet."}

// aliasesDoc is the on-disk shape of aliases.yaml.
type aliasesDoc struct {
	CanonicalKeys map[string]struct {
		Aliases []string `yaml:"aliases"`
		Unit    string   `yaml:"unit"`
	} `yaml:"canonical_keys"`
	Tolerances   map[string]float64 `yaml:"tolerances"`
	PassPrefixes []string           `yaml:"pass_prefixes"`
}

// Aliases is the compiled alias table. It is immutable after ParseAliases.
type Aliases struct {
	toCanonical map[string]string
	units       map[string]string
	tolerances  map[string]float64
	prefixes    []string

	// Duplicates lists aliases declared under more than one canonical key.
	// The first canonical key in sorted order wins.
	Duplicates []string
}

// ParseAliases compiles an aliases.yaml document.
func ParseAliases(data []byte) (*Aliases, error) {
	var doc aliasesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("normalize: parse aliases: %w", err)
	}
	if len(doc.CanonicalKeys) == 0 {
		return nil, fmt.Errorf("normalize: aliases: missing or empty canonical_keys")
	}

	a := &Aliases{
		toCanonical: make(map[string]string),
		units:       make(map[string]string, len(doc.CanonicalKeys)),
		tolerances:  make(map[string]float64, len(doc.Tolerances)),
		prefixes:    DefaultPassPrefixes,
	}
	if len(doc.PassPrefixes) > 0 {
		a.prefixes = doc.PassPrefixes
	}

	canon := make([]string, 0, len(doc.CanonicalKeys))
	for k := range doc.CanonicalKeys {
		if strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("normalize: aliases: empty canonical key name")
		}
		canon = append(canon, k)
	}
	sort.Strings(canon)

	for _, k := range canon {
		spec := doc.CanonicalKeys[k]
		a.units[k] = spec.Unit
		for _, al := range spec.Aliases {
			if al == "" {
				continue
			}
			if prev, ok := a.toCanonical[al]; ok && prev != k {
				a.Duplicates = append(a.Duplicates, al)
				continue
			}
			a.toCanonical[al] = k
		}
	}
	// Canonical names resolve to themselves unless claimed as an alias.
	for _, k := range canon {
		if _, ok := a.toCanonical[k]; !ok {
			a.toCanonical[k] = k
		}
	}

	for unit, tol := range doc.Tolerances {
		if tol < 0 {
			return nil, fmt.Errorf("normalize: aliases: negative tolerance for unit %q", unit)
		}
		a.tolerances[unit] = tol
	}
	return a, nil
}

// Canonical resolves a raw key. ok is false for unknown keys; pass-through
// keys resolve to themselves.
func (a *Aliases) Canonical(raw string) (string, bool) {
	if c, ok := a.toCanonical[raw]; ok {
		return c, true
	}
	if a.passThrough(raw) {
		return raw, true
	}
	return "", false
}

// Unit returns the declared unit of a canonical key, or "".
func (a *Aliases) Unit(canonical string) string { return a.units[canonical] }

// Tolerance returns the agreement tolerance for a unit. Units without a
// declared tolerance require exact agreement.
func (a *Aliases) Tolerance(unit string) float64 { return a.tolerances[unit] }

// CanonicalKeys returns every declared canonical key in sorted order.
func (a *Aliases) CanonicalKeys() []string {
	out := make([]string, 0, len(a.units))
	for k := range a.units {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (a *Aliases) passThrough(key string) bool {
	for _, p := range a.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
