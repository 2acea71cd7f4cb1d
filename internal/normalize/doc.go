// Package normalize maps raw upstream measurement keys onto the canonical
// vocabulary declared in aliases.yaml.
//
// aliases.go parses the alias table: every canonical key lists its aliases
// and a unit, and every unit may carry an agreement tolerance. Canonical keys
// are implicitly aliases of themselves, which makes normalization idempotent.
//
// normalize.go provides the pure Normalizer. Raw keys are grouped by the
// canonical key they resolve to. A single reporter passes through; several
// numeric reporters are averaged and flagged as a conflict when their spread
// exceeds the unit tolerance; several non-numeric reporters conflict when
// they disagree. Keys with a pass-through prefix (features., bar., rep.,
// pose., view., objdet.) are kept verbatim, everything else is dropped and
// listed as unknown. Non-finite numbers never reach the canonical map.
package normalize
