package diag

import (
	"context"
	"log/slog"
	"time"
)

// Severity grades an event.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Kind names what happened.
type Kind string

const (
	KindAliasConflict   Kind = "alias_conflict"
	KindUnknownKey      Kind = "unknown_key"
	KindInvalidValue    Kind = "invalid_value"
	KindMissingInput    Kind = "missing_input"
	KindUnscored        Kind = "unscored"
	KindLowConfidence   Kind = "low_confidence"
	KindSwitch          Kind = "classifier_switch"
	KindOverride        Kind = "classifier_override"
	KindFreeze          Kind = "classifier_freeze"
	KindNonMonotonic    Kind = "non_monotonic_timestamp"
	KindSetClosed       Kind = "set_closed"
	KindException       Kind = "exception"
	KindLibraryReload   Kind = "library_reload"
	KindUnknownExercise Kind = "unknown_exercise"
)

// Event is one diagnostic occurrence.
type Event struct {
	Time     time.Time      `json:"ts"`
	Session  string         `json:"session,omitempty"`
	Kind     Kind           `json:"kind"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// Multi fans events out to each sink in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// SlogSink logs events through a slog.Logger. A nil Logger uses
// slog.Default().
type SlogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s SlogSink) Emit(e Event) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	attrs := make([]slog.Attr, 0, len(e.Context)+2)
	if e.Session != "" {
		attrs = append(attrs, slog.String("session", e.Session))
	}
	attrs = append(attrs, slog.String("kind", string(e.Kind)))
	for k, v := range e.Context {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.LogAttrs(context.Background(), level(e.Severity), "diag: "+e.Message, attrs...)
}

func level(s Severity) slog.Level {
	switch s {
	case SeverityError:
		return slog.LevelError
	case SeverityWarn:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
