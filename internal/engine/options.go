package engine

import (
	"time"

	"github.com/formsense/formsense/internal/classifier"
	"github.com/formsense/formsense/internal/config"
	"github.com/formsense/formsense/internal/report"
)

// DefaultSession names frames that carry no session id.
const DefaultSession = "default"

// Options tune the engine.
type Options struct {
	Classifier classifier.Settings

	GraceWindow time.Duration
	// BypassGraceOnStrong skips the grace window after a strong override.
	BypassGraceOnStrong bool

	LowConfidenceGate  bool
	LowConfidenceMin   float64
	PoseConfidenceKeys []string

	SetMinReps     int
	SetIdleTimeout time.Duration
	SessionTTL     time.Duration

	Language        string
	MaxHints        int
	DiagnosticsTail int

	Report report.Options
}

// DefaultOptions returns the options of the default configuration.
func DefaultOptions() Options {
	return OptionsFrom(config.Default())
}

// OptionsFrom maps a loaded configuration onto engine options.
func OptionsFrom(cfg *config.Config) Options {
	g := cfg.Report.Grades
	return Options{
		Classifier:          cfg.Classifier.Settings(),
		GraceWindow:         cfg.Runtime.GraceWindow,
		BypassGraceOnStrong: cfg.Classifier.StrongSwitchBypassGrace,
		LowConfidenceGate:   cfg.Runtime.LowConfidenceGate,
		LowConfidenceMin:    cfg.Runtime.LowConfidenceMin,
		PoseConfidenceKeys:  cfg.Runtime.PoseConfidenceKeys,
		SetMinReps:          cfg.Runtime.SetMinReps,
		SetIdleTimeout:      cfg.Runtime.SetIdleTimeout,
		SessionTTL:          cfg.Runtime.SessionTTL,
		Language:            cfg.Runtime.Language,
		MaxHints:            cfg.Report.MaxHints,
		DiagnosticsTail:     cfg.Report.DiagnosticsTail,
		Report: report.Options{
			PayloadVersion:   cfg.Report.PayloadVersion,
			Grades:           report.Grades{A: g.A, B: g.B, C: g.C},
			RoundScorePct:    cfg.Report.RoundScorePct,
			EchoMeasurements: cfg.Report.EchoMeasurements,
		},
	}
}
