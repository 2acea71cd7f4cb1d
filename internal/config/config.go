package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/formsense/formsense/internal/classifier"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultLibraryDir       = "library"
	DefaultGraceWindow      = time.Second
	DefaultLowConfidenceMin = 0.35
	DefaultSessionTTL       = 5 * time.Minute
	DefaultMaxHints         = 5
	DefaultDiagnosticsTail  = 10
	DefaultPayloadVersion   = "1.0"
	DefaultEventBuffer      = 2000
	DefaultBufferSize       = 1000
	DefaultRetryMax         = 5
	DefaultRetryBase        = 100 * time.Millisecond
	DefaultStreamBuffer     = 64
	DefaultNotifyTimeout    = 5 * time.Second
)

// DefaultPoseConfidenceKeys are checked in order by the low-confidence gate.
var DefaultPoseConfidenceKeys = []string{"pose.confidence", "average_visibility", "pose.average_confidence"}

// Config is the top-level runtime configuration.
type Config struct {
	Library     LibraryConfig     `yaml:"library"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Report      ReportConfig      `yaml:"report"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Output      OutputConfig      `yaml:"output"`
	Server      ServerConfig      `yaml:"server"`
	Notify      NotifyConfig      `yaml:"notify"`
}

// LibraryConfig locates the exercise library.
type LibraryConfig struct {
	// Dir holds aliases.yaml, phrases.yaml and exercises/.
	Dir string `yaml:"dir"`

	// Watch reloads the library when any file under Dir changes.
	Watch bool `yaml:"watch"`
}

// ClassifierConfig tunes exercise selection.
type ClassifierConfig struct {
	MinAccept          float64       `yaml:"min_accept"`
	MarginKeep         float64       `yaml:"margin_keep"`
	MarginSwitch       float64       `yaml:"margin_switch"`
	ConfidenceAlpha    float64       `yaml:"confidence_alpha"`
	LowConfidence      float64       `yaml:"low_confidence"`
	LowConfidenceFor   time.Duration `yaml:"low_confidence_for"`
	FreezeDuringRep    bool          `yaml:"freeze_during_rep"`
	StrongSwitchMargin float64       `yaml:"strong_switch_margin"`

	// StrongSwitchBypassFreeze lets a strong override switch mid-repetition.
	StrongSwitchBypassFreeze bool `yaml:"strong_switch_bypass_freeze"`

	// StrongSwitchBypassGrace skips the grace window after a strong override.
	StrongSwitchBypassGrace bool `yaml:"strong_switch_bypass_grace"`

	PostureEquipment bool   `yaml:"posture_equipment"`
	FallbackID       string `yaml:"fallback_id"`
}

// Settings converts c for the classifier.
func (c ClassifierConfig) Settings() classifier.Settings {
	return classifier.Settings{
		MinAccept:                c.MinAccept,
		MarginKeep:               c.MarginKeep,
		MarginSwitch:             c.MarginSwitch,
		ConfidenceAlpha:          c.ConfidenceAlpha,
		LowConfidence:            c.LowConfidence,
		LowConfidenceFor:         c.LowConfidenceFor,
		FreezeDuringRep:          c.FreezeDuringRep,
		StrongSwitchMargin:       c.StrongSwitchMargin,
		StrongSwitchBypassFreeze: c.StrongSwitchBypassFreeze,
		PostureEquipment:         c.PostureEquipment,
		FallbackID:               c.FallbackID,
	}
}

// RuntimeConfig holds per-frame orchestration settings.
type RuntimeConfig struct {
	// GraceWindow reports frames as unscored for this long after a switch.
	GraceWindow time.Duration `yaml:"grace_window"`

	// LowConfidenceGate rejects frames whose pose confidence is below
	// LowConfidenceMin.
	LowConfidenceGate  bool     `yaml:"low_confidence_gate"`
	LowConfidenceMin   float64  `yaml:"low_confidence_min"`
	PoseConfidenceKeys []string `yaml:"pose_confidence_keys"`

	SetMinReps     int           `yaml:"set_min_reps"`
	SetIdleTimeout time.Duration `yaml:"set_idle_timeout"`

	// SessionTTL evicts sessions that have not seen a frame for this long.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// Language selects the phrase set for hints.
	Language string `yaml:"language"`
}

// ReportConfig shapes the frame report.
type ReportConfig struct {
	MaxHints         int    `yaml:"max_hints"`
	RoundScorePct    bool   `yaml:"round_score_pct"`
	EchoMeasurements bool   `yaml:"echo_measurements"`
	DiagnosticsTail  int    `yaml:"diagnostics_tail"`
	PayloadVersion   string `yaml:"payload_version"`
	Grades           Grades `yaml:"grades"`
}

// Grades are the lower bounds of the A, B and C letter grades. Anything
// below C is a D.
type Grades struct {
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
	C float64 `yaml:"c"`
}

// DiagnosticsConfig controls the diagnostic event recorder.
type DiagnosticsConfig struct {
	// Buffer is the number of events kept for Tail queries.
	Buffer int `yaml:"buffer"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// Level returns the slog level for LogLevel.
func (d DiagnosticsConfig) Level() slog.Level {
	switch strings.ToLower(d.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OutputConfig controls report delivery.
type OutputConfig struct {
	// BufferSize is the maximum number of reports held while the writer is
	// failing. The oldest report is dropped when full.
	BufferSize int `yaml:"buffer_size"`

	RetryMax  int           `yaml:"retry_max"`
	RetryBase time.Duration `yaml:"retry_base"`
}

// ServerConfig controls the optional HTTP API and live report stream.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket stream listen on.
	// Zero disables the HTTP server.
	HTTPPort int `yaml:"http_port"`

	// Auth configures how REST and WebSocket clients authenticate.
	Auth AuthConfig `yaml:"auth"`

	// StreamBuffer is the per-client outgoing report buffer depth.
	StreamBuffer int `yaml:"stream_buffer"`
}

// AuthConfig controls client authentication on the HTTP server.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// NotifyConfig lists where completed set summaries are posted.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Timeout  time.Duration   `yaml:"timeout"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv names the environment variable holding the webhook URL so
	// secrets stay out of the config file.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config { return defaults() }

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Library: LibraryConfig{Dir: DefaultLibraryDir},
		Classifier: ClassifierConfig{
			MinAccept:          classifier.DefaultMinAccept,
			MarginKeep:         classifier.DefaultMarginKeep,
			MarginSwitch:       classifier.DefaultMarginSwitch,
			ConfidenceAlpha:    classifier.DefaultConfidenceAlpha,
			LowConfidence:      classifier.DefaultLowConfidence,
			LowConfidenceFor:   classifier.DefaultLowConfidenceFor,
			FreezeDuringRep:    true,
			StrongSwitchMargin: classifier.DefaultStrongSwitchMargin,
			PostureEquipment:   true,
		},
		Runtime: RuntimeConfig{
			GraceWindow:        DefaultGraceWindow,
			LowConfidenceMin:   DefaultLowConfidenceMin,
			PoseConfidenceKeys: DefaultPoseConfidenceKeys,
			SetMinReps:         1,
			SetIdleTimeout:     7 * time.Second,
			SessionTTL:         DefaultSessionTTL,
			Language:           "en",
		},
		Report: ReportConfig{
			MaxHints:        DefaultMaxHints,
			RoundScorePct:   true,
			DiagnosticsTail: DefaultDiagnosticsTail,
			PayloadVersion:  DefaultPayloadVersion,
			Grades:          Grades{A: 0.85, B: 0.75, C: 0.60},
		},
		Diagnostics: DiagnosticsConfig{
			Buffer:   DefaultEventBuffer,
			LogLevel: "info",
		},
		Output: OutputConfig{
			BufferSize: DefaultBufferSize,
			RetryMax:   DefaultRetryMax,
			RetryBase:  DefaultRetryBase,
		},
		Server: ServerConfig{
			Auth:         AuthConfig{Mode: "none"},
			StreamBuffer: DefaultStreamBuffer,
		},
		Notify: NotifyConfig{Timeout: DefaultNotifyTimeout},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Library.Dir == "" {
		return fmt.Errorf("library.dir is required")
	}

	c := cfg.Classifier
	for name, v := range map[string]float64{
		"min_accept":           c.MinAccept,
		"margin_keep":          c.MarginKeep,
		"margin_switch":        c.MarginSwitch,
		"low_confidence":       c.LowConfidence,
		"strong_switch_margin": c.StrongSwitchMargin,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("classifier.%s must be within [0,1], got %v", name, v)
		}
	}
	if c.ConfidenceAlpha <= 0 || c.ConfidenceAlpha > 1 {
		return fmt.Errorf("classifier.confidence_alpha must be within (0,1], got %v", c.ConfidenceAlpha)
	}
	if c.MarginKeep > c.MarginSwitch {
		return fmt.Errorf("classifier.margin_keep (%v) exceeds margin_switch (%v)", c.MarginKeep, c.MarginSwitch)
	}
	if c.LowConfidenceFor < 0 {
		return fmt.Errorf("classifier.low_confidence_for must not be negative")
	}

	r := cfg.Runtime
	if r.GraceWindow < 0 {
		return fmt.Errorf("runtime.grace_window must not be negative")
	}
	if r.LowConfidenceMin < 0 || r.LowConfidenceMin > 1 {
		return fmt.Errorf("runtime.low_confidence_min must be within [0,1], got %v", r.LowConfidenceMin)
	}
	if r.LowConfidenceGate && len(r.PoseConfidenceKeys) == 0 {
		return fmt.Errorf("runtime.pose_confidence_keys is required when low_confidence_gate is on")
	}
	if r.SetMinReps < 1 {
		return fmt.Errorf("runtime.set_min_reps must be at least 1")
	}
	if r.SetIdleTimeout <= 0 {
		return fmt.Errorf("runtime.set_idle_timeout must be positive")
	}
	if r.SessionTTL <= 0 {
		return fmt.Errorf("runtime.session_ttl must be positive")
	}

	rep := cfg.Report
	if rep.MaxHints < 0 {
		return fmt.Errorf("report.max_hints must not be negative")
	}
	if rep.DiagnosticsTail < 0 {
		return fmt.Errorf("report.diagnostics_tail must not be negative")
	}
	g := rep.Grades
	if !(g.A >= g.B && g.B >= g.C && g.C >= 0 && g.A <= 1) {
		return fmt.Errorf("report.grades must satisfy 1 >= a >= b >= c >= 0")
	}

	switch strings.ToLower(cfg.Diagnostics.LogLevel) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("diagnostics.log_level: unknown level %q", cfg.Diagnostics.LogLevel)
	}
	if cfg.Diagnostics.Buffer <= 0 {
		return fmt.Errorf("diagnostics.buffer must be positive")
	}

	if cfg.Output.BufferSize <= 0 {
		return fmt.Errorf("output.buffer_size must be positive")
	}
	if cfg.Output.RetryMax < 0 || cfg.Output.RetryBase < 0 {
		return fmt.Errorf("output.retry_max and retry_base must not be negative")
	}

	srv := cfg.Server
	if srv.HTTPPort < 0 || srv.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [0, 65535]", srv.HTTPPort)
	}
	switch srv.Auth.Mode {
	case "apikey":
		if srv.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth.key_env is required when mode is apikey")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", srv.Auth.Mode)
	}
	if srv.StreamBuffer <= 0 {
		return fmt.Errorf("server.stream_buffer must be positive")
	}

	for i, wh := range cfg.Notify.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("notify.webhooks[%d].type %q unknown: want slack|teams|http", i, wh.Type)
		}
		if wh.URLEnv == "" {
			return fmt.Errorf("notify.webhooks[%d].url_env is required", i)
		}
	}
	if cfg.Notify.Timeout <= 0 {
		return fmt.Errorf("notify.timeout must be positive")
	}
	return nil
}
