package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/formsense/formsense/internal/classifier"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
library:
  dir: /srv/library
  watch: true
classifier:
  min_accept: 0.5
  strong_switch_bypass_freeze: true
  fallback_id: squat.bodyweight
runtime:
  grace_window: 1500ms
  low_confidence_gate: true
  set_min_reps: 3
report:
  max_hints: 3
  grades: {a: 0.9, b: 0.8, c: 0.5}
`
	cfg := loadFromString(t, yaml)

	if cfg.Library.Dir != "/srv/library" || !cfg.Library.Watch {
		t.Errorf("library: got %+v", cfg.Library)
	}
	if cfg.Classifier.MinAccept != 0.5 {
		t.Errorf("min_accept: got %v", cfg.Classifier.MinAccept)
	}
	if cfg.Runtime.GraceWindow != 1500*time.Millisecond {
		t.Errorf("grace_window: got %v", cfg.Runtime.GraceWindow)
	}
	if cfg.Runtime.SetMinReps != 3 {
		t.Errorf("set_min_reps: got %d", cfg.Runtime.SetMinReps)
	}
	if cfg.Report.Grades.A != 0.9 || cfg.Report.MaxHints != 3 {
		t.Errorf("report: got %+v", cfg.Report)
	}

	s := cfg.Classifier.Settings()
	if !s.StrongSwitchBypassFreeze || s.FallbackID != "squat.bodyweight" || s.MinAccept != 0.5 {
		t.Errorf("Settings(): got %+v", s)
	}
	if s.MarginSwitch != classifier.DefaultMarginSwitch {
		t.Errorf("Settings() margin_switch: got %v", s.MarginSwitch)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "{}\n")

	if cfg.Library.Dir != DefaultLibraryDir {
		t.Errorf("default library.dir: got %q", cfg.Library.Dir)
	}
	if cfg.Runtime.GraceWindow != DefaultGraceWindow {
		t.Errorf("default grace_window: got %v, want %v", cfg.Runtime.GraceWindow, DefaultGraceWindow)
	}
	if cfg.Runtime.SetIdleTimeout != 7*time.Second {
		t.Errorf("default set_idle_timeout: got %v", cfg.Runtime.SetIdleTimeout)
	}
	if len(cfg.Runtime.PoseConfidenceKeys) != 3 {
		t.Errorf("default pose_confidence_keys: got %v", cfg.Runtime.PoseConfidenceKeys)
	}
	if cfg.Report.MaxHints != DefaultMaxHints || !cfg.Report.RoundScorePct {
		t.Errorf("default report: got %+v", cfg.Report)
	}
	if cfg.Output.BufferSize != DefaultBufferSize {
		t.Errorf("default buffer_size: got %d, want %d", cfg.Output.BufferSize, DefaultBufferSize)
	}
	if !cfg.Classifier.FreezeDuringRep {
		t.Error("freeze_during_rep should default on")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty library dir", "library: {dir: \"\"}\n"},
		{"min_accept above 1", "classifier: {min_accept: 1.5}\n"},
		{"keep above switch", "classifier: {margin_keep: 0.3, margin_switch: 0.2}\n"},
		{"zero confidence alpha", "classifier: {confidence_alpha: 0}\n"},
		{"negative grace", "runtime: {grace_window: -1s}\n"},
		{"gate without keys", "runtime: {low_confidence_gate: true, pose_confidence_keys: []}\n"},
		{"zero set reps", "runtime: {set_min_reps: 0}\n"},
		{"grades out of order", "report: {grades: {a: 0.5, b: 0.8, c: 0.2}}\n"},
		{"unknown log level", "diagnostics: {log_level: loud}\n"},
		{"zero buffer", "output: {buffer_size: 0}\n"},
		{"port out of range", "server: {http_port: 70000}\n"},
		{"unknown auth mode", "server: {auth: {mode: mtls}}\n"},
		{"apikey without env", "server: {auth: {mode: apikey}}\n"},
		{"unknown webhook type", "notify: {webhooks: [{type: pager, url_env: HOOK}]}\n"},
		{"webhook without env", "notify: {webhooks: [{type: slack}]}\n"},
		{"bad yaml", "runtime: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_ServerAndNotify(t *testing.T) {
	cfg := loadFromString(t, `
server:
  http_port: 8080
  auth: {mode: apikey, key_env: FORMSENSE_TEST_KEY}
notify:
  webhooks:
    - {type: slack, url_env: FORMSENSE_TEST_HOOK}
`)
	t.Setenv("FORMSENSE_TEST_KEY", "s3cret")
	t.Setenv("FORMSENSE_TEST_HOOK", "http://hooks.local/x")

	if cfg.Server.HTTPPort != 8080 || cfg.Server.StreamBuffer != DefaultStreamBuffer {
		t.Errorf("server: got %+v", cfg.Server)
	}
	if got := cfg.Server.Auth.Key(); got != "s3cret" {
		t.Errorf("Key() = %q", got)
	}
	if got := cfg.Server.Auth.EffectiveHeader(); got != "x-api-key" {
		t.Errorf("EffectiveHeader() = %q", got)
	}
	if len(cfg.Notify.Webhooks) != 1 || cfg.Notify.Webhooks[0].URL() != "http://hooks.local/x" {
		t.Errorf("webhooks: got %+v", cfg.Notify.Webhooks)
	}
	if cfg.Notify.Timeout != DefaultNotifyTimeout {
		t.Errorf("notify timeout: got %v", cfg.Notify.Timeout)
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	def := Default()
	if cfg.Classifier != def.Classifier || cfg.Runtime.GraceWindow != def.Runtime.GraceWindow {
		t.Errorf("example config drifted from defaults:\n got %+v\nwant %+v", cfg.Classifier, def.Classifier)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDiagnosticsConfig_Level(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := (DiagnosticsConfig{LogLevel: tc.in}).Level(); got != tc.want {
			t.Errorf("Level(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestWatch_ReloadsAndKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formsense.yaml")
	writeFile(t, path, "report: {max_hints: 2}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { got <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "report: {max_hints: [\n")
	writeFile(t, path, "report: {max_hints: 4}\n")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Report.MaxHints == 4 {
				cancel()
				if err := <-done; err != nil {
					t.Fatalf("Watch returned %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatch_AtomicReplaceAndUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "formsense.yaml")
	writeFile(t, path, "report: {max_hints: 2}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { got <- c }) }()
	time.Sleep(100 * time.Millisecond)

	// Rewriting identical bytes is not a change.
	writeFile(t, path, "report: {max_hints: 2}\n")
	select {
	case c := <-got:
		t.Fatalf("unexpected reload with max_hints %d", c.Report.MaxHints)
	case <-time.After(300 * time.Millisecond):
	}

	// Editors that save through a temp file and rename it over the target.
	tmp := filepath.Join(dir, ".formsense.yaml.swp")
	writeFile(t, tmp, "report: {max_hints: 5}\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case c := <-got:
		if c.Report.MaxHints != 5 {
			t.Errorf("max_hints = %d, want 5", c.Report.MaxHints)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after rename")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch returned %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	return Load(path)
}
