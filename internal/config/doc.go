// Package config loads and watches the runtime settings file (see config.example.yaml).
//
// Top-level types:
//   - Config{Library, Classifier, Runtime, Report, Diagnostics, Output, Server, Notify}
//   - ClassifierConfig: acceptance and switching margins, confidence tracking,
//     freeze and strong-switch behaviour; Settings() converts it for the
//     classifier package
//   - RuntimeConfig: grace window, pose-confidence gate, set counting, session TTL
//   - ReportConfig: hint count, grade bands, measurement echo
//   - DiagnosticsConfig: event ring size and log level
//   - OutputConfig: report buffer size and write retry
//   - ServerConfig: HTTP port (0 disables), API key auth, stream buffer
//   - NotifyConfig: set summary webhooks; URLs are read from environment
//     variables named by url_env
//
// Load(path) reads the YAML file, applies defaults, then validates ranges and
// enums. Default() returns the same defaults without a file.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. A failed reload keeps the previous
// config.
package config
