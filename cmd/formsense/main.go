package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/formsense/formsense/internal/api"
	"github.com/formsense/formsense/internal/auth"
	"github.com/formsense/formsense/internal/config"
	"github.com/formsense/formsense/internal/diag"
	"github.com/formsense/formsense/internal/engine"
	"github.com/formsense/formsense/internal/ingest"
	"github.com/formsense/formsense/internal/library"
	"github.com/formsense/formsense/internal/notify"
	"github.com/formsense/formsense/internal/report"
	"github.com/formsense/formsense/internal/shipper"
	"github.com/formsense/formsense/internal/ws"
	"github.com/formsense/formsense/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults are used when empty)")
	libraryDir := flag.String("library", "", "exercise library directory (overrides library.dir)")
	inputPath := flag.String("input", "-", "JSON-lines frame input, - for stdin, empty for none")
	outputPath := flag.String("output", "-", "JSON-lines report output, - for stdout")
	metricsPath := flag.String("metrics", "", "write diagnostic counters in Prometheus text format on exit")
	check := flag.Bool("check", false, "validate config and library, then exit")
	flag.Parse()

	// Reports go to stdout, so logs go to stderr.
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *libraryDir != "" {
		cfg.Library.Dir = *libraryDir
	}
	level.Set(cfg.Diagnostics.Level())

	slog.Info("formsense starting", "config", *configPath, "library", cfg.Library.Dir)

	lib, err := library.Load(cfg.Library.Dir)
	if err != nil {
		slog.Error("failed to load library", "dir", cfg.Library.Dir, "err", err)
		os.Exit(1)
	}
	for _, w := range lib.Warnings {
		slog.Warn("library: " + w)
	}
	slog.Info("library loaded",
		"version", lib.Version,
		"exercises", len(lib.Exercises()),
		"selectable", len(lib.Selectable()),
	)
	if *check {
		fmt.Fprintf(os.Stdout, "ok: library %s, %d exercises\n", lib.Version, len(lib.Exercises()))
		return
	}

	in, closeIn, err := openInput(*inputPath)
	if err != nil {
		slog.Error("failed to open input", "err", err)
		os.Exit(1)
	}
	defer closeIn()
	if in == nil && cfg.Server.HTTPPort == 0 {
		slog.Error("no input and no HTTP server configured, nothing to do")
		os.Exit(1)
	}
	out, closeOut, err := openOutput(*outputPath)
	if err != nil {
		slog.Error("failed to open output", "err", err)
		os.Exit(1)
	}
	defer closeOut()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rec := diag.NewRecorder(cfg.Diagnostics.Buffer)
	sink := diag.Multi{rec, diag.SlogSink{Logger: logger}}

	holder := library.NewHolder(lib)
	eng := engine.New(holder, sink, engine.OptionsFrom(cfg))

	var wg sync.WaitGroup
	bg, stopBG := context.WithCancel(ctx)
	goBG := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if cfg.Library.Watch {
		goBG(func() {
			if err := library.Watch(bg, cfg.Library.Dir, func(updated *library.Library) {
				holder.Store(updated)
				sink.Emit(diag.Event{
					Time:     time.Now().UTC(),
					Kind:     diag.KindLibraryReload,
					Severity: diag.SeverityInfo,
					Message:  "exercise library reloaded",
					Context:  map[string]any{"version": updated.Version, "warnings": len(updated.Warnings)},
				})
			}); err != nil {
				slog.Error("library watcher stopped", "err", err)
			}
		})
	}

	if *configPath != "" {
		goBG(func() {
			if err := config.Watch(bg, *configPath, func(updated *config.Config) {
				level.Set(updated.Diagnostics.Level())
				eng.SetOptions(engine.OptionsFrom(updated))
				slog.Info("config hot-reloaded", "log_level", updated.Diagnostics.LogLevel)
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		})
	}

	goBG(func() { eng.Run(bg) })

	// The shipper and notifier outlive the background context so they can
	// flush after the input ends.
	ship := shipper.New(out, cfg.Output)
	notifier := notify.New(cfg.Notify)
	drainCtx, stopDrain := context.WithCancel(context.Background())
	var drainWG sync.WaitGroup
	drainWG.Add(2)
	go func() {
		defer drainWG.Done()
		ship.Run(drainCtx)
	}()
	go func() {
		defer drainWG.Done()
		notifier.Run(drainCtx)
	}()

	var hub *ws.Hub
	if cfg.Server.HTTPPort > 0 {
		hub = ws.New(cfg.Server.StreamBuffer)
		goBG(func() { hub.Run(bg) })
	}

	publish := func(r *report.Report) {
		ship.Ship(r)
		notifier.Observe(r)
		if hub != nil {
			hub.Publish(r)
		}
	}

	var httpSrv *http.Server
	if cfg.Server.HTTPPort > 0 {
		// Combined HTTP server: REST API + WebSocket stream + metrics.
		httpMux := http.NewServeMux()
		httpMux.Handle("/api/", api.New(eng, holder, rec, publish))
		httpMux.Handle("/ws/reports", hub)
		httpMux.Handle("/metrics", api.Metrics(rec))

		a := cfg.Server.Auth
		httpSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			Handler:           auth.APIKey(a.Mode, a.EffectiveHeader(), a.Key(), httpMux),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort, "auth_mode", a.Mode)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("HTTP server stopped", "err", err)
				cancel()
			}
		}()
	}

	var frames atomic.Int64
	ingestDone := make(chan error, 1)
	if in != nil {
		go func() {
			skipped, err := ingest.Each(ctx, ingest.NewDecoder(in), func(f types.Frame) {
				frames.Add(1)
				r := eng.Process(f)
				publish(r)
				slog.Debug("processed frame",
					"session", r.Meta.Session,
					"exercise", exerciseID(r.Exercise),
					"unscored", r.Unscored(),
				)
			})
			if skipped > 0 {
				slog.Warn("skipped malformed frames", "count", skipped)
			}
			ingestDone <- err
		}()
	}

	// Without an HTTP server the process ends with its input. With one it
	// keeps serving until signalled.
	if in != nil && httpSrv == nil {
		select {
		case err := <-ingestDone:
			if err != nil {
				slog.Error("input failed", "err", err)
			}
		case <-ctx.Done():
		}
	} else {
		<-ctx.Done()
	}

	if httpSrv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
		cancelShutdown()
	}
	stopBG()
	wg.Wait()
	stopDrain()
	drainWG.Wait()

	st := ship.Stats()
	sent, failed, _ := notifier.Stats()
	slog.Info("formsense shutting down",
		"frames", frames.Load(),
		"sessions", eng.Sessions(),
		"reports_delivered", st.Delivered,
		"reports_dropped", st.Dropped,
		"notices_sent", sent,
		"notices_failed", failed,
	)

	if *metricsPath != "" {
		if err := writeMetrics(*metricsPath, rec); err != nil {
			slog.Error("failed to write metrics", "path", *metricsPath, "err", err)
			os.Exit(1)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func openInput(path string) (io.Reader, func(), error) {
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// openOutput returns a buffered writer that flushes after every report line.
func openOutput(path string) (io.Writer, func(), error) {
	var dst io.Writer = os.Stdout
	var f *os.File
	if path != "-" {
		var err error
		f, err = os.Create(path)
		if err != nil {
			return nil, nil, err
		}
		dst = f
	}
	w := &lineWriter{w: bufio.NewWriter(dst)}
	return w, func() {
		if f != nil {
			f.Close()
		}
	}, nil
}

// lineWriter flushes the underlying buffer after each write so a downstream
// reader sees complete reports as they are produced.
type lineWriter struct {
	w *bufio.Writer
}

func (l *lineWriter) Write(p []byte) (int, error) {
	n, err := l.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, l.w.Flush()
}

func writeMetrics(path string, rec *diag.Recorder) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rec.WriteMetrics(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func exerciseID(ex *report.Exercise) string {
	if ex == nil {
		return ""
	}
	return ex.ID
}
