package shipper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/formsense/formsense/internal/config"
	"github.com/formsense/formsense/internal/report"
)

const (
	backoffMax        = 30 * time.Second
	backoffMultiplier = 2.0
)

// Shipper buffers reports and writes them to w, one JSON document per line.
// Ship() is non-blocking; when the buffer is full the oldest report is evicted.
// Run() must be called in a goroutine to drain the buffer.
type Shipper struct {
	cfg config.OutputConfig
	buf chan *report.Report

	wmu sync.Mutex
	w   io.Writer

	// wait sleeps for d or until ctx is done. Injectable for tests.
	wait func(ctx context.Context, d time.Duration) bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Stats counts delivered and dropped reports.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	Pending   int
}

// New creates a Shipper writing to w using the given output config.
func New(w io.Writer, cfg config.OutputConfig) *Shipper {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = config.DefaultBufferSize
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = config.DefaultRetryBase
	}
	return &Shipper{
		cfg:  cfg,
		buf:  make(chan *report.Report, cfg.BufferSize),
		w:    w,
		wait: sleepCtx,
	}
}

// Ship enqueues r. If the buffer is full the oldest entry is evicted to make
// room.
func (s *Shipper) Ship(r *report.Report) {
	if r == nil {
		return
	}
	for {
		select {
		case s.buf <- r:
			return
		default:
		}
		select {
		case old := <-s.buf:
			s.dropped.Add(1)
			slog.Warn("shipper: buffer full, evicted oldest report",
				"session", old.Meta.Session, "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Stats returns delivery counters.
func (s *Shipper) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Pending:   len(s.buf),
	}
}

// Run drains the buffer, writing reports until ctx is cancelled. On
// cancellation the remaining reports are flushed and Run returns.
func (s *Shipper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case r := <-s.buf:
			s.deliver(ctx, r)
		}
	}
}

// deliver writes r, retrying transient failures with backoff.
func (s *Shipper) deliver(ctx context.Context, r *report.Report) {
	line, err := encode(r)
	if err != nil {
		s.dropped.Add(1)
		slog.Error("shipper: cannot encode report, discarding",
			"session", r.Meta.Session, "err", err)
		return
	}

	bo := newBackoff(s.cfg.RetryBase)
	for attempt := 1; ; attempt++ {
		err := s.write(line)
		if err == nil {
			s.delivered.Add(1)
			slog.Debug("shipper: report delivered", "session", r.Meta.Session)
			return
		}
		if attempt >= s.cfg.RetryMax {
			s.dropped.Add(1)
			slog.Error("shipper: write failed, dropping report",
				"session", r.Meta.Session, "attempts", attempt, "err", err)
			return
		}
		wait := bo.next()
		slog.Warn("shipper: write failed, will retry",
			"session", r.Meta.Session, "err", err, "retry_in", wait)
		if !s.wait(ctx, wait) {
			// Shutting down; give the report one last chance in flush.
			s.finalAttempt(line, r)
			return
		}
	}
}

// flush writes whatever is still buffered, one attempt per report.
func (s *Shipper) flush() {
	for {
		select {
		case r := <-s.buf:
			line, err := encode(r)
			if err != nil {
				s.dropped.Add(1)
				continue
			}
			s.finalAttempt(line, r)
		default:
			return
		}
	}
}

func (s *Shipper) finalAttempt(line []byte, r *report.Report) {
	if err := s.write(line); err != nil {
		s.dropped.Add(1)
		slog.Error("shipper: write failed during shutdown, dropping report",
			"session", r.Meta.Session, "err", err)
		return
	}
	s.delivered.Add(1)
}

func (s *Shipper) write(line []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := s.w.Write(line)
	if err != nil {
		return err
	}
	if n != len(line) {
		return io.ErrShortWrite
	}
	return nil
}

func encode(r *report.Report) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("shipper: encode: %w", err)
	}
	return append(b, '\n'), nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}
