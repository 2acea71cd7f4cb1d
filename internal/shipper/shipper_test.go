package shipper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/formsense/formsense/internal/config"
	"github.com/formsense/formsense/internal/report"
)

// flakyWriter fails the first failN writes, then records lines.
type flakyWriter struct {
	mu    sync.Mutex
	failN int
	calls int
	buf   bytes.Buffer
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failN > 0 {
		w.failN--
		return 0, errors.New("disk full")
	}
	return w.buf.Write(p)
}

func (w *flakyWriter) sessions(t *testing.T) []string {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(w.buf.Bytes()))
	for sc.Scan() {
		var r report.Report
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, r.Meta.Session)
	}
	return out
}

func makeReport(session string) *report.Report {
	return &report.Report{
		Meta:  report.Meta{Session: session, FrameTime: time.UnixMilli(1000).UTC()},
		Hints: []string{},
	}
}

func outputCfg(size int) config.OutputConfig {
	return config.OutputConfig{BufferSize: size, RetryMax: 3, RetryBase: time.Millisecond}
}

// noWait skips backoff sleeps but still honours cancellation.
func noWait(ctx context.Context, _ time.Duration) bool { return ctx.Err() == nil }

// --- Tests ---

func TestShipper_DeliversInOrder(t *testing.T) {
	w := &flakyWriter{}
	s := New(w, outputCfg(10))
	s.wait = noWait

	for _, id := range []string{"a", "b", "c"} {
		s.Ship(makeReport(id))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.Stats().Delivered < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	got := w.sessions(t)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("delivered %v, want [a b c]", got)
	}
}

func TestShipper_RetriesTransientFailure(t *testing.T) {
	w := &flakyWriter{failN: 2}
	s := New(w, outputCfg(10))
	s.wait = noWait

	s.deliver(context.Background(), makeReport("a"))

	if w.calls != 3 {
		t.Errorf("write calls = %d, want 3", w.calls)
	}
	if st := s.Stats(); st.Delivered != 1 || st.Dropped != 0 {
		t.Errorf("stats = %+v, want 1 delivered", st)
	}
}

func TestShipper_DropsAfterRetryMax(t *testing.T) {
	w := &flakyWriter{failN: 10}
	s := New(w, outputCfg(10))
	s.wait = noWait

	s.deliver(context.Background(), makeReport("a"))

	if w.calls != 3 {
		t.Errorf("write calls = %d, want 3", w.calls)
	}
	if st := s.Stats(); st.Delivered != 0 || st.Dropped != 1 {
		t.Errorf("stats = %+v, want 1 dropped", st)
	}
}

func TestShipper_BufferEvictsOldest(t *testing.T) {
	// BufferSize=3; Ship 5 reports while the shipper is not running.
	// Only the 3 most recent should survive.
	s := New(&flakyWriter{}, outputCfg(3))
	for _, id := range []string{"0", "1", "2", "3", "4"} {
		s.Ship(makeReport(id))
	}

	var ids []string
	for len(s.buf) > 0 {
		ids = append(ids, (<-s.buf).Meta.Session)
	}
	if len(ids) != 3 || ids[0] != "2" || ids[2] != "4" {
		t.Errorf("buffered %v, want [2 3 4]", ids)
	}
	if st := s.Stats(); st.Dropped != 2 {
		t.Errorf("dropped = %d, want 2", st.Dropped)
	}
}

func TestShipper_FlushesOnShutdown(t *testing.T) {
	w := &flakyWriter{}
	s := New(w, outputCfg(10))
	s.Ship(makeReport("a"))
	s.Ship(makeReport("b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)

	// Run may pick either branch first; both paths end with an empty buffer.
	if got := w.sessions(t); len(got) != 2 {
		t.Errorf("flushed %v, want 2 reports", got)
	}
	if st := s.Stats(); st.Pending != 0 {
		t.Errorf("pending = %d, want 0", st.Pending)
	}
}

func TestBackoff_Grows(t *testing.T) {
	bo := newBackoff(100 * time.Millisecond)
	prev := time.Duration(0)
	for i := 0; i < 12; i++ {
		d := bo.next()
		if d < 0 || d > backoffMax+backoffMax/4 {
			t.Fatalf("step %d: %v out of range", i, d)
		}
		prev = d
	}
	if prev < backoffMax*3/4 {
		t.Errorf("backoff did not reach cap: last = %v", prev)
	}
}
