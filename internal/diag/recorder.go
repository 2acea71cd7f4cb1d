package diag

import (
	"fmt"
	"io"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// DefaultBuffer is the ring size used when NewRecorder is given a
// non-positive size.
const DefaultBuffer = 2000

const metricName = "formsense_diagnostic_events_total"

type countKey struct {
	kind     Kind
	severity Severity
}

// Count is the number of events seen for one kind and severity.
type Count struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Total    uint64   `json:"total"`
}

// Recorder is a Sink that keeps the most recent events in a ring buffer and
// counts every event it sees. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	buf    []Event
	next   int
	full   bool
	counts map[countKey]uint64
}

// NewRecorder returns a Recorder holding up to size events.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultBuffer
	}
	return &Recorder{
		buf:    make([]Event, size),
		counts: make(map[countKey]uint64),
	}
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.counts[countKey{e.Kind, e.Severity}]++
}

// Tail returns up to n of the most recent events, oldest first. n <= 0
// returns every retained event.
func (r *Recorder) Tail(n int) []Event {
	return r.TailSession("", n)
}

// TailSession is Tail restricted to one session. An empty session matches
// every event.
func (r *Recorder) TailSession(session string, n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Event, 0, n)
	// Walk backwards from the newest entry.
	for i := 0; i < size && len(out) < n; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		if session == "" || r.buf[idx].Session == session {
			out = append(out, r.buf[idx])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Counts returns the per kind and severity totals ordered by kind, then
// severity.
func (r *Recorder) Counts() []Count {
	r.mu.Lock()
	out := make([]Count, 0, len(r.counts))
	for k, v := range r.counts {
		out = append(out, Count{Kind: k.kind, Severity: k.severity, Total: v})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Severity < out[j].Severity
	})
	return out
}

// Total returns the number of events seen of the given kind.
func (r *Recorder) Total(kind Kind) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n uint64
	for k, v := range r.counts {
		if k.kind == kind {
			n += v
		}
	}
	return n
}

// MetricFamily returns the event counters as a Prometheus counter family.
func (r *Recorder) MetricFamily() *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: ptr(metricName),
		Help: ptr("Diagnostic events emitted while processing frames."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, c := range r.Counts() {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label: []*dto.LabelPair{
				{Name: ptr("kind"), Value: ptr(string(c.Kind))},
				{Name: ptr("severity"), Value: ptr(string(c.Severity))},
			},
			Counter: &dto.Counter{Value: ptr(float64(c.Total))},
		})
	}
	return mf
}

// WriteMetrics writes the event counters to w in the Prometheus text format.
func (r *Recorder) WriteMetrics(w io.Writer) error {
	mf := r.MetricFamily()
	if len(mf.Metric) == 0 {
		return nil
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	if err := enc.Encode(mf); err != nil {
		return fmt.Errorf("diag: encode metrics: %w", err)
	}
	if c, ok := enc.(expfmt.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("diag: close encoder: %w", err)
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
