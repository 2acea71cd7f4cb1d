package engine

import (
	"sync"
	"time"

	"github.com/formsense/formsense/internal/classifier"
	"github.com/formsense/formsense/internal/diag"
	"github.com/formsense/formsense/internal/segmenter"
)

// session is the state of one independent stream. mu guards everything
// except seen, which the engine guards.
type session struct {
	mu sync.Mutex

	id   string
	cls  *classifier.Classifier
	seg  *segmenter.Segmenter
	sets *segmenter.SetCounter

	hasFrame   bool
	lastFrame  time.Time
	exerciseID string
	lowConf    bool
	recent     []diag.Event

	seen time.Time
}

func newSession(id string, opts Options) *session {
	return &session{
		id:   id,
		cls:  classifier.New(opts.Classifier),
		seg:  segmenter.New(),
		sets: segmenter.NewSetCounter(opts.SetMinReps, opts.SetIdleTimeout),
	}
}

// remember keeps the last n events of the session.
func (s *session) remember(e diag.Event, n int) {
	if n <= 0 {
		return
	}
	s.recent = append(s.recent, e)
	if len(s.recent) > n {
		s.recent = append([]diag.Event(nil), s.recent[len(s.recent)-n:]...)
	}
}

func (s *session) diagnostics() []diag.Event {
	if len(s.recent) == 0 {
		return nil
	}
	return append([]diag.Event(nil), s.recent...)
}
