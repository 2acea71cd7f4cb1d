package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/formsense/formsense/internal/config"
	"github.com/formsense/formsense/internal/report"
	"github.com/formsense/formsense/internal/segmenter"
)

const queueSize = 64

// Notice describes one closed set.
type Notice struct {
	Session  string            `json:"session"`
	Exercise string            `json:"exercise,omitempty"`
	Name     string            `json:"display_name,omitempty"`
	Set      segmenter.Summary `json:"set"`
}

// Text renders n as one human-readable line.
func (n Notice) Text() string {
	name := n.Name
	if name == "" {
		name = n.Exercise
	}
	if name == "" {
		name = "unknown exercise"
	}
	s := fmt.Sprintf("Set %d of %s finished: %d reps in %s", n.Set.Index, name, n.Set.Reps,
		n.Set.Duration.Round(time.Second))
	switch {
	case n.Set.Forced:
		s += " (ended manually)"
	case !n.Set.OK:
		s += " (below minimum reps)"
	}
	return s + fmt.Sprintf(" [session %s]", n.Session)
}

// Notifier delivers set notices to webhooks.
type Notifier struct {
	webhooks []config.WebhookConfig
	client   *http.Client
	queue    chan Notice

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a Notifier for the configured webhooks.
func New(cfg config.NotifyConfig) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultNotifyTimeout
	}
	return &Notifier{
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: timeout},
		queue:    make(chan Notice, queueSize),
	}
}

// Enabled reports whether any webhook is configured.
func (n *Notifier) Enabled() bool { return len(n.webhooks) > 0 }

// Observe queues a notice when r closes a set. It never blocks.
func (n *Notifier) Observe(r *report.Report) {
	if r == nil || r.Set == nil || !n.Enabled() {
		return
	}
	notice := Notice{Session: r.Meta.Session, Set: *r.Set}
	if r.Exercise != nil {
		notice.Exercise = r.Exercise.ID
		notice.Name = r.Exercise.DisplayName
	}
	select {
	case n.queue <- notice:
	default:
		n.dropped.Add(1)
		slog.Warn("notify: queue full, dropping set notice", "session", notice.Session)
	}
}

// Run delivers queued notices until ctx is cancelled, then delivers whatever
// is still queued and returns.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case notice := <-n.queue:
					n.deliver(notice)
				default:
					return
				}
			}
		case notice := <-n.queue:
			n.deliver(notice)
		}
	}
}

// Stats returns sent, failed and dropped delivery counts.
func (n *Notifier) Stats() (sent, failed, dropped uint64) {
	return n.sent.Load(), n.failed.Load(), n.dropped.Load()
}

// deliver sends notice to all configured targets.
// Errors are logged but do not affect the caller.
func (n *Notifier) deliver(notice Notice) {
	for _, wh := range n.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = n.sendSlack(url, notice)
		case "teams":
			err = n.sendTeams(url, notice)
		case "http":
			err = n.sendHTTP(url, notice)
		default:
			slog.Warn("notify: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			n.failed.Add(1)
			slog.Error("notify: webhook delivery failed",
				"type", wh.Type,
				"session", notice.Session,
				"err", err,
			)
			continue
		}
		n.sent.Add(1)
		slog.Debug("notify: webhook delivered",
			"type", wh.Type,
			"session", notice.Session,
			"set", notice.Set.Index,
		)
	}
}

func (n *Notifier) sendSlack(url string, notice Notice) error {
	body, _ := json.Marshal(map[string]string{"text": notice.Text()})
	return n.post(url, body)
}

func (n *Notifier) sendTeams(url string, notice Notice) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": themeColor(notice.Set),
		"summary":    "Set complete",
		"title":      fmt.Sprintf("formsense: set %d complete", notice.Set.Index),
		"text":       notice.Text(),
	}
	body, _ := json.Marshal(payload)
	return n.post(url, body)
}

func (n *Notifier) sendHTTP(url string, notice Notice) error {
	body, err := json.Marshal(map[string]interface{}{"set_closed": notice})
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}
	return n.post(url, body)
}

func (n *Notifier) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func themeColor(s segmenter.Summary) string {
	switch {
	case s.Forced:
		return "FFAB40"
	case s.OK:
		return "2EB886"
	default:
		return "FF4F6A"
	}
}
