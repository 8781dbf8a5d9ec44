// Package notify posts HMAC-signed gate events to an admin-configured
// webhook. Delivery is best-effort: failures are logged and never change
// the commit verdict.
package notify

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dvgate-project/dvgate/internal/policy"
	"github.com/dvgate-project/dvgate/pkg/logging"
)

// Event names.
const (
	EventBypassEmergency = "bypass.emergency"
	EventBypassFreeze    = "bypass.freeze"
	EventBypassDenied    = "bypass.denied"
	EventSmokeFailed     = "smoke.failed"
)

// Event is the webhook payload.
type Event struct {
	Event     string   `json:"event"`
	Timestamp string   `json:"timestamp"`
	Repo      string   `json:"repo,omitempty"`
	User      string   `json:"user,omitempty"`
	Scope     string   `json:"scope,omitempty"`
	Label     string   `json:"label,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Detail    string   `json:"detail,omitempty"`
	Files     []string `json:"files,omitempty"`
}

// Notifier sends events per the policy's notify block.
type Notifier struct {
	cfg  policy.NotifyConfig
	http *http.Client
}

// New creates a notifier; returns nil when notification is disabled.
func New(cfg policy.NotifyConfig) *Notifier {
	if !cfg.Enabled || cfg.URL == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// Send posts one event if it is subscribed. Errors are logged, not returned.
func (n *Notifier) Send(ev Event) {
	if n == nil || !n.subscribed(ev.Event) {
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().Format(time.RFC3339)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logging.ErrorErr("notify: marshal event", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, n.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		logging.ErrorErr("notify: build request", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "dvgate-hook")
	if n.cfg.Secret != "" {
		req.Header.Set("X-DVGate-Signature", sign(n.cfg.Secret, payload))
	}

	resp, err := n.http.Do(req)
	if err != nil {
		logging.Warn("notify: delivery failed", map[string]any{"event": ev.Event, "error": err.Error()})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Warn("notify: non-2xx response", map[string]any{"event": ev.Event, "status": resp.StatusCode})
	}
}

// subscribed reports whether the event is in the configured set.
// An empty events list subscribes to everything.
func (n *Notifier) subscribed(event string) bool {
	if len(n.cfg.Events) == 0 {
		return true
	}
	for _, e := range n.cfg.Events {
		if e == event {
			return true
		}
	}
	return false
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
