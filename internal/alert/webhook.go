package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Alert is the payload posted to the operator webhook when a verdict crosses
// the alert confidence threshold.
type Alert struct {
	TS          string  `json:"ts"`
	IP          string  `json:"ip"`
	Fingerprint string  `json:"fingerprint"`
	Decision    string  `json:"decision"`
	Confidence  float64 `json:"confidence"`
	Reasons     []string `json:"reasons,omitempty"`
}

// Notifier delivers alerts to a webhook URL, fire-and-forget. A slow or dead
// webhook must never hold up a verdict, so delivery runs in its own goroutine
// with its own timeout and failures are logged, not returned.
type Notifier struct {
	url     string
	client  *http.Client
	onError func() // metrics hook, may be nil
}

func NewNotifier(url string, timeout time.Duration, onError func()) *Notifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Notifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		onError: onError,
	}
}

// Notify delivers the alert asynchronously. Returns immediately.
func (n *Notifier) Notify(a Alert) {
	if n == nil || n.url == "" {
		return
	}
	if a.TS == "" {
		a.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	go func() {
		if err := n.post(a); err != nil {
			log.Printf("alert: webhook delivery failed: %v", err)
			if n.onError != nil {
				n.onError()
			}
		}
	}()
}

func (n *Notifier) post(a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("serialize alert: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
