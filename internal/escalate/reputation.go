package escalate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"
)

// ErrReputationSkipped is returned when the breaker is open and the lookup
// was never attempted.
var ErrReputationSkipped = errors.New("reputation: lookup skipped, breaker open")

// ReputationResult is the collaborator's view of an IP.
type ReputationResult struct {
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
}

// Malicious reports whether the result should contribute the ensemble bonus.
func (r ReputationResult) Malicious() bool {
	switch r.Category {
	case "malicious", "botnet", "scanner", "scraper":
		return true
	}
	return r.Confidence >= 0.7
}

// ReputationClient queries the external IP reputation service. It is strictly
// best-effort: a short per-call timeout, one jittered retry, and a circuit
// breaker so a dead collaborator costs at most the breaker threshold in
// wasted calls per cooldown.
type ReputationClient struct {
	url     string
	apiKey  string
	client  *http.Client
	breaker *Breaker
	onSkip  func() // metrics hook, may be nil
}

func NewReputationClient(rawURL, apiKey string, timeout time.Duration, breaker *Breaker, onSkip func()) *ReputationClient {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &ReputationClient{
		url:     rawURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		onSkip:  onSkip,
	}
}

// Lookup fetches the reputation of ip. The caller's context bounds the whole
// exchange, retry included; the client's own timeout bounds each attempt.
func (c *ReputationClient) Lookup(ctx context.Context, ip string) (*ReputationResult, error) {
	if c == nil || c.url == "" {
		return nil, ErrReputationSkipped
	}
	if !c.breaker.Allow() {
		if c.onSkip != nil {
			c.onSkip()
		}
		return nil, ErrReputationSkipped
	}

	res, err := c.fetch(ctx, ip)
	if err != nil {
		// One retry with a short jittered backoff covers transient blips
		// without stretching the escalation deadline.
		select {
		case <-ctx.Done():
			c.breaker.Failure()
			return nil, ctx.Err()
		case <-time.After(time.Duration(50+rand.Intn(100)) * time.Millisecond):
		}
		res, err = c.fetch(ctx, ip)
	}
	if err != nil {
		c.breaker.Failure()
		return nil, err
	}
	c.breaker.Success()
	return res, nil
}

func (c *ReputationClient) fetch(ctx context.Context, ip string) (*ReputationResult, error) {
	u := c.url + "?ip=" + url.QueryEscape(ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reputation request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("reputation returned %d", resp.StatusCode)
	}
	var out ReputationResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode reputation response: %w", err)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("reputation confidence %.3f out of range", out.Confidence)
	}
	return &out, nil
}
