// Package blocksync pulls a community blocklist feed into the shared cache on
// an interval. Merges are idempotent and conflict-averse: a feed entry never
// shortens the life of an entry the escalation engine already wrote.
package blocksync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FeedEntry is one record from the community feed. Key is an IP or a
// fingerprint prefixed "fp:"; SuggestedTTL is in seconds.
type FeedEntry struct {
	Key          string  `json:"key"`
	Reason       string  `json:"reason"`
	Confidence   float64 `json:"confidence"`
	SuggestedTTL int64   `json:"suggested_ttl"`
}

// TTL returns the entry's suggested TTL as a duration, with a floor so a
// malformed feed can't inject zero-lifetime entries.
func (f FeedEntry) TTL() time.Duration {
	if f.SuggestedTTL <= 0 {
		return time.Hour
	}
	return time.Duration(f.SuggestedTTL) * time.Second
}

// CacheKey maps the feed key onto the cache namespace.
func (f FeedEntry) CacheKey() (string, bool) {
	k := strings.TrimSpace(f.Key)
	switch {
	case k == "":
		return "", false
	case strings.HasPrefix(k, "fp:"):
		fp := strings.TrimPrefix(k, "fp:")
		if fp == "" {
			return "", false
		}
		return "blocklist:fp:" + fp, true
	default:
		return "blocklist:ip:" + k, true
	}
}

// FeedClient fetches the feed document. Accepts either a bare JSON array of
// entries or an object with an "entries" field, which is what the common
// aggregators publish.
type FeedClient struct {
	url    string
	client *http.Client
}

func NewFeedClient(url string, timeout time.Duration) *FeedClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FeedClient{url: url, client: &http.Client{Timeout: timeout}}
}

func (c *FeedClient) Fetch(ctx context.Context) ([]FeedEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("feed returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	var entries []FeedEntry
	if err := json.Unmarshal(body, &entries); err == nil {
		return entries, nil
	}
	var wrapped struct {
		Entries []FeedEntry `json:"entries"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return wrapped.Entries, nil
}
