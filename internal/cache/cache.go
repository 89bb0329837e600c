// Package cache is the shared blocklist/reputation store. It is the only
// shared mutable resource in the pipeline: the edge scorer reads it on every
// request, the escalation engine and sync daemon write to it. All writes go
// through a versioned upsert so a stale concurrent verdict can never clobber
// a newer one.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound means the key genuinely is not present. It is distinct from
// ErrUnavailable so callers can fail open on infrastructure trouble without
// mistaking it for a miss... and vice versa.
var (
	ErrNotFound    = errors.New("cache: key not found")
	ErrUnavailable = errors.New("cache: backend unavailable")
)

// Key prefixes. Blocklist entries are keyed by IP or fingerprint; verdicts
// by fingerprint only.
const (
	PrefixBlockIP = "blocklist:ip:"
	PrefixBlockFP = "blocklist:fp:"
	PrefixVerdict = "verdict:"
	PrefixHops    = "tarpit:hops:"
)

// Entry is a blocklist entry or cached verdict. Version is a monotonic
// writer-side timestamp (unix nanoseconds): last writer wins, stale writers
// lose silently.
type Entry struct {
	Key        string    `json:"key"`
	Reason     string    `json:"reason"`
	Decision   string    `json:"decision,omitempty"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Version    int64     `json:"version"`
}

// Expired reports whether the entry is past its expiry. Readers must treat
// an expired entry as absent even if the backend has not evicted it yet.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Store is the cache protocol from the edge's point of view. Every method
// takes a context carrying the caller's deadline; implementations must not
// outlive it.
type Store interface {
	// Get returns the entry at key, ErrNotFound if absent or expired, or
	// ErrUnavailable (possibly wrapped) on backend failure.
	Get(ctx context.Context, key string) (*Entry, error)
	// Upsert writes e at key with the given TTL, atomically per key. The
	// write is dropped (nil error) when the stored version is newer.
	Upsert(ctx context.Context, key string, e *Entry, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// Incr atomically increments a counter, setting ttl on first use.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Scan lists keys under a prefix; used by the sync daemon's defensive
	// prune, never on the request path.
	Scan(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
