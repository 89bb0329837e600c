package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func entryAt(now time.Time, ttl time.Duration, version int64) *Entry {
	return &Entry{
		Reason:     "test",
		Decision:   "block",
		Confidence: 0.9,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Version:    version,
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	if err := s.Upsert(ctx, "blocklist:ip:203.0.113.9", entryAt(now, time.Hour, 1), time.Hour); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "blocklist:ip:203.0.113.9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Decision != "block" || got.Confidence != 0.9 {
		t.Errorf("entry = %+v", got)
	}

	if _, err := s.Get(ctx, "blocklist:ip:198.51.100.1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing key: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()
	clock := base
	s.SetClock(func() time.Time { return clock })

	if err := s.Upsert(ctx, "k", entryAt(base, time.Minute, 1), time.Minute); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("entry should be visible before expiry: %v", err)
	}

	clock = base.Add(2 * time.Minute)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired entry: err = %v, want ErrNotFound", err)
	}

	// The key still shows up in Scan: physical removal is the prune pass's
	// job, visibility is Get's.
	keys, err := s.Scan(ctx, "k")
	if err != nil || len(keys) != 1 {
		t.Errorf("Scan after expiry = %v, %v; expired keys must remain scannable", keys, err)
	}
}

func TestMemoryStoreVersionedUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	fresh := entryAt(now, time.Hour, 100)
	fresh.Reason = "fresh"
	if err := s.Upsert(ctx, "k", fresh, time.Hour); err != nil {
		t.Fatal(err)
	}

	// A stale concurrent writer loses silently.
	stale := entryAt(now, time.Hour, 50)
	stale.Reason = "stale"
	if err := s.Upsert(ctx, "k", stale, time.Hour); err != nil {
		t.Fatalf("stale upsert must not error: %v", err)
	}
	got, _ := s.Get(ctx, "k")
	if got.Reason != "fresh" {
		t.Errorf("stale write clobbered the entry: reason = %q", got.Reason)
	}

	// A newer writer wins.
	newer := entryAt(now, time.Hour, 200)
	newer.Reason = "newer"
	if err := s.Upsert(ctx, "k", newer, time.Hour); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, "k")
	if got.Reason != "newer" {
		t.Errorf("newer write should win: reason = %q", got.Reason)
	}
}

func TestMemoryStoreUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	e := entryAt(now, time.Hour, 7)
	for i := 0; i < 3; i++ {
		if err := s.Upsert(ctx, "k", e, time.Hour); err != nil {
			t.Fatalf("Upsert #%d: %v", i, err)
		}
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 7 {
		t.Errorf("version = %d, want 7", got.Version)
	}
}

func TestMemoryStoreIncrWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()
	clock := base
	s.SetClock(func() time.Time { return clock })

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "tarpit:hops:203.0.113.9", time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Errorf("Incr = %d, want %d", n, want)
		}
	}

	// After the window the counter starts over.
	clock = base.Add(2 * time.Hour)
	n, err := s.Incr(ctx, "tarpit:hops:203.0.113.9", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Incr after window = %d, want 1", n)
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("cancelled Get: err = %v, want ErrUnavailable", err)
	}
	if err := s.Upsert(ctx, "k", entryAt(time.Now(), time.Hour, 1), time.Hour); !errors.Is(err, ErrUnavailable) {
		t.Errorf("cancelled Upsert: err = %v, want ErrUnavailable", err)
	}
}
