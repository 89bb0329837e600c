package blocksync

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"github.com/wardgate/snare/internal/cache"
	"github.com/wardgate/snare/internal/event"
	"github.com/wardgate/snare/internal/sink"
)

// Daemon runs the periodic feed merge plus a defensive prune of entries the
// backend should have expired on its own but may not have.
type Daemon struct {
	feed     *FeedClient
	store    cache.Store
	sinks    []sink.Sink
	interval time.Duration

	now func() time.Time // test hook
}

func NewDaemon(feed *FeedClient, store cache.Store, sinks []sink.Sink, interval time.Duration) *Daemon {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Daemon{feed: feed, store: store, sinks: sinks, interval: interval, now: time.Now}
}

// Run loops until the context is cancelled. One cycle runs immediately on
// start; a failed cycle is logged and the loop keeps its cadence. Each wait
// is jittered up to 10% so replicas sharing a feed don't pull in lockstep.
func (d *Daemon) Run(ctx context.Context) {
	d.cycle(ctx)
	for {
		wait := d.interval + time.Duration(rand.Int63n(int64(d.interval/10)+1))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			d.cycle(ctx)
		}
	}
}

func (d *Daemon) cycle(ctx context.Context) {
	merged, pruned, err := d.SyncOnce(ctx)
	if err != nil {
		log.Printf("blocksync: cycle failed: %v", err)
		return
	}
	log.Printf("blocksync: merged %d entries, pruned %d", merged, pruned)

	ev := event.New(event.TypeSync, "blocksync")
	ev.Merged = merged
	ev.Pruned = pruned
	for _, s := range d.sinks {
		if err := s.Enqueue(ev); err != nil {
			log.Printf("blocksync: sink %s: %v", s.Name(), err)
		}
	}
}

// SyncOnce performs one merge-and-prune cycle. A feed failure skips the merge
// but the prune still runs; existing entries are never touched by a bad pull.
func (d *Daemon) SyncOnce(ctx context.Context) (merged, pruned int, err error) {
	var feedErr error
	if d.feed != nil {
		entries, ferr := d.feed.Fetch(ctx)
		if ferr != nil {
			feedErr = ferr
		} else {
			merged = d.merge(ctx, entries)
		}
	}
	pruned = d.prune(ctx)
	return merged, pruned, feedErr
}

// merge writes feed entries through the versioned upsert. The keep-longer-TTL
// rule: when the key already exists with a later expiry, the feed entry is
// skipped; the versioned write covers the concurrent-writer case on top.
func (d *Daemon) merge(ctx context.Context, entries []FeedEntry) int {
	now := d.now()
	merged := 0
	for _, fe := range entries {
		key, ok := fe.CacheKey()
		if !ok {
			continue
		}
		ttl := fe.TTL()
		expires := now.Add(ttl)

		existing, err := d.store.Get(ctx, key)
		switch {
		case err == nil:
			if existing.ExpiresAt.After(expires) {
				continue // the longer sentence stands
			}
		case errors.Is(err, cache.ErrNotFound):
			// new entry
		default:
			log.Printf("blocksync: read %s: %v", key, err)
			continue
		}

		entry := &cache.Entry{
			Key:        key,
			Reason:     "feed:" + fe.Reason,
			Decision:   "block",
			Confidence: fe.Confidence,
			CreatedAt:  now,
			ExpiresAt:  expires,
			Version:    now.UnixNano(),
		}
		if err := d.store.Upsert(ctx, key, entry, ttl); err != nil {
			log.Printf("blocksync: write %s: %v", key, err)
			continue
		}
		merged++
	}
	return merged
}

// prune deletes entries whose payload says expired even though the backend
// still lists the key. Belt over the backend's TTL suspenders; Scan never
// runs on the request path.
func (d *Daemon) prune(ctx context.Context) int {
	pruned := 0
	for _, prefix := range []string{cache.PrefixBlockIP, cache.PrefixBlockFP, cache.PrefixVerdict} {
		keys, err := d.store.Scan(ctx, prefix)
		if err != nil {
			log.Printf("blocksync: scan %s: %v", prefix, err)
			continue
		}
		for _, key := range keys {
			_, err := d.store.Get(ctx, key)
			if !errors.Is(err, cache.ErrNotFound) {
				continue
			}
			if err := d.store.Delete(ctx, key); err != nil {
				log.Printf("blocksync: prune %s: %v", key, err)
				continue
			}
			pruned++
		}
	}
	return pruned
}
