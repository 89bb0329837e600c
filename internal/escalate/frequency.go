package escalate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const frequencyWindow = frequencyWindowSeconds * time.Second

// Observation is what the frequency tracker knows about an IP at the moment
// of one request: how many requests (this one included) landed inside the
// sliding window, and the gap to the previous one. SinceLast is negative when
// this is the first request in the window.
type Observation struct {
	Count     int64
	SinceLast time.Duration
}

// Tracker records request arrivals per IP over a sliding window.
type Tracker interface {
	Observe(ctx context.Context, ip string, now time.Time) (Observation, error)
	Close() error
}

// RedisTracker keeps one sorted set per IP, scored by arrival time in
// milliseconds, so the window survives engine restarts and is shared across
// replicas. One pipeline round trip per observation.
type RedisTracker struct {
	rdb *redis.Client
	seq uint64
	mu  sync.Mutex
}

func NewRedisTracker(rdb *redis.Client) *RedisTracker {
	return &RedisTracker{rdb: rdb}
}

func (t *RedisTracker) key(ip string) string { return "freq:ip:" + ip }

func (t *RedisTracker) Observe(ctx context.Context, ip string, now time.Time) (Observation, error) {
	t.mu.Lock()
	t.seq++
	member := fmt.Sprintf("%d-%d", now.UnixMilli(), t.seq)
	t.mu.Unlock()

	key := t.key(ip)
	cutoff := now.Add(-frequencyWindow).UnixMilli()

	pipe := t.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff))
	prev := pipe.ZRevRangeWithScores(ctx, key, 0, 0)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, frequencyWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return Observation{}, fmt.Errorf("frequency pipeline for %s: %w", ip, err)
	}

	obs := Observation{Count: card.Val(), SinceLast: -1}
	if zs := prev.Val(); len(zs) > 0 {
		obs.SinceLast = time.Duration(now.UnixMilli()-int64(zs[0].Score)) * time.Millisecond
		if obs.SinceLast < 0 {
			obs.SinceLast = 0
		}
	}
	return obs, nil
}

func (t *RedisTracker) Close() error { return nil }

// MemoryTracker is the in-process fallback for single-instance deployments
// and tests. Same window semantics as the Redis tracker.
type MemoryTracker struct {
	mu      sync.Mutex
	arrived map[string][]time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{arrived: make(map[string][]time.Time)}
}

func (t *MemoryTracker) Observe(ctx context.Context, ip string, now time.Time) (Observation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-frequencyWindow)
	kept := t.arrived[ip][:0]
	for _, ts := range t.arrived[ip] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	obs := Observation{SinceLast: -1}
	if len(kept) > 0 {
		sort.Slice(kept, func(i, j int) bool { return kept[i].Before(kept[j]) })
		obs.SinceLast = now.Sub(kept[len(kept)-1])
		if obs.SinceLast < 0 {
			obs.SinceLast = 0
		}
	}
	kept = append(kept, now)
	t.arrived[ip] = kept
	obs.Count = int64(len(kept))
	return obs, nil
}

func (t *MemoryTracker) Close() error { return nil }
