// Command snare-syncd runs the blocklist sync daemon: periodic community
// feed merges plus a defensive prune of stale cache entries.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wardgate/snare/internal/blocksync"
	"github.com/wardgate/snare/internal/cache"
	"github.com/wardgate/snare/internal/sink"
	"github.com/wardgate/snare/pkg/config"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := cache.NewRedisStore(cfg.CacheAddr, cfg.CachePassword, cfg.CacheDB)
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("syncd: cache unreachable: %v", err)
	}

	sinks := sink.StartAll(ctx, sink.Build(cfg.Outputs))
	defer sink.CloseAll(sinks)

	var feed *blocksync.FeedClient
	if cfg.FeedURL != "" {
		feed = blocksync.NewFeedClient(cfg.FeedURL, 30*time.Second)
	} else {
		log.Printf("syncd: no feed configured, running prune-only")
	}

	daemon := blocksync.NewDaemon(feed, store, sinks, cfg.SyncInterval)
	go daemon.Run(ctx)
	log.Printf("syncd: running, interval %s", cfg.SyncInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("syncd: shutting down")
	cancel()
}
