// Command snare is the edge: it fronts the protected origin, scores every
// request, serves tarpit content to diverted clients, and proxies the rest.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wardgate/snare/internal/cache"
	"github.com/wardgate/snare/internal/escalate"
	"github.com/wardgate/snare/internal/httpx"
	"github.com/wardgate/snare/internal/logging"
	"github.com/wardgate/snare/internal/metrics"
	"github.com/wardgate/snare/internal/score"
	"github.com/wardgate/snare/internal/sink"
	"github.com/wardgate/snare/internal/tarpit"
	"github.com/wardgate/snare/pkg/config"
)

func main() {
	cfg := config.Load()
	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("edge: %v", err)
	}
	if cfg.OriginURL == "" {
		log.Fatalf("edge: ORIGIN_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := cache.NewRedisStore(cfg.CacheAddr, cfg.CachePassword, cfg.CacheDB)
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		log.Printf("edge: cache unreachable at startup, failing open: %v", err)
	}

	sinks := sink.StartAll(ctx, sink.Build(cfg.Outputs))
	defer sink.CloseAll(sinks)

	met := metrics.NewMetrics()
	metricsServer := metrics.NewServer(metrics.LoadConfig())
	_ = metricsServer.Start(ctx)

	loader := tarpit.NewModelLoader(cfg.ModelPath)
	if err := loader.Load(); err != nil {
		log.Printf("edge: tarpit model unavailable, serving static filler: %v", err)
	}
	if stop, err := loader.Watch(); err != nil {
		log.Printf("edge: model watch disabled: %v", err)
	} else {
		defer stop()
	}

	var hits *logging.HitLogger
	if cfg.HitLogPath != "" {
		hits = logging.NewHitLogger(cfg.HitLogPath, cfg.HitLogMaxMB, cfg.HitLogBackups)
		defer hits.Close()
	}

	var escalator *escalate.Client
	if cfg.EscalateURL != "" {
		escalator = escalate.NewClient(cfg.EscalateURL, cfg.EscalateDeadline+2*time.Second)
	}

	pit := tarpit.NewHandler(tarpit.Options{
		Loader:          loader,
		Store:           store,
		Hits:            hits,
		Escalator:       escalator,
		Sinks:           sinks,
		Metrics:         met,
		SystemSeed:      cfg.SystemSeed,
		TrustProxy:      cfg.TrustProxy,
		MaxBytes:        cfg.TarpitMaxBytes,
		MaxTime:         cfg.TarpitMaxTime,
		MinDelay:        cfg.TarpitMinDelay,
		MaxDelay:        cfg.TarpitMaxDelay,
		MaxHops:         cfg.TarpitMaxHops,
		HopTTL:          cfg.TarpitHopTTL,
		CacheTimeout:    cfg.CacheTimeout,
		ArchiveMaxBytes: cfg.ArchiveMaxBytes,
		BlockTTL:        cfg.BlockTTL,
	})

	origin, err := httpx.NewOriginProxy(cfg.OriginURL)
	if err != nil {
		log.Fatalf("edge: %v", err)
	}

	gate := httpx.NewGate(httpx.GateOpts{
		Scorer:       score.NewScorer(policy),
		Store:        store,
		Tarpit:       pit,
		Origin:       origin,
		Escalator:    escalator,
		Sinks:        sinks,
		Metrics:      met,
		Policy:       policy,
		TrustProxy:   cfg.TrustProxy,
		CacheTimeout: cfg.CacheTimeout,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpx.Health())
	mux.HandleFunc("/readyz", httpx.Ready(store))
	mux.Handle("/", httpx.RequestLogger(httpx.Instrument(met, "gate", gate)))

	server := httpx.NewServer(cfg.ServerAddr, mux, cfg.TarpitMaxTime)
	go func() {
		log.Printf("edge: listening on %s, origin %s", cfg.ServerAddr, cfg.OriginURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("edge: server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("edge: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("edge: shutdown: %v", err)
	}
	_ = metricsServer.Shutdown(shutdownCtx)
	cancel()
}
