// Command snare-escalate runs the escalation engine as its own service, so a
// slow ensemble never shares a process with the request path.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wardgate/snare/internal/alert"
	"github.com/wardgate/snare/internal/cache"
	"github.com/wardgate/snare/internal/escalate"
	"github.com/wardgate/snare/internal/metrics"
	"github.com/wardgate/snare/internal/sink"
	"github.com/wardgate/snare/pkg/config"
)

func main() {
	cfg := config.Load()
	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("escalate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := cache.NewRedisStore(cfg.CacheAddr, cfg.CachePassword, cfg.CacheDB)
	defer store.Close()

	sinks := sink.StartAll(ctx, sink.Build(cfg.Outputs))
	defer sink.CloseAll(sinks)

	met := metrics.NewMetrics()
	metricsServer := metrics.NewServer(metrics.LoadConfig())
	_ = metricsServer.Start(ctx)

	classifier := escalate.NewClassifierLoader(cfg.ClassifierPath)
	if err := classifier.Load(); err != nil {
		log.Printf("escalate: classifier unavailable, heuristic-only verdicts: %v", err)
	}
	if stop, err := classifier.Watch(); err != nil {
		log.Printf("escalate: classifier watch disabled: %v", err)
	} else {
		defer stop()
	}

	var reputation *escalate.ReputationClient
	if cfg.ReputationURL != "" {
		breaker := escalate.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
		breaker.OnStateChange = func(open bool) {
			if open {
				met.BreakerOpen.Set(1)
			} else {
				met.BreakerOpen.Set(0)
			}
		}
		reputation = escalate.NewReputationClient(
			cfg.ReputationURL, cfg.ReputationKey, cfg.ReputationTimeout,
			breaker, met.RepSkipped.Inc)
	}

	var alerts *alert.Notifier
	if cfg.AlertWebhookURL != "" {
		alerts = alert.NewNotifier(cfg.AlertWebhookURL, 2*time.Second, met.AlertFailures.Inc)
	}

	engine := escalate.NewEngine(escalate.EngineOpts{
		Policy:     policy,
		Classifier: classifier,
		Reputation: reputation,
		Frequency:  escalate.NewRedisTracker(store.Client()),
		Store:      store,
		Alerts:     alerts,
		Sinks:      sinks,
		Metrics:    met,
		BlockTTL:   cfg.BlockTTL,
	})

	server := &http.Server{
		Addr:         cfg.EscalateAddr,
		Handler:      escalate.NewServer(engine, cfg.EscalateDeadline).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.EscalateDeadline + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("escalate: listening on %s", cfg.EscalateAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("escalate: server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("escalate: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("escalate: shutdown: %v", err)
	}
	_ = metricsServer.Shutdown(shutdownCtx)
	cancel()
}
