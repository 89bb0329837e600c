package metrics

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the Prometheus metrics for snare.
type Metrics struct {
	// Counters
	Decisions     *prometheus.CounterVec // edge decisions by outcome
	RuleMatches   *prometheus.CounterVec // matched reason codes
	CacheErrors   *prometheus.CounterVec // cache failures by operation
	Escalations   *prometheus.CounterVec // verdicts by decision
	TarpitBytes   prometheus.Counter
	TarpitHits    prometheus.Counter
	SinkErrors    *prometheus.CounterVec
	RepSkipped    prometheus.Counter // reputation calls skipped by open breaker
	AlertFailures prometheus.Counter

	// Gauges
	BreakerOpen prometheus.Gauge

	// Histograms
	ScoreLatency    prometheus.Histogram
	EscalateLatency prometheus.Histogram
	HTTPDuration    *prometheus.HistogramVec
}

// Config holds configuration for the metrics server.
type Config struct {
	Enabled bool
	Addr    string
}

// LoadConfig loads metrics configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Enabled: getBool("METRICS_ENABLED", false),
		Addr:    getOr("METRICS_ADDR", "127.0.0.1:9090"),
	}
}

// NewMetrics creates and registers all snare metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snare_decisions_total",
				Help: "Edge decisions by outcome",
			},
			[]string{"decision"},
		),
		RuleMatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snare_rule_matches_total",
				Help: "Heuristic rule matches by reason code",
			},
			[]string{"code"},
		),
		CacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snare_cache_errors_total",
				Help: "Cache failures by operation (the edge fails open on these)",
			},
			[]string{"op"},
		),
		Escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snare_escalations_total",
				Help: "Escalation verdicts by decision",
			},
			[]string{"decision"},
		),
		TarpitBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snare_tarpit_bytes_total",
			Help: "Decoy bytes streamed to tarpitted clients",
		}),
		TarpitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snare_tarpit_hits_total",
			Help: "Requests served by the tarpit",
		}),
		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snare_sink_errors_total",
				Help: "Errors writing events to a sink",
			},
			[]string{"sink"},
		),
		RepSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snare_reputation_skipped_total",
			Help: "Reputation lookups skipped because the circuit breaker was open",
		}),
		AlertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snare_alert_failures_total",
			Help: "Alert webhook deliveries that failed",
		}),
		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snare_reputation_breaker_open",
			Help: "1 while the reputation circuit breaker is open",
		}),
		ScoreLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snare_score_duration_seconds",
			Help:    "Edge scoring latency, cache lookup included",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25},
		}),
		EscalateLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snare_escalation_duration_seconds",
			Help:    "End-to-end escalation evaluation latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 3.0, 5.0},
		}),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snare_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),
	}

	prometheus.MustRegister(
		m.Decisions, m.RuleMatches, m.CacheErrors, m.Escalations,
		m.TarpitBytes, m.TarpitHits, m.SinkErrors, m.RepSkipped,
		m.AlertFailures, m.BreakerOpen, m.ScoreLatency, m.EscalateLatency,
		m.HTTPDuration,
	)
	return m
}

// Server exposes /metrics on its own listener, separate from the edge.
type Server struct {
	server *http.Server
	config Config
}

func NewServer(config Config) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &Server{
		server: &http.Server{
			Addr:         config.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		config: config,
	}
}

func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		log.Printf("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}
	go func() {
		log.Printf("metrics: listening on %s", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
