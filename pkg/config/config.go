package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerAddr string
	OriginURL  string // protected origin the edge proxies allowed traffic to
	TrustProxy bool

	// Blocklist/reputation cache (Redis).
	CacheAddr     string
	CachePassword string
	CacheDB       int
	CacheTimeout  time.Duration // per-call budget; on expiry the edge fails open

	// Tunable scoring policy (weights, thresholds, agent lists).
	PolicyPath string

	// Artifacts, loaded read-only and swapped atomically on change.
	ModelPath      string // Markov model for tarpit text
	ClassifierPath string // feature weights for the escalation classifier

	// Tarpit session budgets.
	SystemSeed     string
	TarpitMaxBytes int64
	TarpitMaxTime  time.Duration
	TarpitMinDelay time.Duration
	TarpitMaxDelay time.Duration
	TarpitMaxHops  int64
	TarpitHopTTL   time.Duration

	// Decoy archive cap (compressed bytes actually produced).
	ArchiveMaxBytes int64

	// Escalation engine.
	EscalateAddr     string
	EscalateURL      string // where the edge/tarpit POST evaluation requests
	EscalateDeadline time.Duration
	BlockTTL         time.Duration // base TTL for block entries, scaled by confidence

	// External reputation collaborator.
	ReputationURL     string
	ReputationKey     string
	ReputationTimeout time.Duration
	BreakerThreshold  int
	BreakerCooldown   time.Duration

	// Alerting collaborator (fire-and-forget).
	AlertWebhookURL string

	// Community blocklist feed.
	FeedURL      string
	SyncInterval time.Duration

	// Honeypot hit log (rotating JSON lines).
	HitLogPath    string
	HitLogMaxMB   int
	HitLogBackups int

	Outputs []string // enabled event sinks: log, kafka, postgres
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}

func getInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func Load() Config {
	return Config{
		ServerAddr: getOr("SERVER_ADDR", ":19790"),
		OriginURL:  getOr("ORIGIN_URL", ""),
		TrustProxy: getBool("TRUST_PROXY", false),

		CacheAddr:     getOr("CACHE_ADDR", "localhost:6379"),
		CachePassword: getOr("CACHE_PASSWORD", ""),
		CacheDB:       getInt("CACHE_DB", 0),
		CacheTimeout:  getDuration("CACHE_TIMEOUT", 200*time.Millisecond),

		PolicyPath: getOr("POLICY_PATH", ""),

		ModelPath:      getOr("MARKOV_MODEL_PATH", "artifacts/markov.json"),
		ClassifierPath: getOr("CLASSIFIER_PATH", "artifacts/classifier.json"),

		SystemSeed:     getOr("SYSTEM_SEED", "change-me"),
		TarpitMaxBytes: getInt64("TARPIT_MAX_BYTES", 256<<10), // 256 KiB per session
		TarpitMaxTime:  getDuration("TARPIT_MAX_TIME", 5*time.Minute),
		TarpitMinDelay: getDuration("TARPIT_MIN_DELAY", 600*time.Millisecond),
		TarpitMaxDelay: getDuration("TARPIT_MAX_DELAY", 1200*time.Millisecond),
		TarpitMaxHops:  getInt64("TARPIT_MAX_HOPS", 250),
		TarpitHopTTL:   getDuration("TARPIT_HOP_TTL", 24*time.Hour),

		ArchiveMaxBytes: getInt64("ARCHIVE_MAX_BYTES", 512<<10),

		EscalateAddr:     getOr("ESCALATE_ADDR", ":19791"),
		EscalateURL:      getOr("ESCALATE_URL", ""),
		EscalateDeadline: getDuration("ESCALATE_DEADLINE", 3*time.Second),
		BlockTTL:         getDuration("BLOCK_TTL", 24*time.Hour),

		ReputationURL:     getOr("REPUTATION_URL", ""),
		ReputationKey:     getOr("REPUTATION_KEY", ""),
		ReputationTimeout: getDuration("REPUTATION_TIMEOUT", time.Second),
		BreakerThreshold:  getInt("BREAKER_THRESHOLD", 5),
		BreakerCooldown:   getDuration("BREAKER_COOLDOWN", time.Minute),

		AlertWebhookURL: getOr("ALERT_WEBHOOK_URL", ""),

		FeedURL:      getOr("BLOCKLIST_FEED_URL", ""),
		SyncInterval: getDuration("BLOCKLIST_SYNC_INTERVAL", time.Hour),

		HitLogPath:    getOr("HIT_LOG_PATH", ""),
		HitLogMaxMB:   getInt("HIT_LOG_MAX_MB", 50),
		HitLogBackups: getInt("HIT_LOG_BACKUPS", 5),

		Outputs: getStringSlice("OUTPUTS", "log"),
	}
}
