package logging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Hit is one tarpit interaction, recorded as a single JSON line. The hit log
// is the raw material for retraining the classifier, so it carries the full
// request shape rather than just the decision.
type Hit struct {
	TS          string  `json:"ts"`
	IP          string  `json:"ip"`
	Fingerprint string  `json:"fingerprint"`
	Method      string  `json:"method"`
	Path        string  `json:"path"`
	UserAgent   string  `json:"user_agent"`
	Referer     string  `json:"referer,omitempty"`
	HopCount    int64   `json:"hop_count"`
	BytesSent   int64   `json:"bytes_sent"`
	ElapsedMS   float64 `json:"elapsed_ms"`
	Seed        string  `json:"seed"`
	Exhausted   bool    `json:"exhausted,omitempty"` // hop limit reached on this request
}

// HitLogger appends tarpit hits to a size-rotated JSON-lines file. Writes are
// serialized so concurrent tarpit sessions never interleave lines.
type HitLogger struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

func NewHitLogger(path string, maxSizeMB, maxBackups int) *HitLogger {
	return &HitLogger{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		},
	}
}

func (l *HitLogger) Log(h Hit) error {
	if h.TS == "" {
		h.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("serialize hit: %w", err)
	}
	line = append(line, '\n')
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(line); err != nil {
		return fmt.Errorf("write hit log: %w", err)
	}
	return nil
}

func (l *HitLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
