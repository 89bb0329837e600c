// Package event defines the structured records emitted to the observability
// sinks: one per edge decision, escalation verdict, and tarpit hit. The
// records are advisory — losing one never affects a decision.
package event

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeEdgeDecision = "edge_decision"
	TypeVerdict      = "verdict"
	TypeTarpitHit    = "tarpit_hit"
	TypeSync         = "blocklist_sync"
)

// Event is the envelope shared by all record types. Optional fields are
// omitted when empty.
type Event struct {
	EventID string `json:"event_id"`
	TS      string `json:"ts"` // RFC3339Nano, UTC
	Type    string `json:"type"`
	Source  string `json:"source,omitempty"` // emitting component

	IP          string   `json:"ip,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Method      string   `json:"method,omitempty"`
	Path        string   `json:"path,omitempty"`
	UserAgent   string   `json:"user_agent,omitempty"`
	Decision    string   `json:"decision,omitempty"`
	Score       float64  `json:"score,omitempty"`
	Probability float64  `json:"probability,omitempty"`
	Reasons     []string `json:"reasons,omitempty"`
	Degraded    bool     `json:"degraded,omitempty"`
	LatencyMS   float64  `json:"latency_ms,omitempty"`

	// Sync records only.
	Merged int `json:"merged,omitempty"`
	Pruned int `json:"pruned,omitempty"`
}

// New stamps a fresh envelope of the given type.
func New(typ, source string) Event {
	return Event{
		EventID: uuid.New().String(),
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Type:    typ,
		Source:  source,
	}
}
