// Package escalate implements the escalation engine: the slower, deeper
// second look at traffic the edge flagged as ambiguous. It combines request
// heuristics, a trained classifier artifact, and an external reputation
// service into a weighted ensemble, and writes the resulting verdicts back to
// the shared cache so the edge can act on them without re-evaluating.
//
// Every external input degrades independently: a missing classifier, a dead
// reputation service, or an unreachable frequency store each narrow the
// ensemble rather than failing the evaluation. A verdict always comes back.
package escalate

import (
	"context"
	"log"
	"time"

	"github.com/wardgate/snare/internal/alert"
	"github.com/wardgate/snare/internal/cache"
	"github.com/wardgate/snare/internal/event"
	"github.com/wardgate/snare/internal/metrics"
	"github.com/wardgate/snare/internal/sink"
	"github.com/wardgate/snare/pkg/config"
)

// Request is one escalation evaluation request, posted by the edge or the
// tarpit after their own fast pass.
type Request struct {
	IP          string    `json:"ip"`
	Fingerprint string    `json:"fingerprint"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	UserAgent   string    `json:"user_agent"`
	Referer     string    `json:"referer"`
	EdgeScore   float64   `json:"edge_score"`
	Reasons     []string  `json:"reasons"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Verdict is the engine's answer. Degraded is set when any ensemble input was
// unavailable during evaluation; the probability is still valid, just built
// from fewer signals.
type Verdict struct {
	Decision    string   `json:"decision"` // allow | monitor | tarpit | block
	Probability float64  `json:"probability"`
	Heuristic   float64  `json:"heuristic"`
	Classifier  float64  `json:"classifier,omitempty"`
	Reputation  bool     `json:"reputation_bonus"`
	Reasons     []string `json:"reasons,omitempty"`
	Degraded    bool     `json:"degraded"`
}

// Verdict decisions.
const (
	VerdictAllow   = "allow"
	VerdictMonitor = "monitor"
	VerdictTarpit  = "tarpit"
	VerdictBlock   = "block"
)

// Engine evaluates escalation requests.
type Engine struct {
	policy     config.Policy
	classifier *ClassifierLoader
	reputation *ReputationClient
	freq       Tracker
	store      cache.Store
	alerts     *alert.Notifier
	sinks      []sink.Sink
	met        *metrics.Metrics
	blockTTL   time.Duration
	verdictTTL time.Duration

	now func() time.Time // test hook
}

type EngineOpts struct {
	Policy     config.Policy
	Classifier *ClassifierLoader
	Reputation *ReputationClient
	Frequency  Tracker
	Store      cache.Store
	Alerts     *alert.Notifier
	Sinks      []sink.Sink
	Metrics    *metrics.Metrics
	BlockTTL   time.Duration
}

func NewEngine(o EngineOpts) *Engine {
	blockTTL := o.BlockTTL
	if blockTTL <= 0 {
		blockTTL = 24 * time.Hour
	}
	return &Engine{
		policy:     o.Policy,
		classifier: o.Classifier,
		reputation: o.Reputation,
		freq:       o.Frequency,
		store:      o.Store,
		alerts:     o.Alerts,
		sinks:      o.Sinks,
		met:        o.Metrics,
		blockTTL:   blockTTL,
		verdictTTL: time.Hour,
		now:        time.Now,
	}
}

// Evaluate runs the full ensemble for one request. The caller's context
// carries the hard deadline; the engine spends its budget in order of
// cheapness (frequency, heuristics, classifier, reputation) so a tight
// deadline trims the expensive tail first.
func (e *Engine) Evaluate(ctx context.Context, req Request) Verdict {
	start := e.now()
	if req.ObservedAt.IsZero() {
		req.ObservedAt = start
	}

	v := Verdict{Reasons: req.Reasons}

	obs := Observation{SinceLast: -1}
	if e.freq != nil {
		var err error
		obs, err = e.freq.Observe(ctx, req.IP, req.ObservedAt)
		if err != nil {
			log.Printf("escalate: frequency lookup failed for %s: %v", req.IP, err)
			obs = Observation{SinceLast: -1}
			v.Degraded = true
		}
	}

	v.Heuristic = e.heuristic(req, obs)

	// Classifier. Absent artifact means heuristic-only scoring.
	model := e.classifierModel()
	var p float64
	if model != nil {
		v.Classifier = model.Predict(Features(req, obs.Count, obs.SinceLast.Seconds(), e.policy.BadAgents))
		p = e.policy.Ensemble.HeuristicWeight*v.Heuristic + e.policy.Ensemble.ClassifierWeight*v.Classifier
	} else {
		v.Degraded = true
		p = v.Heuristic
	}

	// Reputation, last: it is the slowest input and purely additive.
	if e.reputation != nil {
		rep, err := e.reputation.Lookup(ctx, req.IP)
		switch {
		case err != nil:
			v.Degraded = true
		case rep.Malicious():
			v.Reputation = true
			p += e.policy.Ensemble.ReputationBonus
		}
	}

	v.Probability = clamp01(p)
	v.Decision = e.decide(v.Probability)

	e.applyVerdict(ctx, req, &v)
	e.record(req, v, e.now().Sub(start))
	return v
}

// heuristic folds the edge score and the request-frequency signals into one
// [0,1] value. The edge score is normalized against the tarpit threshold so
// "just under diversion" maps near 1.0.
func (e *Engine) heuristic(req Request, obs Observation) float64 {
	h := 0.0
	if t := e.policy.Thresholds.Tarpit; t > 0 {
		h = clamp01(req.EdgeScore / t)
	}
	switch {
	case obs.Count > 60:
		h += 0.3
	case obs.Count > 30:
		h += 0.1
	}
	if obs.SinceLast >= 0 && obs.SinceLast < 300*time.Millisecond {
		h += 0.2
	}
	return clamp01(h)
}

func (e *Engine) decide(p float64) string {
	switch {
	case p >= e.policy.Verdicts.Block:
		return VerdictBlock
	case p >= e.policy.Verdicts.Tarpit:
		return VerdictTarpit
	case p >= e.policy.Verdicts.Monitor:
		return VerdictMonitor
	default:
		return VerdictAllow
	}
}

func (e *Engine) classifierModel() *Classifier {
	if e.classifier == nil {
		return nil
	}
	return e.classifier.Current()
}

// applyVerdict performs the verdict's side effects: blocklist writes for
// block, cached verdicts for tarpit and monitor, alerts for high-confidence
// blocks. Cache writes are retried once; a second failure is logged and
// dropped, never surfaced to the caller.
func (e *Engine) applyVerdict(ctx context.Context, req Request, v *Verdict) {
	now := e.now()
	switch v.Decision {
	case VerdictBlock:
		// Higher confidence earns a longer sentence.
		ttl := time.Duration(float64(e.blockTTL) * v.Probability)
		entry := &cache.Entry{
			Reason:     "escalation",
			Decision:   VerdictBlock,
			Confidence: v.Probability,
			CreatedAt:  now,
			ExpiresAt:  now.Add(ttl),
			Version:    now.UnixNano(),
		}
		e.writeEntry(ctx, cache.PrefixBlockIP+req.IP, entry, ttl)
		if req.Fingerprint != "" {
			e.writeEntry(ctx, cache.PrefixBlockFP+req.Fingerprint, entry, ttl)
		}
		if e.alerts != nil && v.Probability >= e.policy.AlertConfidence {
			e.alerts.Notify(alert.Alert{
				IP:          req.IP,
				Fingerprint: req.Fingerprint,
				Decision:    v.Decision,
				Confidence:  v.Probability,
				Reasons:     v.Reasons,
			})
		}
	case VerdictTarpit, VerdictMonitor:
		if req.Fingerprint == "" {
			return
		}
		entry := &cache.Entry{
			Reason:     "escalation",
			Decision:   v.Decision,
			Confidence: v.Probability,
			CreatedAt:  now,
			ExpiresAt:  now.Add(e.verdictTTL),
			Version:    now.UnixNano(),
		}
		e.writeEntry(ctx, cache.PrefixVerdict+req.Fingerprint, entry, e.verdictTTL)
	}
}

func (e *Engine) writeEntry(ctx context.Context, key string, entry *cache.Entry, ttl time.Duration) {
	if e.store == nil {
		return
	}
	entry.Key = key
	err := e.store.Upsert(ctx, key, entry, ttl)
	if err != nil {
		err = e.store.Upsert(ctx, key, entry, ttl)
	}
	if err != nil {
		log.Printf("escalate: dropping cache write for %s: %v", key, err)
		if e.met != nil {
			e.met.CacheErrors.WithLabelValues("upsert").Inc()
		}
	}
}

func (e *Engine) record(req Request, v Verdict, elapsed time.Duration) {
	if e.met != nil {
		e.met.Escalations.WithLabelValues(v.Decision).Inc()
		e.met.EscalateLatency.Observe(elapsed.Seconds())
	}
	ev := event.New(event.TypeVerdict, "escalate")
	ev.IP = req.IP
	ev.Fingerprint = req.Fingerprint
	ev.Method = req.Method
	ev.Path = req.Path
	ev.UserAgent = req.UserAgent
	ev.Decision = v.Decision
	ev.Score = req.EdgeScore
	ev.Probability = v.Probability
	ev.Reasons = v.Reasons
	ev.Degraded = v.Degraded
	ev.LatencyMS = float64(elapsed.Microseconds()) / 1000.0
	for _, s := range e.sinks {
		if err := s.Enqueue(ev); err != nil {
			log.Printf("escalate: sink %s: %v", s.Name(), err)
			if e.met != nil {
				e.met.SinkErrors.WithLabelValues(s.Name()).Inc()
			}
		}
	}
}
