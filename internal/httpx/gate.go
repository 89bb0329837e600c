// Package httpx is the edge server: the gate middleware that fronts every
// inbound request, the reverse proxy to the protected origin, and the health
// endpoints. The gate's contract is strict: a bounded cache lookup plus
// in-memory scoring on every request, failing open whenever the cache
// misbehaves. Suspicion costs the client time (tarpit), never availability.
package httpx

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/wardgate/snare/internal/cache"
	"github.com/wardgate/snare/internal/escalate"
	"github.com/wardgate/snare/internal/event"
	"github.com/wardgate/snare/internal/metrics"
	"github.com/wardgate/snare/internal/score"
	"github.com/wardgate/snare/internal/signal"
	"github.com/wardgate/snare/internal/sink"
	"github.com/wardgate/snare/internal/tarpit"
	"github.com/wardgate/snare/pkg/config"
)

// GateOpts wires the gate's collaborators.
type GateOpts struct {
	Scorer    *score.Scorer
	Store     cache.Store
	Tarpit    http.Handler
	Origin    http.Handler
	Escalator *escalate.Client
	Sinks     []sink.Sink
	Metrics   *metrics.Metrics
	Policy    config.Policy

	TrustProxy   bool
	CacheTimeout time.Duration
}

// Gate decides, for every request: proxy to origin, divert to the tarpit, or
// reject outright on a cached block.
type Gate struct {
	o GateOpts
}

func NewGate(o GateOpts) *Gate {
	if o.CacheTimeout <= 0 {
		o.CacheTimeout = 200 * time.Millisecond
	}
	return &Gate{o: o}
}

func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sig := signal.FromRequest(r, g.o.TrustProxy)
	fp := sig.Fingerprint()

	// Cache pass, under its own budget so a slow backend can't stall the
	// edge past it.
	blocked, verdict := g.lookup(r.Context(), sig.IP, fp)
	if blocked != nil {
		g.record(sig, fp, "block", 0, []string{blocked.Reason}, start)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	forceEscalate := false
	if verdict != nil {
		switch verdict.Decision {
		case "tarpit":
			g.record(sig, fp, "tarpit", 0, []string{"cached_verdict"}, start)
			g.divert(w, r, 0, []string{"cached_verdict"})
			return
		case "monitor":
			forceEscalate = true
		}
	}

	res := g.o.Scorer.Score(&sig)
	if g.o.Metrics != nil {
		for _, code := range res.Reasons {
			g.o.Metrics.RuleMatches.WithLabelValues(code).Inc()
		}
	}

	if res.Allowlisted {
		g.record(sig, fp, "allow", 0, []string{"allowlisted"}, start)
		g.o.Origin.ServeHTTP(w, r)
		return
	}

	if res.Decision == score.DecisionTarpit {
		g.record(sig, fp, "tarpit", res.Score, res.Reasons, start)
		g.divert(w, r, res.Score, res.Reasons)
		return
	}

	g.record(sig, fp, "allow", res.Score, res.Reasons, start)
	if res.Escalate || forceEscalate || g.audit() {
		g.submit(sig, fp, res)
	}
	g.o.Origin.ServeHTTP(w, r)
}

// lookup checks blocklist and verdict entries for this request. Any cache
// trouble returns (nil, nil): the edge fails open by contract.
func (g *Gate) lookup(parent context.Context, ip, fp string) (blocked, verdict *cache.Entry) {
	ctx, cancel := context.WithTimeout(parent, g.o.CacheTimeout)
	defer cancel()

	// Presence under a blocklist prefix is itself the sentence; Decision
	// just says who imposed it.
	for _, key := range []string{cache.PrefixBlockIP + ip, cache.PrefixBlockFP + fp} {
		e, err := g.get(ctx, key)
		if e != nil {
			return e, nil
		}
		if err != nil {
			return nil, nil // fail open, skip the rest of the pass
		}
	}
	v, err := g.get(ctx, cache.PrefixVerdict+fp)
	if err != nil {
		return nil, nil
	}
	if v != nil && v.Decision == "block" {
		return v, nil
	}
	return nil, v
}

// get distinguishes miss (nil, nil) from backend failure (nil, err).
func (g *Gate) get(ctx context.Context, key string) (*cache.Entry, error) {
	e, err := g.o.Store.Get(ctx, key)
	if err == nil {
		return e, nil
	}
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	log.Printf("edge: cache lookup %s failed, failing open: %v", key, err)
	if g.o.Metrics != nil {
		g.o.Metrics.CacheErrors.WithLabelValues("get").Inc()
	}
	return nil, err
}

func (g *Gate) divert(w http.ResponseWriter, r *http.Request, edgeScore float64, reasons []string) {
	r = r.WithContext(tarpit.WithEdgeScore(r.Context(), edgeScore, reasons))
	g.o.Tarpit.ServeHTTP(w, r)
}

// audit rolls the base sampling dice: a small slice of clean traffic gets a
// second look to keep the classifier honest about drift.
func (g *Gate) audit() bool {
	rate := g.o.Policy.AuditSampleRate
	return rate > 0 && rand.Float64() < rate
}

func (g *Gate) submit(sig signal.Signal, fp string, res score.Result) {
	if g.o.Escalator == nil {
		return
	}
	g.o.Escalator.Submit(escalate.Request{
		IP:          sig.IP,
		Fingerprint: fp,
		Method:      sig.Method,
		Path:        sig.Path,
		UserAgent:   sig.UserAgent,
		Referer:     sig.Referer,
		EdgeScore:   res.Score,
		Reasons:     res.Reasons,
		ObservedAt:  sig.Timestamp,
	})
}

func (g *Gate) record(sig signal.Signal, fp, decision string, edgeScore float64, reasons []string, start time.Time) {
	elapsed := time.Since(start)
	if g.o.Metrics != nil {
		g.o.Metrics.Decisions.WithLabelValues(decision).Inc()
		g.o.Metrics.ScoreLatency.Observe(elapsed.Seconds())
	}
	ev := event.New(event.TypeEdgeDecision, "edge")
	ev.IP = sig.IP
	ev.Fingerprint = fp
	ev.Method = sig.Method
	ev.Path = sig.Path
	ev.UserAgent = sig.UserAgent
	ev.Decision = decision
	ev.Score = edgeScore
	ev.Reasons = reasons
	ev.LatencyMS = float64(elapsed.Microseconds()) / 1000.0
	for _, s := range g.o.Sinks {
		if err := s.Enqueue(ev); err != nil {
			log.Printf("edge: sink %s: %v", s.Name(), err)
			if g.o.Metrics != nil {
				g.o.Metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			}
		}
	}
}
