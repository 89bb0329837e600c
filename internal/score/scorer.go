// Package score implements the edge scorer: a constant-time heuristic pass
// over a request signal that yields an allow / tarpit decision and flags the
// ambiguous band for asynchronous escalation. Cache lookups (blocklist,
// cached verdicts) happen in the gate middleware, not here; scoring itself is
// a pure function of the signal.
package score

import (
	"strings"

	"github.com/wardgate/snare/internal/signal"
	"github.com/wardgate/snare/pkg/config"
)

type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionTarpit Decision = "tarpit"
	DecisionBlock  Decision = "block"
)

// Result is the outcome of one scoring pass.
type Result struct {
	Decision    Decision
	Score       float64
	Reasons     []string
	Allowlisted bool
	// Escalate is set when the score lands in the ambiguous band: worth a
	// deeper asynchronous look, not bad enough to divert.
	Escalate bool
}

type Scorer struct {
	rules       []Rule
	weights     map[string]float64
	allowAgents []string
	tarpitAt    float64
	escalateAt  float64
}

func NewScorer(p config.Policy) *Scorer {
	return &Scorer{
		rules:       Rules(p),
		weights:     p.RuleWeights,
		allowAgents: lowered(p.AllowAgents),
		tarpitAt:    p.Thresholds.Tarpit,
		escalateAt:  p.Thresholds.Escalate,
	}
}

// Score evaluates the rule set against one signal. Deterministic: the same
// signal always produces the same result. The score only ever accumulates;
// no rule subtracts.
func (sc *Scorer) Score(sig *signal.Signal) Result {
	// Cooperative crawlers are allowed outright, before any scoring, to
	// keep false positives off the well-behaved bots.
	ua := strings.ToLower(sig.UserAgent)
	if ua != "" && containsAny(ua, sc.allowAgents) {
		return Result{Decision: DecisionAllow, Allowlisted: true}
	}

	var total float64
	var reasons []string
	for _, r := range sc.rules {
		w := sc.weights[r.Code]
		if w == 0 {
			continue // disabled by policy
		}
		if r.Match(sig) {
			total += w
			reasons = append(reasons, r.Code)
		}
	}

	res := Result{Score: total, Reasons: reasons}
	switch {
	case total >= sc.tarpitAt:
		// Merely-suspicious traffic is deceived, never hard-blocked at
		// the edge: a tarpit keeps the intelligence value and spares
		// false positives a lockout.
		res.Decision = DecisionTarpit
	default:
		res.Decision = DecisionAllow
		res.Escalate = total >= sc.escalateAt
	}
	return res
}
