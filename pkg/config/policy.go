package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the tunable scoring surface: rule weights, decision thresholds,
// agent lists, and the escalation ensemble. It is loaded once at startup and
// treated as immutable afterwards; components receive it by value.
type Policy struct {
	// Edge thresholds. A request scoring >= Tarpit is diverted into the
	// tarpit; one scoring in [Escalate, Tarpit) is served normally but
	// queued for asynchronous escalation.
	Thresholds struct {
		Tarpit   float64 `yaml:"tarpit"`
		Escalate float64 `yaml:"escalate"`
	} `yaml:"thresholds"`

	// RuleWeights maps a reason code to the weight its rule contributes.
	// Unknown codes are ignored; missing codes fall back to built-ins.
	RuleWeights map[string]float64 `yaml:"rule_weights"`

	// AllowAgents short-circuits scoring for cooperative crawlers
	// (substring match on a lowercased user-agent).
	AllowAgents []string `yaml:"allow_agents"`

	// BadAgents are known scraper/tool signatures.
	BadAgents []string `yaml:"bad_agents"`

	// DisallowedPaths mirrors robots.txt Disallow rules for "*"; requests
	// into them from non-allowlisted agents score suspicion.
	DisallowedPaths []string `yaml:"disallowed_paths"`

	// Ensemble weights for the escalation engine. Documented, not a black
	// box: final = heuristic*HeuristicWeight + classifier*ClassifierWeight,
	// plus ReputationBonus when the reputation lookup reports malicious,
	// clamped to [0,1].
	Ensemble struct {
		HeuristicWeight  float64 `yaml:"heuristic_weight"`
		ClassifierWeight float64 `yaml:"classifier_weight"`
		ReputationBonus  float64 `yaml:"reputation_bonus"`
	} `yaml:"ensemble"`

	// Verdict thresholds map the ensemble probability to a decision:
	// p < Monitor -> allow, p < Tarpit -> monitor, p < Block -> tarpit,
	// otherwise block.
	Verdicts struct {
		Monitor float64 `yaml:"monitor"`
		Tarpit  float64 `yaml:"tarpit"`
		Block   float64 `yaml:"block"`
	} `yaml:"verdicts"`

	// AlertConfidence is the minimum ensemble probability on a block
	// decision that fires the alert webhook.
	AlertConfidence float64 `yaml:"alert_confidence"`

	// AuditSampleRate is the base probability that an otherwise-clean
	// request is escalated anyway; a monitor verdict raises the rate for
	// that fingerprint.
	AuditSampleRate float64 `yaml:"audit_sample_rate"`
}

// DefaultPolicy returns the built-in policy. The numbers are a starting
// point, not protocol; deployments override them via the YAML policy file.
func DefaultPolicy() Policy {
	var p Policy
	p.Thresholds.Tarpit = 5.0
	p.Thresholds.Escalate = 2.0
	p.RuleWeights = map[string]float64{}
	for code, w := range builtinWeights {
		p.RuleWeights[code] = w
	}
	p.AllowAgents = []string{
		"googlebot", "bingbot", "slurp", "duckduckbot",
		"baiduspider", "yandexbot", "applebot",
	}
	p.BadAgents = []string{
		"python-requests", "curl", "wget", "scrapy", "java/",
		"ahrefsbot", "semrushbot", "mj12bot", "dotbot", "petalbot",
		"bytespider", "gptbot", "ccbot", "claude-web", "google-extended",
		"masscan", "zgrab", "nmap", "go-http-client",
	}
	p.DisallowedPaths = nil
	p.Ensemble.HeuristicWeight = 0.3
	p.Ensemble.ClassifierWeight = 0.7
	p.Ensemble.ReputationBonus = 0.3
	p.Verdicts.Monitor = 0.3
	p.Verdicts.Tarpit = 0.6
	p.Verdicts.Block = 0.8
	p.AlertConfidence = 0.9
	p.AuditSampleRate = 0.01
	return p
}

var builtinWeights = map[string]float64{
	"ua_known_bad":        4.0,
	"ua_missing":          3.0,
	"ua_automation":       3.0,
	"accept_missing":      1.5,
	"accept_wildcard":     1.0,
	"lang_missing":        1.5,
	"encoding_missing":    1.0,
	"sec_fetch_missing":   1.5,
	"method_unusual":      2.0,
	"referer_missing":     0.5,
	"path_disallowed":     2.5,
	"header_count_sparse": 1.0,
}

// LoadPolicy reads the YAML policy at path and overlays it on the defaults.
// An empty path returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse policy %s: %w", path, err)
	}
	// A partial rule_weights block only overrides the codes it names.
	for code, w := range builtinWeights {
		if _, ok := p.RuleWeights[code]; !ok {
			p.RuleWeights[code] = w
		}
	}
	if err := p.validate(); err != nil {
		return p, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

func (p Policy) validate() error {
	if p.Thresholds.Escalate > p.Thresholds.Tarpit {
		return fmt.Errorf("escalate threshold %.2f above tarpit threshold %.2f", p.Thresholds.Escalate, p.Thresholds.Tarpit)
	}
	if !(p.Verdicts.Monitor <= p.Verdicts.Tarpit && p.Verdicts.Tarpit <= p.Verdicts.Block) {
		return fmt.Errorf("verdict thresholds must be ordered monitor <= tarpit <= block")
	}
	for code, w := range p.RuleWeights {
		if w < 0 {
			return fmt.Errorf("rule %s has negative weight %.2f", code, w)
		}
	}
	return nil
}

// Weight returns the configured weight for a reason code, or zero when the
// rule has been disabled by the policy.
func (p Policy) Weight(code string) float64 {
	return p.RuleWeights[code]
}
