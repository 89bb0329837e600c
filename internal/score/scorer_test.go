package score

import (
	"net/http/httptest"
	"testing"

	"github.com/wardgate/snare/internal/signal"
	"github.com/wardgate/snare/pkg/config"
)

func sigFor(t *testing.T, ua string, headers map[string]string) signal.Signal {
	t.Helper()
	r := httptest.NewRequest("GET", "/products", nil)
	r.RemoteAddr = "203.0.113.9:51234"
	if ua != "" {
		r.Header.Set("User-Agent", ua)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return signal.FromRequest(r, false)
}

func TestScoreCurlDiverted(t *testing.T) {
	sc := NewScorer(config.DefaultPolicy())
	sig := sigFor(t, "curl/7.68.0", map[string]string{"Accept": "*/*"})

	res := sc.Score(&sig)

	if res.Decision != DecisionTarpit {
		t.Fatalf("decision = %s (score %.1f), want tarpit", res.Decision, res.Score)
	}
	wantReason := map[string]bool{}
	for _, r := range res.Reasons {
		wantReason[r] = true
	}
	for _, code := range []string{"ua_known_bad", "accept_wildcard", "lang_missing"} {
		if !wantReason[code] {
			t.Errorf("expected reason %s in %v", code, res.Reasons)
		}
	}
}

func TestScoreAllowlistShortCircuits(t *testing.T) {
	sc := NewScorer(config.DefaultPolicy())
	// A Googlebot-claiming request with an otherwise terrible header shape
	// still passes: the allowlist runs before any scoring.
	sig := sigFor(t, "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", nil)

	res := sc.Score(&sig)

	if res.Decision != DecisionAllow || !res.Allowlisted {
		t.Errorf("decision = %s allowlisted=%v, want allow/true", res.Decision, res.Allowlisted)
	}
	if res.Score != 0 || len(res.Reasons) != 0 {
		t.Errorf("allowlisted request should not be scored: score=%.1f reasons=%v", res.Score, res.Reasons)
	}
}

func TestScoreBrowserAllowed(t *testing.T) {
	sc := NewScorer(config.DefaultPolicy())
	sig := sigFor(t, "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36", map[string]string{
		"Accept":          "text/html,application/xhtml+xml",
		"Accept-Language": "en-US,en;q=0.9",
		"Accept-Encoding": "gzip, deflate, br",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "same-origin",
		"Referer":         "https://example.com/",
	})

	res := sc.Score(&sig)

	if res.Decision != DecisionAllow {
		t.Errorf("decision = %s (score %.1f, reasons %v), want allow", res.Decision, res.Score, res.Reasons)
	}
	if res.Escalate {
		t.Errorf("clean browser request should not escalate (score %.1f)", res.Score)
	}
}

func TestScoreAmbiguousBandEscalates(t *testing.T) {
	p := config.DefaultPolicy()
	sc := NewScorer(p)
	// Headless browser claim with otherwise full headers: ua_automation (3.0)
	// alone lands in [escalate, tarpit).
	sig := sigFor(t, "Mozilla/5.0 HeadlessChrome/120.0 Chrome/120.0 Safari/537.36", map[string]string{
		"Accept":          "text/html",
		"Accept-Language": "en-US",
		"Accept-Encoding": "gzip",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "none",
		"Referer":         "https://example.com/",
	})

	res := sc.Score(&sig)

	if res.Decision != DecisionAllow {
		t.Fatalf("decision = %s (score %.1f, reasons %v), want allow", res.Decision, res.Score, res.Reasons)
	}
	if !res.Escalate {
		t.Errorf("score %.1f in [%.1f, %.1f) should escalate", res.Score, p.Thresholds.Escalate, p.Thresholds.Tarpit)
	}
}

func TestScoreDisabledRule(t *testing.T) {
	p := config.DefaultPolicy()
	p.RuleWeights["ua_known_bad"] = 0 // disabled
	p.RuleWeights["accept_wildcard"] = 0
	p.RuleWeights["lang_missing"] = 0
	p.RuleWeights["encoding_missing"] = 0
	p.RuleWeights["header_count_sparse"] = 0
	p.RuleWeights["referer_missing"] = 0
	sc := NewScorer(p)

	sig := sigFor(t, "curl/7.68.0", map[string]string{"Accept": "*/*"})
	res := sc.Score(&sig)

	if res.Score != 0 {
		t.Errorf("all matching rules disabled, score = %.1f want 0 (reasons %v)", res.Score, res.Reasons)
	}
	if res.Decision != DecisionAllow {
		t.Errorf("decision = %s, want allow", res.Decision)
	}
}

func TestScoreDeterministic(t *testing.T) {
	sc := NewScorer(config.DefaultPolicy())
	sig := sigFor(t, "python-requests/2.31", nil)

	a, b := sc.Score(&sig), sc.Score(&sig)
	if a.Score != b.Score || a.Decision != b.Decision {
		t.Errorf("same signal must score identically: %+v vs %+v", a, b)
	}
}
