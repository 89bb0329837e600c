package score

import (
	"strings"

	"github.com/wardgate/snare/internal/signal"
	"github.com/wardgate/snare/pkg/config"
)

// Rule is one independent heuristic check. Rules never look at each other's
// outcome, so the final score is just the sum of matched weights and the
// evaluation order does not matter.
type Rule struct {
	Code  string
	Match func(sig *signal.Signal) bool
}

var automationKeywords = []string{
	"headless", "selenium", "webdriver", "puppeteer", "playwright",
	"phantom", "jsdom", "nightmare",
}

// browserLike reports whether the UA claims to be a modern browser; only then
// do we expect Sec-Fetch-* metadata.
func browserLike(ua string) bool {
	ua = strings.ToLower(ua)
	return strings.Contains(ua, "mozilla/5.0") &&
		(strings.Contains(ua, "chrome") || strings.Contains(ua, "firefox") ||
			strings.Contains(ua, "safari") || strings.Contains(ua, "edg"))
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// Rules builds the ordered rule set from the policy. Agent and path lists
// come from the policy so deployments can tune them without a rebuild.
func Rules(p config.Policy) []Rule {
	badAgents := lowered(p.BadAgents)
	disallowed := p.DisallowedPaths

	return []Rule{
		{Code: "ua_known_bad", Match: func(s *signal.Signal) bool {
			return s.UserAgent != "" && containsAny(strings.ToLower(s.UserAgent), badAgents)
		}},
		{Code: "ua_missing", Match: func(s *signal.Signal) bool {
			return strings.TrimSpace(s.UserAgent) == ""
		}},
		{Code: "ua_automation", Match: func(s *signal.Signal) bool {
			return containsAny(strings.ToLower(s.UserAgent), automationKeywords)
		}},
		{Code: "accept_missing", Match: func(s *signal.Signal) bool {
			return s.Accept == ""
		}},
		{Code: "accept_wildcard", Match: func(s *signal.Signal) bool {
			return strings.TrimSpace(s.Accept) == "*/*"
		}},
		{Code: "lang_missing", Match: func(s *signal.Signal) bool {
			return s.AcceptLanguage == ""
		}},
		{Code: "encoding_missing", Match: func(s *signal.Signal) bool {
			return s.AcceptEncoding == ""
		}},
		{Code: "sec_fetch_missing", Match: func(s *signal.Signal) bool {
			return browserLike(s.UserAgent) && s.SecFetchMode == "" && s.SecFetchSite == ""
		}},
		{Code: "method_unusual", Match: func(s *signal.Signal) bool {
			switch s.Method {
			case "GET", "HEAD", "POST", "OPTIONS":
				return false
			}
			return true
		}},
		{Code: "referer_missing", Match: func(s *signal.Signal) bool {
			return s.Referer == "" && s.Path != "/" && !signal.IsAssetPath(s.Path)
		}},
		{Code: "path_disallowed", Match: func(s *signal.Signal) bool {
			for _, prefix := range disallowed {
				if prefix != "" && strings.HasPrefix(s.Path, prefix) {
					return true
				}
			}
			return false
		}},
		{Code: "header_count_sparse", Match: func(s *signal.Signal) bool {
			return s.HeaderCount > 0 && s.HeaderCount < 4
		}},
	}
}

func lowered(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(v)
	}
	return out
}
