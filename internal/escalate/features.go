package escalate

import (
	"strings"
)

const frequencyWindowSeconds = 300

// Features builds the classifier feature vector for one escalation request.
// Values are scaled into roughly [0,1] so a single weight magnitude reads the
// same across features; the artifact is trained against exactly this scaling.
func Features(req Request, count int64, sinceLast float64, badAgents []string) map[string]float64 {
	ua := strings.ToLower(req.UserAgent)

	f := map[string]float64{
		"ua_length":       clamp01(float64(len(req.UserAgent)) / 200.0),
		"ua_missing":      boolFeature(req.UserAgent == ""),
		"ua_known_bad":    boolFeature(matchesAny(ua, badAgents)),
		"path_depth":      clamp01(float64(pathDepth(req.Path)) / 10.0),
		"path_is_root":    boolFeature(req.Path == "/" || req.Path == ""),
		"referer_missing": boolFeature(req.Referer == ""),
		"req_freq_300s":   clamp01(float64(count) / 100.0),
		"hour_of_day":     float64(req.ObservedAt.UTC().Hour()) / 23.0,
	}

	// Gap to the previous request in the window; a full window means "no
	// prior request", which is what sinceLast < 0 encodes.
	if sinceLast < 0 {
		f["time_since_last"] = 1.0
	} else {
		f["time_since_last"] = clamp01(sinceLast / frequencyWindowSeconds)
	}
	return f
}

func pathDepth(p string) int {
	depth := 0
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

func matchesAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

func boolFeature(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
