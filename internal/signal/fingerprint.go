package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives a stable identifier from the normalized header shape of
// a request: the sorted header names plus truncated values of the headers
// that characterize a client implementation. It is deterministic for
// identical inputs across processes — no per-process salt — so it can key
// cached escalation verdicts.
func (s Signal) Fingerprint() string {
	var b strings.Builder
	b.WriteString(strings.Join(s.HeaderNames, "|"))
	b.WriteByte('\n')
	for _, v := range []string{
		s.UserAgent, s.Accept, s.AcceptLanguage, s.AcceptEncoding,
		s.SecFetchMode, s.SecFetchSite, s.SecFetchDest,
	} {
		b.WriteString(truncate(v, 48))
		b.WriteByte('|')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

func truncate(v string, n int) string {
	if len(v) > n {
		return v[:n]
	}
	return v
}
