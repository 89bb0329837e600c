package signal

import (
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Signal is the per-request snapshot the edge scorer works from. It is owned
// by the request handler for the lifetime of one request and never persisted.
type Signal struct {
	IP             string
	Method         string
	Path           string
	UserAgent      string
	Referer        string
	Accept         string
	AcceptLanguage string
	AcceptEncoding string
	SecFetchMode   string
	SecFetchSite   string
	SecFetchDest   string
	HeaderNames    []string // lowercased, sorted
	HeaderCount    int
	Timestamp      time.Time
}

// FromRequest extracts the signal from an inbound request. Malformed or
// missing headers are represented as empty strings; the rules treat "missing"
// as a (weak) signal, never as an error.
func FromRequest(r *http.Request, trustProxy bool) Signal {
	h := r.Header
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, strings.ToLower(k))
	}
	sort.Strings(names)

	return Signal{
		IP:             ClientIP(r, trustProxy),
		Method:         r.Method,
		Path:           r.URL.Path,
		UserAgent:      h.Get("User-Agent"),
		Referer:        h.Get("Referer"),
		Accept:         h.Get("Accept"),
		AcceptLanguage: h.Get("Accept-Language"),
		AcceptEncoding: h.Get("Accept-Encoding"),
		SecFetchMode:   h.Get("Sec-Fetch-Mode"),
		SecFetchSite:   h.Get("Sec-Fetch-Site"),
		SecFetchDest:   h.Get("Sec-Fetch-Dest"),
		HeaderNames:    names,
		HeaderCount:    len(h),
		Timestamp:      time.Now().UTC(),
	}
}

// ClientIP resolves the peer address, honoring X-Forwarded-For only when the
// deployment fronts us with a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// First hop is the original client.
			if i := strings.IndexByte(xff, ','); i >= 0 {
				xff = xff[:i]
			}
			if ip := strings.TrimSpace(xff); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsAssetPath reports whether the path looks like a sub-resource fetch, where
// a missing referer is unremarkable.
func IsAssetPath(path string) bool {
	for _, ext := range []string{
		".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp",
		".ico", ".woff", ".woff2", ".ttf", ".map",
	} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
