package signal

import (
	"net/http/httptest"
	"testing"
)

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/products/42", nil)
	r.RemoteAddr = "203.0.113.9:51234"
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0")
	r.Header.Set("Accept", "text/html")
	r.Header.Set("Accept-Language", "en-US")

	sig := FromRequest(r, false)

	if sig.IP != "203.0.113.9" {
		t.Errorf("IP = %q, want 203.0.113.9", sig.IP)
	}
	if sig.Path != "/products/42" {
		t.Errorf("Path = %q", sig.Path)
	}
	if sig.HeaderCount != 3 {
		t.Errorf("HeaderCount = %d, want 3", sig.HeaderCount)
	}
	// Names come out lowercased and sorted.
	want := []string{"accept", "accept-language", "user-agent"}
	for i, n := range want {
		if sig.HeaderNames[i] != n {
			t.Errorf("HeaderNames[%d] = %q, want %q", i, sig.HeaderNames[i], n)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trustProxy bool
		want       string
	}{
		{"direct", "198.51.100.7:443", "", false, "198.51.100.7"},
		{"xff ignored without trust", "198.51.100.7:443", "203.0.113.5", false, "198.51.100.7"},
		{"xff honored with trust", "198.51.100.7:443", "203.0.113.5", true, "203.0.113.5"},
		{"xff first hop wins", "198.51.100.7:443", "203.0.113.5, 10.0.0.1", true, "203.0.113.5"},
		{"empty xff falls back", "198.51.100.7:443", "  ", true, "198.51.100.7"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := ClientIP(r, tc.trustProxy); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	mk := func() Signal {
		r := httptest.NewRequest("GET", "/a", nil)
		r.Header.Set("User-Agent", "curl/7.68.0")
		r.Header.Set("Accept", "*/*")
		return FromRequest(r, false)
	}

	a, b := mk().Fingerprint(), mk().Fingerprint()
	if a != b {
		t.Errorf("same request shape must fingerprint identically: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("fingerprint length = %d, want 16 hex chars", len(a))
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	r1 := httptest.NewRequest("GET", "/a", nil)
	r1.Header.Set("User-Agent", "curl/7.68.0")
	r2 := httptest.NewRequest("GET", "/a", nil)
	r2.Header.Set("User-Agent", "Wget/1.21")

	if FromRequest(r1, false).Fingerprint() == FromRequest(r2, false).Fingerprint() {
		t.Error("different user agents should not collide")
	}

	// Path must not participate: the fingerprint identifies the client
	// implementation, not the request.
	r3 := httptest.NewRequest("GET", "/other", nil)
	r3.Header.Set("User-Agent", "curl/7.68.0")
	if FromRequest(r1, false).Fingerprint() != FromRequest(r3, false).Fingerprint() {
		t.Error("path should not affect the fingerprint")
	}
}

func TestIsAssetPath(t *testing.T) {
	if !IsAssetPath("/static/app.js") {
		t.Error("/static/app.js is an asset")
	}
	if IsAssetPath("/products/42") {
		t.Error("/products/42 is not an asset")
	}
}
