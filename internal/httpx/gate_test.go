package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wardgate/snare/internal/cache"
	"github.com/wardgate/snare/internal/score"
	"github.com/wardgate/snare/internal/signal"
	"github.com/wardgate/snare/pkg/config"
)

// failStore simulates a cache backend that is down.
type failStore struct{}

func (failStore) Get(context.Context, string) (*cache.Entry, error) { return nil, cache.ErrUnavailable }
func (failStore) Upsert(context.Context, string, *cache.Entry, time.Duration) error {
	return cache.ErrUnavailable
}
func (failStore) Exists(context.Context, string) (bool, error) { return false, cache.ErrUnavailable }
func (failStore) Delete(context.Context, string) error         { return cache.ErrUnavailable }
func (failStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, cache.ErrUnavailable
}
func (failStore) Scan(context.Context, string) ([]string, error) { return nil, cache.ErrUnavailable }
func (failStore) Ping(context.Context) error                     { return cache.ErrUnavailable }
func (failStore) Close() error                                   { return nil }

type markerHandler struct {
	called int
	label  string
}

func (m *markerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.called++
	w.Write([]byte(m.label))
}

func testGate(t *testing.T, store cache.Store) (*Gate, *markerHandler, *markerHandler) {
	t.Helper()
	policy := config.DefaultPolicy()
	origin := &markerHandler{label: "origin"}
	pit := &markerHandler{label: "tarpit"}
	g := NewGate(GateOpts{
		Scorer:       score.NewScorer(policy),
		Store:        store,
		Tarpit:       pit,
		Origin:       origin,
		Policy:       policy,
		CacheTimeout: 200 * time.Millisecond,
	})
	return g, origin, pit
}

func browserRequest(ip string) *http.Request {
	r := httptest.NewRequest("GET", "/products/42", nil)
	r.RemoteAddr = ip + ":40000"
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36")
	r.Header.Set("Accept", "text/html")
	r.Header.Set("Accept-Language", "en-US")
	r.Header.Set("Accept-Encoding", "gzip")
	r.Header.Set("Sec-Fetch-Mode", "navigate")
	r.Header.Set("Sec-Fetch-Site", "same-origin")
	r.Header.Set("Referer", "https://example.com/")
	return r
}

func TestGateProxiesCleanTraffic(t *testing.T) {
	g, origin, pit := testGate(t, cache.NewMemoryStore())

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, browserRequest("203.0.113.10"))

	if rec.Code != 200 || origin.called != 1 || pit.called != 0 {
		t.Errorf("status=%d origin=%d tarpit=%d", rec.Code, origin.called, pit.called)
	}
}

func TestGateDivertsSuspiciousTraffic(t *testing.T) {
	g, origin, pit := testGate(t, cache.NewMemoryStore())

	r := httptest.NewRequest("GET", "/products", nil)
	r.RemoteAddr = "203.0.113.10:40000"
	r.Header.Set("User-Agent", "curl/7.68.0")
	r.Header.Set("Accept", "*/*")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, r)

	if pit.called != 1 || origin.called != 0 {
		t.Errorf("curl should hit the tarpit: origin=%d tarpit=%d", origin.called, pit.called)
	}
}

func TestGateRejectsCachedBlock(t *testing.T) {
	store := cache.NewMemoryStore()
	g, origin, pit := testGate(t, store)

	// A cached block wins over any live score: even a pristine browser
	// request from this IP is refused.
	now := time.Now()
	entry := &cache.Entry{
		Key: "blocklist:ip:203.0.113.10", Reason: "escalation", Decision: "block",
		Confidence: 0.9, ExpiresAt: now.Add(time.Hour), Version: now.UnixNano(),
	}
	if err := store.Upsert(context.Background(), entry.Key, entry, time.Hour); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, browserRequest("203.0.113.10"))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if origin.called != 0 || pit.called != 0 {
		t.Errorf("blocked request leaked: origin=%d tarpit=%d", origin.called, pit.called)
	}
}

func TestGateFailsOpenOnCacheTrouble(t *testing.T) {
	g, origin, _ := testGate(t, failStore{})

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, browserRequest("203.0.113.10"))

	if rec.Code != 200 || origin.called != 1 {
		t.Errorf("cache down must fail open: status=%d origin=%d", rec.Code, origin.called)
	}
}

func TestGateHonorsCachedTarpitVerdict(t *testing.T) {
	store := cache.NewMemoryStore()
	g, origin, pit := testGate(t, store)

	// Derive the fingerprint the gate will compute for this request shape.
	fp := signal.FromRequest(browserRequest("203.0.113.10"), false).Fingerprint()
	now := time.Now()
	entry := &cache.Entry{
		Key: cache.PrefixVerdict + fp, Reason: "escalation", Decision: "tarpit",
		Confidence: 0.7, ExpiresAt: now.Add(time.Hour), Version: now.UnixNano(),
	}
	if err := store.Upsert(context.Background(), entry.Key, entry, time.Hour); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, browserRequest("203.0.113.10"))

	if pit.called != 1 || origin.called != 0 {
		t.Errorf("cached tarpit verdict ignored: origin=%d tarpit=%d", origin.called, pit.called)
	}
}

func TestGateAllowlistedCrawler(t *testing.T) {
	store := cache.NewMemoryStore()
	g, origin, pit := testGate(t, store)

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.10:40000"
	r.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1)")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, r)

	if origin.called != 1 || pit.called != 0 {
		t.Errorf("allowlisted crawler should reach the origin: origin=%d tarpit=%d", origin.called, pit.called)
	}
}

func TestReadyWhileCacheDown(t *testing.T) {
	rec := httptest.NewRecorder()
	Ready(failStore{})(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("edge fails open, readiness should hold: status = %d", rec.Code)
	}
}
