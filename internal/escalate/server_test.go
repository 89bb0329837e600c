package escalate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wardgate/snare/internal/cache"
	"github.com/wardgate/snare/pkg/config"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	engine := NewEngine(EngineOpts{
		Policy:    config.DefaultPolicy(),
		Frequency: NewMemoryTracker(),
		Store:     cache.NewMemoryStore(),
	})
	return NewServer(engine, 3*time.Second)
}

func TestHandleEscalateObject(t *testing.T) {
	srv := testServer(t)
	body := `{"ip":"203.0.113.9","fingerprint":"fp1","edge_score":2.0}`
	req := httptest.NewRequest("POST", "/escalate", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var v Verdict
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("single object in should yield a single object out: %v", err)
	}
	if v.Decision != VerdictMonitor {
		t.Errorf("decision = %s (p=%.2f), want monitor", v.Decision, v.Probability)
	}
}

func TestHandleEscalateArray(t *testing.T) {
	srv := testServer(t)
	body := `[{"ip":"203.0.113.9","edge_score":0.5},{"ip":"198.51.100.7","edge_score":10}]`
	req := httptest.NewRequest("POST", "/escalate", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var vs []Verdict
	if err := json.Unmarshal(rec.Body.Bytes(), &vs); err != nil {
		t.Fatalf("array in should yield an array out: %v", err)
	}
	if len(vs) != 2 {
		t.Fatalf("got %d verdicts, want 2", len(vs))
	}
	if vs[1].Probability <= vs[0].Probability {
		t.Errorf("probabilities %v should order with edge scores", []float64{vs[0].Probability, vs[1].Probability})
	}
}

func TestHandleEscalateRejects(t *testing.T) {
	srv := testServer(t)
	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", "GET", "", http.StatusMethodNotAllowed},
		{"garbage", "POST", "{nope", http.StatusBadRequest},
		{"empty array", "POST", "[]", http.StatusBadRequest},
		{"missing ip", "POST", `{"edge_score":1}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/escalate", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestHandleHealthz(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
