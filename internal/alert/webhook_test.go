package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNotifyDelivers(t *testing.T) {
	got := make(chan Alert, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- a
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, time.Second, nil)
	n.Notify(Alert{IP: "203.0.113.9", Decision: "block", Confidence: 0.95})

	select {
	case a := <-got:
		if a.IP != "203.0.113.9" || a.Confidence != 0.95 {
			t.Errorf("alert = %+v", a)
		}
		if a.TS == "" {
			t.Error("notifier should stamp the alert")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert never arrived")
	}
}

func TestNotifyFailureHitsHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	failed := make(chan struct{}, 1)
	n := NewNotifier(srv.URL, time.Second, func() { failed <- struct{}{} })
	n.Notify(Alert{IP: "203.0.113.9"})

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("error hook never fired")
	}
}

func TestNotifyNilSafe(t *testing.T) {
	var n *Notifier
	n.Notify(Alert{IP: "203.0.113.9"}) // must not panic
	NewNotifier("", time.Second, nil).Notify(Alert{})
}
