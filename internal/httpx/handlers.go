package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/wardgate/snare/internal/cache"
)

// Health returns the liveness handler.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// Ready returns the readiness handler. The edge is "ready" even when the
// cache is down — it fails open — so readiness reports cache state in the
// body but only degrades the status when the store is missing entirely.
func Ready(store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "no cache configured", http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK (cache unavailable, failing open)"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
