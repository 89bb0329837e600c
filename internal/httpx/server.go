package httpx

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// NewOriginProxy builds the reverse proxy to the protected origin. The proxy
// is deliberately plain: the gate has already decided this request deserves
// the real site.
func NewOriginProxy(originURL string) (http.Handler, error) {
	target, err := url.Parse(originURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url %q: %w", originURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("origin url %q must be absolute", originURL)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}
	return proxy, nil
}

// NewServer wraps the handler in an http.Server with conservative timeouts.
// WriteTimeout stays generous because tarpit responses are slow on purpose.
func NewServer(addr string, handler http.Handler, tarpitMaxTime time.Duration) *http.Server {
	write := tarpitMaxTime + 30*time.Second
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       60 * time.Second,
	}
}
