package escalate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"
)

// Server exposes the engine over HTTP: POST /escalate with a single request
// object or an array of them. Each request is evaluated under the configured
// hard deadline, independently of the others.
type Server struct {
	engine   *Engine
	deadline time.Duration
}

func NewServer(engine *Engine, deadline time.Duration) *Server {
	if deadline <= 0 {
		deadline = 3 * time.Second
	}
	return &Server{engine: engine, deadline: deadline}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/escalate", s.handleEscalate)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// Accept a bare object or an array of them.
	var reqs []Request
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			http.Error(w, "invalid JSON array", http.StatusBadRequest)
			return
		}
	} else {
		var one Request
		if err := json.Unmarshal(trimmed, &one); err != nil {
			http.Error(w, "invalid JSON object", http.StatusBadRequest)
			return
		}
		reqs = []Request{one}
	}

	if len(reqs) == 0 {
		http.Error(w, "empty request", http.StatusBadRequest)
		return
	}

	verdicts := make([]Verdict, 0, len(reqs))
	for _, req := range reqs {
		if req.IP == "" {
			http.Error(w, "request missing ip", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.deadline)
		v := s.engine.Evaluate(ctx, req)
		cancel()
		verdicts = append(verdicts, v)
	}

	w.Header().Set("Content-Type", "application/json")
	var out any = verdicts
	if len(verdicts) == 1 && trimmed[0] != '[' {
		out = verdicts[0]
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Printf("escalate: write response: %v", err)
	}
}

// Client posts escalation requests to a remote engine. The edge and tarpit
// use it fire-and-forget: a failed or slow escalation costs nothing on the
// request path.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{url: url, client: &http.Client{Timeout: timeout}}
}

// Submit sends one request asynchronously. Errors are logged, never returned.
func (c *Client) Submit(req Request) {
	if c == nil || c.url == "" {
		return
	}
	go func() {
		body, err := json.Marshal(req)
		if err != nil {
			log.Printf("escalate: serialize request: %v", err)
			return
		}
		resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("escalate: submit failed: %v", err)
			return
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()
}
