package tarpit

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/wardgate/snare/internal/cache"
	"github.com/wardgate/snare/internal/escalate"
	"github.com/wardgate/snare/internal/event"
	"github.com/wardgate/snare/internal/logging"
	"github.com/wardgate/snare/internal/metrics"
	"github.com/wardgate/snare/internal/signal"
	"github.com/wardgate/snare/internal/sink"
)

type ctxKey int

const edgeResultKey ctxKey = 0

type edgeResult struct {
	score   float64
	reasons []string
}

// WithEdgeScore attaches the edge scorer's result to the request context so
// the tarpit can forward it when it escalates the hit.
func WithEdgeScore(ctx context.Context, score float64, reasons []string) context.Context {
	return context.WithValue(ctx, edgeResultKey, edgeResult{score: score, reasons: reasons})
}

func edgeScoreFrom(ctx context.Context) (float64, []string) {
	if v, ok := ctx.Value(edgeResultKey).(edgeResult); ok {
		return v.score, v.reasons
	}
	return 0, nil
}

// Options configures the tarpit handler.
type Options struct {
	Loader    *ModelLoader
	Store     cache.Store
	Hits      *logging.HitLogger
	Escalator *escalate.Client
	Sinks     []sink.Sink
	Metrics   *metrics.Metrics

	SystemSeed string
	TrustProxy bool

	MaxBytes int64         // per-response streamed byte cap
	MaxTime  time.Duration // per-response wall clock cap
	MinDelay time.Duration // inter-chunk delay bounds
	MaxDelay time.Duration
	MaxHops  int64 // per-IP requests before the tarpit gives up and blocks
	HopTTL   time.Duration

	CacheTimeout time.Duration // budget for the hop-counter cache call

	ArchiveMaxBytes int64
	BlockTTL        time.Duration
}

// Handler serves the decoy site. Every response is deterministic in content
// (seeded by deployment seed + path) and bounded in bytes and time.
type Handler struct {
	o   Options
	now func() time.Time
}

func NewHandler(o Options) *Handler {
	if o.MaxBytes <= 0 {
		o.MaxBytes = 256 << 10
	}
	if o.MaxTime <= 0 {
		o.MaxTime = 5 * time.Minute
	}
	if o.MinDelay <= 0 {
		o.MinDelay = 600 * time.Millisecond
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = o.MinDelay
	}
	if o.MaxHops <= 0 {
		o.MaxHops = 250
	}
	if o.HopTTL <= 0 {
		o.HopTTL = 24 * time.Hour
	}
	if o.CacheTimeout <= 0 {
		o.CacheTimeout = 200 * time.Millisecond
	}
	if o.ArchiveMaxBytes <= 0 {
		o.ArchiveMaxBytes = 512 << 10
	}
	if o.BlockTTL <= 0 {
		o.BlockTTL = 24 * time.Hour
	}
	return &Handler{o: o, now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	sig := signal.FromRequest(r, h.o.TrustProxy)
	fp := sig.Fingerprint()
	seed := PathSeed(h.o.SystemSeed, r.URL.Path)

	hops := h.countHop(r.Context(), sig.IP)
	if hops > h.o.MaxHops {
		h.exhaust(r.Context(), sig, fp, hops, seed)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var written int64
	switch {
	case strings.HasSuffix(r.URL.Path, ".zip"):
		written = h.serveArchive(w, seed)
	case strings.HasSuffix(r.URL.Path, ".css"),
		strings.HasSuffix(r.URL.Path, ".js"),
		strings.HasSuffix(r.URL.Path, ".json"):
		written = h.serveAsset(w, r.URL.Path, seed)
	default:
		written = h.servePage(w, r, seed)
	}

	elapsed := h.now().Sub(start)
	h.recordHit(sig, fp, hops, written, elapsed, seed, false)

	if h.o.Escalator != nil {
		score, reasons := edgeScoreFrom(r.Context())
		h.o.Escalator.Submit(escalate.Request{
			IP:          sig.IP,
			Fingerprint: fp,
			Method:      sig.Method,
			Path:        sig.Path,
			UserAgent:   sig.UserAgent,
			Referer:     sig.Referer,
			EdgeScore:   score,
			Reasons:     reasons,
			ObservedAt:  sig.Timestamp,
		})
	}
}

// countHop bumps the per-IP hop counter. Counter trouble fails open to
// serving the tarpit: losing count is better than losing the decoy.
func (h *Handler) countHop(ctx context.Context, ip string) int64 {
	if h.o.Store == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, h.o.CacheTimeout)
	defer cancel()
	hops, err := h.o.Store.Incr(ctx, cache.PrefixHops+ip, h.o.HopTTL)
	if err != nil {
		log.Printf("tarpit: hop counter for %s: %v", ip, err)
		if h.o.Metrics != nil {
			h.o.Metrics.CacheErrors.WithLabelValues("incr").Inc()
		}
		return 0
	}
	return hops
}

// exhaust handles a client that has burned through its hop allowance: the
// decoy has extracted what it can, so the IP graduates to the blocklist.
func (h *Handler) exhaust(ctx context.Context, sig signal.Signal, fp string, hops int64, seed int64) {
	now := h.now()
	entry := &cache.Entry{
		Key:        cache.PrefixBlockIP + sig.IP,
		Reason:     "tarpit_hop_limit",
		Decision:   "block",
		Confidence: 0.95,
		CreatedAt:  now,
		ExpiresAt:  now.Add(h.o.BlockTTL),
		Version:    now.UnixNano(),
	}
	if h.o.Store != nil {
		if err := h.o.Store.Upsert(ctx, entry.Key, entry, h.o.BlockTTL); err != nil {
			log.Printf("tarpit: blocklist write for %s: %v", sig.IP, err)
		}
	}
	h.recordHit(sig, fp, hops, 0, 0, seed, true)
}

func (h *Handler) serveArchive(w http.ResponseWriter, seed int64) int64 {
	var model *Model
	if h.o.Loader != nil {
		model = h.o.Loader.Current()
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment")
	n, err := WriteDecoyArchive(w, model, seed, h.o.ArchiveMaxBytes)
	if err != nil {
		log.Printf("tarpit: archive write: %v", err)
	}
	return n
}

// serveAsset answers asset-shaped maze links with a small deterministic body
// of the right content type.
func (h *Handler) serveAsset(w http.ResponseWriter, path string, seed int64) int64 {
	rng := rand.New(rand.NewSource(seed))
	var body, ctype string
	switch {
	case strings.HasSuffix(path, ".css"):
		ctype = "text/css"
		body = fmt.Sprintf("body{margin:0;font-family:serif}\n.s%04x{display:block}\n", rng.Intn(0x10000))
	case strings.HasSuffix(path, ".js"):
		ctype = "application/javascript"
		body = fmt.Sprintf("(function(){var t=%d;window.__v=t;})();\n", rng.Int63())
	default:
		ctype = "application/json"
		body = fmt.Sprintf(`{"id":"%08x","status":"pending","items":[]}`+"\n", rng.Uint32())
	}
	w.Header().Set("Content-Type", ctype)
	n, _ := fmt.Fprint(w, body)
	return int64(n)
}

// servePage streams the decoy page: head, then paragraphs with a deliberate
// delay between chunks, then the link maze and footer. Stops at the byte
// budget, the time budget, or client disconnect, whichever lands first. No
// chunk is written unless it fits the remaining byte budget entirely.
func (h *Handler) servePage(w http.ResponseWriter, r *http.Request, seed int64) int64 {
	var model *Model
	if h.o.Loader != nil {
		model = h.o.Loader.Current()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	flusher, _ := w.(http.Flusher)

	deadline := h.now().Add(h.o.MaxTime)
	var written int64
	emit := func(chunk string) bool {
		if chunk == "" || written+int64(len(chunk)) > h.o.MaxBytes {
			return false
		}
		n, err := fmt.Fprint(w, chunk)
		written += int64(n)
		if flusher != nil {
			flusher.Flush()
		}
		return err == nil
	}

	layout := rand.New(rand.NewSource(seed + 1))
	if model == nil {
		for _, chunk := range staticFiller(layout) {
			if !emit(chunk) {
				return written
			}
			if !h.pause(r.Context(), layout, deadline) {
				return written
			}
		}
		return written
	}

	session := NewSession(model, seed)
	trailer := pageLinks(layout, 4+layout.Intn(4)) + pageFooter()

	if !emit(pageHead(pageTitle(session))) {
		return written
	}
	for {
		if !h.pause(r.Context(), layout, deadline) {
			break
		}
		para := session.Paragraph(40 + layout.Intn(80))
		if para == "" {
			break // model exhausted; close out the page
		}
		chunk := "<p>" + para + "</p>\n"
		// Keep room for the trailer so followable links always fit.
		if written+int64(len(chunk))+int64(len(trailer)) > h.o.MaxBytes {
			break
		}
		if !emit(chunk) {
			return written
		}
	}
	emit(trailer)
	return written
}

// pause sleeps the inter-chunk delay. Returns false when the client went
// away or the time budget ran out.
func (h *Handler) pause(ctx context.Context, rng *rand.Rand, deadline time.Time) bool {
	if !h.now().Before(deadline) {
		return false
	}
	delay := h.o.MinDelay
	if span := h.o.MaxDelay - h.o.MinDelay; span > 0 {
		delay += time.Duration(rng.Int63n(int64(span)))
	}
	if remaining := deadline.Sub(h.now()); delay > remaining {
		delay = remaining
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (h *Handler) recordHit(sig signal.Signal, fp string, hops, written int64, elapsed time.Duration, seed int64, exhausted bool) {
	if h.o.Metrics != nil {
		h.o.Metrics.TarpitHits.Inc()
		h.o.Metrics.TarpitBytes.Add(float64(written))
	}
	if h.o.Hits != nil {
		err := h.o.Hits.Log(logging.Hit{
			IP:          sig.IP,
			Fingerprint: fp,
			Method:      sig.Method,
			Path:        sig.Path,
			UserAgent:   sig.UserAgent,
			Referer:     sig.Referer,
			HopCount:    hops,
			BytesSent:   written,
			ElapsedMS:   float64(elapsed.Microseconds()) / 1000.0,
			Seed:        fmt.Sprintf("%016x", uint64(seed)),
			Exhausted:   exhausted,
		})
		if err != nil {
			log.Printf("tarpit: hit log: %v", err)
		}
	}
	ev := event.New(event.TypeTarpitHit, "tarpit")
	ev.IP = sig.IP
	ev.Fingerprint = fp
	ev.Method = sig.Method
	ev.Path = sig.Path
	ev.UserAgent = sig.UserAgent
	ev.Decision = "tarpit"
	if exhausted {
		ev.Decision = "block"
		ev.Reasons = []string{"tarpit_hop_limit"}
	}
	ev.LatencyMS = float64(elapsed.Microseconds()) / 1000.0
	for _, s := range h.o.Sinks {
		if err := s.Enqueue(ev); err != nil {
			log.Printf("tarpit: sink %s: %v", s.Name(), err)
			if h.o.Metrics != nil {
				h.o.Metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			}
		}
	}
}
