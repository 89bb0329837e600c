package tarpit

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"strings"
)

// Session walks the chain deterministically from a seed: the same model, seed
// and call sequence always produce the same text. Determinism is what makes a
// tarpit page stable across revisits, which is what a scraper checking for
// dynamic content expects of a real site.
type Session struct {
	model *Model
	rng   *rand.Rand
	ctx   tokenContext
	dead  bool
}

// PathSeed derives the per-path seed from the deployment seed and the request
// path, so every path gets its own stable page without any stored state.
func PathSeed(systemSeed, path string) int64 {
	sum := sha256.Sum256([]byte(systemSeed + path))
	n := int64(binary.BigEndian.Uint64(sum[:8]))
	if n < 0 {
		n = -n
	}
	return n
}

func NewSession(m *Model, seed int64) *Session {
	s := &Session{model: m, rng: rand.New(rand.NewSource(seed))}
	s.ctx = m.startContext(s.rng.Int63())
	return s
}

// nextToken advances the chain one step. ok is false once the session has hit
// a dead end it could not restart from; callers stop generating then.
func (s *Session) nextToken() (string, bool) {
	if s.dead {
		return "", false
	}
	next, freq, ok := s.model.successors(s.ctx)
	if !ok {
		// Dead end: restart from a fresh context. If the restart context is
		// itself dead the model has nothing more to give.
		s.ctx = s.model.startContext(s.rng.Int63())
		if next, freq, ok = s.model.successors(s.ctx); !ok {
			s.dead = true
			return "", false
		}
	}

	tok := next[s.pick(freq)]
	s.ctx = tokenContext{s.ctx[1], tok}
	return s.model.token(tok), true
}

// pick samples an index weighted by freq. Ties and ordering resolve by
// position, so sampling is a pure function of the rng state.
func (s *Session) pick(freq []uint32) int {
	var total int64
	for _, f := range freq {
		total += int64(f)
	}
	r := s.rng.Int63n(total)
	for i, f := range freq {
		r -= int64(f)
		if r < 0 {
			return i
		}
	}
	return len(freq) - 1
}

// Sentence produces one sentence of up to maxWords words, capitalized and
// terminated. Returns "" once the session is exhausted.
func (s *Session) Sentence(maxWords int) string {
	if maxWords < 3 {
		maxWords = 3
	}
	words := make([]string, 0, maxWords)
	n := 3 + s.rng.Intn(maxWords-2) // 3..maxWords inclusive
	for len(words) < n {
		tok, ok := s.nextToken()
		if !ok {
			break
		}
		words = append(words, tok)
	}
	if len(words) == 0 {
		return ""
	}
	sent := strings.Join(words, " ")
	sent = strings.ToUpper(sent[:1]) + sent[1:]
	return sent + "."
}

// Paragraph produces sentences totalling roughly the requested word count.
func (s *Session) Paragraph(words int) string {
	var b strings.Builder
	for b.Len() < words*6 { // ~6 bytes per word
		sent := s.Sentence(18)
		if sent == "" {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sent)
	}
	return b.String()
}

// Words exposes the raw token stream; used for decoy file bodies.
func (s *Session) Words(n int) []string {
	out := make([]string, 0, n)
	for len(out) < n {
		tok, ok := s.nextToken()
		if !ok {
			break
		}
		out = append(out, tok)
	}
	return out
}
