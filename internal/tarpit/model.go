// Package tarpit serves endless plausible-looking decoy content to clients
// the edge has diverted. Text comes from a Markov model trained offline;
// pages interlink through a generated maze so a crawler that follows links
// never leaves. Every response is budgeted in bytes and wall time.
package tarpit

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// context is a token bigram, the state of the chain.
type tokenContext [2]int32

// span locates one context's successors inside the flat arrays.
type span struct {
	off int32
	n   int32
}

// Model is a second-order Markov chain in arena form: one token table, one
// flat successor array, one flat frequency array, and an index from context
// to its span. The arena keeps the per-context allocations of a naive
// map-of-slices representation off the heap; models run to hundreds of
// thousands of contexts.
type Model struct {
	Version string

	tokens []string
	index  map[tokenContext]span
	next   []int32
	freq   []uint32
	starts []tokenContext // contexts in artifact order, for deterministic start picks
}

type modelFile struct {
	Version string       `json:"version"`
	Tokens  []string     `json:"tokens"`
	Chains  []chainEntry `json:"chains"`
}

type chainEntry struct {
	P    [2]int32 `json:"p"`
	Next []int32  `json:"next"`
	Freq []uint32 `json:"freq"`
}

// LoadModel reads and validates a model artifact.
func LoadModel(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	var mf modelFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	return buildModel(mf, path)
}

func buildModel(mf modelFile, path string) (*Model, error) {
	if len(mf.Tokens) == 0 || len(mf.Chains) == 0 {
		return nil, fmt.Errorf("model %s is empty", path)
	}
	nTokens := int32(len(mf.Tokens))

	total := 0
	for _, c := range mf.Chains {
		if len(c.Next) != len(c.Freq) {
			return nil, fmt.Errorf("model %s: context %v has %d successors but %d frequencies", path, c.P, len(c.Next), len(c.Freq))
		}
		total += len(c.Next)
	}

	m := &Model{
		Version: mf.Version,
		tokens:  mf.Tokens,
		index:   make(map[tokenContext]span, len(mf.Chains)),
		next:    make([]int32, 0, total),
		freq:    make([]uint32, 0, total),
		starts:  make([]tokenContext, 0, len(mf.Chains)),
	}
	for _, c := range mf.Chains {
		ctx := tokenContext{c.P[0], c.P[1]}
		if ctx[0] < 0 || ctx[0] >= nTokens || ctx[1] < 0 || ctx[1] >= nTokens {
			return nil, fmt.Errorf("model %s: context %v out of token range", path, c.P)
		}
		for i, t := range c.Next {
			if t < 0 || t >= nTokens {
				return nil, fmt.Errorf("model %s: successor %d of context %v out of token range", path, t, c.P)
			}
			if c.Freq[i] == 0 {
				return nil, fmt.Errorf("model %s: zero frequency in context %v", path, c.P)
			}
		}
		if _, dup := m.index[ctx]; dup {
			return nil, fmt.Errorf("model %s: duplicate context %v", path, c.P)
		}
		m.index[ctx] = span{off: int32(len(m.next)), n: int32(len(c.Next))}
		m.next = append(m.next, c.Next...)
		m.freq = append(m.freq, c.Freq...)
		m.starts = append(m.starts, ctx)
	}
	return m, nil
}

func (m *Model) token(i int32) string { return m.tokens[i] }

// successors returns the successor tokens and frequencies for ctx, in
// artifact order, or ok=false at a dead end.
func (m *Model) successors(ctx tokenContext) (next []int32, freq []uint32, ok bool) {
	sp, ok := m.index[ctx]
	if !ok {
		return nil, nil, false
	}
	return m.next[sp.off : sp.off+sp.n], m.freq[sp.off : sp.off+sp.n], true
}

// startContext picks a chain start. nth is reduced modulo the context count,
// so any non-negative value is valid.
func (m *Model) startContext(nth int64) tokenContext {
	return m.starts[int(nth%int64(len(m.starts)))]
}

// Contexts reports the number of distinct contexts in the model.
func (m *Model) Contexts() int { return len(m.starts) }

// ModelLoader hot-swaps the model artifact, same contract as the classifier
// loader: Current is nil until a valid artifact loads, and a corrupt reload
// keeps the previous model.
type ModelLoader struct {
	path string
	cur  atomic.Pointer[Model]
}

func NewModelLoader(path string) *ModelLoader {
	return &ModelLoader{path: path}
}

func (l *ModelLoader) Load() error {
	m, err := LoadModel(l.path)
	if err != nil {
		return err
	}
	l.cur.Store(m)
	log.Printf("tarpit: model %s loaded (version %s, %d contexts, %d tokens)", l.path, m.Version, m.Contexts(), len(m.tokens))
	return nil
}

func (l *ModelLoader) Current() *Model { return l.cur.Load() }

func (l *ModelLoader) Watch() (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(l.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := l.Load(); err != nil {
					log.Printf("tarpit: model reload failed, keeping previous: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("tarpit: model watcher error: %v", err)
			}
		}
	}()
	return func() { watcher.Close() }, nil
}
