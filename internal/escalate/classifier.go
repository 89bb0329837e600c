package escalate

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Classifier is a trained logistic model over the request feature vector. The
// artifact is produced offline from the honeypot hit log; the engine only
// evaluates it.
type Classifier struct {
	Version string             `json:"version"`
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
}

// Predict returns the probability that the feature vector describes a bot.
// Features absent from the model contribute nothing, so artifact and engine
// can evolve their feature sets independently.
func (c *Classifier) Predict(features map[string]float64) float64 {
	z := c.Bias
	for name, w := range c.Weights {
		z += w * features[name]
	}
	return 1.0 / (1.0 + math.Exp(-z))
}

// ClassifierLoader loads the classifier artifact and hot-swaps it when the
// file changes on disk. Current returns nil until a valid artifact has been
// loaded; the engine treats that as degraded and falls back to heuristics.
type ClassifierLoader struct {
	path string
	cur  atomic.Pointer[Classifier]
}

func NewClassifierLoader(path string) *ClassifierLoader {
	return &ClassifierLoader{path: path}
}

// Load reads the artifact. A missing or corrupt file is logged and leaves the
// previously loaded model (possibly none) in place: a bad deploy must never
// take scoring down with it.
func (l *ClassifierLoader) Load() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read classifier %s: %w", l.path, err)
	}
	var c Classifier
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("parse classifier %s: %w", l.path, err)
	}
	if len(c.Weights) == 0 {
		return fmt.Errorf("classifier %s has no weights", l.path)
	}
	l.cur.Store(&c)
	log.Printf("escalate: classifier %s loaded (version %s, %d features)", l.path, c.Version, len(c.Weights))
	return nil
}

// Current returns the active model, or nil when none is loaded.
func (l *ClassifierLoader) Current() *Classifier {
	return l.cur.Load()
}

// Watch reloads the artifact on filesystem changes until the watcher is
// closed via the returned stop function. Watches the directory rather than
// the file so atomic rename-into-place deploys are picked up.
func (l *ClassifierLoader) Watch() (stop func(), err error) {
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
					log.Printf("escalate: classifier reload failed, keeping previous: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("escalate: classifier watcher error: %v", err)
			}
		}
	}()
	return func() { watcher.Close() }, nil
}
