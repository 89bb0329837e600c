package sink

import (
	"context"
	"log"
	"strings"
)

// Build constructs the sinks named in outputs. Unknown names are logged and
// skipped so a typo in OUTPUTS degrades to fewer sinks, not a dead process.
func Build(outputs []string) []Sink {
	var sinks []Sink
	for _, out := range outputs {
		switch strings.ToLower(strings.TrimSpace(out)) {
		case "log":
			sinks = append(sinks, NewLogSink())
		case "kafka":
			sinks = append(sinks, NewKafkaSinkFromEnv())
		case "postgres", "pg":
			sinks = append(sinks, NewPGSinkFromEnv())
		case "":
		default:
			log.Printf("sink: unknown output %q, skipping", out)
		}
	}
	return sinks
}

// StartAll starts every sink, dropping the ones that fail to come up.
func StartAll(ctx context.Context, sinks []Sink) []Sink {
	started := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if err := s.Start(ctx); err != nil {
			log.Printf("sink: %s failed to start, disabling: %v", s.Name(), err)
			continue
		}
		log.Printf("sink: %s started", s.Name())
		started = append(started, s)
	}
	return started
}

// CloseAll closes every sink, logging failures.
func CloseAll(sinks []Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Printf("sink: %s close: %v", s.Name(), err)
		}
	}
}
