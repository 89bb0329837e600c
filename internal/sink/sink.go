package sink

import (
	"context"

	"github.com/wardgate/snare/internal/event"
)

type Sink interface {
	Start(ctx context.Context) error
	Enqueue(e event.Event) error
	Close() error
	Name() string // sink name for metrics and logging
}
