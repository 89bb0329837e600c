package escalate

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker is a circuit breaker for the reputation collaborator. After
// Threshold consecutive failures it opens and Allow returns false until the
// cooldown elapses; then a single probe call is let through (half-open) and
// its outcome decides whether the circuit closes again.
type Breaker struct {
	mu        sync.Mutex
	state     breakerState
	failures  int
	openedAt  time.Time
	threshold int
	cooldown  time.Duration

	// OnStateChange, if set, is called with true when the breaker opens and
	// false when it closes. Used to drive the breaker gauge.
	OnStateChange func(open bool)

	now func() time.Time // test hook
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed. In the open state it flips to
// half-open once the cooldown has elapsed, admitting exactly one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerClosed:
		return true
	case breakerHalfOpen:
		// One probe is already in flight; hold further calls back.
		return false
	default: // open
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	}
}

// Success records a successful call, closing the circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasOpen := b.state != breakerClosed
	b.state = breakerClosed
	b.failures = 0
	if wasOpen && b.OnStateChange != nil {
		b.OnStateChange(false)
	}
}

// Failure records a failed call. A failed half-open probe reopens the circuit
// immediately; in the closed state the circuit opens once the consecutive
// failure count reaches the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerHalfOpen:
		b.state = breakerOpen
		b.openedAt = b.now()
	default:
		b.failures++
		if b.failures >= b.threshold && b.state == breakerClosed {
			b.state = breakerOpen
			b.openedAt = b.now()
			if b.OnStateChange != nil {
				b.OnStateChange(true)
			}
		}
	}
}

// Open reports whether the circuit is currently open.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen
}
