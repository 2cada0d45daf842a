// Package resilience guards calls to inference endpoints with retries and
// per-endpoint circuit breakers.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is a circuit breaker state.
type State int

const (
	// Closed lets calls through and counts consecutive failures.
	Closed State = iota
	// Open rejects calls until the cooldown elapses.
	Open
	// HalfOpen lets probe calls through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned when a breaker rejects a call.
var ErrOpen = eris.New("circuit breaker is open")

// BreakerConfig controls when a breaker opens and recovers.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	Threshold int
	// Cooldown is how long an open breaker rejects calls. Default: 30s.
	Cooldown time.Duration
	// Probes is the number of successful half-open calls that close the
	// breaker again. Default: 1.
	Probes int
	// Counts decides whether an error is a failure. Default: any error.
	Counts func(err error) bool
	// OnChange observes state transitions.
	OnChange func(from, to State)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	if c.Counts == nil {
		c.Counts = func(err error) bool { return err != nil }
	}
	return c
}

// Breaker is a circuit breaker for one endpoint.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), nowFunc: time.Now}
}

// Call runs fn unless the breaker is open, and records its outcome.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

// State returns the current state, reporting HalfOpen once an open
// breaker's cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cooledDown() {
		return HalfOpen
	}
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.successes = 0, 0
	b.moveTo(Closed)
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open {
		if !b.cooledDown() {
			return ErrOpen
		}
		b.successes = 0
		b.moveTo(HalfOpen)
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cfg.Counts(err) {
		b.failures = 0
		if b.state == HalfOpen {
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.successes = 0
				b.moveTo(Closed)
			}
		}
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.nowFunc()
		b.successes = 0
		b.moveTo(Open)
	}
}

// cooledDown must be called with mu held.
func (b *Breaker) cooledDown() bool {
	return b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown
}

// moveTo must be called with mu held.
func (b *Breaker) moveTo(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(from, to)
	}
}

// Breakers hands out one breaker per endpoint.
type Breakers struct {
	cfg BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakers returns an empty set sharing cfg.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker of endpoint, creating it on first use.
func (s *Breakers) For(endpoint string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[endpoint]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[endpoint]; ok {
		return b
	}
	b = NewBreaker(s.cfg)
	s.breakers[endpoint] = b
	return b
}

// States snapshots every breaker's state.
func (s *Breakers) States() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.State()
	}
	return out
}
