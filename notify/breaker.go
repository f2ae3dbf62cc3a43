package notify

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker
type BreakerState string

const (
	// BreakerClosed lets deliveries through
	BreakerClosed BreakerState = "closed"
	// BreakerOpen fails deliveries immediately
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen lets a probe delivery through
	BreakerHalfOpen BreakerState = "half_open"
)

// ErrBreakerOpen is returned while a sink's breaker is open
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerConfig holds circuit breaker settings
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures int
	// Cooldown is how long the breaker stays open before a probe
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the breaker settings used when none are configured
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, Cooldown: 60 * time.Second}
}

// Breaker stops calls to an endpoint after repeated failures. It allows one
// probe at a time once the cooldown has passed.
type Breaker struct {
	cfg      BreakerConfig
	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker creates a closed breaker
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{cfg: cfg, state: BreakerClosed, now: time.Now}
}

// Allow reports whether a call may proceed
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// Record feeds the outcome of an allowed call back into the breaker and
// returns the state before and after.
func (b *Breaker) Record(err error) (from, to BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from = b.state
	b.probing = false
	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		return from, b.state
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.MaxFailures {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
	return from, b.state
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
