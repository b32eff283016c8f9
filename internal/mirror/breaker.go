package mirror

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the position of a circuit breaker.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen fails calls fast until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets one probe through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrProbeInFlight is returned when a half-open breaker already has a probe running.
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// Breaker stops calling a failing dependency after maxFailures consecutive
// errors and retries it once cooldown has elapsed.
type Breaker struct {
	mu sync.Mutex

	maxFailures uint32
	cooldown    time.Duration
	now         func() time.Time
	logger      *zap.Logger

	state       State
	failures    uint32
	lastFailure time.Time
	probing     bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(maxFailures uint32, cooldown time.Duration, logger *zap.Logger) *Breaker {
	if maxFailures == 0 {
		maxFailures = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
		logger:      logger,
	}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.logger.Info("circuit breaker half-open", zap.Duration("cooldown", b.cooldown))
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return ErrProbeInFlight
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		if b.state != StateClosed {
			b.logger.Info("circuit breaker closed")
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		if b.state != StateOpen {
			b.logger.Warn("circuit breaker opened",
				zap.Uint32("failures", b.failures),
				zap.Duration("cooldown", b.cooldown))
		}
		b.state = StateOpen
	}
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
