// Package resilience provides the failure-handling primitives used around
// browser interactions: a circuit breaker that stops hammering a page that
// keeps failing, and a retry helper with exponential pauses for steps that
// tend to succeed on a second try.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned by Breaker.Do while the circuit is open.
// Callers match it with errors.Is and treat the remaining work as skipped
// rather than failed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit position.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Snapshot is a point-in-time view of the breaker for logging.
type Snapshot struct {
	State       State
	Failures    int
	LastFailure time.Time
}

// Breaker counts consecutive failures and, once the threshold is reached,
// rejects further calls until a cooldown has passed. The first call after
// the cooldown runs as a single half-open trial: success closes the
// circuit, failure reopens it and restarts the cooldown.
type Breaker struct {
	log       *zap.Logger
	threshold int
	cooldown  time.Duration

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	trialInFlight bool

	now func() time.Time
}

// NewBreaker builds a closed breaker that opens after threshold
// consecutive failures and stays open for cooldown.
func NewBreaker(log *zap.Logger, threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	b := &Breaker{
		log:       log.Named("breaker"),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	b.log.Debug("circuit breaker initialized",
		zap.Int("threshold", threshold),
		zap.Duration("cooldown", cooldown))
	return b
}

// Do runs op under the breaker. While the circuit is open it returns an
// error wrapping ErrCircuitOpen without invoking op; otherwise op's own
// error is passed through after the failure accounting.
func (b *Breaker) Do(op func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op()
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) > b.cooldown {
			b.state = StateHalfOpen
			b.trialInFlight = true
			b.log.Info("circuit breaker entering half-open state")
			return nil
		}
		return fmt.Errorf("%w (failures: %d)", ErrCircuitOpen, b.failures)
	case StateHalfOpen:
		if b.trialInFlight {
			return fmt.Errorf("%w (half-open trial in flight)", ErrCircuitOpen)
		}
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialInFlight = false

	if err == nil {
		if b.state == StateHalfOpen {
			b.log.Info("circuit breaker closed after successful trial")
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()
	b.log.Warn("circuit breaker recorded failure",
		zap.Int("failures", b.failures),
		zap.Int("threshold", b.threshold))

	if b.failures >= b.threshold {
		if b.state != StateOpen {
			b.log.Error("circuit breaker opened",
				zap.Int("failures", b.failures),
				zap.Duration("cooldown", b.cooldown))
		}
		b.state = StateOpen
	}
}

// Reset forces the breaker back to closed, e.g. after a fresh login
// re-establishes a working session.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.lastFailure = time.Time{}
	b.trialInFlight = false
	b.log.Info("circuit breaker manually reset")
}

// State returns the current circuit position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Info returns a snapshot for log output.
func (b *Breaker) Info() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{State: b.state, Failures: b.failures, LastFailure: b.lastFailure}
}
