package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Pauses between attempts grow 2s, 4s, 8s and cap at 10s. No jitter: the
// target is a single rendering page, not a fleet, and deterministic pauses
// keep the logs legible.
const (
	retryInitialInterval = 2 * time.Second
	retryMaxInterval     = 10 * time.Second
	retryMultiplier      = 2.0
)

// Retryer reruns a failing operation with exponential pauses until it
// succeeds or the attempt budget is spent. Wrap an error in
// backoff.Permanent to stop immediately, e.g. when input validation fails
// and rerunning could never help.
type Retryer struct {
	log         *zap.Logger
	maxAttempts int

	// backoffFactory is swapped in tests to avoid multi-second pauses.
	backoffFactory func() backoff.BackOff
}

// NewRetryer builds a Retryer with the given total attempt budget
// (first try included).
func NewRetryer(log *zap.Logger, maxAttempts int) *Retryer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	r := &Retryer{
		log:         log.Named("retry"),
		maxAttempts: maxAttempts,
	}
	r.backoffFactory = defaultBackoff
	return r
}

// NewRetryerWithIntervals builds a Retryer with explicit pause tuning
// instead of the defaults. Zero intervals make retries immediate, which
// exercising code relies on when a wall-clock pause would only slow the
// suite down.
func NewRetryerWithIntervals(log *zap.Logger, maxAttempts int, initial, max time.Duration) *Retryer {
	r := NewRetryer(log, maxAttempts)
	r.backoffFactory = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.Multiplier = retryMultiplier
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		return b
	}
	return r
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.Multiplier = retryMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return b
}

// Do runs op up to the attempt budget, pausing between attempts, and
// returns the number of attempts actually made together with the final
// outcome. The context aborts waiting between attempts, not a running op.
func (r *Retryer) Do(ctx context.Context, name string, op func() error) (int, error) {
	attempts := 0
	operation := func() error {
		attempts++
		return op()
	}

	b := backoff.WithMaxRetries(r.backoffFactory(), uint64(r.maxAttempts-1))
	notify := func(err error, wait time.Duration) {
		r.log.Warn("operation failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return attempts, fmt.Errorf("%s failed after %d attempt(s): %w", name, attempts, err)
	}
	return attempts, nil
}
