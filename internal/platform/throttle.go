package platform

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/causelab/causescore/internal/logger"
)

// Throttle applies a randomized delay within [min, max] before each outbound
// request. The jitter is deliberate anti-throttling behavior: two requests
// are never issued back-to-back without a delay in between.
type Throttle struct {
	min time.Duration
	max time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewThrottle creates a Throttle with the given delay interval.
// Parameters:
//   - min: minimum delay before a request.
//   - max: maximum delay before a request; clamped up to min when smaller.
//
// Returns:
//   - *Throttle: initialized throttle.
func NewThrottle(min, max time.Duration) *Throttle {
	if max < min {
		max = min
	}
	return &Throttle{
		min: min,
		max: max,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait sleeps for a random duration within the configured interval.
// Parameters:
//   - ctx: context for cancellation; a cancelled context cuts the wait short.
//
// Returns:
//   - error: ctx.Err() when the context ended before the delay elapsed.
func (t *Throttle) Wait(ctx context.Context) error {
	delay := t.min
	if span := t.max - t.min; span > 0 {
		t.mu.Lock()
		delay += time.Duration(t.rnd.Int63n(int64(span)))
		t.mu.Unlock()
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryPolicy retries transient failures with exponential backoff plus
// random jitter.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Do runs op up to MaxRetries+1 times, backing off base * 2^(attempt-1) plus
// up to one base of jitter between attempts. ErrIdentityNotFound is terminal
// for the item and returns immediately without further attempts.
// Parameters:
//   - ctx: context for cancellation; cancellation stops retrying.
//   - label: short operation name for log lines.
//   - op: operation to attempt.
//
// Returns:
//   - error: nil on success, the last failure once attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, label string, op func() error) error {
	var err error
	for attempt := 1; attempt <= p.MaxRetries+1; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrIdentityNotFound) {
			return err
		}
		if attempt > p.MaxRetries {
			break
		}

		backoff := p.BaseDelay * time.Duration(1<<(attempt-1))
		if p.BaseDelay > 0 {
			backoff += time.Duration(rand.Int63n(int64(p.BaseDelay)))
		}
		logger.With(logger.Fields{
			logger.FieldAttempt: attempt,
		}).Warn(ctx, "%s failed, retrying in %s: %v", label, backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
	return err
}
