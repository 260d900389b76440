package services

import (
	"context"
	"fmt"
	"log"
	"time"
)

// pollPolicy is the backoff used while waiting on a queued remote job: an initial
// wait, then intervals growing by factor up to maxInterval, with a hard timeout.
type pollPolicy struct {
	initialDelay time.Duration
	minInterval  time.Duration
	maxInterval  time.Duration
	factor       float64
	timeout      time.Duration
}

// pollUntil calls check until it reports done, returns an error, the policy's
// timeout passes, or ctx is cancelled.
func pollUntil(ctx context.Context, label string, p pollPolicy, check func(ctx context.Context, attempt int) (bool, error)) error {
	deadline := time.Now().Add(p.timeout)
	interval := p.minInterval

	if p.initialDelay > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled during initial wait: %w", label, ctx.Err())
		case <-time.After(p.initialDelay):
		}
	}

	for attempt := 1; ; attempt++ {
		if time.Now().After(deadline) {
			return fmt.Errorf("%s timed out after %v (polled %d times)", label, p.timeout, attempt-1)
		}

		done, err := check(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		log.Printf("[Poll] %s: attempt %d pending (next poll in %v)", label, attempt, interval)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled: %w", label, ctx.Err())
		case <-time.After(interval):
		}

		next := time.Duration(float64(interval) * p.factor)
		if next > p.maxInterval {
			next = p.maxInterval
		}
		interval = next
	}
}
