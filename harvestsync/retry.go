// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"context"
	"errors"
	"time"
)

const (
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
)

// RetryPolicy controls the retry executor. The zero value is usable:
// Do fills in the defaults of 3 attempts and a 500ms base delay, with
// no cap on the computed delay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // <= 0 means uncapped
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultRetryAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultRetryBaseDelay
	}
	return p
}

// delayFor computes the backoff before retrying after the given failure
// on the given 1-based attempt. A Retry-After hint on the error wins;
// otherwise the delay doubles per attempt from BaseDelay, capped at
// MaxDelay when one is set.
func (p RetryPolicy) delayFor(err error, attempt int) time.Duration {
	var se *HTTPStatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter
	}
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs op, retrying failures that carry a retryable HTTP status (429
// or any 5xx). Non-retryable errors propagate immediately, unretried.
// Once MaxAttempts is reached a *RetryExhaustedError wrapping the last
// failure is returned. The outcome is returned in every case so callers
// can assert on attempts and delays.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (RetryOutcome, error) {
	p = p.withDefaults()
	var outcome RetryOutcome

	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt
		err := op(ctx)
		if err == nil {
			return outcome, nil
		}
		outcome.LastStatus = httpStatusOf(err)

		var se *HTTPStatusError
		if !errors.As(err, &se) || !se.Retryable() {
			return outcome, err
		}
		if attempt >= p.MaxAttempts {
			return outcome, &RetryExhaustedError{Outcome: outcome, Last: err}
		}

		delay := p.delayFor(err, attempt)
		outcome.LastDelay = delay
		outcome.TotalDelay += delay
		if err := retrySleep(ctx, delay); err != nil {
			return outcome, err
		}
	}
}

// retrySleep is swapped out in tests to observe delays without waiting.
var retrySleep = sleepWithContext

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
