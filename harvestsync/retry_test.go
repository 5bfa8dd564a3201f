// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSleep replaces the backoff sleep for the duration of a test and
// returns the delays that would have been slept.
func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	prev := retrySleep
	retrySleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	t.Cleanup(func() { retrySleep = prev })
	return &delays
}

// failNTimes returns an op failing with the given statuses in order,
// then succeeding.
func failNTimes(statuses ...int) func(ctx context.Context) error {
	i := 0
	return func(ctx context.Context) error {
		if i >= len(statuses) {
			return nil
		}
		status := statuses[i]
		i++
		return &HTTPStatusError{StatusCode: status}
	}
}

func TestRetry_CappedExponentialBackoff(t *testing.T) {
	delays := stubSleep(t)
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 150 * time.Millisecond}

	outcome, err := p.Do(context.Background(), failNTimes(503, 503))
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 150 * time.Millisecond}, *delays,
		"second delay doubles then hits the cap")
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 250*time.Millisecond, outcome.TotalDelay)
	assert.Equal(t, 150*time.Millisecond, outcome.LastDelay)
	assert.Equal(t, 503, outcome.LastStatus)
}

func TestRetry_HonorsRetryAfter(t *testing.T) {
	delays := stubSleep(t)
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}

	calls := 0
	op := func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &HTTPStatusError{StatusCode: 429, RetryAfter: 3 * time.Second}
		}
		return nil
	}

	outcome, err := p.Do(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second}, *delays,
		"Retry-After wins over the configured base delay")
	assert.Equal(t, 2, outcome.Attempts)
}

func TestRetry_NonRetryablePropagatesImmediately(t *testing.T) {
	delays := stubSleep(t)
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	outcome, err := p.Do(context.Background(), failNTimes(404, 404))
	require.Error(t, err)

	var se *HTTPStatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 404, se.StatusCode)
	assert.Equal(t, 1, outcome.Attempts, "no retry for a plain 4xx")
	assert.Empty(t, *delays)

	var exhausted *RetryExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestRetry_ExhaustionOnFirstFailure(t *testing.T) {
	delays := stubSleep(t)
	p := RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}

	outcome, err := p.Do(context.Background(), failNTimes(503, 503, 503, 503))

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Empty(t, *delays, "no delay is incurred when the budget is already spent")
	assert.Equal(t, 503, exhausted.Outcome.LastStatus)

	var se *HTTPStatusError
	assert.ErrorAs(t, err, &se, "exhaustion wraps the last upstream failure")
}

func TestRetry_ExhaustionAfterBudget(t *testing.T) {
	delays := stubSleep(t)
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}

	outcome, err := p.Do(context.Background(), failNTimes(500, 502, 503, 500))

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Len(t, *delays, 2)
	assert.Equal(t, 503, outcome.LastStatus)
}

func TestRetry_DefaultsApplied(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.BaseDelay)
	assert.Equal(t, time.Duration(0), p.MaxDelay)
}

func TestRetry_CancellationDuringBackoff(t *testing.T) {
	prev := retrySleep
	retrySleep = sleepWithContext
	t.Cleanup(func() { retrySleep = prev })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute}
	_, err := p.Do(ctx, failNTimes(503, 503))
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	d, ok := parseRetryAfter("3", now)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now)
	require.True(t, ok)
	assert.InDelta(t, (90 * time.Second).Seconds(), d.Seconds(), 1)

	_, ok = parseRetryAfter("", now)
	assert.False(t, ok)
	_, ok = parseRetryAfter("soon", now)
	assert.False(t, ok)
	_, ok = parseRetryAfter("-5", now)
	assert.False(t, ok)
}
