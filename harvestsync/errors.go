// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ConfigError reports a required configuration field that was missing or
// invalid at construction time. It is returned before any I/O happens.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("harvestsync: invalid configuration: %s: %s", e.Field, e.Reason)
}

// HTTPStatusError is a non-2xx response from the upstream API. RetryAfter
// is the parsed Retry-After hint, zero when the response carried none.
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d %s: %s",
		e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Retryable reports whether the status is worth retrying. 429 and any
// 5xx qualify; other client errors surface unchanged on first occurrence.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RetryExhaustedError is raised once the retry budget is spent. It wraps
// the last failure and carries the attempt/delay telemetry so callers can
// assert on backoff behavior without inspecting timers.
type RetryExhaustedError struct {
	Outcome RetryOutcome
	Last    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempt(s), %s total delay: %v",
		e.Outcome.Attempts, e.Outcome.TotalDelay, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// ErrSyncInProgress is returned when a second sync is started on a
// connector whose previous sync has not finished. One connector runs one
// sync at a time; its caches and metrics are not built for interleaving.
var ErrSyncInProgress = errors.New("harvestsync: sync already in progress")

// httpStatusOf extracts an upstream status code from err, or 0.
func httpStatusOf(err error) int {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// parseRetryAfter understands both forms of the Retry-After header:
// a delay in whole seconds, or an HTTP-date. Returns zero and false for
// anything it cannot parse.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
