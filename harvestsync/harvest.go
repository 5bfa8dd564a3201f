// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultBaseURL is the Harvest v2 API root.
	DefaultBaseURL = "https://api.harvestapp.com/v2"

	// perPage is the page size requested from the upstream API.
	perPage = 100

	defaultUserAgent = "go-harvestsync (support@teamdash.dev)"

	// errBodySnippet caps how much of an error response body is kept
	// for the error message.
	errBodySnippet = 512
)

// timeEntriesPage is one page of the upstream time-entries listing.
// NextPage is nil on the last page.
type timeEntriesPage struct {
	TimeEntries []RawTimeEntry `json:"time_entries"`
	NextPage    *int           `json:"next_page"`
}

// timeEntryQuery carries the filters applied to every page request of
// one sync.
type timeEntryQuery struct {
	From      time.Time
	To        time.Time
	ClientID  string
	ProjectID string
}

// harvestClient talks to the upstream time-tracking API. Page fetches
// go through the retry policy; 429/5xx responses are retried with
// capped exponential backoff, honoring Retry-After when present.
type harvestClient struct {
	baseURL   string
	token     string
	accountID string
	userAgent string
	http      *http.Client
	retry     RetryPolicy
}

// fetchPage retrieves one page. The returned outcome reports how many
// HTTP attempts the page cost, so the caller can count requests.
func (c *harvestClient) fetchPage(ctx context.Context, q timeEntryQuery, page int) (*timeEntriesPage, RetryOutcome, error) {
	var result *timeEntriesPage
	outcome, err := c.retry.Do(ctx, func(ctx context.Context) error {
		p, err := c.getPage(ctx, q, page)
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, outcome, err
	}
	return result, outcome, nil
}

func (c *harvestClient) getPage(ctx context.Context, q timeEntryQuery, page int) (*timeEntriesPage, error) {
	u, err := url.Parse(c.baseURL + "/time_entries")
	if err != nil {
		return nil, fmt.Errorf("parse upstream URL: %w", err)
	}
	params := url.Values{}
	params.Set("from", q.From.Format("2006-01-02"))
	params.Set("to", q.To.Format("2006-01-02"))
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(page))
	if q.ClientID != "" {
		params.Set("client_id", q.ClientID)
	}
	if q.ProjectID != "" {
		params.Set("project_id", q.ProjectID)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Harvest-Account-Id", c.accountID)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp)
	}

	var p timeEntriesPage
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode time entries page %d: %w", page, err)
	}
	return &p, nil
}

// statusError converts a non-2xx response into an HTTPStatusError with
// the Retry-After hint parsed and a short body snippet for context.
func (c *harvestClient) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodySnippet))
	retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return &HTTPStatusError{
		StatusCode: resp.StatusCode,
		RetryAfter: retryAfter,
		Body:       string(body),
	}
}
