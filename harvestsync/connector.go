// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultCacheSize   = 2000
	defaultCacheTTL    = time.Hour
	defaultHTTPTimeout = 30 * time.Second

	// memoryAdvisoryEntries is the accumulated-entry count above which
	// a sync logs a memory-pressure warning. Advisory only.
	memoryAdvisoryEntries = 50000
)

// Config configures a Connector. Token and AccountID are required;
// everything else has a default.
type Config struct {
	Token     string // upstream personal access token
	AccountID string // upstream account identifier

	BaseURL   string
	UserAgent string

	CacheSize int           // per-kind cache capacity, default 2000
	CacheTTL  time.Duration // per-kind cache TTL, default 1h; negative disables expiry

	Retry       RetryPolicy
	HTTPTimeout time.Duration
}

func (c *Config) validate() error {
	if c.Token == "" {
		return &ConfigError{Field: "Token", Reason: "upstream API token is required"}
	}
	if c.AccountID == "" {
		return &ConfigError{Field: "AccountID", Reason: "upstream account id is required"}
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	if out.UserAgent == "" {
		out.UserAgent = defaultUserAgent
	}
	if out.CacheSize <= 0 {
		out.CacheSize = defaultCacheSize
	}
	if out.CacheTTL == 0 {
		out.CacheTTL = defaultCacheTTL
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = defaultHTTPTimeout
	}
	return out
}

// FilterOption narrows a sync to one upstream client or project.
type FilterOption func(*timeEntryQuery)

// WithClientFilter restricts the sync to entries of one upstream client.
func WithClientFilter(id string) FilterOption {
	return func(q *timeEntryQuery) { q.ClientID = id }
}

// WithProjectFilter restricts the sync to entries of one upstream
// project.
func WithProjectFilter(id string) FilterOption {
	return func(q *timeEntryQuery) { q.ProjectID = id }
}

// EntryStore is where a completed sync's rows go; see TimeEntrySink.
type EntryStore interface {
	Store(ctx context.Context, entries []CanonicalTimeEntry) error
}

// Connector synchronizes time entries from the upstream API into
// canonical rows. One connector is meant to live for the whole process
// and be reused across syncs, since discarding it discards cache warmth. It
// runs one sync at a time; concurrent calls get ErrSyncInProgress.
type Connector struct {
	cfg      Config
	client   *harvestClient
	resolver *resolver
	logger   *slog.Logger

	mu          sync.Mutex
	busy        bool
	lastMetrics *SyncMetrics
}

// NewConnector builds a connector reading reference data from db.
// Missing credentials fail here, before any network call. A nil logger
// falls back to slog.Default().
func NewConnector(cfg Config, db Querier, logger *slog.Logger) (*Connector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Connector{
		cfg: cfg,
		client: &harvestClient{
			baseURL:   cfg.BaseURL,
			token:     cfg.Token,
			accountID: cfg.AccountID,
			userAgent: cfg.UserAgent,
			http:      &http.Client{Timeout: cfg.HTTPTimeout},
			retry:     cfg.Retry,
		},
		resolver: newResolver(db, logger, cfg.CacheSize, cfg.CacheTTL),
		logger:   logger,
	}, nil
}

// GetTimeEntries pages through the upstream API for [from, to],
// batch-resolves the referenced entities against the local reference
// tables and returns the canonical rows in upstream pagination order.
// Nothing is written to storage here. Metrics for the call are frozen
// at the end and available via LastSyncMetrics.
func (c *Connector) GetTimeEntries(ctx context.Context, from, to time.Time, opts ...FilterOption) ([]CanonicalTimeEntry, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	q := timeEntryQuery{From: from, To: to}
	for _, opt := range opts {
		opt(&q)
	}

	metrics := &SyncMetrics{RunID: uuid.New(), StartedAt: time.Now()}
	logger := c.logger.With("run_id", metrics.RunID,
		"from", from.Format("2006-01-02"), "to", to.Format("2006-01-02"))

	raw, err := c.fetchAll(ctx, q, metrics, logger)
	if err != nil {
		c.finish(metrics)
		return nil, fmt.Errorf("sync time entries %s..%s (client=%q project=%q): %w",
			from.Format("2006-01-02"), to.Format("2006-01-02"), q.ClientID, q.ProjectID, err)
	}
	if len(raw) > memoryAdvisoryEntries {
		logger.Warn("large sync accumulation, consider narrowing the date range",
			"entries", len(raw), "advisory_threshold", memoryAdvisoryEntries)
	}

	mappings, stats := c.resolver.resolve(ctx, raw)
	metrics.DBQueries += stats.Queries
	metrics.CacheHits += stats.Hits
	metrics.CacheMisses += stats.Misses

	entries := make([]CanonicalTimeEntry, len(raw))
	for i := range raw {
		entries[i] = canonicalize(&raw[i], func(kind EntityKind, key string) *int64 {
			return mappings[kind][key]
		})
	}
	metrics.EntriesProcessed = len(entries)
	c.finish(metrics)

	logger.Info("sync finished",
		"entries", metrics.EntriesProcessed,
		"requests", metrics.UpstreamRequests,
		"queries", metrics.DBQueries,
		"cache_hit_rate", metrics.CacheHitRate())
	return entries, nil
}

// fetchAll pages sequentially until the upstream cursor is exhausted.
// Each page's cursor depends on the previous response, so pages are not
// prefetched. Cancellation is honored between pages.
func (c *Connector) fetchAll(ctx context.Context, q timeEntryQuery, metrics *SyncMetrics, logger *slog.Logger) ([]RawTimeEntry, error) {
	var raw []RawTimeEntry
	page := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, outcome, err := c.client.fetchPage(ctx, q, page)
		metrics.UpstreamRequests += outcome.Attempts
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		raw = append(raw, resp.TimeEntries...)
		logger.Debug("fetched page", "page", page, "entries", len(resp.TimeEntries))
		if resp.NextPage == nil {
			return raw, nil
		}
		page = *resp.NextPage
	}
}

// SyncAndStore runs GetTimeEntries and hands the result to store in one
// call. Nothing reaches the store when the upstream fetch fails.
func (c *Connector) SyncAndStore(ctx context.Context, store EntryStore, from, to time.Time, opts ...FilterOption) (int, error) {
	entries, err := c.GetTimeEntries(ctx, from, to, opts...)
	if err != nil {
		return 0, err
	}
	if err := store.Store(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// PreloadCache warms all four entity caches from the full reference
// tables so the first sync starts with a high hit rate. A failed
// preload is logged and swallowed; the sync just runs with a colder
// cache. Only cancellation is returned.
func (c *Connector) PreloadCache(ctx context.Context) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	warmed, err := c.resolver.preload(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Warn("cache preload failed, continuing with cold cache",
			"warmed", warmed, "error", err)
		return nil
	}
	c.logger.Info("caches preloaded", "entries", warmed)
	return nil
}

// ClearCaches drops all cached id mappings, e.g. after a bulk edit of
// the reference tables.
func (c *Connector) ClearCaches() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return
	}
	c.resolver.clear()
}

// LastSyncMetrics returns a copy of the most recent sync's frozen
// metrics, nil before the first sync.
func (c *Connector) LastSyncMetrics() *SyncMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastMetrics == nil {
		return nil
	}
	out := *c.lastMetrics
	return &out
}

func (c *Connector) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrSyncInProgress
	}
	c.busy = true
	return nil
}

func (c *Connector) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Connector) finish(metrics *SyncMetrics) {
	metrics.FinishedAt = time.Now()
	metrics.Caches = c.resolver.cacheStats()
	c.mu.Lock()
	c.lastMetrics = metrics
	c.mu.Unlock()
}
