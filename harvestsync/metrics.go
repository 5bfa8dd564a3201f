// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"time"

	"github.com/google/uuid"
)

// SyncMetrics holds the counters for one sync call. A fresh value is
// created when the sync starts and frozen when it returns; metrics are
// never merged across syncs.
type SyncMetrics struct {
	RunID      uuid.UUID `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	UpstreamRequests int `json:"upstream_requests"`
	DBQueries        int `json:"db_queries"`
	CacheHits        int `json:"cache_hits"`
	CacheMisses      int `json:"cache_misses"`
	EntriesProcessed int `json:"entries_processed"`

	// Caches is a per-entity-kind snapshot of the connector's caches as
	// of the end of the sync. The cache counters are cumulative across
	// the connector's lifetime, unlike the per-sync fields above.
	Caches map[EntityKind]CacheStats `json:"caches"`
}

// CacheHitRate returns the per-sync hit rate, 0 when the sync resolved
// nothing.
func (m *SyncMetrics) CacheHitRate() float64 {
	total := m.CacheHits + m.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(m.CacheHits) / float64(total)
}

// RetryOutcome describes what the retry executor actually did for one
// operation: how many attempts ran, how long it slept in total, and the
// last status/delay observed.
type RetryOutcome struct {
	Attempts   int           `json:"attempts"`
	TotalDelay time.Duration `json:"total_delay"`
	LastStatus int           `json:"last_status"`
	LastDelay  time.Duration `json:"last_delay"`
}
