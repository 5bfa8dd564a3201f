// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// EntityKind identifies one of the four foreign entity kinds a time
// entry references.
type EntityKind string

const (
	KindClient  EntityKind = "client"
	KindProject EntityKind = "project"
	KindTask    EntityKind = "task"
	KindPerson  EntityKind = "person"
)

// EntityKinds lists all kinds in a stable order.
var EntityKinds = []EntityKind{KindClient, KindProject, KindTask, KindPerson}

// kindTables maps each kind to its local reference table. Every table
// exposes (id, harvest_id); harvest_id is the upstream id.
var kindTables = map[EntityKind]string{
	KindClient:  "clients",
	KindProject: "projects",
	KindTask:    "tasks",
	KindPerson:  "people",
}

// IdMapping maps an upstream id (as string) to its local id. A nil
// value is a first-class fact: the id was looked up and confirmed to
// have no local counterpart. A key absent from the mapping was never
// requested.
type IdMapping map[string]*int64

// resolver translates the upstream ids referenced by a page of raw
// entries into local reference-table ids, cache-first, with at most one
// batched lookup query per entity kind per sync.
type resolver struct {
	db     Querier
	logger *slog.Logger
	caches map[EntityKind]*Cache[string, *int64]
}

func newResolver(db Querier, logger *slog.Logger, cacheSize int, cacheTTL time.Duration) *resolver {
	caches := make(map[EntityKind]*Cache[string, *int64], len(EntityKinds))
	for _, kind := range EntityKinds {
		caches[kind] = NewCache[string, *int64](cacheSize, cacheTTL)
	}
	return &resolver{db: db, logger: logger, caches: caches}
}

// resolveStats tallies one resolve pass for the sync metrics.
type resolveStats struct {
	Hits    int
	Misses  int
	Queries int
}

// resolve collects the unique upstream ids per kind across all entries,
// serves what it can from the caches, and issues one ANY() lookup per
// kind for the rest, the four kinds concurrently. Ids the store does not
// know are recorded as nil, in the returned mappings and in the caches,
// so repeat syncs stop asking about them. A failed lookup degrades that
// kind to all-nil for this batch and is logged, not propagated.
func (r *resolver) resolve(ctx context.Context, entries []RawTimeEntry) (map[EntityKind]IdMapping, resolveStats) {
	var stats resolveStats
	mappings := make(map[EntityKind]IdMapping, len(EntityKinds))
	missing := make(map[EntityKind][]string, len(EntityKinds))

	for _, kind := range EntityKinds {
		mapping := IdMapping{}
		for i := range entries {
			key, ok := entries[i].key(kind)
			if !ok {
				continue
			}
			if _, seen := mapping[key]; seen {
				continue
			}
			if slices.Contains(missing[kind], key) {
				continue
			}
			if id, hit := r.caches[kind].Get(key); hit {
				mapping[key] = id
				stats.Hits++
			} else {
				missing[kind] = append(missing[kind], key)
				stats.Misses++
			}
		}
		mappings[kind] = mapping
	}

	fetched := make(map[EntityKind]IdMapping, len(EntityKinds))
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range EntityKinds {
		keys := missing[kind]
		if len(keys) == 0 {
			continue
		}
		stats.Queries++
		kind := kind
		fetched[kind] = IdMapping{}
		g.Go(func() error {
			if err := r.lookupKind(gctx, kind, keys, fetched[kind]); err != nil {
				r.logger.Warn("reference lookup failed, treating batch as unresolved",
					"kind", kind, "ids", len(keys), "error", err)
				for _, key := range keys {
					fetched[kind][key] = nil
				}
			}
			return nil
		})
	}
	_ = g.Wait() // lookup errors are absorbed per kind above

	for _, kind := range EntityKinds {
		for key, id := range fetched[kind] {
			mappings[kind][key] = id
			r.caches[kind].Set(key, id)
		}
	}
	return mappings, stats
}

// lookupKind issues the single batched query for one kind and fills out
// the mapping, nil for every requested id the table does not have.
func (r *resolver) lookupKind(ctx context.Context, kind EntityKind, keys []string, out IdMapping) error {
	ids := make([]int64, 0, len(keys))
	for _, key := range keys {
		out[key] = nil
		if n, err := strconv.ParseInt(key, 10, 64); err == nil {
			ids = append(ids, n)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	q := fmt.Sprintf(`SELECT id, harvest_id FROM %s WHERE harvest_id = ANY($1)`, kindTables[kind])
	rows, err := r.db.Query(ctx, q, ids)
	if err != nil {
		return fmt.Errorf("query %s: %w", kindTables[kind], err)
	}
	defer rows.Close()

	for rows.Next() {
		var localID, harvestID int64
		if err := rows.Scan(&localID, &harvestID); err != nil {
			return fmt.Errorf("scan %s row: %w", kindTables[kind], err)
		}
		id := localID
		out[strconv.FormatInt(harvestID, 10)] = &id
	}
	return rows.Err()
}

// preload warms every kind's cache from the full reference table. Errors
// are returned for logging but leave already-warmed kinds intact.
func (r *resolver) preload(ctx context.Context) (int, error) {
	total := 0
	for _, kind := range EntityKinds {
		q := fmt.Sprintf(`SELECT id, harvest_id FROM %s`, kindTables[kind])
		rows, err := r.db.Query(ctx, q)
		if err != nil {
			return total, fmt.Errorf("preload %s: %w", kindTables[kind], err)
		}
		for rows.Next() {
			var localID, harvestID int64
			if err := rows.Scan(&localID, &harvestID); err != nil {
				rows.Close()
				return total, fmt.Errorf("preload %s: %w", kindTables[kind], err)
			}
			id := localID
			r.caches[kind].Set(strconv.FormatInt(harvestID, 10), &id)
			total++
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return total, fmt.Errorf("preload %s: %w", kindTables[kind], err)
		}
	}
	return total, nil
}

// clear empties all four caches.
func (r *resolver) clear() {
	for _, kind := range EntityKinds {
		r.caches[kind].Clear()
	}
}

// cacheStats snapshots every kind's cache.
func (r *resolver) cacheStats() map[EntityKind]CacheStats {
	out := make(map[EntityKind]CacheStats, len(EntityKinds))
	for _, kind := range EntityKinds {
		out[kind] = r.caches[kind].Stats()
	}
	return out
}
