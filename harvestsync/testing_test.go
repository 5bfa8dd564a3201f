// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// idPair is one (local id, harvest id) reference row.
type idPair struct {
	localID   int64
	harvestID int64
}

// fakeRows is the minimal pgx.Rows the resolver consumes.
type fakeRows struct {
	pgx.Rows
	pairs []idPair
	pos   int
	err   error
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return r.err }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.pairs) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	p := r.pairs[r.pos-1]
	*(dest[0].(*int64)) = p.localID
	*(dest[1].(*int64)) = p.harvestID
	return nil
}

// fakeStore fakes the reference tables: harvest id -> local id per
// table. It records every query and can be told to fail per table.
type fakeStore struct {
	mu      sync.Mutex
	tables  map[string]map[int64]int64
	queries []string
	failing map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables:  map[string]map[int64]int64{},
		failing: map[string]error{},
	}
}

func (s *fakeStore) add(table string, harvestID, localID int64) {
	if s.tables[table] == nil {
		s.tables[table] = map[int64]int64{}
	}
	s.tables[table][harvestID] = localID
}

func (s *fakeStore) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func (s *fakeStore) queriesFor(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queries {
		if strings.Contains(q, " FROM "+table+" ") || strings.HasSuffix(q, " FROM "+table) {
			n++
		}
	}
	return n
}

func (s *fakeStore) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.mu.Lock()
	s.queries = append(s.queries, sql)
	s.mu.Unlock()

	table := ""
	for name := range s.tables {
		if strings.Contains(sql, " FROM "+name) {
			table = name
			break
		}
	}
	if table == "" {
		for _, name := range kindTables {
			if strings.Contains(sql, " FROM "+name) {
				table = name
				break
			}
		}
	}
	if err := s.failing[table]; err != nil {
		return nil, err
	}

	rows := &fakeRows{}
	if len(args) == 0 {
		// preload path: full table scan
		for harvestID, localID := range s.tables[table] {
			rows.pairs = append(rows.pairs, idPair{localID: localID, harvestID: harvestID})
		}
		return rows, nil
	}
	ids, ok := args[0].([]int64)
	if !ok {
		return nil, fmt.Errorf("unexpected query args: %T", args[0])
	}
	for _, id := range ids {
		if localID, found := s.tables[table][id]; found {
			rows.pairs = append(rows.pairs, idPair{localID: localID, harvestID: id})
		}
	}
	return rows, nil
}
