// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
)

// timeEntryColumns is the sink table's column list; the first column is
// the upsert's natural key, everything after it is overwritten on
// conflict so a resynced entry always reflects the latest upstream
// state.
var timeEntryColumns = []string{
	"harvest_entry_id",
	"spent_date",
	"hours",
	"billable",
	"notes",
	"client_id",
	"project_id",
	"task_id",
	"person_id",
	"billable_amount",
	"cost_amount",
	"currency",
	"external_ref",
}

// timeEntryConflictClause rewrites every non-key column from EXCLUDED.
func timeEntryConflictClause() string {
	sets := make([]string, 0, len(timeEntryColumns)-1)
	for _, col := range timeEntryColumns[1:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return "ON CONFLICT (harvest_entry_id) DO UPDATE SET " + strings.Join(sets, ", ")
}

// TimeEntrySink persists canonical time entries into the time_entries
// table, one transaction per Store call.
type TimeEntrySink struct {
	db        TxBeginner
	logger    *slog.Logger
	batchSize int
}

// NewTimeEntrySink creates a sink writing through db. A nil logger
// falls back to slog.Default().
func NewTimeEntrySink(db TxBeginner, logger *slog.Logger) *TimeEntrySink {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeEntrySink{db: db, logger: logger, batchSize: DefaultBatchSize}
}

// Store upserts all entries inside a single transaction: any chunk
// failure rolls the whole batch back and is returned; nothing is
// partially committed. The transaction handle is released on every
// path.
func (s *TimeEntrySink) Store(ctx context.Context, entries []CanonicalTimeEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin time_entries transaction: %w", err)
	}
	defer func() {
		// No-op after a successful commit; releases the handle on
		// every failure path.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
	}()

	rows := make([][]any, len(entries))
	for i := range entries {
		rows[i] = entryRow(&entries[i])
	}
	if err := BatchUpsert(ctx, tx, "time_entries", timeEntryColumns, rows, timeEntryConflictClause(), s.batchSize); err != nil {
		return fmt.Errorf("store %d time entries: %w", len(entries), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit time_entries transaction: %w", err)
	}
	s.logger.Debug("stored time entries", "count", len(entries))
	return nil
}

func entryRow(e *CanonicalTimeEntry) []any {
	return []any{
		e.EntryID,
		e.SpentDate,
		e.Hours,
		e.Billable,
		e.Notes,
		e.ClientID,
		e.ProjectID,
		e.TaskID,
		e.PersonID,
		e.BillableAmount,
		e.CostAmount,
		e.Currency,
		e.ExternalRef,
	}
}
