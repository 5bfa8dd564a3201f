// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"context"
	"fmt"
	"strings"
)

// DefaultBatchSize keeps a chunk's parameter count well under Postgres's
// 65535 bind-parameter ceiling: at the sink's 13 columns a chunk uses
// 13000 parameters. Callers inserting wider rows must shrink the batch
// size so rows × columns stays under the ceiling.
const DefaultBatchSize = 1000

// BatchUpsert splits rows into chunks of at most batchSize and issues
// one multi-row INSERT per chunk against ex, appending conflictClause to
// each statement. Parameters are positional and numbered contiguously
// across a chunk, in column order. Empty rows is a no-op; batchSize <= 0
// falls back to DefaultBatchSize. Every row must be exactly
// len(columns) wide.
func BatchUpsert(ctx context.Context, ex Execer, table string, columns []string, rows [][]any, conflictClause string, batchSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if len(columns) == 0 {
		return fmt.Errorf("batch upsert into %s: no columns", table)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("batch upsert into %s: row %d has %d values, want %d",
				table, i, len(row), len(columns))
		}
	}

	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		chunk := rows[start:end]

		sql, args := buildInsert(table, columns, chunk, conflictClause)
		if _, err := ex.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("batch upsert into %s (rows %d..%d): %w", table, start, end-1, err)
		}
	}
	return nil
}

// buildInsert renders one parameterized multi-row INSERT statement for a
// chunk. Placeholder numbering restarts at $1 per statement.
func buildInsert(table string, columns []string, chunk [][]any, conflictClause string) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(chunk)*len(columns))
	param := 1
	for i, row := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", param)
			param++
			args = append(args, row[j])
		}
		sb.WriteByte(')')
	}
	if conflictClause != "" {
		sb.WriteByte(' ')
		sb.WriteString(conflictClause)
	}
	return sb.String(), args
}
