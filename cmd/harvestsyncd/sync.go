// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teamdash/go-harvestsync/harvestsync"
)

var (
	syncFrom      string
	syncTo        string
	syncClientID  string
	syncProjectID string
	syncDryRun    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync over a date range and store the result",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncFrom, "from", "", "Start date, YYYY-MM-DD (required)")
	syncCmd.Flags().StringVar(&syncTo, "to", "", "End date, YYYY-MM-DD (required)")
	syncCmd.Flags().StringVar(&syncClientID, "client-id", "", "Restrict to one upstream client")
	syncCmd.Flags().StringVar(&syncProjectID, "project-id", "", "Restrict to one upstream project")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Fetch and resolve but skip the database write")
	_ = syncCmd.MarkFlagRequired("from")
	_ = syncCmd.MarkFlagRequired("to")
}

func runSync(cmd *cobra.Command, args []string) error {
	from, err := parseDate("from", syncFrom)
	if err != nil {
		return err
	}
	to, err := parseDate("to", syncTo)
	if err != nil {
		return err
	}
	if to.Before(from) {
		return fmt.Errorf("--to %s is before --from %s", syncTo, syncFrom)
	}

	ctx := cmd.Context()
	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	var opts []harvestsync.FilterOption
	if syncClientID != "" {
		opts = append(opts, harvestsync.WithClientFilter(syncClientID))
	}
	if syncProjectID != "" {
		opts = append(opts, harvestsync.WithProjectFilter(syncProjectID))
	}

	if err := c.connector.PreloadCache(ctx); err != nil {
		return err
	}

	var stored int
	if syncDryRun {
		entries, err := c.connector.GetTimeEntries(ctx, from, to, opts...)
		if err != nil {
			return err
		}
		stored = len(entries)
		c.logger.Info("dry run, skipping store", "entries", stored)
	} else {
		stored, err = c.connector.SyncAndStore(ctx, c.sink, from, to, opts...)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"entries": stored,
		"metrics": c.connector.LastSyncMetrics(),
	})
}
