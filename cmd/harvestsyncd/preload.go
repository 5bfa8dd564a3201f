// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"
)

var preloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "Warm the entity id caches from the reference tables and exit",
	Args:  cobra.NoArgs,
	RunE:  runPreload,
}

func runPreload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.connector.PreloadCache(ctx)
}
