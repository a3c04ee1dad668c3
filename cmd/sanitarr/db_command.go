// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/autobrr/sanitarr/internal/database"
	"github.com/autobrr/sanitarr/internal/models"
)

func RunDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations",
	}

	cmd.AddCommand(runDBPruneCommand())
	return cmd
}

func runDBPruneCommand() *cobra.Command {
	var (
		dbPath        string
		retentionDays int
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete run logs older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				return errors.New("--db is required")
			}
			if retentionDays < 1 {
				return errors.New("--retention-days must be at least 1")
			}

			db, err := database.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			pruned, err := models.NewRunLogStore(db).Prune(cmd.Context(), retentionDays)
			if err != nil {
				return err
			}

			cmd.Printf("Pruned %d run logs older than %d days\n", pruned, retentionDays)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the SQLite database file")
	cmd.Flags().IntVar(&retentionDays, "retention-days", 30, "Delete run logs older than this many days")

	return cmd
}
