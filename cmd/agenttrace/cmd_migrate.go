// Copyright 2026 AgentTrace Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/agenttrace/agenttrace/internal/pgxdriver"
	"github.com/agenttrace/agenttrace/pkg/storage/postgres"
)

var migrateDownSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *postgres.Migrator) error {
			if err := m.MigrateUp(ctx); err != nil {
				return err
			}
			version, err := m.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Schema is at version %d\n", version)
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *postgres.Migrator) error {
			if err := m.MigrateDown(ctx, migrateDownSteps); err != nil {
				return err
			}
			version, err := m.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Schema is at version %d\n", version)
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current schema version and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *postgres.Migrator) error {
			version, err := m.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			pending, err := m.PendingMigrations(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Current version: %d\n", version)
			if len(pending) == 0 {
				fmt.Println("No pending migrations")
				return nil
			}
			fmt.Println("Pending migrations:")
			for _, migration := range pending {
				fmt.Printf("  %d  %s\n", migration.Version, migration.Description)
			}
			return nil
		})
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func withMigrator(ctx context.Context, fn func(context.Context, *postgres.Migrator) error) error {
	pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := postgres.NewMigrator(pool)
	if err != nil {
		return err
	}
	return fn(ctx, migrator)
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxdriver.NewPool(ctx, pgxdriver.Config{
		URL:      config.Database.URL,
		MaxConns: config.Database.MaxConns,
		MinConns: config.Database.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return pool, nil
}
