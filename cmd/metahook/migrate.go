package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memohai/metahook/internal/db"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(migrateDirectionCmd(db.Up, "Apply all pending migrations"))
	cmd.AddCommand(migrateDirectionCmd(db.Down, "Roll back all migrations"))
	return cmd
}

func migrateDirectionCmd(dir db.Direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(dir),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadCLIConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
			defer cancel()
			pool, err := db.Open(ctx, cfg.Postgres)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()
			return db.Migrate(log, pool, dir)
		},
	}
}
