package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gouravdev246/anonymous-comment/internal/platform/db"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/source"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/syncengine"
)

func newMigrateCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "create or update the comments schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}

			pool, err := db.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := source.Migrate(ctx, pool); err != nil {
				return err
			}
			log.Info("schema up to date")
			if !seed {
				return nil
			}

			store := source.NewPostgres(pool, source.NewLocalFeed(), log)
			existing, err := store.ListComments(ctx)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				log.Info("table not empty, skipping seed", zap.Int("rows", len(existing)))
				return nil
			}
			// Seed rows are ordered parent first.
			for _, row := range syncengine.Seed(time.Now().UTC()) {
				if _, err := store.InsertComment(ctx, row); err != nil {
					return err
				}
			}
			log.Info("seeded welcome thread")
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "insert the welcome thread into an empty table")
	return cmd
}
