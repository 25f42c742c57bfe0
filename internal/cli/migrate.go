package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"signet/internal/platform/config"
	"signet/internal/platform/postgres"
)

// NewMigrateCommand manages the postgres schema of the kv store.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), rootOpts, func(ctx context.Context, cfg *config.Config) error {
				db, err := postgres.Connect(ctx, cfg.Postgres)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := postgres.RunMigrations(ctx, db); err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied state of every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), rootOpts, func(ctx context.Context, cfg *config.Config) error {
				db, err := postgres.Connect(ctx, cfg.Postgres)
				if err != nil {
					return err
				}
				defer db.Close()
				return postgres.MigrationStatus(ctx, db)
			})
		},
	})
	return cmd
}

func withDatabase(ctx context.Context, rootOpts *RootOptions, fn func(context.Context, *config.Config) error) error {
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return errors.New("SIGNET_POSTGRES_URL is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, cfg)
}
