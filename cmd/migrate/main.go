package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvloznov/taxledger/internal/archive"
	"github.com/dvloznov/taxledger/internal/config"
	"github.com/dvloznov/taxledger/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		appliedBy  string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:           "taxledger-migrate",
		Short:         "Create or upgrade the BigQuery tables of the ingestion audit trail",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logger.NewWithOptions(os.Stderr, logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

			if dryRun {
				migs, err := archive.Migrations(cfg.Archive.ProjectID, cfg.Archive.Dataset)
				if err != nil {
					return err
				}
				for _, m := range migs {
					fmt.Fprintf(cmd.OutOrStdout(), "-- %s\n%s\n", m.Filename, m.SQL)
				}
				return nil
			}

			m, err := archive.NewMigrator(cmd.Context(), cfg.Archive.ProjectID, cfg.Archive.Dataset, cfg.Archive.CredentialsFile, appliedBy, log)
			if err != nil {
				return err
			}
			defer m.Close()

			n, err := m.Up(cmd.Context())
			if err != nil {
				return err
			}
			if n == 0 {
				log.Info().Msg("No new migrations to apply, dataset is up to date")
			} else {
				log.Info().Int("applied", n).Msg("Migrations applied")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (archive.project_id and archive.dataset are used)")
	cmd.Flags().StringVar(&appliedBy, "applied-by", "migrate-cli", "name recorded in schema_migrations")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the rendered migrations without applying them")
	return cmd
}
