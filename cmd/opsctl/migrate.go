package main

import (
	"github.com/mohammad-safakhou/opsctl/internal/store"
	"github.com/spf13/cobra"
)

func migrateCMD(a *app) *cobra.Command {
	var migDir string
	var migDirDefault = "file://migrations"
	var direction string
	var steps int

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Apply the local schema mirror (development databases only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := a.cfg.RequirePostgres()
			if err != nil {
				return err
			}
			if migDir == "" {
				migDir = migDirDefault
			}
			if err := store.Migrate(migDir, dsn, direction, steps); err != nil {
				return err
			}
			a.pr.OK("migrations %s applied from %s", direction, migDir)
			return nil
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", migDirDefault, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
