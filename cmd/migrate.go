package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ethpandaops/kpisim/pkg/storage"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the storage schema",
	Long:  `Creates the schema, tables and series functions used by replay and aggregation.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	config, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	if err := applyLogLevel(config.Logging); err != nil {
		return err
	}

	if err := config.Storage.Validate(); err != nil {
		return err
	}

	pool, err := storage.Open(logger, &config.Storage)
	if err != nil {
		return err
	}

	defer func() {
		if err := pool.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to close storage pool")
		}
	}()

	return pool.Migrate(cmd.Context())
}
