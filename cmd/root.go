// Package cmd contains the CLI commands for kpisim
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Global vars needed for cobra CLI
var (
	cfgFile string
	logger  *logrus.Logger
)

// rootCmd represents the base command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var rootCmd = &cobra.Command{
	Use:   "kpisim",
	Short: "Replay recorded plant data and compute energy KPIs in simulated time",
	Long: `kpisim replays recorded energy and production readings into PostgreSQL on a
virtual clock, computes daily and weekly energy-per-production ratios and
streams status and results to websocket dashboards.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error, fatal, panic)")

	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = "./config.yaml"
	}
}

// applyLogLevel sets the level from the --log-level flag, falling back to the
// configured one.
func applyLogLevel(configured string) error {
	logLevel, err := rootCmd.PersistentFlags().GetString("log-level")
	if err != nil || logLevel == "" {
		logLevel = configured
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}

	logger.SetLevel(level)

	return nil
}
