package cmd

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/kpisim/pkg/aggregation"
	"github.com/ethpandaops/kpisim/pkg/engine"
	"github.com/ethpandaops/kpisim/pkg/records"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize the record file",
	Long:  `Loads the record file and prints stream summaries, the initial simulated time and the first KPI boundary.`,
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

type inspectOutput struct {
	Streams       []records.Summary `json:"streams"`
	InitialTime   time.Time         `json:"initial_time"`
	FirstBoundary time.Time         `json:"first_boundary"`
	FirstWeekly   bool              `json:"first_boundary_weekly"`
}

func runInspect(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	config, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	if err := applyLogLevel(config.Logging); err != nil {
		return err
	}

	if err := config.Records.Validate(); err != nil {
		return err
	}

	energy, production, err := engine.LoadStreams(logger, &config.Records)
	if err != nil {
		return err
	}

	schedule, err := aggregation.NewSchedule(&config.KPI)
	if err != nil {
		return err
	}

	initial, _ := records.StartTime(config.Simulation.StartOffset, energy, production)
	first := schedule.First(initial)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(inspectOutput{
		Streams:       []records.Summary{energy.Summary(), production.Summary()},
		InitialTime:   initial,
		FirstBoundary: first,
		FirstWeekly:   schedule.IsWeekly(first),
	})
}
