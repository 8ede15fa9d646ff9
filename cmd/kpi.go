package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/kpisim/pkg/aggregation"
	"github.com/ethpandaops/kpisim/pkg/storage"
)

// ErrInvalidPeriod is returned for a --period other than daily or weekly
var ErrInvalidPeriod = errors.New("period must be daily or weekly")

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	kpiAt     string
	kpiPeriod string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var kpiCmd = &cobra.Command{
	Use:   "kpi",
	Short: "Calculate one KPI against stored data",
	Long:  `Calculates the ratio for the window ending at --at and prints it as JSON.`,
	RunE:  runKPI,
}

func init() {
	rootCmd.AddCommand(kpiCmd)
	kpiCmd.Flags().StringVar(&kpiAt, "at", "", "window end, RFC3339 (required)")
	kpiCmd.Flags().StringVar(&kpiPeriod, "period", string(aggregation.Daily), "daily or weekly")
	_ = kpiCmd.MarkFlagRequired("at")
}

type kpiOutput struct {
	Period     aggregation.Period `json:"period"`
	From       time.Time          `json:"from"`
	To         time.Time          `json:"to"`
	Value      float64            `json:"value"`
	Energy     float64            `json:"energy"`
	Production float64            `json:"production"`
	Valid      bool               `json:"valid"`
	Reason     string             `json:"reason,omitempty"`
}

func runKPI(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	period := aggregation.Period(kpiPeriod)
	if period != aggregation.Daily && period != aggregation.Weekly {
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, kpiPeriod)
	}

	at, err := time.Parse(time.RFC3339, kpiAt)
	if err != nil {
		return fmt.Errorf("invalid --at: %w", err)
	}

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

	reader, err := storage.OpenReader(logger, &config.Storage)
	if err != nil {
		return err
	}
	defer reader.Close()

	calc, err := aggregation.NewEngine(logger, reader, config.KPI.AnomalyCeiling)
	if err != nil {
		return err
	}

	res, err := calc.CalculatePeriod(cmd.Context(), period, at.UTC())
	if err != nil {
		return err
	}

	out := kpiOutput{
		Period:     res.Period,
		From:       res.From,
		To:         res.To,
		Value:      res.Value,
		Energy:     res.Energy,
		Production: res.Production,
		Valid:      res.Valid(),
	}

	if res.Reason != nil {
		out.Reason = res.Reason.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}
