package simulation

import (
	"github.com/ethpandaops/kpisim/pkg/replay"
	"github.com/ethpandaops/kpisim/pkg/storage"
)

// StatusMessage reports the clock state.
type StatusMessage struct {
	SimTime   int64  `json:"sim_time"`
	SimStatus string `json:"sim_status"`
	SimSpeed  uint64 `json:"sim_speed"`
}

// TickMessage announces a processed tick.
type TickMessage struct {
	SimTime int64  `json:"sim_time"`
	CalcID  uint64 `json:"calc_id"`
}

// KPIValue is one computed ratio.
type KPIValue struct {
	// Time is the unix time of the window end the ratio covers, which is at or
	// before the tick that triggered the calculation.
	Time   int64   `json:"time"`
	Value  float64 `json:"value"`
	CalcID uint64  `json:"calc_id"`
}

// DailyKPIMessage carries a daily ratio.
type DailyKPIMessage struct {
	KPI KPIValue `json:"kpi_daily"`
}

// WeeklyKPIMessage carries a weekly ratio.
type WeeklyKPIMessage struct {
	KPI KPIValue `json:"kpi_weekly"`
}

// OperationStatistics groups pool health and per-worker counters.
type OperationStatistics struct {
	Pool storage.PoolStats            `json:"pool"`
	DAQ  []replay.StatisticsSnapshot `json:"daq"`
}

// StatisticsMessage carries operation statistics.
type StatisticsMessage struct {
	Statistics OperationStatistics `json:"operation_statistics"`
}
