package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/kpisim/pkg/observability"
)

// ErrUnknownPeriod is returned for a KPI period without history
var ErrUnknownPeriod = errors.New("unknown kpi period")

// Periods with KPI history.
const (
	PeriodDaily  = "daily"
	PeriodWeekly = "weekly"
)

// KPIPoint is one stored KPI value.
type KPIPoint struct {
	Time   int64   `json:"time"`
	Value  float64 `json:"value"`
	CalcID uint64  `json:"calc_id"`
}

// Relay publishes broadcast payloads on a Redis channel and keeps a bounded
// history of KPI values per period.
type Relay struct {
	log    logrus.FieldLogger
	client redis.UniversalClient
	config *Config
}

// NewRelay creates a relay over client.
func NewRelay(log logrus.FieldLogger, cfg *Config, client redis.UniversalClient) *Relay {
	return &Relay{
		log:    log.WithField("component", "redis_relay"),
		client: client,
		config: cfg,
	}
}

// Channel returns the channel broadcasts are published on.
func (r *Relay) Channel() string {
	return r.config.PrefixKey("broadcast")
}

func (r *Relay) historyKey(period string) string {
	return r.config.PrefixKey("kpi:" + period)
}

// Publish mirrors a broadcast payload. Failures are logged, never returned.
func (r *Relay) Publish(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.client.Publish(ctx, r.Channel(), payload).Err(); err != nil {
		r.log.WithError(err).Warn("Failed to publish broadcast to redis")
		observability.RecordError("redis", "publish")
	}
}

// RecordKPI appends point to the history of period, trimming it to the configured size.
func (r *Relay) RecordKPI(ctx context.Context, period string, point KPIPoint) error {
	if err := validPeriod(period); err != nil {
		return err
	}

	data, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("failed to marshal kpi point: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.WriteTimeout)
	defer cancel()

	key := r.historyKey(period)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -r.config.HistorySize, -1)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record kpi: %w", err)
	}

	return nil
}

// KPIHistory returns up to limit most recent points of period, oldest first.
// A non-positive limit returns the whole history.
func (r *Relay) KPIHistory(ctx context.Context, period string, limit int64) ([]KPIPoint, error) {
	if err := validPeriod(period); err != nil {
		return nil, err
	}

	start := int64(0)
	if limit > 0 {
		start = -limit
	}

	raw, err := r.client.LRange(ctx, r.historyKey(period), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read kpi history: %w", err)
	}

	points := make([]KPIPoint, 0, len(raw))

	for _, item := range raw {
		var p KPIPoint
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			r.log.WithError(err).Warn("Skipping malformed kpi history entry")
			continue
		}

		points = append(points, p)
	}

	return points, nil
}

// ResetKPI drops the history of every period.
func (r *Relay) ResetKPI(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.WriteTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.historyKey(PeriodDaily), r.historyKey(PeriodWeekly)).Err(); err != nil {
		return fmt.Errorf("failed to reset kpi history: %w", err)
	}

	return nil
}

// Ping checks the Redis connection.
func (r *Relay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Relay) Close() error {
	return r.client.Close()
}

func validPeriod(period string) error {
	if period != PeriodDaily && period != PeriodWeekly {
		return fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}

	return nil
}
