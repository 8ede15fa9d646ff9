package simulation

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/kpisim/pkg/aggregation"
	"github.com/ethpandaops/kpisim/pkg/observability"
	"github.com/ethpandaops/kpisim/pkg/redis"
	"github.com/ethpandaops/kpisim/pkg/storage"
)

type tickJob struct {
	simTime time.Time
	gen     uint64
}

// onTick runs on the clock driver and must not block.
func (s *Service) onTick(simTime time.Time) {
	job := tickJob{simTime: simTime, gen: s.gen.Load()}

	select {
	case s.ticks <- job:
		observability.TickQueueDepth.Set(float64(len(s.ticks)))
	default:
		observability.TicksCoalesced.Inc()
		s.log.WithField("sim_time", simTime.UTC().Format(time.RFC3339)).Debug("Tick queue full, coalescing")
	}
}

func (s *Service) consume(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.ticks:
			observability.TickQueueDepth.Set(float64(len(s.ticks)))
			s.process(ctx, job)
		}
	}
}

// flush drops queued ticks and waits for the one in flight.
func (s *Service) flush() {
	s.gen.Add(1)
	s.jobMu.Lock()
	//nolint:staticcheck // waits for the in-flight tick
	s.jobMu.Unlock()
}

func (s *Service) process(ctx context.Context, job tickJob) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if job.gen != s.gen.Load() {
		return
	}

	start := time.Now()
	calcID := s.calcID.Load()

	s.publish(TickMessage{SimTime: job.simTime.Unix(), CalcID: calcID})

	var g errgroup.Group

	for _, w := range s.workers {
		g.Go(func() error {
			return w.Tick(ctx, job.simTime)
		})
	}

	if err := g.Wait(); err != nil {
		s.log.WithError(err).Error("Replay failed")

		if errors.Is(err, storage.ErrPoolExhausted) {
			observability.RecordError("simulation", "pool_exhausted")
		} else {
			observability.RecordError("simulation", "replay")
		}
	}

	due, next := s.schedule.Due(s.next, job.simTime)
	s.next = next

	for _, b := range due {
		s.aggregate(ctx, aggregation.Daily, b.Time, calcID)

		if b.Weekly {
			s.aggregate(ctx, aggregation.Weekly, b.Time, calcID)
		}
	}

	observability.TicksTotal.Inc()
	observability.SimulatedTime.Set(float64(job.simTime.Unix()))
	observability.TickDuration.Observe(time.Since(start).Seconds())
}

func (s *Service) aggregate(ctx context.Context, period aggregation.Period, boundary time.Time, calcID uint64) {
	log := s.log.WithFields(logrus.Fields{
		"period":   string(period),
		"boundary": boundary.UTC().Format(time.RFC3339),
	})

	res, err := s.aggregator.CalculatePeriod(ctx, period, boundary)
	if err != nil {
		log.WithError(err).Error("Failed to calculate kpi")
		observability.RecordKPI(string(period), "error", 0)

		return
	}

	result := "valid"
	if !res.Valid() {
		result = "invalid"
	}

	observability.RecordKPI(string(period), result, res.Value)

	value := KPIValue{Time: boundary.Unix(), Value: res.Value, CalcID: calcID}

	switch period {
	case aggregation.Weekly:
		s.publish(WeeklyKPIMessage{KPI: value})
	default:
		s.publish(DailyKPIMessage{KPI: value})
	}

	log.WithField("value", res.Value).Debug("KPI calculated")

	if s.recorder == nil {
		return
	}

	point := redis.KPIPoint{Time: value.Time, Value: value.Value, CalcID: calcID}
	if err := s.recorder.RecordKPI(ctx, string(period), point); err != nil {
		log.WithError(err).Warn("Failed to record kpi history")
	}
}
