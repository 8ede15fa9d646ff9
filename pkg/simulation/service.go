package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/kpisim/pkg/aggregation"
	"github.com/ethpandaops/kpisim/pkg/clock"
	"github.com/ethpandaops/kpisim/pkg/command"
	"github.com/ethpandaops/kpisim/pkg/observability"
	"github.com/ethpandaops/kpisim/pkg/redis"
	"github.com/ethpandaops/kpisim/pkg/replay"
	"github.com/ethpandaops/kpisim/pkg/storage"
)

const listenerHandle = "simulation"

var (
	// ErrMissingDependency is returned when a required option is nil
	ErrMissingDependency = errors.New("missing simulation dependency")
	// ErrLevelUnsupported is returned when no logger level can be changed
	ErrLevelUnsupported = errors.New("logging level cannot be changed")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("simulation service already started")
)

// Replayer writes due records of one stream.
type Replayer interface {
	Name() string
	Reset(simTime time.Time) error
	Tick(ctx context.Context, simTime time.Time) error
}

// Aggregator calculates a KPI for the window that ends at boundary.
type Aggregator interface {
	CalculatePeriod(ctx context.Context, period aggregation.Period, boundary time.Time) (aggregation.Result, error)
}

// Maintainer resets and reports on the replay database.
type Maintainer interface {
	Clean(ctx context.Context) error
	Stats() storage.PoolStats
	ResetHeartbeats()
}

// KPIRecorder keeps a history of calculated KPIs.
type KPIRecorder interface {
	RecordKPI(ctx context.Context, period string, point redis.KPIPoint) error
	ResetKPI(ctx context.Context) error
}

// Publisher receives every outbound message.
type Publisher interface {
	Publish(payload []byte)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(payload []byte)

// Publish calls f(payload).
func (f PublisherFunc) Publish(payload []byte) {
	f(payload)
}

// LevelSetter changes the logging level at runtime.
type LevelSetter interface {
	SetLevel(level logrus.Level)
}

// Options are the collaborators of a Service. Recorder and Levels are optional.
type Options struct {
	Clock      *clock.Clock
	Workers    []Replayer
	Aggregator Aggregator
	Schedule   *aggregation.Schedule
	Maintainer Maintainer
	Statistics *replay.Registry
	Publishers []Publisher
	Recorder   KPIRecorder
	Levels     LevelSetter
	// Initial is the simulated time every run starts from.
	Initial time.Time
}

// Service owns the simulation lifecycle: it executes control commands, runs
// replay and aggregation for every clock tick and publishes the results.
type Service struct {
	log    logrus.FieldLogger
	config *Config

	clock      *clock.Clock
	workers    []Replayer
	aggregator Aggregator
	schedule   *aggregation.Schedule
	maintainer Maintainer
	statistics *replay.Registry
	publishers []Publisher
	recorder   KPIRecorder
	levels     LevelSetter
	initial    time.Time

	calcID atomic.Uint64
	gen    atomic.Uint64

	// cmdMu serializes commands.
	cmdMu sync.Mutex
	// jobMu is held while a tick is processed and guards next.
	jobMu sync.Mutex
	next  time.Time
	ticks chan tickJob

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a simulation service.
func NewService(log logrus.FieldLogger, cfg *Config, opts Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case opts.Clock == nil:
		return nil, fmt.Errorf("%w: clock", ErrMissingDependency)
	case opts.Aggregator == nil:
		return nil, fmt.Errorf("%w: aggregator", ErrMissingDependency)
	case opts.Schedule == nil:
		return nil, fmt.Errorf("%w: schedule", ErrMissingDependency)
	case opts.Maintainer == nil:
		return nil, fmt.Errorf("%w: maintainer", ErrMissingDependency)
	case opts.Statistics == nil:
		return nil, fmt.Errorf("%w: statistics", ErrMissingDependency)
	}

	return &Service{
		log:        log.WithField("component", "simulation"),
		config:     cfg,
		clock:      opts.Clock,
		workers:    opts.Workers,
		aggregator: opts.Aggregator,
		schedule:   opts.Schedule,
		maintainer: opts.Maintainer,
		statistics: opts.Statistics,
		publishers: opts.Publishers,
		recorder:   opts.Recorder,
		levels:     opts.Levels,
		initial:    opts.Initial.UTC(),
		ticks:      make(chan tickJob, cfg.TickQueue),
	}, nil
}

// Start registers the tick listener and starts the tick consumer.
// The clock itself is started by the start command.
func (s *Service) Start(ctx context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)

	go s.consume(ctx)

	s.clock.Register(listenerHandle, s.onTick)

	observability.SimulationSpeed.Set(float64(s.clock.Speed()))

	s.log.WithField("initial_time", s.initial.Format(time.RFC3339)).Info("Simulation service started")

	return nil
}

// Stop stops the clock and waits for the tick consumer to exit.
func (s *Service) Stop() {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if !s.started {
		return
	}

	s.clock.Unregister(listenerHandle)
	s.clock.Stop()
	s.flush()
	s.cancel()
	s.wg.Wait()
	s.started = false

	s.log.Info("Simulation service stopped")
}

// CalcID returns the identifier of the current run.
func (s *Service) CalcID() uint64 {
	return s.calcID.Load()
}

// Initial returns the simulated time runs start from.
func (s *Service) Initial() time.Time {
	return s.initial
}

// HandleMessage decodes and executes a command envelope.
func (s *Service) HandleMessage(ctx context.Context, data []byte) error {
	cmd, err := command.Decode(data)
	if err != nil {
		s.log.WithError(err).Warn("Ignoring command")

		status := "malformed"
		if errors.Is(err, command.ErrUnknownType) {
			status = "unknown"
		}

		observability.RecordCommand("invalid", status)

		return err
	}

	return s.Handle(ctx, cmd)
}

// Handle executes cmd and publishes the resulting status or statistics.
func (s *Service) Handle(ctx context.Context, cmd command.Command) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	err := s.handle(ctx, cmd)
	if err != nil {
		observability.RecordCommand(string(cmd.Type), "error")
		s.log.WithError(err).WithField("command", cmd.Type).Error("Command failed")

		return err
	}

	observability.RecordCommand(string(cmd.Type), "ok")

	return nil
}

func (s *Service) handle(ctx context.Context, cmd command.Command) error {
	switch cmd.Type {
	case command.Start:
		return s.startRun(ctx)
	case command.Stop:
		s.clock.Stop()
		s.flush()
		s.log.Info("Simulation stopped")
	case command.Pause:
		s.clock.Pause(true)
		s.log.Info("Simulation paused")
	case command.Resume:
		s.clock.Pause(false)
		s.log.Info("Simulation resumed")
	case command.Speed:
		s.clock.SetSpeed(cmd.Speed)
		observability.SimulationSpeed.Set(float64(cmd.Speed))
		s.log.WithField("speed", cmd.Speed).Info("Simulation speed changed")
	case command.ResetStatistics:
		s.resetStatistics()
		s.publish(s.Statistics())

		return nil
	case command.GetStatistics:
		s.publish(s.Statistics())

		return nil
	case command.GlobalLoggingLevel:
		return s.setLevel(cmd.Level)
	default:
		return fmt.Errorf("%w: %q", command.ErrUnknownType, cmd.Type)
	}

	s.publish(s.Status())

	return nil
}

// startRun restarts the simulation from the initial time with a fresh calc id.
func (s *Service) startRun(ctx context.Context) error {
	s.clock.Stop()
	s.flush()

	if err := s.maintainer.Clean(ctx); err != nil {
		s.log.WithError(err).Warn("Failed to clean database, continuing")
		observability.RecordError("simulation", "clean")
	}

	s.jobMu.Lock()

	for _, w := range s.workers {
		if err := w.Reset(s.initial); err != nil {
			s.jobMu.Unlock()

			return fmt.Errorf("failed to reset %s cursor: %w", w.Name(), err)
		}
	}

	next := s.schedule.First(s.initial)
	s.next = next
	s.jobMu.Unlock()

	s.resetStatistics()

	calcID := s.calcID.Add(1)

	if s.recorder != nil {
		if err := s.recorder.ResetKPI(ctx); err != nil {
			s.log.WithError(err).Warn("Failed to reset kpi history")
		}
	}

	s.clock.Start(s.initial)

	s.log.WithFields(logrus.Fields{
		"calc_id":       calcID,
		"initial_time":  s.initial.Format(time.RFC3339),
		"next_boundary": next.Format(time.RFC3339),
	}).Info("Simulation started")

	s.publish(s.Status())

	return nil
}

func (s *Service) resetStatistics() {
	s.statistics.ResetAll()
	s.maintainer.ResetHeartbeats()
}

func (s *Service) setLevel(level string) error {
	if s.levels == nil {
		return ErrLevelUnsupported
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w: %w", command.ErrInvalidValue, err)
	}

	s.levels.SetLevel(lvl)
	s.log.WithField("level", lvl.String()).Info("Logging level changed")

	return nil
}

// Status returns the current clock status message.
func (s *Service) Status() StatusMessage {
	snap := s.clock.Snapshot()

	simTime := snap.SimTime
	if simTime.IsZero() {
		simTime = s.initial
	}

	return StatusMessage{
		SimTime:   simTime.Unix(),
		SimStatus: snap.State.String(),
		SimSpeed:  snap.Speed,
	}
}

// Statistics returns the current operation statistics message.
func (s *Service) Statistics() StatisticsMessage {
	return StatisticsMessage{
		Statistics: OperationStatistics{
			Pool: s.maintainer.Stats(),
			DAQ:  s.statistics.Snapshot(),
		},
	}
}

func (s *Service) publish(msg any) {
	if len(s.publishers) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.log.WithError(err).Error("Failed to marshal message")

		return
	}

	for _, p := range s.publishers {
		p.Publish(data)
	}
}
