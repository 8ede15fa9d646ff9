package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/kpisim/pkg/aggregation"
	"github.com/ethpandaops/kpisim/pkg/api"
	"github.com/ethpandaops/kpisim/pkg/api/handlers"
	"github.com/ethpandaops/kpisim/pkg/broadcast"
	"github.com/ethpandaops/kpisim/pkg/clock"
	"github.com/ethpandaops/kpisim/pkg/observability"
	"github.com/ethpandaops/kpisim/pkg/records"
	"github.com/ethpandaops/kpisim/pkg/redis"
	"github.com/ethpandaops/kpisim/pkg/replay"
	"github.com/ethpandaops/kpisim/pkg/server"
	"github.com/ethpandaops/kpisim/pkg/simulation"
	"github.com/ethpandaops/kpisim/pkg/storage"
	"github.com/ethpandaops/kpisim/pkg/transport"
)

// Source names of the replayed series.
const (
	EnergySource     = "energy"
	ProductionSource = "production"
)

// ErrNoRecords is returned when a record stream is empty
var ErrNoRecords = errors.New("no records to replay")

// Service encapsulates the simulation application
type Service struct {
	config *Config
	log    *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	pool   *storage.Pool
	reader *storage.Reader
	relay  *redis.Relay
	clock  *clock.Clock
	hub    *broadcast.Hub
	sim    *simulation.Service
	ws     *transport.Handler
	server *server.Server
	api    api.Service

	// Servers
	healthServer *http.Server
	pprofServer  *http.Server
}

// LoadStreams reads the energy and production streams from the record file.
func LoadStreams(log logrus.FieldLogger, cfg *records.Config) (energy, production *records.Stream, err error) {
	loader := records.NewLoader(log)

	energy, err = loader.LoadFile(EnergySource, cfg.Path, cfg.EnergyCode)
	if err != nil {
		return nil, nil, err
	}

	production, err = loader.LoadFile(ProductionSource, cfg.Path, cfg.ProductionCode)
	if err != nil {
		return nil, nil, err
	}

	for _, s := range []*records.Stream{energy, production} {
		if s.Len() == 0 {
			return nil, nil, fmt.Errorf("%w: %s stream is empty", ErrNoRecords, s.Name())
		}
	}

	return energy, production, nil
}

// NewService creates a new simulation application
func NewService(log *logrus.Logger, cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	energy, production, err := LoadStreams(log, &cfg.Records)
	if err != nil {
		return nil, err
	}

	initial, _ := records.StartTime(cfg.Simulation.StartOffset, energy, production)

	s := &Service{
		config: cfg,
		log:    log,
		hub:    broadcast.NewHub(log),
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.build(energy, production, initial); err != nil {
		s.cancel()
		s.closeClients()

		return nil, err
	}

	return s, nil
}

func (s *Service) build(energy, production *records.Stream, initial time.Time) error {
	cfg := s.config

	var err error

	s.pool, err = storage.Open(s.log, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage pool: %w", err)
	}

	s.reader, err = storage.OpenReader(s.log, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage reader: %w", err)
	}

	stats := replay.NewRegistry()
	store := replay.NewPoolStore(s.pool)

	energyWorker, err := replay.NewWorker(s.log, replay.Source{
		Name:            EnergySource,
		FilterCode:      cfg.Records.EnergyCode,
		UpsertStatement: storage.UpsertEnergy,
	}, energy, store, stats.Get(EnergySource))
	if err != nil {
		return fmt.Errorf("failed to create energy worker: %w", err)
	}

	productionWorker, err := replay.NewWorker(s.log, replay.Source{
		Name:            ProductionSource,
		FilterCode:      cfg.Records.ProductionCode,
		UpsertStatement: storage.UpsertProduction,
	}, production, store, stats.Get(ProductionSource))
	if err != nil {
		return fmt.Errorf("failed to create production worker: %w", err)
	}

	aggregator, err := aggregation.NewEngine(s.log, s.reader, cfg.KPI.AnomalyCeiling)
	if err != nil {
		return fmt.Errorf("failed to create aggregation engine: %w", err)
	}

	schedule, err := aggregation.NewSchedule(&cfg.KPI)
	if err != nil {
		return fmt.Errorf("failed to create kpi schedule: %w", err)
	}

	s.clock, err = clock.New(s.log, cfg.Simulation.Cadence, cfg.Simulation.Speed)
	if err != nil {
		return fmt.Errorf("failed to create clock: %w", err)
	}

	publishers := []simulation.Publisher{
		simulation.PublisherFunc(func(payload []byte) { s.hub.Publish(payload) }),
	}

	opts := simulation.Options{
		Clock:      s.clock,
		Workers:    []simulation.Replayer{energyWorker, productionWorker},
		Aggregator: aggregator,
		Schedule:   schedule,
		Maintainer: s.pool,
		Statistics: stats,
		Levels:     s.log,
		Initial:    initial,
	}

	var history handlers.History

	if cfg.Redis.Enabled() {
		client, err := redis.New(&cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}

		s.relay = redis.NewRelay(s.log, &cfg.Redis, client)
		publishers = append(publishers, s.relay)
		opts.Recorder = s.relay
		history = s.relay
	}

	opts.Publishers = publishers

	s.sim, err = simulation.NewService(s.log, &cfg.Simulation, opts)
	if err != nil {
		return fmt.Errorf("failed to create simulation service: %w", err)
	}

	s.ws = transport.NewHandler(s.ctx, s.log, s.hub, s.sim, func() any { return s.sim.Status() }, transport.Config{
		CommandRate:  cfg.Server.CommandRate,
		CommandBurst: cfg.Server.CommandBurst,
	})

	s.server, err = server.NewServer(s.log, &cfg.Server, s.ws, s.health)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	s.api = api.NewService(&cfg.API, s.sim, history, s.log)

	return nil
}

// Simulation returns the simulation service.
func (s *Service) Simulation() *simulation.Service {
	return s.sim
}

// Start initializes and starts the application. The simulation itself waits for
// a start command.
func (s *Service) Start() error {
	s.log.Info("Starting kpisim engine...")

	ctx := s.ctx

	observability.StartMetricsServer(s.config.MetricsAddr)
	s.log.WithField("addr", s.config.MetricsAddr).Info("Started metrics server")

	if s.config.HealthCheckAddr != "" {
		s.startHealthCheck()
	}

	if s.config.PProfAddr != "" {
		s.startPProf()
	}

	if err := s.pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start storage pool: %w", err)
	}

	if err := s.pool.Clean(ctx); err != nil {
		s.log.WithError(err).Warn("Failed to clean database at startup")
	}

	if s.relay != nil {
		if err := s.relay.Ping(ctx); err != nil {
			s.log.WithError(err).Warn("Redis is unreachable, broadcasts will not be mirrored")
		}
	}

	if err := s.sim.Start(ctx); err != nil {
		return fmt.Errorf("failed to start simulation: %w", err)
	}

	if err := s.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if err := s.api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API service: %w", err)
	}

	s.log.WithField("initial_time", s.sim.Initial().Format(time.RFC3339)).Info("kpisim engine started successfully")

	return nil
}

// Stop gracefully shuts down the application
func (s *Service) Stop() error {
	s.log.Info("Shutting down engine...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopService := func(name string, stopFunc func() error) {
		if err := stopFunc(); err != nil {
			s.log.WithError(err).Errorf("Failed to stop %s", name)
		}
	}

	// 1. Stop accepting requests and commands
	if s.api != nil {
		stopService("API service", s.api.Stop)
	}

	if s.server != nil {
		stopService("server", s.server.Stop)
	}

	if s.ws != nil {
		s.ws.Close()
	}

	// 2. Stop the clock and wait for in-flight tick work
	if s.sim != nil {
		s.sim.Stop()
	}

	s.cancel()

	// 3. Close clients
	s.closeClients()

	// 4. Stop HTTP servers
	if s.healthServer != nil {
		stopService("health check server", func() error { return s.healthServer.Shutdown(ctx) })
	}

	if s.pprofServer != nil {
		stopService("pprof server", func() error { return s.pprofServer.Shutdown(ctx) })
	}

	stopService("metrics server", func() error { return observability.StopMetricsServer(ctx) })

	return nil
}

func (s *Service) closeClients() {
	if s.relay != nil {
		if err := s.relay.Close(); err != nil {
			s.log.WithError(err).Error("Failed to close redis client")
		}
	}

	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			s.log.WithError(err).Error("Failed to close storage reader")
		}
	}

	if s.pool != nil {
		if err := s.pool.Stop(); err != nil {
			s.log.WithError(err).Error("Failed to stop storage pool")
		}
	}
}

func (s *Service) health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Service) startHealthCheck() {
	s.log.WithField("addr", s.config.HealthCheckAddr).Info("Starting health check server")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := s.health(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.healthServer = &http.Server{
		Addr:              s.config.HealthCheckAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Health check server failed")
		}
	}()
}

func (s *Service) startPProf() {
	s.log.WithField("addr", s.config.PProfAddr).Info("Starting pprof server")

	s.pprofServer = &http.Server{
		Addr:              s.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	go func() {
		if err := s.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Pprof server failed")
		}
	}()
}
