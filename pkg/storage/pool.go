package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/kpisim/pkg/observability"
)

// driverName is the database/sql driver registered by github.com/lib/pq.
const driverName = "postgres"

// maintenanceConns are kept outside the session pool for heartbeats, pings and
// cleaning.
const maintenanceConns = 1

var (
	// ErrAcquire is returned when a pooled connection cannot be obtained
	ErrAcquire = errors.New("failed to acquire storage session")
	// ErrPoolExhausted is returned when no pooled connection became free within the acquire timeout
	ErrPoolExhausted = errors.New("storage pool exhausted")
)

// PoolStats is a snapshot of pool health.
type PoolStats struct {
	Total         int    `json:"n_conn"`
	Active        int    `json:"n_active_conn"`
	Idle          int    `json:"n_idle_conn"`
	Heartbeats    uint64 `json:"n_heartbeats"`
	Acquired      uint64 `json:"n_acquired"`
	AcquireFailed uint64 `json:"n_acquire_failed"`
	Timeouts      uint64 `json:"n_timeouts"`
	Waits         int64  `json:"n_waits"`
	MaxOpen       int    `json:"n_max_conn"`
}

// Pool is the bounded session pool used by replay workers. Released sessions
// keep their connection and prepared statements for the next Acquire.
type Pool struct {
	log     logrus.FieldLogger
	config  *Config
	db      *sql.DB
	catalog Catalog

	slots chan struct{}
	idle  chan *Session

	mu     sync.Mutex
	closed bool

	active        atomic.Int64
	waits         atomic.Int64
	acquired      atomic.Uint64
	acquireFailed atomic.Uint64
	timeouts      atomic.Uint64
	heartbeats    atomic.Uint64

	done chan struct{}
	wg   sync.WaitGroup
}

// Open connects a pool to the configured database.
func Open(log logrus.FieldLogger, cfg *Config) (*Pool, error) {
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage pool: %w", err)
	}

	pool, err := NewPool(log, cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return pool, nil
}

// NewPool wraps an existing database handle.
func NewPool(log logrus.FieldLogger, cfg *Config, db *sql.DB) (*Pool, error) {
	if cfg.MaxOpenConns <= 0 {
		return nil, ErrInvalidPoolSize
	}

	catalog, err := NewCatalog(cfg)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns + maintenanceConns)
	db.SetMaxIdleConns(maintenanceConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Pool{
		log:     log.WithField("component", "storage"),
		config:  cfg,
		db:      db,
		catalog: catalog,
		slots:   make(chan struct{}, cfg.MaxOpenConns),
		idle:    make(chan *Session, max(0, min(cfg.MaxIdleConns, cfg.MaxOpenConns))),
		done:    make(chan struct{}),
	}, nil
}

// Start verifies connectivity, applies the schema when configured and starts
// the heartbeat loop.
func (p *Pool) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	if err := p.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to reach storage: %w", err)
	}

	if p.config.Migrate {
		if err := p.Migrate(ctx); err != nil {
			return err
		}
	}

	if p.config.HeartbeatInterval > 0 {
		p.wg.Add(1)

		go p.heartbeatLoop()
	}

	p.log.WithField("max_conns", p.config.MaxOpenConns).Info("Storage pool started")

	return nil
}

// Stop ends the heartbeat loop and closes every connection.
func (p *Pool) Stop() error {
	select {
	case <-p.done:
	default:
		close(p.done)
	}

	p.wg.Wait()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	errs := p.closeIdle()

	return errors.Join(append(errs, p.db.Close())...)
}

func (p *Pool) closeIdle() []error {
	var errs []error

	for {
		select {
		case session := <-p.idle:
			if err := session.close(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errs
		}
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.Heartbeat(context.Background())
		}
	}
}

// Heartbeat pings the database once and counts the success.
func (p *Pool) Heartbeat(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	if err := p.db.PingContext(ctx); err != nil {
		p.log.WithError(err).Warn("Storage heartbeat failed")
		observability.RecordError("storage", "heartbeat")

		return false
	}

	p.heartbeats.Add(1)
	observability.PoolHeartbeats.Inc()

	stats := p.Stats()
	observability.RecordPoolConnections(stats.Total, stats.Active, stats.Idle)

	return true
}

// Ping checks connectivity without counting a heartbeat.
func (p *Pool) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	return p.db.PingContext(ctx)
}

// ResetHeartbeats zeroes the heartbeat counter.
func (p *Pool) ResetHeartbeats() {
	p.heartbeats.Store(0)
}

// Stats returns a snapshot of pool health.
func (p *Pool) Stats() PoolStats {
	active := int(p.active.Load())
	idle := len(p.idle)

	return PoolStats{
		Total:         active + idle,
		Active:        active,
		Idle:          idle,
		Heartbeats:    p.heartbeats.Load(),
		Acquired:      p.acquired.Load(),
		AcquireFailed: p.acquireFailed.Load(),
		Timeouts:      p.timeouts.Load(),
		Waits:         p.waits.Load(),
		MaxOpen:       p.config.MaxOpenConns,
	}
}

// Acquire takes a session from the pool, reusing an idle one when available.
// The caller must Release it. Waiting longer than the acquire timeout yields
// ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.config.AcquireTimeout)
	defer cancel()

	if err := p.reserve(acquireCtx); err != nil {
		return nil, p.acquireError(ctx, err)
	}

	session, err := p.take(acquireCtx)
	if err != nil {
		<-p.slots

		return nil, p.acquireError(ctx, err)
	}

	p.acquired.Add(1)
	p.active.Add(1)

	return session, nil
}

func (p *Pool) reserve(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	default:
	}

	p.waits.Add(1)

	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) take(ctx context.Context) (*Session, error) {
	for {
		select {
		case session := <-p.idle:
			if p.expired(session) {
				if err := session.close(); err != nil {
					p.log.WithError(err).Debug("Failed to close expired session")
				}

				continue
			}

			return session, nil
		default:
		}

		conn, err := p.db.Conn(ctx)
		if err != nil {
			return nil, err
		}

		return newSession(p, conn), nil
	}
}

func (p *Pool) expired(session *Session) bool {
	return p.config.ConnMaxLifetime > 0 && time.Since(session.created) > p.config.ConnMaxLifetime
}

func (p *Pool) acquireError(ctx context.Context, err error) error {
	p.acquireFailed.Add(1)

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		p.timeouts.Add(1)

		return fmt.Errorf("%w after %s: %w", ErrPoolExhausted, p.config.AcquireTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrAcquire, err)
}

// release parks a healthy session for reuse and frees its slot.
func (p *Pool) release(session *Session) error {
	p.active.Add(-1)

	defer func() { <-p.slots }()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed && !session.broken && !p.expired(session) {
		select {
		case p.idle <- session:
			return nil
		default:
		}
	}

	return session.close()
}

// Clean deletes all replayed data.
func (p *Pool) Clean(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	for _, id := range []string{CleanEnergy, CleanProduction} {
		stmt, err := p.catalog.Get(id)
		if err != nil {
			return err
		}

		res, err := p.db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("failed to run %s: %w", id, err)
		}

		rows, _ := res.RowsAffected()
		p.log.WithFields(logrus.Fields{
			"statement": id,
			"rows":      rows,
		}).Debug("Cleaned table")
	}

	return nil
}

// Migrate applies the bundled schema.
func (p *Pool) Migrate(ctx context.Context) error {
	schema, err := RenderSchema(p.config)
	if err != nil {
		return err
	}

	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	p.log.WithField("schema", p.config.Schema).Info("Applied storage schema")

	return nil
}
