package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/kpisim/pkg/aggregation"
)

// Reader serves aggregation queries over a connection of its own, so
// calculations never compete with replay writes for pooled connections.
type Reader struct {
	log     logrus.FieldLogger
	config  *Config
	db      *sql.DB
	catalog Catalog
}

var _ aggregation.Source = (*Reader)(nil)

// OpenReader opens a single-connection database handle for aggregation.
func OpenReader(log logrus.FieldLogger, cfg *Config) (*Reader, error) {
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage reader: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	reader, err := NewReader(log, cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return reader, nil
}

// NewReader wraps an existing database handle.
func NewReader(log logrus.FieldLogger, cfg *Config, db *sql.DB) (*Reader, error) {
	catalog, err := NewCatalog(cfg)
	if err != nil {
		return nil, err
	}

	return &Reader{
		log:     log.WithField("component", "storage_reader"),
		config:  cfg,
		db:      db,
		catalog: catalog,
	}, nil
}

// Close closes the reader connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// EnergySeries returns energy readings for [from, to] including the nearest
// reading on each side of the window.
func (r *Reader) EnergySeries(ctx context.Context, from, to time.Time) ([]aggregation.Sample, error) {
	return r.series(ctx, SelectEnergy, from, to)
}

// ProductionSeries returns production readings for the window.
func (r *Reader) ProductionSeries(ctx context.Context, from, to time.Time) ([]aggregation.Sample, error) {
	return r.series(ctx, SelectProduction, from, to)
}

func (r *Reader) series(ctx context.Context, id string, from, to time.Time) ([]aggregation.Sample, error) {
	query, err := r.catalog.Get(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.QueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", id, err)
	}
	defer rows.Close()

	var out []aggregation.Sample

	for rows.Next() {
		var (
			sample aggregation.Sample
			value  sql.NullFloat64
		)

		if err := rows.Scan(&sample.ID, &sample.Timestamp, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", id, err)
		}

		sample.Timestamp = sample.Timestamp.UTC()
		sample.Value = value.Float64
		sample.IsNull = !value.Valid

		out = append(out, sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", id, err)
	}

	r.log.WithFields(logrus.Fields{
		"statement": id,
		"rows":      len(out),
	}).Trace("Fetched series")

	return out, nil
}
