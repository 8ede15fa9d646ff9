// Package replay writes recorded series into storage as simulated time passes.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/kpisim/pkg/observability"
	"github.com/ethpandaops/kpisim/pkg/records"
	"github.com/ethpandaops/kpisim/pkg/storage"
)

var (
	// ErrNameRequired is returned when a source has no name
	ErrNameRequired = errors.New("replay source name is required")
	// ErrStatementRequired is returned when a source has no upsert statement
	ErrStatementRequired = errors.New("replay source upsert statement is required")
)

// Session is a storage session able to write records.
type Session interface {
	Upsert(ctx context.Context, statement string, p records.DataPoint) (reused bool, err error)
	Release() error
}

// Store hands out storage sessions.
type Store interface {
	Acquire(ctx context.Context) (Session, error)
}

// Source configures one replayed series.
type Source struct {
	// Name identifies the worker in statistics and logs.
	Name string
	// FilterCode selects the record file lines of this series.
	FilterCode int
	// UpsertStatement is the storage statement identifier used for writes.
	UpsertStatement string
}

// Validate validates the source configuration
func (s Source) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}

	if s.FilterCode == 0 {
		return records.ErrFilterCodeRequired
	}

	if s.UpsertStatement == "" {
		return ErrStatementRequired
	}

	return nil
}

// Worker replays one stream. Tick is called from a single goroutine at a time.
type Worker struct {
	log    logrus.FieldLogger
	source Source
	stream *records.Stream
	store  Store
	stats  *Statistics
}

// NewWorker creates a replay worker for stream.
func NewWorker(log logrus.FieldLogger, source Source, stream *records.Stream, store Store, stats *Statistics) (*Worker, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}

	return &Worker{
		log:    log.WithField("component", "replay").WithField("source", source.Name),
		source: source,
		stream: stream,
		store:  store,
		stats:  stats,
	}, nil
}

// Name returns the source name.
func (w *Worker) Name() string {
	return w.source.Name
}

// Stream returns the replayed stream.
func (w *Worker) Stream() *records.Stream {
	return w.stream
}

// Reset positions the stream on the first point at or after simTime.
func (w *Worker) Reset(simTime time.Time) error {
	if err := w.stream.Seek(simTime); err != nil {
		return err
	}

	w.log.WithFields(logrus.Fields{
		"sim_time": simTime.UTC().Format(time.RFC3339),
		"cursor":   w.stream.Cursor(),
	}).Debug("Cursor reset")

	return nil
}

// Tick writes every point due at simTime. Write failures are counted and logged;
// only an exhausted storage pool is returned.
func (w *Worker) Tick(ctx context.Context, simTime time.Time) error {
	batch := w.stream.Drain(simTime)
	if len(batch) == 0 {
		return nil
	}

	return w.write(ctx, batch)
}

func (w *Worker) write(ctx context.Context, batch []records.DataPoint) error {
	start := time.Now()

	w.stats.operations.Add(1)
	w.stats.recordsToWrite.Add(uint64(len(batch)))
	w.stats.acquire.Add(1)

	session, err := w.store.Acquire(ctx)
	if err != nil {
		w.stats.acquireFailed.Add(1)
		w.stats.processingExceptions.Add(1)
		observability.RecordReplayBatch(w.source.Name, 0, len(batch), time.Since(start).Seconds())
		observability.RecordError("replay", "acquire")

		w.log.WithError(err).WithField("records", len(batch)).Error("Failed to acquire storage session")

		if errors.Is(err, storage.ErrPoolExhausted) {
			return fmt.Errorf("replay %s: %w", w.source.Name, err)
		}

		return nil
	}

	defer func() {
		if err := session.Release(); err != nil {
			w.log.WithError(err).Warn("Failed to release storage session")
		}
	}()

	written, failed := 0, 0

	for _, p := range batch {
		reused, err := session.Upsert(ctx, w.source.UpsertStatement, p)
		if reused {
			w.stats.preparedStmtReuse.Add(1)
		}

		if err != nil {
			failed++

			w.stats.recordsWriteFailed.Add(1)
			w.stats.processingExceptions.Add(1)

			w.log.WithError(err).WithField("ts", p.Timestamp.UTC().Format(time.RFC3339)).Warn("Failed to write record")

			continue
		}

		written++

		w.stats.recordsWrite.Add(1)
	}

	observability.RecordReplayBatch(w.source.Name, written, failed, time.Since(start).Seconds())

	w.log.WithFields(logrus.Fields{
		"written": written,
		"failed":  failed,
	}).Trace("Batch written")

	return nil
}
