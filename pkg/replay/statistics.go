package replay

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Statistics are the operational counters of one replay worker. All counters
// only grow until Reset.
type Statistics struct {
	operations           atomic.Uint64
	processingExceptions atomic.Uint64
	acquire              atomic.Uint64
	acquireFailed        atomic.Uint64
	preparedStmtReuse    atomic.Uint64
	recordsToWrite       atomic.Uint64
	recordsWrite         atomic.Uint64
	recordsWriteFailed   atomic.Uint64
}

// StatisticsSnapshot is a point-in-time copy of Statistics.
type StatisticsSnapshot struct {
	Name                 string `json:"item_name"`
	Operations           uint64 `json:"operations_count"`
	ProcessingExceptions uint64 `json:"processing_exception_count"`
	Acquire              uint64 `json:"acquire_db_session_count"`
	AcquireFailed        uint64 `json:"acquire_db_session_failed_count"`
	PreparedStmtReuse    uint64 `json:"prepared_stmt_reuse_count"`
	RecordsToWrite       uint64 `json:"records_to_write_count"`
	RecordsWrite         uint64 `json:"records_write_count"`
	RecordsWriteFailed   uint64 `json:"records_write_failed_count"`
}

// Snapshot copies the counters.
func (s *Statistics) Snapshot(name string) StatisticsSnapshot {
	return StatisticsSnapshot{
		Name:                 name,
		Operations:           s.operations.Load(),
		ProcessingExceptions: s.processingExceptions.Load(),
		Acquire:              s.acquire.Load(),
		AcquireFailed:        s.acquireFailed.Load(),
		PreparedStmtReuse:    s.preparedStmtReuse.Load(),
		RecordsToWrite:       s.recordsToWrite.Load(),
		RecordsWrite:         s.recordsWrite.Load(),
		RecordsWriteFailed:   s.recordsWriteFailed.Load(),
	}
}

// Reset zeroes every counter.
func (s *Statistics) Reset() {
	s.operations.Store(0)
	s.processingExceptions.Store(0)
	s.acquire.Store(0)
	s.acquireFailed.Store(0)
	s.preparedStmtReuse.Store(0)
	s.recordsToWrite.Store(0)
	s.recordsWrite.Store(0)
	s.recordsWriteFailed.Store(0)
}

// Registry holds the statistics of every worker, keyed by worker name.
type Registry struct {
	mu    sync.RWMutex
	stats map[string]*Statistics
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{stats: make(map[string]*Statistics)}
}

// Get returns the statistics for name, creating them on first use.
func (r *Registry) Get(name string) *Statistics {
	r.mu.RLock()
	s, ok := r.stats[name]
	r.mu.RUnlock()

	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stats[name]; ok {
		return s
	}

	s = &Statistics{}
	r.stats[name] = s

	return s
}

// Snapshot returns every worker's counters ordered by name.
func (r *Registry) Snapshot() []StatisticsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]StatisticsSnapshot, 0, len(r.stats))
	for name, s := range r.stats {
		out = append(out, s.Snapshot(name))
	}

	slices.SortFunc(out, func(a, b StatisticsSnapshot) int {
		return strings.Compare(a.Name, b.Name)
	})

	return out
}

// ResetAll zeroes every worker's counters.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.stats {
		s.Reset()
	}
}
