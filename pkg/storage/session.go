package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/kpisim/pkg/records"
)

// ErrRecordWrite is returned when a single record cannot be written
var ErrRecordWrite = errors.New("failed to write record")

// Session is one pooled connection with its prepared statements. A session is
// used by a single goroutine and must be released after use. Statements stay
// prepared on the connection after Release.
type Session struct {
	pool    *Pool
	conn    *sql.Conn
	stmts   map[string]*sql.Stmt
	created time.Time
	broken  bool
}

func newSession(pool *Pool, conn *sql.Conn) *Session {
	return &Session{
		pool:    pool,
		conn:    conn,
		stmts:   make(map[string]*sql.Stmt),
		created: time.Now(),
	}
}

// Upsert writes p with the statement identified by id. It reports whether the
// statement was already prepared on this connection, possibly by an earlier
// holder of the session.
func (s *Session) Upsert(ctx context.Context, id string, p records.DataPoint) (bool, error) {
	stmt, reused, err := s.prepare(ctx, id)
	if err != nil {
		return false, err
	}

	value := sql.NullFloat64{Float64: p.Value, Valid: !p.IsNull}

	if _, err := stmt.ExecContext(ctx, p.Timestamp.UTC(), value); err != nil {
		s.markBroken(err)

		return reused, fmt.Errorf("%w at %s: %w", ErrRecordWrite, p.Timestamp.UTC(), err)
	}

	return reused, nil
}

func (s *Session) prepare(ctx context.Context, id string) (*sql.Stmt, bool, error) {
	if stmt, ok := s.stmts[id]; ok {
		return stmt, true, nil
	}

	query, err := s.pool.catalog.Get(id)
	if err != nil {
		return nil, false, err
	}

	stmt, err := s.conn.PrepareContext(ctx, query)
	if err != nil {
		s.markBroken(err)

		return nil, false, fmt.Errorf("failed to prepare %s: %w", id, err)
	}

	s.stmts[id] = stmt

	return stmt, false, nil
}

// markBroken keeps a dead connection from going back to the pool.
func (s *Session) markBroken(err error) {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		s.broken = true
	}
}

// Release returns the session to the pool.
func (s *Session) Release() error {
	return s.pool.release(s)
}

func (s *Session) close() error {
	var errs []error

	for id, stmt := range s.stmts {
		if err := stmt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", id, err))
		}
	}

	clear(s.stmts)

	if err := s.conn.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
