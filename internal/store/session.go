package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// insertBatch bounds the rows per INSERT statement so the bind parameter
// count stays well below every driver's limit.
const insertBatch = 500

var ErrSessionClosed = errors.New("session closed")

// Session is a unit of database work on one dedicated connection. Close is
// safe to call more than once.
type Session struct {
	conn        *sqlx.Conn
	placeholder sq.PlaceholderFormat
	log         *zap.Logger

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// Append inserts rows into table in a single transaction: either every row
// is written or none is. It returns the number of rows written.
func (s *Session) Append(ctx context.Context, table string, columns []string, rows [][]any) (n int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, ignoreDone(tx.Rollback()))
		}
	}()

	for start := 0; start < len(rows); start += insertBatch {
		end := min(start+insertBatch, len(rows))

		q := sq.Insert(table).Columns(columns...).PlaceholderFormat(s.placeholder)
		for _, row := range rows[start:end] {
			if len(row) != len(columns) {
				return 0, fmt.Errorf("row has %d values for %d columns", len(row), len(columns))
			}
			q = q.Values(row...)
		}

		query, args, err := q.ToSql()
		if err != nil {
			return 0, fmt.Errorf("build insert: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// KnownLocationIDs lists every location already stored, in ascending order.
func (s *Session) KnownLocationIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	var ids []int64
	if err := s.conn.SelectContext(ctx, &ids, "SELECT id FROM locations ORDER BY id"); err != nil {
		return nil, fmt.Errorf("select location ids: %w", err)
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out, nil
}

// Close returns the connection to the pool.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		s.closeErr = s.conn.Close()
		s.log.Debug("session closed", zap.Error(s.closeErr))
	})
	return s.closeErr
}

func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
