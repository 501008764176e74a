//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/store.go -package=mocks . Store,Cursor
//go:generate godoc -html . > ../../docs/internal/database/index.html

// Package database owns the process-wide connection pool to the readings
// store and hands out transactional chunked cursors over it.
//
// Architecture:
//   - One SQLStore per process, opened at startup and closed at shutdown
//   - Every cursor runs inside its own transaction on its own pooled connection
//   - Rows are fetched in bounded batches; nothing is read ahead of the caller
//   - SQLite (default) and PostgreSQL dialects share the same Store interface
//
// Example usage:
//
//	store, err := NewSQLStore(Config{Driver: DriverSQLite, DSN: "/var/lib/domotik/domotik.db"}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := store.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	cur, err := store.CursorFor(ctx, query, args)
//	if err != nil {
//	    return err
//	}
//	defer cur.Close()
//	rows, err := cur.FetchBatch(ctx, 100)
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/domotik/internal/models"
)

// Row is one raw result tuple as returned by the driver.
type Row []any

// Store defines the storage operations used by the query pipeline.
//
// Implementations must allow any number of cursors to be open at the same
// time (bounded only by the pool size); a cursor is never shared between
// requests.
type Store interface {
	// Open connects the pool. Calling Open on an open store is a no-op.
	// Returns an error wrapping models.ErrConnection if the store is unreachable.
	Open(ctx context.Context) error

	// CursorFor starts a transaction and positions a cursor on the result of
	// query. Returns an error wrapping models.ErrQuery if the query cannot be
	// prepared or executed.
	CursorFor(ctx context.Context, query string, args []any) (Cursor, error)

	// Ping verifies that the pool can still reach the store.
	Ping(ctx context.Context) error

	// Close releases the pool. Later operations fail with models.ErrConnection.
	Close() error
}

// Cursor is a forward-only handle over a query result.
type Cursor interface {
	// FetchBatch returns between 0 and n rows. A 0-row batch means the
	// cursor is exhausted; later calls keep returning 0 rows.
	FetchBatch(ctx context.Context, n int) ([]Row, error)

	// Close ends the cursor transaction and returns its connection to the
	// pool. Close is idempotent.
	Close() error
}

// Config describes how to reach the store.
type Config struct {
	Driver            string
	DSN               string
	MaxConnections    int
	ConnectionTimeout time.Duration
}

// SQLStore implements Store on top of database/sql.
//
// database/sql serialises pool checkout; each checked-out connection carries
// exactly one cursor transaction until the cursor is closed.
type SQLStore struct {
	cfg     Config
	dialect *dialect
	logger  *logrus.Entry

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// NewSQLStore validates the configuration. No connection is made until Open.
func NewSQLStore(cfg Config, logger *logrus.Entry) (*SQLStore, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: empty data source name", models.ErrConnection)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SQLStore{cfg: cfg, dialect: d, logger: logger}, nil
}

// Open establishes and verifies the pool.
func (s *SQLStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: store is closed", models.ErrConnection)
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open(s.dialect.driverName, s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", models.ErrConnection, s.dialect.name, err)
	}
	if s.cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(s.cfg.MaxConnections)
		db.SetMaxIdleConns(s.cfg.MaxConnections)
	}

	if s.cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("%w: ping %s: %v", models.ErrConnection, s.dialect.name, err)
	}

	s.db = db
	s.logger.WithFields(logrus.Fields{
		"driver":          s.dialect.name,
		"max_connections": s.cfg.MaxConnections,
	}).Info("Storage connection opened")
	return nil
}

func (s *SQLStore) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: store is closed", models.ErrConnection)
	}
	if s.db == nil {
		return nil, fmt.Errorf("%w: store is not open", models.ErrConnection)
	}
	return s.db, nil
}

// CursorFor opens a transaction bound to the lifetime of the returned cursor.
func (s *SQLStore) CursorFor(ctx context.Context, query string, args []any) (Cursor, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, s.dialect.txOptions)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: begin transaction: %v", models.ErrConnection, err)
	}

	cur, err := s.dialect.open(ctx, tx, s.dialect.rebind(query), args)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrQuery, err)
	}

	s.logger.WithField("query", query).Debug("Cursor opened")
	return cur, nil
}

// Ping checks the pool against the store.
func (s *SQLStore) Ping(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrConnection, err)
	}
	return nil
}

// Close releases the pool. Closing twice is a no-op.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.logger.Info("Storage connection closed")
	return err
}

// rowsCursor keeps the driver row iterator open inside the transaction and
// hands it out n rows at a time.
type rowsCursor struct {
	tx   *sql.Tx
	rows *sql.Rows
	cols int

	mu     sync.Mutex
	done   bool
	closed bool
}

func (c *rowsCursor) FetchBatch(ctx context.Context, n int) ([]Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: cursor is closed", models.ErrQuery)
	}
	if c.done {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := make([]Row, 0, n)
	for len(batch) < n && c.rows.Next() {
		row, err := scanRow(c.rows, c.cols)
		if err != nil {
			return nil, err
		}
		batch = append(batch, row)
	}
	if len(batch) < n {
		if err := c.rows.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if len(batch) == 0 {
			c.done = true
		}
	}
	return batch, nil
}

func (c *rowsCursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.done = true
	rowsErr := c.rows.Close()
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return rowsErr
}

// declaredCursor is a server-side cursor fetched with FETCH FORWARD.
type declaredCursor struct {
	tx   *sql.Tx
	name string

	mu     sync.Mutex
	done   bool
	closed bool
}

func (c *declaredCursor) FetchBatch(ctx context.Context, n int) ([]Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: cursor is closed", models.ErrQuery)
	}
	if c.done {
		return nil, nil
	}

	rows, err := c.tx.QueryContext(ctx, fmt.Sprintf("FETCH FORWARD %d FROM %s", n, c.name))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	batch := make([]Row, 0, n)
	for rows.Next() {
		row, err := scanRow(rows, len(cols))
		if err != nil {
			return nil, err
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		c.done = true
	}
	return batch, nil
}

func (c *declaredCursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.done = true
	// Ending the transaction drops the cursor with it.
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func scanRow(rows *sql.Rows, cols int) (Row, error) {
	values := make(Row, cols)
	ptrs := make([]any, cols)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}

// Compile-time interface implementation checks
var (
	_ Store  = (*SQLStore)(nil)
	_ Cursor = (*rowsCursor)(nil)
	_ Cursor = (*declaredCursor)(nil)
)
