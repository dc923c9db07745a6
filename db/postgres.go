// Package db wraps the PostgreSQL connection pool used by every
// repository. The service talks raw parameterized SQL through pgx; there
// is no ORM layer in the hot path.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config bounds the pool and the per-call timeout.
type Config struct {
	// URL is the postgres connection string
	URL string

	// MaxConnections caps the pool size (default 20)
	MaxConnections int

	// QueryTimeout is applied to every store call (default 30s)
	QueryTimeout time.Duration
}

// PostgresDB wraps a pgx connection pool with helper methods. Every call
// runs under the configured query timeout so a stuck statement cannot pin
// a pool slot indefinitely.
type PostgresDB struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresDB creates a pooled connection using the standard postgres
// connection string format:
//
//	postgres://[user[:password]@][host][:port][/dbname][?param1=value1&...]
func NewPostgresDB(ctx context.Context, cfg Config) (*PostgresDB, error) {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 20
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConnections)
	// Statement timeout matches the query timeout so the server kills
	// what the client has already given up on.
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] =
		fmt.Sprintf("%d", cfg.QueryTimeout.Milliseconds())

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{pool: pool, queryTimeout: cfg.QueryTimeout}, nil
}

// Close closes the connection pool.
func (db *PostgresDB) Close() {
	db.pool.Close()
}

// Exec executes a SQL statement.
func (db *PostgresDB) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := db.pool.Exec(ctx, sql, args...)
	return err
}

// Query executes a query that returns rows. Caller must close the rows.
func (db *PostgresDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

// QueryRow executes a query that returns a single row. Scan immediately;
// the connection is released after scanning.
func (db *PostgresDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise; on caller cancellation the
// rollback happens before the error surfaces, so partial state is never
// visible.
func (db *PostgresDB) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Pool exposes the underlying pool for advanced operations.
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}
