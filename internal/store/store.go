// Package store is the entity store: typed rows for books, copies, loans,
// reservations, users and sessions over database/sql. Queries are written
// with '?' placeholders and rebound through sqlx, so one query set serves both
// Postgres (lib/pq) and SQLite (modernc.org/sqlite).
//
// Reads return whole collections; the cache layer above does the lookups.
// Writes take a Querier so they can be composed inside one transaction, and
// updates are guarded either by a version column (books, copies) or by the
// row's expected status (loans, reservations). A guard that matches no row
// returns ErrConflict.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"bibliotheca/internal/apperr"
)

// Dialect names a supported database/sql driver.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ErrConflict reports a lost optimistic-concurrency race. The caller may retry
// the whole operation; the store never does.
var ErrConflict = apperr.New(apperr.KindConflict, "conflict", "the record was modified concurrently, retry the request")

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type Querier = sqlx.ExtContext

func init() {
	sqlx.BindDriver(string(SQLite), sqlx.QUESTION)
}

// Options configures Open.
type Options struct {
	Dialect  Dialect
	DSN      string
	MaxConns int
}

// Store owns the connection pool.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	tracer  trace.Tracer
}

// Open connects to the database. It does not run migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dsn := opts.DSN
	switch opts.Dialect {
	case Postgres:
	case SQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Dialect)
	}

	db, err := sqlx.Open(string(opts.Dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
		db.SetMaxIdleConns(opts.MaxConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &Store{
		db:      db,
		dialect: opts.Dialect,
		tracer:  otel.Tracer("bibliotheca/store"),
	}, nil
}

// sqliteDSN appends the pragmas the store relies on: WAL for concurrent
// readers, a busy timeout, and immediate transactions so writers queue up
// instead of failing on lock upgrade.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
}

// DB exposes the pool for read-only callers such as the ledger.
func (s *Store) DB() *sqlx.DB { return s.db }

// Dialect reports which driver backs the store.
func (s *Store) Dialect() Dialect { return s.dialect }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) txOptions() *sql.TxOptions {
	if s.dialect == Postgres {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}

// WithTx runs fn inside one transaction. The transaction is rolled back when
// fn returns an error or panics. Constraint and serialization failures are
// reported as ErrConflict.
func (s *Store) WithTx(ctx context.Context, fn func(q Querier) error) error {
	ctx, span := s.tracer.Start(ctx, "store.tx",
		trace.WithAttributes(attribute.String("db.system", string(s.dialect))),
	)
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, s.txOptions())
	if err != nil {
		return s.fail(span, fmt.Errorf("begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return s.fail(span, err)
	}

	if err := tx.Commit(); err != nil {
		return s.fail(span, fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func (s *Store) fail(span trace.Span, err error) error {
	err = MapError(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, ErrConflict) {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
	}
	return err
}

// MapError folds driver-specific uniqueness and serialization failures into
// ErrConflict.
func MapError(err error) error {
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case sqlite3.SQLITE_CONSTRAINT:
			if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
		}
	}

	msg := err.Error()
	for _, pattern := range []string{"UNIQUE constraint failed", "database is locked", "SQLITE_BUSY"} {
		if strings.Contains(msg, pattern) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}

// expectOne turns an update that matched no row into ErrConflict.
func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", what, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: %s changed since it was read", ErrConflict, what)
	}
	return nil
}

func (s *Store) list(ctx context.Context, name string, dest any, query string) error {
	ctx, span := s.tracer.Start(ctx, "store.list",
		trace.WithAttributes(attribute.String("db.table", name)),
	)
	defer span.End()

	if err := sqlx.SelectContext(ctx, s.db, dest, s.db.Rebind(query)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("query %s: %w", name, err)
	}
	return nil
}
