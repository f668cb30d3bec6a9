package store

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		password_salt TEXT NOT NULL,
		first_name    TEXT NOT NULL,
		last_name     TEXT NOT NULL,
		image_url     TEXT NOT NULL DEFAULT '',
		permissions   TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id          UUID PRIMARY KEY,
		user_id     UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token       TEXT NOT NULL UNIQUE,
		ip          TEXT NOT NULL DEFAULT '',
		device_info TEXT NOT NULL DEFAULT '',
		created     TIMESTAMPTZ NOT NULL,
		last_used   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id               UUID PRIMARY KEY,
		title            TEXT NOT NULL,
		author           TEXT NOT NULL DEFAULT '',
		isbn             TEXT NOT NULL,
		publisher        TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		year             INT NOT NULL DEFAULT 0,
		total_copies     INT NOT NULL DEFAULT 0,
		available_copies INT NOT NULL DEFAULT 0,
		times_borrowed   INT NOT NULL DEFAULT 0,
		average_rating   DOUBLE PRECISION NOT NULL DEFAULT 0,
		count_rating     INT NOT NULL DEFAULT 0,
		sum_rating       INT NOT NULL DEFAULT 0,
		availability     TEXT NOT NULL,
		version          INT NOT NULL DEFAULT 1,
		created_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS copies (
		id         UUID PRIMARY KEY,
		book_id    UUID NOT NULL REFERENCES books(id),
		status     TEXT NOT NULL,
		version    INT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id          UUID PRIMARY KEY,
		copy_id     UUID NOT NULL REFERENCES copies(id),
		book_id     UUID NOT NULL,
		user_id     UUID NOT NULL REFERENCES users(id),
		borrow_date TIMESTAMPTZ NOT NULL,
		return_date TIMESTAMPTZ NOT NULL,
		status      TEXT NOT NULL,
		rating      INT,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id          UUID PRIMARY KEY,
		book_id     UUID NOT NULL REFERENCES books(id),
		copy_id     UUID NOT NULL REFERENCES copies(id),
		loan_id     UUID NOT NULL REFERENCES loans(id),
		user_id     UUID NOT NULL REFERENCES users(id),
		start_date  TIMESTAMPTZ NOT NULL,
		return_date TIMESTAMPTZ NOT NULL,
		status      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id             BIGSERIAL PRIMARY KEY,
		aggregate_id   UUID NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		event_data     JSONB NOT NULL,
		metadata       JSONB,
		version        INT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		UNIQUE (aggregate_id, version)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		password_salt TEXT NOT NULL,
		first_name    TEXT NOT NULL,
		last_name     TEXT NOT NULL,
		image_url     TEXT NOT NULL DEFAULT '',
		permissions   TEXT NOT NULL,
		created_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token       TEXT NOT NULL UNIQUE,
		ip          TEXT NOT NULL DEFAULT '',
		device_info TEXT NOT NULL DEFAULT '',
		created     TEXT NOT NULL,
		last_used   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id               TEXT PRIMARY KEY,
		title            TEXT NOT NULL,
		author           TEXT NOT NULL DEFAULT '',
		isbn             TEXT NOT NULL,
		publisher        TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		year             INTEGER NOT NULL DEFAULT 0,
		total_copies     INTEGER NOT NULL DEFAULT 0,
		available_copies INTEGER NOT NULL DEFAULT 0,
		times_borrowed   INTEGER NOT NULL DEFAULT 0,
		average_rating   REAL NOT NULL DEFAULT 0,
		count_rating     INTEGER NOT NULL DEFAULT 0,
		sum_rating       INTEGER NOT NULL DEFAULT 0,
		availability     TEXT NOT NULL,
		version          INTEGER NOT NULL DEFAULT 1,
		created_at       TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS copies (
		id         TEXT PRIMARY KEY,
		book_id    TEXT NOT NULL REFERENCES books(id),
		status     TEXT NOT NULL,
		version    INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id          TEXT PRIMARY KEY,
		copy_id     TEXT NOT NULL REFERENCES copies(id),
		book_id     TEXT NOT NULL,
		user_id     TEXT NOT NULL REFERENCES users(id),
		borrow_date TEXT NOT NULL,
		return_date TEXT NOT NULL,
		status      TEXT NOT NULL,
		rating      INTEGER,
		created_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id          TEXT PRIMARY KEY,
		book_id     TEXT NOT NULL REFERENCES books(id),
		copy_id     TEXT NOT NULL REFERENCES copies(id),
		loan_id     TEXT NOT NULL REFERENCES loans(id),
		user_id     TEXT NOT NULL REFERENCES users(id),
		start_date  TEXT NOT NULL,
		return_date TEXT NOT NULL,
		status      TEXT NOT NULL,
		created_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		aggregate_id   TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		event_data     TEXT NOT NULL,
		metadata       TEXT,
		version        INTEGER NOT NULL,
		created_at     TEXT NOT NULL,
		UNIQUE (aggregate_id, version)
	)`,
}

// Partial unique indexes hold the one-active-claim invariants at the
// database level. Both dialects accept the same syntax.
var sharedIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_copies_book ON copies(book_id)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_user ON loans(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_book ON loans(book_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_user ON reservations(user_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_loans_active_copy
		ON loans(copy_id) WHERE status IN ('BORROWED', 'RESERVED')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_loans_active_user_book
		ON loans(user_id, book_id) WHERE status IN ('BORROWED', 'RESERVED')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_reservations_active_user_book
		ON reservations(user_id, book_id) WHERE status = 'ACTIVE'`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
}

// Migrate creates the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if s.dialect == SQLite {
		stmts = sqliteSchema
	}
	stmts = append(append([]string{}, stmts...), sharedIndexes...)

	for i, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
