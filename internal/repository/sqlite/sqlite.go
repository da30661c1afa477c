// Package sqlite implements the repository interfaces on SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary
// builds without cgo. Schema changes live in migrations/ as goose SQL files
// embedded into the binary; New applies them on startup and portalctl can
// run them by hand.
//
// Timestamps are always written in UTC. Lists are ordered on created_at,
// and mixed offsets would make the stored text sort incorrectly.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"

	// registers the "sqlite" driver with database/sql
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a sql.DB connection pool. One *DB implements every repository
// interface in internal/repository.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Open connects to the database at path without touching the schema.
//
// path examples:
//   - "data/portal.db" → file on disk, WAL journal
//   - ":memory:"       → throwaway database for tests
//
// An in-memory database exists per connection, so the pool is capped at one
// connection for it. Callers must therefore never keep a *sql.Rows open
// while issuing another query.
func Open(path string) (*DB, error) {
	memory := path == ":memory:"

	dsn := path
	if !memory && !strings.HasPrefix(path, "file:") {
		dsn = "file:" + path +
			"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if memory {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// foreign keys are off by default and the pragma is per connection
	if memory {
		if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
		}
	}

	return &DB{
		conn: conn,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// New opens the database and brings the schema up to date.
func New(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}

	goose.SetLogger(goose.NopLogger())
	if err := RunMigrations(context.Background(), db.conn, "up"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the pool for portalctl's migrate command.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping is used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// RunMigrations runs one goose command ("up", "down" or "status") against
// the embedded migration files.
func RunMigrations(ctx context.Context, conn *sql.DB, command string) error {
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("sqlite: goose dialect: %w", err)
	}

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, conn, "migrations")
	case "down":
		err = goose.DownContext(ctx, conn, "migrations")
	case "status":
		err = goose.StatusContext(ctx, conn, "migrations")
	default:
		return fmt.Errorf("sqlite: unknown migration command %q", command)
	}
	if err != nil {
		return fmt.Errorf("sqlite: migrate %s: %w", command, err)
	}
	return nil
}

// selectRows runs a squirrel builder against the pool.
func (db *DB) selectRows(ctx context.Context, b sq.SelectBuilder) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	return db.conn.QueryContext(ctx, query, args...)
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint. The driver only exposes the message text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
