package bunx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

// Backend names the database engine behind a DSN.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// DefaultMaxConnections sizes the PostgreSQL pool when none is configured.
const DefaultMaxConnections = 25

// minPostgresConnections covers one request holding its RLS transaction
// while an Elevated lookup runs beside it.
const minPostgresConnections = 2

const connectTimeout = 10 * time.Second

// sqlitePragmas run on open. Foreign keys are off by default in SQLite.
var sqlitePragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
}

// BackendFor picks the engine from the DSN scheme. Anything that is not a
// postgres URL or unix socket is handed to SQLite as a path or file: URI.
func BackendFor(dsn string) Backend {
	for _, prefix := range []string{"postgres://", "postgresql://", "unix://"} {
		if strings.HasPrefix(dsn, prefix) {
			return BackendPostgres
		}
	}
	return BackendSQLite
}

// PoolSize returns the open and idle connection limits for backend.
//
// On PostgreSQL every authenticated request pins a connection for its RLS
// transaction, so maxConns is also the request concurrency ceiling. SQLite
// gets a single connection so writers serialize and ":memory:" databases
// are shared by every caller.
func PoolSize(backend Backend, maxConns int) (open, idle int) {
	if backend == BackendSQLite {
		return 1, 1
	}
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	if maxConns < minPostgresConnections {
		maxConns = minPostgresConnections
	}
	return maxConns, maxConns
}

// NewDB opens dsn with the matching Bun dialect, sizes the pool and checks
// the database answers.
func NewDB(dsn string, maxConns int) (*bun.DB, error) {
	backend := BackendFor(dsn)

	var db *bun.DB
	switch backend {
	case BackendPostgres:
		db = bun.NewDB(sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), pgdialect.New())
	default:
		sqldb, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	open, idle := PoolSize(backend, maxConns)
	db.SetMaxOpenConns(open)
	db.SetMaxIdleConns(idle)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := prepare(ctx, db, backend); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func prepare(ctx context.Context, db *bun.DB, backend Backend) error {
	if backend == BackendSQLite {
		for _, pragma := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s database: %w", backend, err)
	}
	return nil
}

// Close closes db, tolerating nil.
func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
