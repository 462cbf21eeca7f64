// Package store provides the relational persistence layer shared by every
// tenant-scoped entity: tenants, users, documents, chunks, operations,
// sessions, messages, workflows, executions, checkpoints, and HITL
// approvals. It is the single authority for state — the vector index,
// secret store, and session cache are satellite tiers that never
// originate a status transition on their own.
//
// Dialect support (postgres, mysql, sqlite) is one hand-written query
// per dialect-sensitive operation, parameterized with '?' and rebound
// to '$1, $2, ...' for postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a *sql.DB with the dialect needed to rebind placeholders and
// branch on UPSERT syntax.
type DB struct {
	*sql.DB
	Dialect string
}

// Open connects to the configured relational backend and runs schema
// migration. dialect is one of "postgres", "mysql", "sqlite".
func Open(dialect, dsn string) (*DB, error) {
	driver := dialect
	if dialect == "sqlite" {
		driver = "sqlite3"
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect, err)
	}

	db := &DB{DB: sqlDB, Dialect: dialect}
	if err := db.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return db, nil
}

// Rebind converts a query written with '?' placeholders into the target
// dialect's native form. Postgres uses $1, $2, ...; mysql and sqlite use
// '?' natively.
func (d *DB) Rebind(query string) string {
	if d.Dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Exec rebinds and executes a write query.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.ExecContext(ctx, d.Rebind(query), args...)
}

// Query rebinds and executes a read query.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.QueryContext(ctx, d.Rebind(query), args...)
}

// QueryRow rebinds and executes a single-row read query.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.QueryRowContext(ctx, d.Rebind(query), args...)
}

// WithTx runs fn within a serializable transaction, committing if fn
// returns nil and rolling back otherwise.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// IsUniqueViolation reports whether err represents a unique-constraint
// violation, used to turn checkpoint step races and duplicate-approval
// inserts into apperr.ConflictError instead of a generic 500.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || // sqlite
		strings.Contains(msg, "duplicate key") || // postgres
		strings.Contains(msg, "Duplicate entry") // mysql
}
