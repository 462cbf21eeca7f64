package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func TestOpen_RejectsUnsupportedDialect(t *testing.T) {
	_, err := Open("oracle", "whatever")
	require.Error(t, err)
}

func TestOpen_SQLiteMigrates(t *testing.T) {
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, "sqlite", db.Dialect)

	row := db.QueryRow(context.Background(), `SELECT count(*) FROM tenants`)
	var count int
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 0, count)
}

func TestRebind_PostgresRewritesPlaceholders(t *testing.T) {
	db := &DB{Dialect: "postgres"}
	got := db.Rebind(`SELECT * FROM t WHERE a = ? AND b = ?`)
	require.Equal(t, `SELECT * FROM t WHERE a = $1 AND b = $2`, got)
}

func TestRebind_SQLiteAndMySQLLeaveQuestionMarks(t *testing.T) {
	for _, dialect := range []string{"sqlite", "mysql"} {
		db := &DB{Dialect: dialect}
		got := db.Rebind(`SELECT * FROM t WHERE a = ? AND b = ?`)
		require.Equal(t, `SELECT * FROM t WHERE a = ? AND b = ?`, got)
	}
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO tenants (id, slug, settings_json, is_active, created_at) VALUES (?, ?, '{}', true, datetime('now'))`,
			"tenant-tx", "tenant-tx")
		return execErr
	})
	require.NoError(t, err)

	row := db.QueryRow(ctx, `SELECT count(*) FROM tenants WHERE id = ?`, "tenant-tx")
	var count int
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	errWant := errors.New("intentional rollback")
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO tenants (id, slug, settings_json, is_active, created_at) VALUES (?, ?, '{}', true, datetime('now'))`,
			"tenant-rollback", "tenant-rollback")
		if execErr != nil {
			return execErr
		}
		return errWant
	})
	require.ErrorIs(t, err, errWant)

	row := db.QueryRow(ctx, `SELECT count(*) FROM tenants WHERE id = ?`, "tenant-rollback")
	var count int
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 0, count)
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"sqlite unique constraint", errString("UNIQUE constraint failed: secrets.tenant_id, secrets.path"), true},
		{"postgres duplicate key", errString("pq: duplicate key value violates unique constraint"), true},
		{"mysql duplicate entry", errString("Error 1062: Duplicate entry 'x' for key 'y'"), true},
		{"unrelated error", errString("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
