package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"no rows", pgx.ErrNoRows, false},
		{"wrapped deadlock", fmt.Errorf("update: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestStorageErr(t *testing.T) {
	assert.NoError(t, storageErr("Op", nil))

	cause := &pgconn.PgError{Code: "40001"}
	err := storageErr("UpdateStatus", cause)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrStorage))
	assert.True(t, IsTransient(err))
}

func TestConstraintHelpers(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsForeignKeyViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)))
}

func TestGetMigrations(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "versions are sequential")
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, strings.TrimSpace(m.UpSQL))
		assert.NotEmpty(t, strings.TrimSpace(m.DownSQL))
	}
	assert.Contains(t, migrations[0].UpSQL, "CREATE TABLE IF NOT EXISTS events")
	assert.Contains(t, migrations[1].UpSQL, "unique_user_achievement")
}

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"

	dsn := cfg.DSN()
	assert.Contains(t, dsn, "dbname=fundhub")
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "password=secret")

	cfg.Password = "it's a secret"
	assert.Contains(t, cfg.DSN(), `password='it\'s a secret'`)

	cfg.Host = ""
	assert.NotContains(t, cfg.DSN(), "host=")
}

func TestNewMigratorWithMigrations_SortsByVersion(t *testing.T) {
	m := NewMigratorWithMigrations(nil, []Migration{
		{Version: 3, Name: "c"},
		{Version: 1, Name: "a"},
		{Version: 2, Name: "b"},
	})
	names := make([]string, 0, len(m.migrations))
	for _, mig := range m.migrations {
		names = append(names, mig.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.Equal(t, "schema_migrations", m.table)
}

func TestConnection_ClosedRejectsCalls(t *testing.T) {
	conn := &Connection{}
	conn.closed.Store(true)
	ctx := context.Background()

	assert.ErrorIs(t, conn.Ping(ctx), ErrConnectionClosed)
	_, err := conn.Exec(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrConnectionClosed)
	var n int
	assert.ErrorIs(t, conn.QueryRow(ctx, "SELECT 1").Scan(&n), ErrConnectionClosed)
	assert.ErrorIs(t, conn.WithTx(ctx, DefaultTxOptions(), func(pgx.Tx) error { return nil }), ErrConnectionClosed)
}

func TestConfig_PoolConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "postgres://app:pw@db.internal:6543/fundhub?sslmode=disable"
	cfg.MaxConns = 7

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, "db.internal", pc.ConnConfig.Host)
	assert.Equal(t, uint16(6543), pc.ConnConfig.Port)
	assert.Equal(t, int32(7), pc.MaxConns)

	cfg.URL = "postgres://%zz"
	_, err = cfg.PoolConfig()
	assert.Error(t, err)
}
