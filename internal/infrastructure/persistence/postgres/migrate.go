package postgres

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrMigrationFailed wraps every failure to apply or revert a migration.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// migrationLockKey is the pg_advisory_xact_lock key shared by all migrators.
const migrationLockKey int64 = 0x66756e64

// Migration is one schema step. AppliedAt and IsApplied are filled by Status.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// GetMigrations lists the schema steps compiled into the binary, in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_events", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_achievements", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_user_profiles", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// Migrator applies and reverts migrations, recording them in a bookkeeping
// table. Each step runs in its own transaction under an advisory lock and
// re-reads the table once the lock is held, so workers started together
// apply every step exactly once.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	table      string
}

// NewMigrator uses the compiled-in migrations.
func NewMigrator(conn *Connection) *Migrator {
	return NewMigratorWithMigrations(conn, GetMigrations())
}

// NewMigratorWithMigrations uses the given steps, sorted by version.
func NewMigratorWithMigrations(conn *Connection, migrations []Migration) *Migrator {
	sorted := slices.Clone(migrations)
	slices.SortFunc(sorted, func(a, b Migration) int { return a.Version - b.Version })
	return &Migrator{conn: conn, migrations: sorted, table: "schema_migrations"}
}

// EnsureMigrationTable creates the bookkeeping table when missing.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+m.table+` (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrMigrationFailed, m.table, err)
	}
	return nil
}

// GetAppliedMigrations maps applied versions to when they were applied.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	return m.applied(ctx, m.conn)
}

type appliedRow struct {
	Version   int
	AppliedAt time.Time
}

func (m *Migrator) applied(ctx context.Context, q Querier) (map[int]time.Time, error) {
	rows, err := q.Query(ctx, `SELECT version, applied_at FROM `+m.table)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrMigrationFailed, m.table, err)
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByPos[appliedRow])
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %w", ErrMigrationFailed, m.table, err)
	}

	out := make(map[int]time.Time, len(list))
	for _, r := range list {
		out[r.Version] = r.AppliedAt
	}
	return out, nil
}

// locked runs fn in a transaction holding the migration lock, handing it the
// versions applied as of the moment the lock was taken.
func (m *Migrator) locked(ctx context.Context, fn func(tx pgx.Tx, applied map[int]time.Time) error) error {
	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("%w: lock: %w", ErrMigrationFailed, err)
		}
		applied, err := m.applied(ctx, tx)
		if err != nil {
			return err
		}
		return fn(tx, applied)
	})
}

// Migrate applies every pending step in version order and stops at the
// first failure; steps already committed stay applied.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	for _, mig := range m.migrations {
		err := m.locked(ctx, func(tx pgx.Tx, applied map[int]time.Time) error {
			if _, done := applied[mig.Version]; done {
				return nil
			}
			if mig.UpSQL == "" {
				return errors.New("no up SQL")
			}
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO `+m.table+` (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %03d_%s: %w", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts the highest applied step. With nothing applied it is a
// no-op.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	return m.locked(ctx, func(tx pgx.Tx, applied map[int]time.Time) error {
		if len(applied) == 0 {
			return nil
		}
		latest := slices.Max(slices.Collect(maps.Keys(applied)))

		i := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.Version == latest })
		if i < 0 || m.migrations[i].DownSQL == "" {
			return fmt.Errorf("%w: no down SQL for version %d", ErrMigrationFailed, latest)
		}
		if _, err := tx.Exec(ctx, m.migrations[i].DownSQL); err != nil {
			return fmt.Errorf("%w: revert %d: %w", ErrMigrationFailed, latest, err)
		}
		_, err := tx.Exec(ctx, `DELETE FROM `+m.table+` WHERE version = $1`, latest)
		return err
	})
}

// Status returns every known step, marking those applied.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	out := slices.Clone(m.migrations)
	for i := range out {
		out[i].AppliedAt, out[i].IsApplied = applied[out[i].Version]
	}
	return out, nil
}
