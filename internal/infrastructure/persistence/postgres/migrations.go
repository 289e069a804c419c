package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one schema step. AppliedAt and IsApplied are only filled in
// by Status.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// migrationLockKey is the pg_advisory_xact_lock key shared by every
// instance, so replicas starting together with AutoMigrate take turns.
const migrationLockKey int64 = 0x6375_7273_6f73

// Migrator applies the embedded migrations. Each call runs in a single
// transaction holding the advisory lock: it either applies every pending
// step or none of them.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	logger     *slog.Logger
}

// NewMigrator creates a migrator over GetMigrations.
func NewMigrator(conn *Connection, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		logger:     logger.With("component", "migrator"),
	}
}

// Migrate applies every pending migration in version order.
func (m *Migrator) Migrate(ctx context.Context) error {
	return m.locked(ctx, func(tx pgx.Tx, applied map[int]time.Time) error {
		for _, mig := range m.migrations {
			if _, ok := applied[mig.Version]; ok {
				continue
			}
			if err := m.step(ctx, tx, mig, mig.UpSQL,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
				return err
			}
			m.logger.Info("migration applied", "version", mig.Version, "name", mig.Name)
		}
		return nil
	})
}

// Rollback reverts the highest applied migration. It is a no-op on an
// empty schema.
func (m *Migrator) Rollback(ctx context.Context) error {
	return m.locked(ctx, func(tx pgx.Tx, applied map[int]time.Time) error {
		if len(applied) == 0 {
			return nil
		}

		last := slices.Max(slices.Collect(maps.Keys(applied)))
		idx := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.Version == last })
		if idx < 0 || m.migrations[idx].DownSQL == "" {
			return fmt.Errorf("%w: no down step for version %d", ErrMigrationFailed, last)
		}

		mig := m.migrations[idx]
		if err := m.step(ctx, tx, mig, mig.DownSQL,
			`DELETE FROM schema_migrations WHERE version = $1`, mig.Version); err != nil {
			return err
		}
		m.logger.Info("migration rolled back", "version", mig.Version, "name", mig.Name)
		return nil
	})
}

// Status lists every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	var out []Migration
	err := m.locked(ctx, func(_ pgx.Tx, applied map[int]time.Time) error {
		out = slices.Clone(m.migrations)
		for i := range out {
			out[i].AppliedAt, out[i].IsApplied = applied[out[i].Version]
		}
		return nil
	})
	return out, err
}

func (m *Migrator) step(ctx context.Context, tx pgx.Tx, mig Migration, ddl, bookkeeping string, args ...any) error {
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
	}
	if _, err := tx.Exec(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("%w: record %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
	}
	return nil
}

func (m *Migrator) locked(ctx context.Context, fn func(pgx.Tx, map[int]time.Time) error) error {
	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		if _, err := tx.Exec(ctx, createMigrationsTable); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		rows, err := tx.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
		if err != nil {
			return fmt.Errorf("read schema_migrations: %w", err)
		}
		applied := make(map[int]time.Time)
		for rows.Next() {
			var (
				version int
				at      time.Time
			)
			if err := rows.Scan(&version, &at); err != nil {
				rows.Close()
				return fmt.Errorf("scan schema_migrations: %w", err)
			}
			applied[version] = at
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("read schema_migrations: %w", err)
		}

		return fn(tx, applied)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_courses",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_course_users",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE COURSES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS courses (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    credits INTEGER NOT NULL DEFAULT 0,

    -- optimistic concurrency token, bumped on every write
    version BIGINT NOT NULL DEFAULT 1,

    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migration001Down = `
DROP TABLE IF EXISTS courses;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE COURSE USERS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS course_users (
    id BIGSERIAL PRIMARY KEY,
    course_id BIGINT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    user_id BIGINT NOT NULL,
    position INTEGER NOT NULL,

    UNIQUE(course_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_course_users_course_position ON course_users(course_id, position);
CREATE INDEX IF NOT EXISTS idx_course_users_user_id ON course_users(user_id);
`

const migration002Down = `
DROP TABLE IF EXISTS course_users;
`
