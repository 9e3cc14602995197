// Package sqlite provides SQLite-based persistent storage for pomociclo.
// Uses WAL mode for concurrent reads and crash-safe writes. One DB value
// implements every store interface the settlement engine depends on.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/pomociclo/pomociclo/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Compile-time interface checks.
var (
	_ domain.SessionStore     = (*DB)(nil)
	_ domain.ProgressionStore = (*DB)(nil)
	_ domain.QuestStore       = (*DB)(nil)
	_ domain.SubjectStore     = (*DB)(nil)
	_ domain.SettingsStore    = (*DB)(nil)
	_ domain.CalendarStore    = (*DB)(nil)
)

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout. Write
// transactions take the lock immediately so CAS reads see committed state.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// PingContext checks database connectivity, honoring ctx.
func (d *DB) PingContext(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Study sessions. end_time NULL = open; settled exactly once.
		`CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			subject_id       TEXT NOT NULL DEFAULT '',
			start_time       INTEGER NOT NULL,
			end_time         INTEGER,
			raw_duration     INTEGER NOT NULL DEFAULT 0,
			counted_duration INTEGER NOT NULL DEFAULT 0,
			completed        BOOLEAN NOT NULL DEFAULT 0,
			skipped          BOOLEAN NOT NULL DEFAULT 0,
			coins_earned     INTEGER NOT NULL DEFAULT 0,
			xp_earned        INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_start ON sessions(user_id, start_time)`,

		// Versioned progression aggregate (coins, xp, level, streak).
		`CREATE TABLE IF NOT EXISTS progression (
			user_id          TEXT PRIMARY KEY,
			coins            INTEGER NOT NULL DEFAULT 0,
			xp               INTEGER NOT NULL DEFAULT 0,
			level            INTEGER NOT NULL DEFAULT 1,
			streak_days      INTEGER NOT NULL DEFAULT 0,
			last_streak_date TEXT NOT NULL DEFAULT '',
			version          INTEGER NOT NULL
		)`,

		// Subjects with weekly goals and running totals.
		`CREATE TABLE IF NOT EXISTS subjects (
			id                 TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL,
			name               TEXT NOT NULL,
			time_goal_minutes  INTEGER NOT NULL DEFAULT 0,
			time_spent_minutes INTEGER NOT NULL DEFAULT 0,
			sessions_count     INTEGER NOT NULL DEFAULT 0,
			created_at         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subjects_user ON subjects(user_id, created_at)`,

		// Timer preferences.
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id       TEXT PRIMARY KEY,
			block_minutes INTEGER NOT NULL,
			break_minutes INTEGER NOT NULL
		)`,

		// Weekly quest documents, one per (user, ISO week).
		`CREATE TABLE IF NOT EXISTS quest_docs (
			user_id    TEXT NOT NULL,
			week_id    TEXT NOT NULL,
			week_start INTEGER NOT NULL,
			week_end   INTEGER NOT NULL,
			quests     TEXT NOT NULL,
			quest_keys TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			version    INTEGER NOT NULL,
			PRIMARY KEY (user_id, week_id)
		)`,

		// Calendar events (owned by the calendar subsystem).
		`CREATE TABLE IF NOT EXISTS calendar_events (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			subject_id TEXT NOT NULL DEFAULT '',
			title      TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time   INTEGER NOT NULL,
			event_type TEXT NOT NULL DEFAULT 'study',
			completed  BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_start ON calendar_events(user_id, start_time)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Transactions ───────────────────────────────────────────────────────────

// withTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
