package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"
	"time"
)

// migrationFile matches VERSION_name.up.sql and VERSION_name.down.sql,
// where VERSION is YYYYMMDD_HHMMSS.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_(\w+)\.(up|down)\.sql$`)

// ErrNoDownMigration is returned by Down for a migration without a .down.sql file.
var ErrNoDownMigration = errors.New("database: migration has no down file")

// schema is the source Migrate applies, set by RegisterSchema.
var schema fs.FS

// RegisterSchema sets the migration files used by Migrate and
// (*DB).Migrator. The migrations package calls it from init, so importing
// that package for side effects is enough.
func RegisterSchema(fsys fs.FS) {
	schema = fsys
}

// Migration is one versioned schema change.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// MigrationStatus is a migration and, once applied, when.
type MigrationStatus struct {
	Migration

	// AppliedAt is zero while the migration is pending.
	AppliedAt time.Time

	// Missing marks a version recorded in the database that the source
	// no longer contains, e.g. after a downgrade.
	Missing bool
}

// Applied reports whether the migration has been applied.
func (s MigrationStatus) Applied() bool {
	return !s.AppliedAt.IsZero()
}

// Migrator applies and reverts the migrations found in one source.
type Migrator struct {
	db     *DB
	source fs.FS
}

// NewMigrator returns a migrator for source. A nil source has no migrations.
func NewMigrator(db *DB, source fs.FS) *Migrator {
	return &Migrator{db: db, source: source}
}

// Migrator returns a migrator for the registered schema.
func (db *DB) Migrator() *Migrator {
	return NewMigrator(db, schema)
}

// Migrate applies every pending migration of the registered schema.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.Migrator().Up(ctx)
	return err
}

// LoadMigrations reads the migrations in the root of fsys, oldest first.
// Files that do not follow the naming scheme are ignored.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}

	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, name := range names {
		match := migrationFile.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version, label, direction := match[1], match[2], match[3]

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: label}
			byVersion[version] = m
		}
		if m.Name != label {
			return nil, fmt.Errorf("migration %s has files named %q and %q", version, m.Name, label)
		}
		if direction == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s_%s has no up file", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int {
		return strings.Compare(a.Version, b.Version)
	})
	return out, nil
}

// Status lists every migration in the source, oldest first, followed by
// any applied versions the source does not contain.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := LoadMigrations(m.source)
	if err != nil {
		return nil, err
	}
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(migrations))
	known := make(map[string]bool, len(migrations))
	for _, mig := range migrations {
		known[mig.Version] = true
		out = append(out, MigrationStatus{Migration: mig, AppliedAt: applied[mig.Version].at})
	}
	for _, version := range sortedKeys(applied) {
		if !known[version] {
			rec := applied[version]
			out = append(out, MigrationStatus{
				Migration: Migration{Version: version, Name: rec.name},
				AppliedAt: rec.at,
				Missing:   true,
			})
		}
	}
	return out, nil
}

// Up applies pending migrations oldest first, each in its own
// transaction, and returns the ones it applied. On failure the failing
// migration is rolled back and earlier ones stay committed, so a rerun
// continues where this one stopped.
func (m *Migrator) Up(ctx context.Context) ([]Migration, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}

	var done []Migration
	for _, s := range status {
		if s.Applied() || s.Missing {
			continue
		}
		err := m.inTx(ctx, s.Up,
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			s.Version, s.Name, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return done, fmt.Errorf("applying migration %s (%s): %w", s.Version, s.Name, err)
		}
		done = append(done, s.Migration)
	}
	return done, nil
}

// Down reverts the newest steps applied migrations, newest first, and
// returns the ones it reverted.
func (m *Migrator) Down(ctx context.Context, steps int) ([]Migration, error) {
	if steps < 1 {
		return nil, fmt.Errorf("database: rollback steps must be at least 1, got %d", steps)
	}

	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}

	var applied []MigrationStatus
	for _, s := range status {
		if s.Applied() {
			applied = append(applied, s)
		}
	}
	slices.SortFunc(applied, func(a, b MigrationStatus) int {
		return strings.Compare(b.Version, a.Version)
	})

	var done []Migration
	for _, s := range applied[:min(steps, len(applied))] {
		if s.Missing {
			return done, fmt.Errorf("reverting migration %s: not in this binary", s.Version)
		}
		if s.Down == "" {
			return done, fmt.Errorf("reverting migration %s (%s): %w", s.Version, s.Name, ErrNoDownMigration)
		}
		if err := m.inTx(ctx, s.Down, "DELETE FROM schema_migrations WHERE version = ?", s.Version); err != nil {
			return done, fmt.Errorf("reverting migration %s (%s): %w", s.Version, s.Name, err)
		}
		done = append(done, s.Migration)
	}
	return done, nil
}

// inTx runs script and then the bookkeeping statement in one transaction.
func (m *Migrator) inTx(ctx context.Context, script, record string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	return nil
}

type appliedRecord struct {
	name string
	at   time.Time
}

func (m *Migrator) applied(ctx context.Context) (map[string]appliedRecord, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, name, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]appliedRecord)
	for rows.Next() {
		var version, name, at string
		if err := rows.Scan(&version, &name, &at); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("migration %s: parsing applied_at %q: %w", version, at, err)
		}
		out[version] = appliedRecord{name: name, at: t}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return out, nil
}

func sortedKeys(m map[string]appliedRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
