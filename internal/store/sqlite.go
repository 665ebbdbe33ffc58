// ABOUTME: SQLite implementation of the Store interface
// ABOUTME: Opens the database with either the pure-Go or cgo driver and manages schema and migrations

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCgo     = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path using the pure-Go driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return OpenSQLiteStore(DriverModernc, path)
}

// OpenSQLiteStore opens a store with an explicit driver ("sqlite" or "sqlite3").
func OpenSQLiteStore(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dsn, err := buildDSN(driver, path)
	if err != nil {
		return nil, err
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s, err := newSQLiteStoreFromDB(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// buildDSN encodes per-connection pragmas in the driver-specific DSN syntax so
// every pooled connection enforces foreign keys, not only the first.
func buildDSN(driver, path string) (string, error) {
	switch driver {
	case DriverModernc:
		return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	case DriverCgo:
		return "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q (want %q or %q)", driver, DriverModernc, DriverCgo)
	}
}

// newSQLiteStoreFromDB wraps an open handle and brings the schema up to date.
func newSQLiteStoreFromDB(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default().With("component", "store")
	}
	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS identities (
			identity_id     TEXT PRIMARY KEY,
			login_key       TEXT NOT NULL UNIQUE,
			display_name    TEXT NOT NULL DEFAULT '',
			credential_hash TEXT NOT NULL,
			disabled        INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS roles (
			name        TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS role_permissions (
			role_name  TEXT NOT NULL REFERENCES roles(name) ON DELETE CASCADE ON UPDATE CASCADE,
			permission TEXT NOT NULL,
			PRIMARY KEY (role_name, permission)
		);

		CREATE TABLE IF NOT EXISTS identity_roles (
			identity_id TEXT NOT NULL REFERENCES identities(identity_id) ON DELETE CASCADE,
			role_name   TEXT NOT NULL REFERENCES roles(name) ON DELETE RESTRICT ON UPDATE RESTRICT,
			created_at  TEXT NOT NULL,
			PRIMARY KEY (identity_id, role_name)
		);

		CREATE INDEX IF NOT EXISTS idx_identity_roles_role ON identity_roles(role_name);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id          TEXT PRIMARY KEY,
			actor_identity_id TEXT NOT NULL,
			action            TEXT NOT NULL,
			target_type       TEXT NOT NULL,
			target_id         TEXT NOT NULL,
			ts                TEXT NOT NULL,
			detail_json       TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log(ts);
		CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor_identity_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "identities",
			column: "display_name",
			apply:  `ALTER TABLE identities ADD COLUMN display_name TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "roles",
			column: "description",
			apply:  `ALTER TABLE roles ADD COLUMN description TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isUniqueViolation checks if the error is a SQLite UNIQUE or PRIMARY KEY constraint violation
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY constraint violation
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
