package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yegors/wxbench/pkg/logger"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed persistence for raw payloads, data points and
// run rows. Raw payloads and data points are append-only: the only deletion
// path is Rollback over a UTC interval.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// New opens (creating if necessary) the database at dbPath and ensures the
// schema exists.
func New(dbPath string, log *logger.Logger) (*Store, error) {
	storeLogger := log.Named("sqlite")

	storeLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: storeLogger}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// initSchema creates the tables and indexes if they do not exist
func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS raw_payloads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			run_at_utc TEXT NOT NULL,
			request_url TEXT NOT NULL,
			response_status INTEGER NOT NULL,
			body BLOB NOT NULL,
			sha256 TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create raw_payloads table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS data_points (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			natural_key TEXT NOT NULL UNIQUE,
			raw_id INTEGER NOT NULL,
			provider TEXT NOT NULL,
			product_kind TEXT NOT NULL,
			metric_type TEXT NOT NULL,
			value_num REAL,
			value_text TEXT,
			unit TEXT,
			value_raw TEXT,
			unit_raw TEXT,
			observed_at_utc TEXT,
			valid_start_utc TEXT,
			valid_end_utc TEXT,
			issued_at_utc TEXT,
			run_at_utc TEXT NOT NULL,
			local_day TEXT,
			lead_unit TEXT,
			lead_offset INTEGER,
			lead_label TEXT,
			lead_day_index INTEGER,
			station TEXT,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			source_field TEXT,
			quality_flag TEXT,
			FOREIGN KEY(raw_id) REFERENCES raw_payloads(id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create data_points table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			location TEXT NOT NULL,
			hour_bucket TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			outcomes_json TEXT,
			raw_count INTEGER NOT NULL DEFAULT 0,
			point_count INTEGER NOT NULL DEFAULT 0,
			errors_json TEXT,
			UNIQUE(location, hour_bucket)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_raw_provider_run ON raw_payloads(provider, run_at_utc)`,
		`CREATE INDEX IF NOT EXISTS idx_points_provider_kind ON data_points(provider, product_kind)`,
		`CREATE INDEX IF NOT EXISTS idx_points_metric ON data_points(metric_type)`,
		`CREATE INDEX IF NOT EXISTS idx_points_time ON data_points(run_at_utc, valid_start_utc, observed_at_utc)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_bucket ON runs(hour_bucket)`,
	}
	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Rollback deletes all data points and raw payloads whose run_at falls in
// [from, to), along with the run rows that produced them, so the interval
// can be re-ingested. This is the only deletion path in the store.
func (s *Store) Rollback(from, to time.Time) (pointsDeleted, payloadsDeleted int64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin rollback transaction: %w", err)
	}
	defer tx.Rollback()

	fromStr := formatTime(from)
	toStr := formatTime(to)

	res, err := tx.Exec(`DELETE FROM data_points WHERE run_at_utc >= ? AND run_at_utc < ?`, fromStr, toStr)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete data points: %w", err)
	}
	pointsDeleted, _ = res.RowsAffected()

	res, err = tx.Exec(`DELETE FROM raw_payloads WHERE run_at_utc >= ? AND run_at_utc < ?`, fromStr, toStr)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete raw payloads: %w", err)
	}
	payloadsDeleted, _ = res.RowsAffected()

	if _, err := tx.Exec(`DELETE FROM runs WHERE hour_bucket >= ? AND hour_bucket < ?`, fromStr, toStr); err != nil {
		return 0, 0, fmt.Errorf("failed to delete run rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit rollback: %w", err)
	}

	s.logger.Info("Rolled back interval",
		logger.String("from", fromStr),
		logger.String("to", toStr),
		logger.Int64("data_points", pointsDeleted),
		logger.Int64("raw_payloads", payloadsDeleted))

	return pointsDeleted, payloadsDeleted, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
