package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"database/sql"

	"github.com/reviewbot-dev/reviewbot/internal/config"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
  id INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  plan TEXT NOT NULL CHECK(plan IN ('trial','hobby','pro')) DEFAULT 'trial',
  api_token TEXT UNIQUE,
  forge_token TEXT,
  stripe_customer_id TEXT,
  plan_limit INTEGER NOT NULL DEFAULT 100,
  trial_prs_used INTEGER NOT NULL DEFAULT 0,
  trial_tokens_used INTEGER NOT NULL DEFAULT 0,
  trial_expired INTEGER NOT NULL DEFAULT 0,
  requires_payment INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS subscriptions (
  id INTEGER PRIMARY KEY,
  account_id INTEGER NOT NULL REFERENCES accounts(id),
  seats_purchased INTEGER NOT NULL DEFAULT 1,
  status TEXT NOT NULL CHECK(status IN ('active','past_due','canceled')),
  period_start TEXT,
  period_end TEXT,
  created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS repositories (
  id INTEGER PRIMARY KEY,
  account_id INTEGER NOT NULL REFERENCES accounts(id),
  full_name TEXT UNIQUE NOT NULL,
  seat_mode TEXT NOT NULL CHECK(seat_mode IN ('whitelist','auto-add')) DEFAULT 'auto-add',
  max_seats INTEGER NOT NULL DEFAULT 0,
  whitelist TEXT NOT NULL DEFAULT '[]',
  is_enabled INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS seat_assignments (
  id INTEGER PRIMARY KEY,
  repository_id INTEGER NOT NULL REFERENCES repositories(id),
  developer TEXT NOT NULL,
  billing_month TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL DEFAULT (datetime('now')),
  deactivated_at TEXT
);

CREATE TABLE IF NOT EXISTS usage_records (
  id INTEGER PRIMARY KEY,
  account_id INTEGER NOT NULL REFERENCES accounts(id),
  repository_id INTEGER NOT NULL REFERENCES repositories(id),
  developer TEXT NOT NULL,
  billing_month TEXT NOT NULL,
  prs_processed INTEGER NOT NULL DEFAULT 0,
  tokens_consumed INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL DEFAULT (datetime('now')),
  UNIQUE(account_id, repository_id, developer, billing_month)
);

CREATE TABLE IF NOT EXISTS review_jobs (
  id INTEGER PRIMARY KEY,
  uuid TEXT UNIQUE NOT NULL,
  account_id INTEGER NOT NULL REFERENCES accounts(id),
  repository_id INTEGER NOT NULL REFERENCES repositories(id),
  pull_request INTEGER NOT NULL,
  developer TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('processing','completed','failed')) DEFAULT 'processing',
  queue_state TEXT NOT NULL CHECK(queue_state IN ('queued','running','done')) DEFAULT 'queued',
  progress INTEGER NOT NULL DEFAULT 0,
  summary TEXT,
  ai_model TEXT,
  tokens_used INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  attempts INTEGER NOT NULL DEFAULT 0,
  available_at TEXT NOT NULL,
  worker_id TEXT,
  created_at TEXT NOT NULL DEFAULT (datetime('now')),
  started_at TEXT,
  completed_at TEXT
);

CREATE TABLE IF NOT EXISTS review_comments (
  id INTEGER PRIMARY KEY,
  job_id INTEGER NOT NULL REFERENCES review_jobs(id),
  file TEXT NOT NULL,
  line INTEGER NOT NULL,
  comment TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_limits (
  key TEXT PRIMARY KEY,
  count INTEGER NOT NULL,
  expires_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_seats_active
  ON seat_assignments(repository_id, developer, billing_month) WHERE is_active = 1;
CREATE INDEX IF NOT EXISTS idx_seats_month ON seat_assignments(billing_month);
CREATE INDEX IF NOT EXISTS idx_review_jobs_queue ON review_jobs(queue_state, available_at);
CREATE INDEX IF NOT EXISTS idx_review_jobs_account ON review_jobs(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_review_jobs_status ON review_jobs(status);
CREATE INDEX IF NOT EXISTS idx_review_comments_job ON review_comments(job_id);
`

// timeFormat is RFC 3339 with fixed-width nanoseconds. Stored timestamps
// are compared as strings in SQL, so the width must not vary.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type DB struct {
	*sql.DB
}

// DefaultDBPath returns the default database path
func DefaultDBPath() string {
	return filepath.Join(config.DataDir(), "reviewbot.db")
}

// Open opens or creates the database at the given path
func Open(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode and busy timeout
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	wrapped := &DB{db}

	// Initialize schema (CREATE IF NOT EXISTS is idempotent)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	// Run migrations for existing databases
	if err := wrapped.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return wrapped, nil
}

// migrate runs any needed migrations for existing databases
func (db *DB) migrate() error {
	hasColumn := func(table, column string) (bool, error) {
		var count int
		err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
		return count > 0, err
	}

	// Migration: add stripe_customer_id to accounts if missing
	has, err := hasColumn("accounts", "stripe_customer_id")
	if err != nil {
		return fmt.Errorf("check stripe_customer_id column: %w", err)
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE accounts ADD COLUMN stripe_customer_id TEXT`); err != nil {
			return fmt.Errorf("add stripe_customer_id column: %w", err)
		}
	}

	// Migration: add developer column to review_jobs if missing
	has, err = hasColumn("review_jobs", "developer")
	if err != nil {
		return fmt.Errorf("check developer column: %w", err)
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE review_jobs ADD COLUMN developer TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add developer column: %w", err)
		}
	}

	return nil
}

// ResetStaleJobs requeues queue items left running by a previous daemon
// process so no admitted job is lost across restarts.
func (db *DB) ResetStaleJobs() error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := db.Exec(`
		UPDATE review_jobs
		SET queue_state = 'queued', worker_id = NULL, started_at = NULL, available_at = ?
		WHERE queue_state = 'running'
	`, now)
	return err
}

// parseSQLiteTime parses a time string from SQLite which may be in different formats
func parseSQLiteTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05Z07:00", s); err == nil {
		return t
	}
	return time.Time{}
}
