package quota

import (
	"context"
	"database/sql"
	"time"

	"github.com/reviewbot-dev/reviewbot/internal/storage"
)

// SQLiteCounter stores counters in the daemon's SQLite database. Expiry is
// handled lazily: an expired row is treated as absent and reset by the
// next increment. Suitable for single-node deployments; multi-node setups
// use PostgresCounter.
type SQLiteCounter struct {
	db *storage.DB

	// now is replaceable for tests
	now func() time.Time
}

func NewSQLiteCounter(db *storage.DB) *SQLiteCounter {
	return &SQLiteCounter{db: db, now: time.Now}
}

// Incr atomically increments the counter, resetting it first if the row's
// expiry has elapsed. SQLite's single-writer lock makes the transaction an
// atomic increment-with-expiry-on-first-write.
func (c *SQLiteCounter) Incr(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	now := c.now().UTC()
	nowStr := now.Format(time.RFC3339)
	expiresStr := now.Add(expiry).Format(time.RFC3339)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rate_limits (key, count, expires_at) VALUES (?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			count = CASE WHEN rate_limits.expires_at <= ? THEN 1 ELSE rate_limits.count + 1 END,
			expires_at = CASE WHEN rate_limits.expires_at <= ? THEN excluded.expires_at ELSE rate_limits.expires_at END
	`, key, expiresStr, nowStr, nowStr); err != nil {
		return 0, err
	}

	var value int64
	if err := tx.QueryRowContext(ctx, `SELECT count FROM rate_limits WHERE key = ?`, key).Scan(&value); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return value, nil
}

// Get returns the live value of a counter; expired or missing keys read as 0.
func (c *SQLiteCounter) Get(ctx context.Context, key string) (int64, error) {
	nowStr := c.now().UTC().Format(time.RFC3339)
	var value int64
	err := c.db.QueryRowContext(ctx, `
		SELECT count FROM rate_limits WHERE key = ? AND expires_at > ?
	`, key, nowStr).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// PruneExpired removes dead counter rows. Correctness does not depend on
// this; it only keeps the table small.
func (c *SQLiteCounter) PruneExpired(ctx context.Context) (int64, error) {
	nowStr := c.now().UTC().Format(time.RFC3339)
	result, err := c.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE expires_at <= ?`, nowStr)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
