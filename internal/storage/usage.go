package storage

import (
	"database/sql"
	"time"
)

// UpsertUsageRecord increments the per-developer usage counters for a
// billing month, creating the row on first use. A single-row upsert is
// enough here: usage records are accounting, not admission control.
func (db *DB) UpsertUsageRecord(accountID, repositoryID int64, developer, billingMonth string, prs int, tokens int64) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := db.Exec(`
		INSERT INTO usage_records (account_id, repository_id, developer, billing_month, prs_processed, tokens_consumed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, repository_id, developer, billing_month) DO UPDATE SET
			prs_processed = prs_processed + excluded.prs_processed,
			tokens_consumed = tokens_consumed + excluded.tokens_consumed,
			updated_at = excluded.updated_at
	`, accountID, repositoryID, developer, billingMonth, prs, tokens, now)
	return err
}

// GetUsageRecord returns the usage record for the tuple, or nil if absent.
func (db *DB) GetUsageRecord(accountID, repositoryID int64, developer, billingMonth string) (*UsageRecord, error) {
	var u UsageRecord
	var updatedAt string
	err := db.QueryRow(`
		SELECT id, account_id, repository_id, developer, billing_month, prs_processed, tokens_consumed, updated_at
		FROM usage_records
		WHERE account_id = ? AND repository_id = ? AND developer = ? AND billing_month = ?
	`, accountID, repositoryID, developer, billingMonth).
		Scan(&u.ID, &u.AccountID, &u.RepositoryID, &u.Developer, &u.BillingMonth, &u.PRsProcessed, &u.TokensConsumed, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.UpdatedAt = parseSQLiteTime(updatedAt)
	return &u, nil
}

// ListUsageRecords returns all usage records for an account in a billing month.
func (db *DB) ListUsageRecords(accountID int64, billingMonth string) ([]UsageRecord, error) {
	rows, err := db.Query(`
		SELECT id, account_id, repository_id, developer, billing_month, prs_processed, tokens_consumed, updated_at
		FROM usage_records
		WHERE account_id = ? AND billing_month = ?
		ORDER BY repository_id, developer
	`, accountID, billingMonth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var u UsageRecord
		var updatedAt string
		if err := rows.Scan(&u.ID, &u.AccountID, &u.RepositoryID, &u.Developer, &u.BillingMonth, &u.PRsProcessed, &u.TokensConsumed, &updatedAt); err != nil {
			return nil, err
		}
		u.UpdatedAt = parseSQLiteTime(updatedAt)
		records = append(records, u)
	}
	return records, rows.Err()
}
