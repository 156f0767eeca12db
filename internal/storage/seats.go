package storage

import (
	"strings"
	"time"
)

// ActiveSeats returns the active seat assignments for a repository in a
// billing month.
func (db *DB) ActiveSeats(repositoryID int64, billingMonth string) ([]SeatAssignment, error) {
	rows, err := db.Query(`
		SELECT id, repository_id, developer, billing_month, created_at
		FROM seat_assignments
		WHERE repository_id = ? AND billing_month = ? AND is_active = 1
		ORDER BY created_at
	`, repositoryID, billingMonth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []SeatAssignment
	for rows.Next() {
		var s SeatAssignment
		var createdAt string
		if err := rows.Scan(&s.ID, &s.RepositoryID, &s.Developer, &s.BillingMonth, &createdAt); err != nil {
			return nil, err
		}
		s.IsActive = true
		s.CreatedAt = parseSQLiteTime(createdAt)
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// InsertSeat claims a seat with a single conditional insert. Two concurrent
// claims for the same (repository, developer, month) race on the partial
// unique index; the loser's conflict means the seat already exists, which is
// success for the caller. Returns true if a new row was inserted.
func (db *DB) InsertSeat(repositoryID int64, developer, billingMonth string) (bool, error) {
	now := time.Now().UTC().Format(timeFormat)
	result, err := db.Exec(`
		INSERT INTO seat_assignments (repository_id, developer, billing_month, is_active, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT DO NOTHING
	`, repositoryID, developer, billingMonth, now)
	if err != nil {
		// Older SQLite builds report the partial-index conflict as a
		// constraint error instead of honoring ON CONFLICT.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return false, nil
		}
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasActiveSeat reports whether the developer holds an active seat on the
// repository for the billing month.
func (db *DB) HasActiveSeat(repositoryID int64, developer, billingMonth string) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM seat_assignments
		WHERE repository_id = ? AND developer = ? AND billing_month = ? AND is_active = 1
	`, repositoryID, developer, billingMonth).Scan(&count)
	return count > 0, err
}

// CountActiveSeats returns the number of active seats for a repository in a
// billing month.
func (db *DB) CountActiveSeats(repositoryID int64, billingMonth string) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM seat_assignments
		WHERE repository_id = ? AND billing_month = ? AND is_active = 1
	`, repositoryID, billingMonth).Scan(&count)
	return count, err
}

// DeactivateSeatsForMonth deactivates every active seat for the given
// billing month. Rows are kept for the usage history; only is_active flips.
// Returns the number of seats deactivated.
func (db *DB) DeactivateSeatsForMonth(billingMonth string) (int64, error) {
	now := time.Now().UTC().Format(timeFormat)
	result, err := db.Exec(`
		UPDATE seat_assignments
		SET is_active = 0, deactivated_at = ?
		WHERE billing_month = ? AND is_active = 1
	`, now, billingMonth)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeactivateAccountSeatsForMonth is DeactivateSeatsForMonth restricted
// to one account's repositories.
func (db *DB) DeactivateAccountSeatsForMonth(accountID int64, billingMonth string) (int64, error) {
	now := time.Now().UTC().Format(timeFormat)
	result, err := db.Exec(`
		UPDATE seat_assignments
		SET is_active = 0, deactivated_at = ?
		WHERE billing_month = ? AND is_active = 1
		  AND repository_id IN (SELECT id FROM repositories WHERE account_id = ?)
	`, now, billingMonth, accountID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
