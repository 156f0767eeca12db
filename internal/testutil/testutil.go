// Package testutil provides shared test utilities for reviewbot tests.
package testutil

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/reviewbot-dev/reviewbot/internal/storage"
)

// OpenTestDB creates a test database in a temporary directory.
// The database is automatically closed when the test completes.
func OpenTestDB(t *testing.T) *storage.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// AssertStatusCode checks that the response has the expected HTTP status code.
// On failure, it reports the response body for debugging.
func AssertStatusCode(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()

	if w.Code != expected {
		t.Errorf("Expected status %d, got %d: %s", expected, w.Code, w.Body.String())
	}
}

// CreateTestAccount creates an account with sensible defaults.
func CreateTestAccount(t *testing.T, db *storage.DB, plan storage.Plan, planLimit int64) *storage.Account {
	t.Helper()

	account, err := db.CreateAccount("test-account", plan, "token-"+string(plan), "forge-token", planLimit)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return account
}

// CreateTestRepo creates an enabled repository for the account.
func CreateTestRepo(t *testing.T, db *storage.DB, accountID int64, fullName string, mode storage.SeatMode, maxSeats int) *storage.Repository {
	t.Helper()

	repo, err := db.CreateRepository(accountID, fullName, mode, maxSeats)
	if err != nil {
		t.Fatalf("CreateRepository failed: %v", err)
	}
	return repo
}

// CreateTestJob creates a queued review job.
func CreateTestJob(t *testing.T, db *storage.DB, accountID, repoID int64, pullRequest int, developer string) *storage.ReviewJob {
	t.Helper()

	job, err := db.CreateJob(accountID, repoID, pullRequest, developer)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	return job
}
