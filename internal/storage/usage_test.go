package storage_test

import (
	"testing"

	"github.com/reviewbot-dev/reviewbot/internal/storage"
	"github.com/reviewbot-dev/reviewbot/internal/testutil"
)

func TestUpsertUsageRecordAccumulates(t *testing.T) {
	db := testutil.OpenTestDB(t)
	account := testutil.CreateTestAccount(t, db, storage.PlanPro, 500)
	repo := testutil.CreateTestRepo(t, db, account.ID, "acme/widgets", storage.SeatModeAutoAdd, 0)

	if err := db.UpsertUsageRecord(account.ID, repo.ID, "alice", "2026-08", 1, 1200); err != nil {
		t.Fatalf("UpsertUsageRecord failed: %v", err)
	}
	if err := db.UpsertUsageRecord(account.ID, repo.ID, "alice", "2026-08", 1, 800); err != nil {
		t.Fatalf("second UpsertUsageRecord failed: %v", err)
	}

	rec, err := db.GetUsageRecord(account.ID, repo.ID, "alice", "2026-08")
	if err != nil {
		t.Fatalf("GetUsageRecord failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a usage record")
	}
	if rec.PRsProcessed != 2 || rec.TokensConsumed != 2000 {
		t.Errorf("usage = %d PRs / %d tokens, want 2 / 2000", rec.PRsProcessed, rec.TokensConsumed)
	}
}

func TestUsageRecordsSeparateByMonthAndDeveloper(t *testing.T) {
	db := testutil.OpenTestDB(t)
	account := testutil.CreateTestAccount(t, db, storage.PlanPro, 500)
	repo := testutil.CreateTestRepo(t, db, account.ID, "acme/widgets", storage.SeatModeAutoAdd, 0)

	db.UpsertUsageRecord(account.ID, repo.ID, "alice", "2026-08", 1, 100)
	db.UpsertUsageRecord(account.ID, repo.ID, "bob", "2026-08", 1, 200)
	db.UpsertUsageRecord(account.ID, repo.ID, "alice", "2026-09", 1, 300)

	records, err := db.ListUsageRecords(account.ID, "2026-08")
	if err != nil {
		t.Fatalf("ListUsageRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records for 2026-08, want 2", len(records))
	}

	rec, _ := db.GetUsageRecord(account.ID, repo.ID, "alice", "2026-09")
	if rec == nil || rec.TokensConsumed != 300 {
		t.Errorf("september record = %+v", rec)
	}

	rec, err = db.GetUsageRecord(account.ID, repo.ID, "carol", "2026-08")
	if err != nil {
		t.Fatalf("GetUsageRecord failed: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for absent record, got %+v", rec)
	}
}
