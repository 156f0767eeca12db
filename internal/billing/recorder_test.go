package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/reviewbot-dev/reviewbot/internal/storage"
	"github.com/reviewbot-dev/reviewbot/internal/testutil"
)

type meterCall struct {
	customerID string
	meter      string
	value      int64
}

func newTestRecorder(t *testing.T, db *storage.DB) (*Recorder, *[]meterCall) {
	t.Helper()
	r := NewRecorder(db, "sk_test_fake")
	r.now = func() time.Time { return time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC) }

	var calls []meterCall
	r.reportStripe = func(customerID, meter string, value int64) error {
		calls = append(calls, meterCall{customerID, meter, value})
		return nil
	}
	return r, &calls
}

func TestRecordTrialUsage(t *testing.T) {
	db := testutil.OpenTestDB(t)
	r, calls := newTestRecorder(t, db)
	account := testutil.CreateTestAccount(t, db, storage.PlanTrial, 0)
	repo := testutil.CreateTestRepo(t, db, account.ID, "acme/widgets", storage.SeatModeAutoAdd, 0)

	job := &storage.ReviewJob{AccountID: account.ID, RepositoryID: repo.ID, Developer: "alice", TokensUsed: 5000}
	if err := r.Record(job); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, _ := db.GetAccountByID(account.ID)
	if got.TrialPRsUsed != 1 || got.TrialTokensUsed != 5000 {
		t.Errorf("trial usage = %d PRs / %d tokens", got.TrialPRsUsed, got.TrialTokensUsed)
	}
	if got.TrialExpired {
		t.Error("trial expired below its allowance")
	}
	if len(*calls) != 0 {
		t.Errorf("trial usage reported %d Stripe meter events", len(*calls))
	}

	// No metered usage row for trial accounts
	rec, _ := db.GetUsageRecord(account.ID, repo.ID, "alice", "2026-08")
	if rec != nil {
		t.Errorf("trial account got a usage record: %+v", rec)
	}
}

func TestRecordExpiresTrialAtThreshold(t *testing.T) {
	db := testutil.OpenTestDB(t)
	r, _ := newTestRecorder(t, db)
	account := testutil.CreateTestAccount(t, db, storage.PlanTrial, 0)
	repo := testutil.CreateTestRepo(t, db, account.ID, "acme/widgets", storage.SeatModeAutoAdd, 0)
	db.AddTrialUsage(account.ID, TrialMaxPRs-1, 0)

	job := &storage.ReviewJob{AccountID: account.ID, RepositoryID: repo.ID, Developer: "alice", TokensUsed: 100}
	if err := r.Record(job); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, _ := db.GetAccountByID(account.ID)
	if got.TrialPRsUsed != TrialMaxPRs {
		t.Errorf("trial PRs = %d, want %d", got.TrialPRsUsed, TrialMaxPRs)
	}
	if !got.TrialExpired || !got.RequiresPayment {
		t.Error("expected the final trial PR to expire the trial")
	}
}

func TestRecordPaidUsage(t *testing.T) {
	db := testutil.OpenTestDB(t)
	r, calls := newTestRecorder(t, db)
	account := testutil.CreateTestAccount(t, db, storage.PlanPro, 500)
	db.SetStripeCustomerID(account.ID, "cus_123")
	repo := testutil.CreateTestRepo(t, db, account.ID, "acme/widgets", storage.SeatModeAutoAdd, 0)

	job := &storage.ReviewJob{AccountID: account.ID, RepositoryID: repo.ID, Developer: "alice", TokensUsed: 2000}
	if err := r.Record(job); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := r.Record(job); err != nil {
		t.Fatalf("second Record failed: %v", err)
	}

	rec, _ := db.GetUsageRecord(account.ID, repo.ID, "alice", "2026-08")
	if rec == nil || rec.PRsProcessed != 2 || rec.TokensConsumed != 4000 {
		t.Errorf("usage record = %+v, want 2 PRs / 4000 tokens", rec)
	}

	// One PR meter event and one token meter event per recording
	if len(*calls) != 4 {
		t.Fatalf("got %d meter events, want 4", len(*calls))
	}
	first := (*calls)[0]
	if first.customerID != "cus_123" || first.meter != meterPRsReviewed || first.value != 1 {
		t.Errorf("unexpected meter event: %+v", first)
	}
	second := (*calls)[1]
	if second.meter != meterTokensUsed || second.value != 2000 {
		t.Errorf("unexpected meter event: %+v", second)
	}
}

func TestRecordStripeFailureIsNotFatal(t *testing.T) {
	db := testutil.OpenTestDB(t)
	r, _ := newTestRecorder(t, db)
	r.reportStripe = func(string, string, int64) error {
		return errors.New("stripe is down")
	}

	account := testutil.CreateTestAccount(t, db, storage.PlanPro, 500)
	db.SetStripeCustomerID(account.ID, "cus_123")
	repo := testutil.CreateTestRepo(t, db, account.ID, "acme/widgets", storage.SeatModeAutoAdd, 0)

	job := &storage.ReviewJob{AccountID: account.ID, RepositoryID: repo.ID, Developer: "alice", TokensUsed: 100}
	if err := r.Record(job); err != nil {
		t.Fatalf("Record should survive a Stripe outage: %v", err)
	}

	// The local row is the source of truth and must still be written
	rec, _ := db.GetUsageRecord(account.ID, repo.ID, "alice", "2026-08")
	if rec == nil || rec.PRsProcessed != 1 {
		t.Errorf("usage record = %+v", rec)
	}
}

func TestRecordSkipsStripeWithoutCustomer(t *testing.T) {
	db := testutil.OpenTestDB(t)
	r, calls := newTestRecorder(t, db)
	account := testutil.CreateTestAccount(t, db, storage.PlanHobby, 100)
	repo := testutil.CreateTestRepo(t, db, account.ID, "acme/widgets", storage.SeatModeAutoAdd, 0)

	job := &storage.ReviewJob{AccountID: account.ID, RepositoryID: repo.ID, Developer: "bob", TokensUsed: 50}
	if err := r.Record(job); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if len(*calls) != 0 {
		t.Errorf("reported %d meter events without a Stripe customer", len(*calls))
	}
}
