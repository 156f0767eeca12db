package storage_test

import (
	"testing"

	"github.com/reviewbot-dev/reviewbot/internal/storage"
	"github.com/reviewbot-dev/reviewbot/internal/testutil"
)

func TestAccountTokenLookup(t *testing.T) {
	db := testutil.OpenTestDB(t)

	account, err := db.CreateAccount("acme", storage.PlanPro, "tok-123", "ghp_abc", 500)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	got, err := db.GetAccountByToken("tok-123")
	if err != nil {
		t.Fatalf("GetAccountByToken failed: %v", err)
	}
	if got == nil || got.ID != account.ID {
		t.Fatalf("expected account %d, got %+v", account.ID, got)
	}
	if got.PlanLimit != 500 {
		t.Errorf("plan limit = %d, want 500", got.PlanLimit)
	}

	missing, err := db.GetAccountByToken("tok-nope")
	if err != nil {
		t.Fatalf("GetAccountByToken failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown token, got %+v", missing)
	}
}

func TestTrialUsageAndExpiry(t *testing.T) {
	db := testutil.OpenTestDB(t)
	account := testutil.CreateTestAccount(t, db, storage.PlanTrial, 0)

	if err := db.AddTrialUsage(account.ID, 2, 150000); err != nil {
		t.Fatalf("AddTrialUsage failed: %v", err)
	}
	if err := db.AddTrialUsage(account.ID, 1, 50000); err != nil {
		t.Fatalf("AddTrialUsage failed: %v", err)
	}

	got, err := db.GetAccountByID(account.ID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if got.TrialPRsUsed != 3 || got.TrialTokensUsed != 200000 {
		t.Errorf("trial usage = %d PRs / %d tokens", got.TrialPRsUsed, got.TrialTokensUsed)
	}
	if got.TrialExpired {
		t.Error("trial should not expire from usage accumulation alone")
	}

	if err := db.ExpireTrial(account.ID); err != nil {
		t.Fatalf("ExpireTrial failed: %v", err)
	}
	got, _ = db.GetAccountByID(account.ID)
	if !got.TrialExpired || !got.RequiresPayment {
		t.Errorf("expired trial = expired %v, requires payment %v", got.TrialExpired, got.RequiresPayment)
	}
}

func TestLatestSubscription(t *testing.T) {
	db := testutil.OpenTestDB(t)
	account := testutil.CreateTestAccount(t, db, storage.PlanPro, 500)

	sub, err := db.LatestSubscription(account.ID)
	if err != nil {
		t.Fatalf("LatestSubscription failed: %v", err)
	}
	if sub != nil {
		t.Fatalf("expected no subscription, got %+v", sub)
	}

	if _, err := db.CreateSubscription(account.ID, 3, storage.SubscriptionCanceled); err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	latest, err := db.CreateSubscription(account.ID, 5, storage.SubscriptionActive)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}

	sub, err = db.LatestSubscription(account.ID)
	if err != nil {
		t.Fatalf("LatestSubscription failed: %v", err)
	}
	if sub == nil || sub.ID != latest.ID {
		t.Fatalf("expected subscription %d, got %+v", latest.ID, sub)
	}
	if sub.SeatsPurchased != 5 || sub.Status != storage.SubscriptionActive {
		t.Errorf("unexpected subscription: %+v", sub)
	}
}

func TestWhitelistUpdates(t *testing.T) {
	db := testutil.OpenTestDB(t)
	account := testutil.CreateTestAccount(t, db, storage.PlanPro, 500)
	repo := testutil.CreateTestRepo(t, db, account.ID, "acme/widgets", storage.SeatModeWhitelist, 0)

	if err := db.AddToWhitelist(repo.ID, "alice"); err != nil {
		t.Fatalf("AddToWhitelist failed: %v", err)
	}
	// Adding twice is idempotent
	if err := db.AddToWhitelist(repo.ID, "alice"); err != nil {
		t.Fatalf("second AddToWhitelist failed: %v", err)
	}
	if err := db.AddToWhitelist(repo.ID, "bob"); err != nil {
		t.Fatalf("AddToWhitelist failed: %v", err)
	}

	got, err := db.GetRepositoryByID(repo.ID)
	if err != nil {
		t.Fatalf("GetRepositoryByID failed: %v", err)
	}
	if len(got.Whitelist) != 2 {
		t.Fatalf("whitelist = %v, want [alice bob]", got.Whitelist)
	}

	if err := db.RemoveFromWhitelist(repo.ID, "alice"); err != nil {
		t.Fatalf("RemoveFromWhitelist failed: %v", err)
	}
	// Removing an absent developer is a no-op
	if err := db.RemoveFromWhitelist(repo.ID, "mallory"); err != nil {
		t.Fatalf("RemoveFromWhitelist of absent developer failed: %v", err)
	}

	got, _ = db.GetRepositoryByID(repo.ID)
	if len(got.Whitelist) != 1 || got.Whitelist[0] != "bob" {
		t.Errorf("whitelist after removal = %v, want [bob]", got.Whitelist)
	}
}

func TestRepositoryLookupAndToggle(t *testing.T) {
	db := testutil.OpenTestDB(t)
	account := testutil.CreateTestAccount(t, db, storage.PlanHobby, 100)
	repo := testutil.CreateTestRepo(t, db, account.ID, "acme/api", storage.SeatModeAutoAdd, 2)

	got, err := db.GetRepositoryByName("acme/api")
	if err != nil {
		t.Fatalf("GetRepositoryByName failed: %v", err)
	}
	if got == nil || got.ID != repo.ID || !got.IsEnabled {
		t.Fatalf("unexpected repository: %+v", got)
	}
	if got.MaxSeats != 2 {
		t.Errorf("max seats = %d, want 2", got.MaxSeats)
	}

	if err := db.SetRepositoryEnabled(repo.ID, false); err != nil {
		t.Fatalf("SetRepositoryEnabled failed: %v", err)
	}
	got, _ = db.GetRepositoryByName("acme/api")
	if got.IsEnabled {
		t.Error("expected repository to be disabled")
	}
}
