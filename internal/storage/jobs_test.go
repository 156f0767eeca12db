package storage_test

import (
	"testing"
	"time"

	"github.com/reviewbot-dev/reviewbot/internal/storage"
	"github.com/reviewbot-dev/reviewbot/internal/testutil"
)

func setupJobFixtures(t *testing.T) (*storage.DB, *storage.Account, *storage.Repository) {
	t.Helper()
	db := testutil.OpenTestDB(t)
	account := testutil.CreateTestAccount(t, db, storage.PlanPro, 500)
	repo := testutil.CreateTestRepo(t, db, account.ID, "acme/widgets", storage.SeatModeAutoAdd, 0)
	return db, account, repo
}

func TestCreateAndClaimJob(t *testing.T) {
	db, account, repo := setupJobFixtures(t)

	job := testutil.CreateTestJob(t, db, account.ID, repo.ID, 42, "alice")
	if job.UUID == "" {
		t.Fatal("expected job to get a public id")
	}
	if job.Status != storage.JobStatusProcessing {
		t.Errorf("new job status = %s, want processing", job.Status)
	}

	claimed, err := db.ClaimJob("worker-0")
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected to claim job %d, got %+v", job.ID, claimed)
	}
	if claimed.RepoFullName != "acme/widgets" {
		t.Errorf("claimed repo = %q, want acme/widgets", claimed.RepoFullName)
	}

	// The claimed item is no longer deliverable
	second, err := db.ClaimJob("worker-1")
	if err != nil {
		t.Fatalf("second ClaimJob failed: %v", err)
	}
	if second != nil {
		t.Fatalf("expected no deliverable item, got job %d", second.ID)
	}
}

func TestCompleteJobStoresResult(t *testing.T) {
	db, account, repo := setupJobFixtures(t)
	job := testutil.CreateTestJob(t, db, account.ID, repo.ID, 7, "alice")

	if _, err := db.ClaimJob("worker-0"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	comments := []storage.ReviewComment{
		{File: "main.go", Line: 10, Comment: "unchecked error"},
		{File: "util.go", Line: 3, Comment: "dead code"},
	}
	if err := db.CompleteJob(job.ID, "worker-0", "looks fine overall", "gpt-4o", 1234, comments); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	got, err := db.GetJobByUUID(job.UUID)
	if err != nil {
		t.Fatalf("GetJobByUUID failed: %v", err)
	}
	if got.Status != storage.JobStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if got.Summary != "looks fine overall" || got.TokensUsed != 1234 {
		t.Errorf("unexpected result fields: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}

	stored, err := db.GetJobComments(job.ID)
	if err != nil {
		t.Fatalf("GetJobComments failed: %v", err)
	}
	if len(stored) != 2 || stored[0].File != "main.go" || stored[1].Line != 3 {
		t.Errorf("unexpected comments: %+v", stored)
	}
}

func TestCompleteJobRejectsStaleWorker(t *testing.T) {
	db, account, repo := setupJobFixtures(t)
	job := testutil.CreateTestJob(t, db, account.ID, repo.ID, 7, "alice")

	if _, err := db.ClaimJob("worker-0"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if err := db.CompleteJob(job.ID, "worker-9", "stale", "m", 0, nil); err == nil {
		t.Fatal("expected completion by wrong worker to fail")
	}

	got, err := db.GetJobByID(job.ID)
	if err != nil {
		t.Fatalf("GetJobByID failed: %v", err)
	}
	if got.Status != storage.JobStatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}
}

func TestFailAndRetryCycle(t *testing.T) {
	db, account, repo := setupJobFixtures(t)
	job := testutil.CreateTestJob(t, db, account.ID, repo.ID, 9, "bob")

	if _, err := db.ClaimJob("worker-0"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	attempts, err := db.FailJob(job.ID, "worker-0", "fetch diff: boom")
	if err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}

	// The failed state and error are visible while the retry is pending
	got, _ := db.GetJobByID(job.ID)
	if got.Status != storage.JobStatusFailed || got.Error != "fetch diff: boom" {
		t.Errorf("job after failure = status %s error %q", got.Status, got.Error)
	}

	requeued, err := db.RequeueForRetry(job.ID, "worker-0", time.Now().Add(-time.Second))
	if err != nil || !requeued {
		t.Fatalf("RequeueForRetry = %v, %v", requeued, err)
	}

	// A re-claim flips the job back to processing
	claimed, err := db.ClaimJob("worker-1")
	if err != nil || claimed == nil {
		t.Fatalf("re-claim failed: %v, %v", claimed, err)
	}
	if claimed.ID != job.ID || claimed.Status != storage.JobStatusProcessing {
		t.Errorf("re-claimed job = %+v", claimed)
	}
	if claimed.Attempts != 1 {
		t.Errorf("attempts after re-claim = %d, want 1", claimed.Attempts)
	}
}

func TestRetryRespectsAvailableAt(t *testing.T) {
	db, account, repo := setupJobFixtures(t)
	job := testutil.CreateTestJob(t, db, account.ID, repo.ID, 5, "bob")

	if _, err := db.ClaimJob("worker-0"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if _, err := db.FailJob(job.ID, "worker-0", "transient"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	if _, err := db.RequeueForRetry(job.ID, "worker-0", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RequeueForRetry failed: %v", err)
	}

	claimed, err := db.ClaimJob("worker-1")
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if claimed != nil {
		t.Fatalf("claimed job %d before its delay elapsed", claimed.ID)
	}
}

func TestFinalizeFailedJobRetiresItem(t *testing.T) {
	db, account, repo := setupJobFixtures(t)
	job := testutil.CreateTestJob(t, db, account.ID, repo.ID, 3, "carol")

	if _, err := db.ClaimJob("worker-0"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if _, err := db.FailJob(job.ID, "worker-0", "permanent"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	if err := db.FinalizeFailedJob(job.ID, "worker-0"); err != nil {
		t.Fatalf("FinalizeFailedJob failed: %v", err)
	}

	got, _ := db.GetJobByID(job.ID)
	if got.Status != storage.JobStatusFailed || got.Error != "permanent" {
		t.Errorf("finalized job = status %s error %q", got.Status, got.Error)
	}
	if got.QueueState != storage.QueueStateDone {
		t.Errorf("queue state = %s, want done", got.QueueState)
	}

	if claimed, _ := db.ClaimJob("worker-1"); claimed != nil {
		t.Errorf("finalized job was claimed again")
	}
}

func TestEnqueueJobDedup(t *testing.T) {
	db, account, repo := setupJobFixtures(t)
	job := testutil.CreateTestJob(t, db, account.ID, repo.ID, 11, "dave")

	// Queued item: enqueueing again must not produce a second delivery
	requeued, err := db.EnqueueJob(job.ID)
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if requeued {
		t.Error("enqueue of a live queued item should be a no-op")
	}

	// Running item: same
	if _, err := db.ClaimJob("worker-0"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	requeued, err = db.EnqueueJob(job.ID)
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if requeued {
		t.Error("enqueue of a live running item should be a no-op")
	}

	// Terminal completed job: status is no longer processing, so enqueue
	// must not revive it
	if err := db.CompleteJob(job.ID, "worker-0", "done", "m", 0, nil); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	requeued, err = db.EnqueueJob(job.ID)
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if requeued {
		t.Error("enqueue of a completed job should be a no-op")
	}
}

func TestFindLiveJob(t *testing.T) {
	db, account, repo := setupJobFixtures(t)

	if live, err := db.FindLiveJob(repo.ID, 11); err != nil || live != nil {
		t.Fatalf("FindLiveJob with no jobs = %v, %v", live, err)
	}

	job := testutil.CreateTestJob(t, db, account.ID, repo.ID, 11, "dave")

	// Queued, running, and awaiting-retry jobs are all live
	live, err := db.FindLiveJob(repo.ID, 11)
	if err != nil || live == nil || live.ID != job.ID {
		t.Fatalf("queued: FindLiveJob = %v, %v", live, err)
	}

	if _, err := db.ClaimJob("worker-0"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if live, _ = db.FindLiveJob(repo.ID, 11); live == nil {
		t.Fatal("running job not found as live")
	}

	if _, err := db.FailJob(job.ID, "worker-0", "boom"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	if _, err := db.RequeueForRetry(job.ID, "worker-0", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("RequeueForRetry failed: %v", err)
	}
	if live, _ = db.FindLiveJob(repo.ID, 11); live == nil {
		t.Fatal("job awaiting retry not found as live")
	}

	// A terminal job is not live. Make the retry deliverable, then
	// finish it.
	ready := time.Now().UTC().Add(-time.Second).Format("2006-01-02T15:04:05.000000000Z07:00")
	if _, err := db.Exec(`UPDATE review_jobs SET available_at = ? WHERE id = ?`, ready, job.ID); err != nil {
		t.Fatalf("age available_at: %v", err)
	}
	claimed, err := db.ClaimJob("worker-0")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob = %v, %v", claimed, err)
	}
	if err := db.CompleteJob(claimed.ID, "worker-0", "done", "m", 0, nil); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if live, _ = db.FindLiveJob(repo.ID, 11); live != nil {
		t.Errorf("completed job still reported live: %+v", live)
	}
}

func TestSetJobProgressOnlyWhileRunning(t *testing.T) {
	db, account, repo := setupJobFixtures(t)
	job := testutil.CreateTestJob(t, db, account.ID, repo.ID, 2, "erin")

	// Not yet claimed: checkpoint is a no-op
	if err := db.SetJobProgress(job.ID, 40); err != nil {
		t.Fatalf("SetJobProgress failed: %v", err)
	}
	got, _ := db.GetJobByID(job.ID)
	if got.Progress != 0 {
		t.Errorf("progress on queued job = %d, want 0", got.Progress)
	}

	if _, err := db.ClaimJob("worker-0"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if err := db.SetJobProgress(job.ID, 40); err != nil {
		t.Fatalf("SetJobProgress failed: %v", err)
	}
	got, _ = db.GetJobByID(job.ID)
	if got.Progress != 40 {
		t.Errorf("progress on running job = %d, want 40", got.Progress)
	}
}

func TestResetStaleJobs(t *testing.T) {
	db, account, repo := setupJobFixtures(t)
	job := testutil.CreateTestJob(t, db, account.ID, repo.ID, 6, "frank")

	if _, err := db.ClaimJob("worker-0"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	// Simulates a daemon restart with the item still held by a dead worker
	if err := db.ResetStaleJobs(); err != nil {
		t.Fatalf("ResetStaleJobs failed: %v", err)
	}

	claimed, err := db.ClaimJob("worker-1")
	if err != nil || claimed == nil {
		t.Fatalf("expected stale item to be claimable: %v, %v", claimed, err)
	}
	if claimed.ID != job.ID {
		t.Errorf("claimed job %d, want %d", claimed.ID, job.ID)
	}
}

func TestListJobsByAccount(t *testing.T) {
	db, account, repo := setupJobFixtures(t)
	other := testutil.CreateTestAccount(t, db, storage.PlanHobby, 50)
	otherRepo := testutil.CreateTestRepo(t, db, other.ID, "other/repo", storage.SeatModeAutoAdd, 0)

	for i := 1; i <= 3; i++ {
		testutil.CreateTestJob(t, db, account.ID, repo.ID, i, "alice")
	}
	testutil.CreateTestJob(t, db, other.ID, otherRepo.ID, 1, "zoe")

	jobs, err := db.ListJobsByAccount(account.ID, 0)
	if err != nil {
		t.Fatalf("ListJobsByAccount failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	for _, j := range jobs {
		if j.AccountID != account.ID {
			t.Errorf("job %s belongs to account %d", j.UUID, j.AccountID)
		}
	}

	jobs, err = db.ListJobsByAccount(account.ID, 2)
	if err != nil {
		t.Fatalf("ListJobsByAccount with limit failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("got %d jobs with limit 2", len(jobs))
	}
}

func TestPruneJobs(t *testing.T) {
	db, account, repo := setupJobFixtures(t)

	oldJob := testutil.CreateTestJob(t, db, account.ID, repo.ID, 1, "alice")
	if _, err := db.ClaimJob("worker-0"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if err := db.CompleteJob(oldJob.ID, "worker-0", "old", "m", 0, []storage.ReviewComment{{File: "a.go", Line: 1, Comment: "x"}}); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	// Age the job past the retention window
	stale := time.Now().UTC().Add(-48 * time.Hour).Format("2006-01-02T15:04:05.000000000Z07:00")
	if _, err := db.Exec(`UPDATE review_jobs SET completed_at = ? WHERE id = ?`, stale, oldJob.ID); err != nil {
		t.Fatalf("age job: %v", err)
	}

	freshJob := testutil.CreateTestJob(t, db, account.ID, repo.ID, 2, "alice")
	if _, err := db.ClaimJob("worker-0"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if err := db.CompleteJob(freshJob.ID, "worker-0", "fresh", "m", 0, nil); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	removed, err := db.PruneJobs(24*time.Hour, 1000, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneJobs failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := db.GetJobByID(oldJob.ID); err == nil {
		t.Error("expected aged job to be pruned")
	}
	if _, err := db.GetJobByID(freshJob.ID); err != nil {
		t.Errorf("fresh job should survive pruning: %v", err)
	}
	if comments, _ := db.GetJobComments(oldJob.ID); len(comments) != 0 {
		t.Errorf("pruned job left %d comments behind", len(comments))
	}
}
