package daemon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reviewbot-dev/reviewbot/internal/billing"
	"github.com/reviewbot-dev/reviewbot/internal/forge"
	"github.com/reviewbot-dev/reviewbot/internal/reviewer"
	"github.com/reviewbot-dev/reviewbot/internal/storage"
)

// maxRetries is the number of retry attempts allowed after initial failure.
// With maxRetries=3, a job can run up to 4 times total (1 initial + 3 retries).
const maxRetries = 3

// jobTimeout bounds a single review run, including forge fetches and the
// model call.
const jobTimeout = 10 * time.Minute

// Caps on fetched file contents, keeping review prompts bounded on
// large pull requests.
const (
	maxFileContentBytes  = 64 << 10
	maxTotalContentBytes = 256 << 10
)

// WorkerPool manages a pool of review workers.
type WorkerPool struct {
	db       *storage.DB
	fetcher  forge.Fetcher
	reviewer reviewer.Reviewer
	recorder *billing.Recorder

	// guidelines is prepended to every review prompt.
	guidelines string

	numWorkers    int
	activeWorkers atomic.Int32
	stopCh        chan struct{}
	readyCh       chan struct{} // closed after wg.Add in Start
	startOnce     sync.Once
	stopOnce      sync.Once
	wg            sync.WaitGroup

	// Overridable in tests for deterministic timing.
	pollInterval time.Duration
	backoffBase  time.Duration
	now          func() time.Time
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(db *storage.DB, fetcher forge.Fetcher, rev reviewer.Reviewer, recorder *billing.Recorder, guidelines string, numWorkers int) *WorkerPool {
	return &WorkerPool{
		db:           db,
		fetcher:      fetcher,
		reviewer:     rev,
		recorder:     recorder,
		guidelines:   guidelines,
		numWorkers:   numWorkers,
		stopCh:       make(chan struct{}),
		readyCh:      make(chan struct{}),
		pollInterval: 2 * time.Second,
		backoffBase:  2 * time.Second,
		now:          time.Now,
	}
}

// Start begins the worker pool. Safe to call multiple times;
// only the first call spawns workers.
func (wp *WorkerPool) Start() {
	wp.startOnce.Do(func() {
		log.Printf("Starting worker pool with %d workers", wp.numWorkers)
		wp.wg.Add(wp.numWorkers)
		close(wp.readyCh)
		for i := 0; i < wp.numWorkers; i++ {
			go wp.worker(i)
		}
	})
}

// Stop gracefully shuts down the worker pool. Safe to call
// multiple times; only the first call performs shutdown.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		log.Println("Stopping worker pool...")
		close(wp.stopCh)
		// Wait for Start to finish wg.Add before calling Wait.
		// If Start was never called, readyCh stays open but
		// stopCh is closed, so any late workers exit immediately.
		select {
		case <-wp.readyCh:
			wp.wg.Wait()
		default:
		}
		log.Println("Worker pool stopped")
	})
}

// ActiveWorkers returns the number of workers currently running a job.
func (wp *WorkerPool) ActiveWorkers() int {
	return int(wp.activeWorkers.Load())
}

// MaxWorkers returns the total number of workers in the pool.
func (wp *WorkerPool) MaxWorkers() int {
	return wp.numWorkers
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	workerID := fmt.Sprintf("worker-%d", id)

	log.Printf("[%s] Started", workerID)

	for {
		select {
		case <-wp.stopCh:
			log.Printf("[%s] Shutting down", workerID)
			return
		default:
		}

		job, err := wp.db.ClaimJob(workerID)
		if err != nil {
			log.Printf("[%s] Error claiming job: %v", workerID, err)
			wp.sleep(5 * time.Second)
			continue
		}

		if job == nil {
			// No jobs available, wait and retry
			wp.sleep(wp.pollInterval)
			continue
		}

		wp.activeWorkers.Add(1)
		wp.processJob(workerID, job)
		wp.activeWorkers.Add(-1)
	}
}

// sleep waits for d or until the pool is stopping, whichever is first.
func (wp *WorkerPool) sleep(d time.Duration) {
	select {
	case <-wp.stopCh:
	case <-time.After(d):
	}
}

func (wp *WorkerPool) processJob(workerID string, job *storage.ReviewJob) {
	log.Printf("[%s] Processing job %s %s#%d (attempt %d)",
		workerID, job.UUID, job.RepoFullName, job.PullRequest, job.Attempts+1)
	jobStart := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	account, err := wp.db.GetAccountByID(job.AccountID)
	if err != nil || account == nil {
		wp.failOrRetry(workerID, job, fmt.Sprintf("look up account: %v", err))
		return
	}
	repo, err := wp.db.GetRepositoryByID(job.RepositoryID)
	if err != nil || repo == nil {
		wp.failOrRetry(workerID, job, fmt.Sprintf("look up repository: %v", err))
		return
	}
	wp.checkpoint(workerID, job, 10)

	pr, err := wp.fetcher.FetchPullRequest(ctx, account.ForgeToken, repo.FullName, job.PullRequest)
	if err != nil {
		wp.failOrRetry(workerID, job, fmt.Sprintf("fetch pull request: %v", err))
		return
	}
	diff, err := wp.fetcher.FetchDiff(ctx, account.ForgeToken, repo.FullName, job.PullRequest)
	if err != nil {
		wp.failOrRetry(workerID, job, fmt.Sprintf("fetch diff: %v", err))
		return
	}
	wp.checkpoint(workerID, job, 20)

	files, err := wp.fetcher.FetchChangedFiles(ctx, account.ForgeToken, repo.FullName, job.PullRequest)
	if err != nil {
		wp.failOrRetry(workerID, job, fmt.Sprintf("fetch changed files: %v", err))
		return
	}

	input := reviewer.Input{
		RepoFullName: repo.FullName,
		Number:       job.PullRequest,
		Title:        pr.Title,
		Description:  pr.Body,
		Author:       pr.Author,
		Diff:         diff,
		Guidelines:   wp.guidelines,
	}
	budget := maxTotalContentBytes
	for _, f := range files {
		sf := reviewer.SourceFile{Path: f.Filename, Patch: f.Patch}
		if f.Status != "removed" && budget > 0 {
			content, err := wp.fetcher.FetchFileContent(ctx, account.ForgeToken, repo.FullName, f.Filename, pr.HeadSHA)
			if err != nil {
				wp.failOrRetry(workerID, job, fmt.Sprintf("fetch contents of %s: %v", f.Filename, err))
				return
			}
			if len(content) > maxFileContentBytes {
				content = content[:maxFileContentBytes]
			}
			if len(content) > budget {
				content = content[:budget]
			}
			budget -= len(content)
			sf.Content = content
		}
		input.Files = append(input.Files, sf)
	}
	wp.checkpoint(workerID, job, 40)

	result, err := wp.reviewer.Review(ctx, input)
	if err != nil {
		wp.failOrRetry(workerID, job, fmt.Sprintf("review: %v", err))
		return
	}
	wp.checkpoint(workerID, job, 60)

	comments := make([]storage.ReviewComment, 0, len(result.Comments))
	for _, c := range result.Comments {
		comments = append(comments, storage.ReviewComment{File: c.File, Line: c.Line, Comment: c.Comment})
	}
	wp.checkpoint(workerID, job, 90)

	// CompleteJob sets progress to 100 and is a no-op if another writer
	// already moved the job out of the running state.
	if err := wp.db.CompleteJob(job.ID, workerID, result.Summary, result.Model, result.TokensUsed, comments); err != nil {
		log.Printf("[%s] Error storing review for job %s: %v", workerID, job.UUID, err)
		return
	}

	// Book usage after the review is durably stored. A recording failure
	// must not unwind a finished review, so it is logged and the job
	// stays completed.
	job.TokensUsed = result.TokensUsed
	if err := wp.recorder.Record(job); err != nil {
		log.Printf("[%s] Error recording usage for job %s: %v", workerID, job.UUID, err)
	}

	log.Printf("[%s] Completed job %s %s#%d in %v",
		workerID, job.UUID, job.RepoFullName, job.PullRequest,
		time.Since(jobStart).Round(time.Millisecond))
}

// checkpoint persists job progress. Purely cosmetic for job watchers, so
// failures are logged and processing continues.
func (wp *WorkerPool) checkpoint(workerID string, job *storage.ReviewJob, progress int) {
	if err := wp.db.SetJobProgress(job.ID, progress); err != nil {
		log.Printf("[%s] Error setting progress %d on job %s: %v", workerID, progress, job.UUID, err)
	}
}

// failOrRetry records the failure, then either schedules a delayed retry
// or finalizes the job when retries are exhausted. The failed status and
// error message are visible to clients between retry runs.
func (wp *WorkerPool) failOrRetry(workerID string, job *storage.ReviewJob, errorMsg string) {
	attempts, err := wp.db.FailJob(job.ID, workerID, errorMsg)
	if err != nil {
		log.Printf("[%s] Error failing job %s: %v", workerID, job.UUID, err)
		return
	}

	if attempts > maxRetries {
		if err := wp.db.FinalizeFailedJob(job.ID, workerID); err != nil {
			log.Printf("[%s] Error finalizing job %s: %v", workerID, job.UUID, err)
			return
		}
		log.Printf("[%s] Job %s failed after %d retries: %s",
			workerID, job.UUID, maxRetries, errorMsg)
		return
	}

	delay := wp.backoffBase << (attempts - 1)
	requeued, err := wp.db.RequeueForRetry(job.ID, workerID, wp.now().Add(delay))
	if err != nil {
		log.Printf("[%s] Error requeueing job %s: %v", workerID, job.UUID, err)
		return
	}
	if requeued {
		log.Printf("[%s] Job %s queued for retry in %v (%d/%d): %s",
			workerID, job.UUID, delay, attempts, maxRetries, errorMsg)
	}
}
