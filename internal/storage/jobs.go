package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateJob creates a review job in 'processing' state with its queue item
// queued. The job row is the queue item: its id is the delivery identity, so
// enqueueing the same id again can never produce a second live item.
func (db *DB) CreateJob(accountID, repositoryID int64, pullRequest int, developer string) (*ReviewJob, error) {
	now := time.Now().UTC()
	nowStr := now.Format(timeFormat)
	jobUUID := uuid.NewString()

	result, err := db.Exec(`
		INSERT INTO review_jobs (uuid, account_id, repository_id, pull_request, developer, status, queue_state, progress, available_at, created_at)
		VALUES (?, ?, ?, ?, ?, 'processing', 'queued', 0, ?, ?)
	`, jobUUID, accountID, repositoryID, pullRequest, developer, nowStr, nowStr)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, _ := result.LastInsertId()
	return &ReviewJob{
		ID:           id,
		UUID:         jobUUID,
		AccountID:    accountID,
		RepositoryID: repositoryID,
		PullRequest:  pullRequest,
		Developer:    developer,
		Status:       JobStatusProcessing,
		QueueState:   QueueStateQueued,
		AvailableAt:  now,
		CreatedAt:    now,
	}, nil
}

// EnqueueJob makes the job's queue item deliverable again. It is a no-op
// when a live item (queued or running) already exists for the id, so double
// dispatch never yields two executions. Returns true if the item was
// (re)queued.
func (db *DB) EnqueueJob(jobID int64) (bool, error) {
	now := time.Now().UTC().Format(timeFormat)
	result, err := db.Exec(`
		UPDATE review_jobs
		SET queue_state = 'queued', worker_id = NULL, available_at = ?
		WHERE id = ? AND queue_state = 'done' AND status = 'processing'
	`, now, jobID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimJob atomically claims the next deliverable queue item for a worker.
// A claim on a previously failed attempt flips the job back to processing.
// Returns nil when nothing is deliverable.
func (db *DB) ClaimJob(workerID string) (*ReviewJob, error) {
	now := time.Now().UTC()
	nowStr := now.Format(timeFormat)

	// Claim in a single statement so two workers can't take the same item
	result, err := db.Exec(`
		UPDATE review_jobs
		SET queue_state = 'running', status = 'processing', worker_id = ?, started_at = ?
		WHERE id = (
			SELECT id FROM review_jobs
			WHERE queue_state = 'queued' AND available_at <= ?
			ORDER BY created_at
			LIMIT 1
		)
	`, workerID, nowStr, nowStr)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, nil // Nothing deliverable
	}

	var job ReviewJob
	var createdAt, availableAt string
	var errMsg, summary, aiModel sql.NullString
	err = db.QueryRow(`
		SELECT j.id, j.uuid, j.account_id, j.repository_id, j.pull_request, j.developer,
		       j.progress, j.summary, j.ai_model, j.tokens_used, j.error, j.attempts,
		       j.available_at, j.created_at, r.full_name
		FROM review_jobs j
		JOIN repositories r ON r.id = j.repository_id
		WHERE j.worker_id = ? AND j.queue_state = 'running'
		ORDER BY j.started_at DESC
		LIMIT 1
	`, workerID).Scan(&job.ID, &job.UUID, &job.AccountID, &job.RepositoryID, &job.PullRequest, &job.Developer,
		&job.Progress, &summary, &aiModel, &job.TokensUsed, &errMsg, &job.Attempts,
		&availableAt, &createdAt, &job.RepoFullName)
	if err != nil {
		return nil, err
	}

	job.Summary = summary.String
	job.AIModel = aiModel.String
	job.Error = errMsg.String
	job.Status = JobStatusProcessing
	job.QueueState = QueueStateRunning
	job.WorkerID = workerID
	job.AvailableAt = parseSQLiteTime(availableAt)
	job.CreatedAt = parseSQLiteTime(createdAt)
	job.StartedAt = &now
	return &job, nil
}

// SetJobProgress records a checkpoint for a running job.
func (db *DB) SetJobProgress(jobID int64, progress int) error {
	_, err := db.Exec(`
		UPDATE review_jobs SET progress = ? WHERE id = ? AND queue_state = 'running'
	`, progress, jobID)
	return err
}

// CompleteJob persists the review result and moves the job to its terminal
// completed state. Guarded on the running queue item so a stale worker
// cannot overwrite a terminal row.
func (db *DB) CompleteJob(jobID int64, workerID, summary, aiModel string, tokensUsed int64, comments []ReviewComment) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeFormat)
	result, err := tx.Exec(`
		UPDATE review_jobs
		SET status = 'completed', queue_state = 'done', progress = 100,
		    summary = ?, ai_model = ?, tokens_used = ?, error = NULL, completed_at = ?
		WHERE id = ? AND queue_state = 'running' AND worker_id = ?
	`, summary, aiModel, tokensUsed, now, jobID, workerID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("job %d not running for %s", jobID, workerID)
	}

	for _, c := range comments {
		if _, err := tx.Exec(`
			INSERT INTO review_comments (job_id, file, line, comment) VALUES (?, ?, ?, ?)
		`, jobID, c.File, c.Line, c.Comment); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
	}

	return tx.Commit()
}

// FailJob persists the failed state and error message for the current
// attempt and returns the post-increment attempt count. The queue item
// stays 'running' until the worker either requeues it for retry or
// finalizes it.
func (db *DB) FailJob(jobID int64, workerID, errMsg string) (int, error) {
	result, err := db.Exec(`
		UPDATE review_jobs
		SET status = 'failed', error = ?, attempts = attempts + 1
		WHERE id = ? AND queue_state = 'running' AND worker_id = ?
	`, errMsg, jobID, workerID)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, fmt.Errorf("job %d not running for %s", jobID, workerID)
	}

	var attempts int
	if err := db.QueryRow(`SELECT attempts FROM review_jobs WHERE id = ?`, jobID).Scan(&attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

// RequeueForRetry schedules the failed queue item for redelivery at
// availableAt. Returns false if the item is no longer held by the worker.
func (db *DB) RequeueForRetry(jobID int64, workerID string, availableAt time.Time) (bool, error) {
	result, err := db.Exec(`
		UPDATE review_jobs
		SET queue_state = 'queued', worker_id = NULL, available_at = ?
		WHERE id = ? AND queue_state = 'running' AND worker_id = ?
	`, availableAt.UTC().Format(timeFormat), jobID, workerID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// FinalizeFailedJob retires the queue item after retries are exhausted.
// The job's failed status and last error stand.
func (db *DB) FinalizeFailedJob(jobID int64, workerID string) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := db.Exec(`
		UPDATE review_jobs
		SET queue_state = 'done', completed_at = ?
		WHERE id = ? AND queue_state = 'running' AND worker_id = ?
	`, now, jobID, workerID)
	return err
}

const jobColumns = `j.id, j.uuid, j.account_id, j.repository_id, j.pull_request, j.developer,
	j.status, j.queue_state, j.progress, j.summary, j.ai_model, j.tokens_used, j.error,
	j.attempts, j.worker_id, j.available_at, j.created_at, j.started_at, j.completed_at,
	r.full_name`

func scanJob(scan func(dest ...any) error) (*ReviewJob, error) {
	var job ReviewJob
	var status, queueState, availableAt, createdAt string
	var summary, aiModel, errMsg, workerID, startedAt, completedAt sql.NullString
	err := scan(&job.ID, &job.UUID, &job.AccountID, &job.RepositoryID, &job.PullRequest, &job.Developer,
		&status, &queueState, &job.Progress, &summary, &aiModel, &job.TokensUsed, &errMsg,
		&job.Attempts, &workerID, &availableAt, &createdAt, &startedAt, &completedAt,
		&job.RepoFullName)
	if err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.QueueState = QueueState(queueState)
	job.Summary = summary.String
	job.AIModel = aiModel.String
	job.Error = errMsg.String
	job.WorkerID = workerID.String
	job.AvailableAt = parseSQLiteTime(availableAt)
	job.CreatedAt = parseSQLiteTime(createdAt)
	if startedAt.Valid {
		t := parseSQLiteTime(startedAt.String)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := parseSQLiteTime(completedAt.String)
		job.CompletedAt = &t
	}
	return &job, nil
}

// GetJobByID returns a job by its internal row id.
func (db *DB) GetJobByID(id int64) (*ReviewJob, error) {
	row := db.QueryRow(`
		SELECT `+jobColumns+` FROM review_jobs j
		JOIN repositories r ON r.id = j.repository_id
		WHERE j.id = ?
	`, id)
	return scanJob(row.Scan)
}

// GetJobByUUID returns a job by its public identifier.
func (db *DB) GetJobByUUID(jobUUID string) (*ReviewJob, error) {
	row := db.QueryRow(`
		SELECT `+jobColumns+` FROM review_jobs j
		JOIN repositories r ON r.id = j.repository_id
		WHERE j.uuid = ?
	`, jobUUID)
	return scanJob(row.Scan)
}

// FindLiveJob returns the newest in-flight job for a pull request, or
// nil when none is live. A job is live while its queue item is still
// deliverable (queued or running, including awaiting a retry) or while
// its status is processing.
func (db *DB) FindLiveJob(repositoryID int64, pullRequest int) (*ReviewJob, error) {
	row := db.QueryRow(`
		SELECT `+jobColumns+` FROM review_jobs j
		JOIN repositories r ON r.id = j.repository_id
		WHERE j.repository_id = ? AND j.pull_request = ?
		  AND (j.queue_state IN ('queued', 'running') OR j.status = 'processing')
		ORDER BY j.id DESC
		LIMIT 1
	`, repositoryID, pullRequest)
	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// ListJobsByAccount returns an account's jobs, newest first, bounded by limit.
func (db *DB) ListJobsByAccount(accountID int64, limit int) ([]ReviewJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+jobColumns+` FROM review_jobs j
		JOIN repositories r ON r.id = j.repository_id
		WHERE j.account_id = ?
		ORDER BY j.created_at DESC, j.id DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ReviewJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// GetJobComments returns the review comments for a job in insertion order.
func (db *DB) GetJobComments(jobID int64) ([]ReviewComment, error) {
	rows, err := db.Query(`
		SELECT id, job_id, file, line, comment FROM review_comments WHERE job_id = ? ORDER BY id
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []ReviewComment
	for rows.Next() {
		var c ReviewComment
		if err := rows.Scan(&c.ID, &c.JobID, &c.File, &c.Line, &c.Comment); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// GetJobCounts returns job totals by status plus live queue item counts.
func (db *DB) GetJobCounts() (processing, completed, failed, queued, running int, err error) {
	rows, err := db.Query(`SELECT status, queue_state, COUNT(*) FROM review_jobs GROUP BY status, queue_state`)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var status, queueState string
		var count int
		if err := rows.Scan(&status, &queueState, &count); err != nil {
			return 0, 0, 0, 0, 0, err
		}
		switch JobStatus(status) {
		case JobStatusProcessing:
			processing += count
		case JobStatusCompleted:
			completed += count
		case JobStatusFailed:
			failed += count
		}
		switch QueueState(queueState) {
		case QueueStateQueued:
			queued += count
		case QueueStateRunning:
			running += count
		}
	}
	return processing, completed, failed, queued, running, rows.Err()
}

// PruneJobs removes retired jobs per the retention policy: completed jobs
// older than completedTTL or beyond the newest completedKeep, failed jobs
// older than failedTTL. Comments go with their jobs. Returns rows removed.
func (db *DB) PruneJobs(completedTTL time.Duration, completedKeep int, failedTTL time.Duration) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	completedCutoff := now.Add(-completedTTL).Format(timeFormat)
	failedCutoff := now.Add(-failedTTL).Format(timeFormat)

	selectDead := `
		SELECT id FROM review_jobs
		WHERE queue_state = 'done' AND (
			(status = 'completed' AND completed_at < ?)
			OR (status = 'completed' AND id NOT IN (
				SELECT id FROM review_jobs WHERE status = 'completed'
				ORDER BY completed_at DESC LIMIT ?
			))
			OR (status = 'failed' AND completed_at < ?)
		)`

	if _, err := tx.Exec(`DELETE FROM review_comments WHERE job_id IN (`+selectDead+`)`,
		completedCutoff, completedKeep, failedCutoff); err != nil {
		return 0, fmt.Errorf("prune comments: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM review_jobs WHERE id IN (`+selectDead+`)`,
		completedCutoff, completedKeep, failedCutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return removed, tx.Commit()
}
