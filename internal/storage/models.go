package storage

import "time"

type Plan string

const (
	PlanTrial Plan = "trial"
	PlanHobby Plan = "hobby"
	PlanPro   Plan = "pro"
)

type Account struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Plan             Plan      `json:"plan"`
	APIToken         string    `json:"-"`
	ForgeToken       string    `json:"-"`
	StripeCustomerID string    `json:"stripe_customer_id,omitempty"`
	PlanLimit        int64     `json:"plan_limit"` // monthly API calls, -1 for unlimited
	TrialPRsUsed     int       `json:"trial_prs_used"`
	TrialTokensUsed  int64     `json:"trial_tokens_used"`
	TrialExpired     bool      `json:"trial_expired"`
	RequiresPayment  bool      `json:"requires_payment"`
	CreatedAt        time.Time `json:"created_at"`
}

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription rows are written by the billing-webhook collaborator;
// the core only reads them.
type Subscription struct {
	ID             int64              `json:"id"`
	AccountID      int64              `json:"account_id"`
	SeatsPurchased int                `json:"seats_purchased"`
	Status         SubscriptionStatus `json:"status"`
	PeriodStart    *time.Time         `json:"period_start,omitempty"`
	PeriodEnd      *time.Time         `json:"period_end,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

type SeatMode string

const (
	SeatModeWhitelist SeatMode = "whitelist"
	SeatModeAutoAdd   SeatMode = "auto-add"
)

type Repository struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	FullName  string    `json:"full_name"` // owner/name
	SeatMode  SeatMode  `json:"seat_mode"`
	MaxSeats  int       `json:"max_seats"` // 0 means no per-repo cap
	Whitelist []string  `json:"whitelist"`
	IsEnabled bool      `json:"is_enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// SeatAssignment rows are never deleted, only deactivated.
type SeatAssignment struct {
	ID            int64      `json:"id"`
	RepositoryID  int64      `json:"repository_id"`
	Developer     string     `json:"developer"`
	BillingMonth  string     `json:"billing_month"` // YYYY-MM
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

type UsageRecord struct {
	ID             int64     `json:"id"`
	AccountID      int64     `json:"account_id"`
	RepositoryID   int64     `json:"repository_id"`
	Developer      string    `json:"developer"`
	BillingMonth   string    `json:"billing_month"`
	PRsProcessed   int       `json:"prs_processed"`
	TokensConsumed int64     `json:"tokens_consumed"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// QueueState is the delivery-side state of a job's queue item.
// It is internal to the queue; consumers only see JobStatus.
type QueueState string

const (
	QueueStateQueued  QueueState = "queued"
	QueueStateRunning QueueState = "running"
	QueueStateDone    QueueState = "done"
)

type ReviewJob struct {
	ID           int64      `json:"-"`
	UUID         string     `json:"id"`
	AccountID    int64      `json:"account_id"`
	RepositoryID int64      `json:"repository_id"`
	PullRequest  int        `json:"pull_request"`
	Developer    string     `json:"developer"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	Summary      string     `json:"summary,omitempty"`
	AIModel      string     `json:"ai_model,omitempty"`
	TokensUsed   int64      `json:"tokens_used"`
	Error        string     `json:"error,omitempty"`
	Attempts     int        `json:"attempts"`
	QueueState   QueueState `json:"-"`
	WorkerID     string     `json:"-"`
	AvailableAt  time.Time  `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	// Joined for convenience
	RepoFullName string `json:"repository,omitempty"`
}

type ReviewComment struct {
	ID      int64  `json:"-"`
	JobID   int64  `json:"-"`
	File    string `json:"file"`
	Line    int    `json:"line_number"`
	Comment string `json:"comment"`
}

type DaemonStatus struct {
	Version        string `json:"version"`
	Uptime         string `json:"uptime"`
	ProcessingJobs int    `json:"processing_jobs"`
	QueuedItems    int    `json:"queued_items"`
	RunningItems   int    `json:"running_items"`
	CompletedJobs  int    `json:"completed_jobs"`
	FailedJobs     int    `json:"failed_jobs"`
	ActiveWorkers  int    `json:"active_workers"`
	MaxWorkers     int    `json:"max_workers"`
}
