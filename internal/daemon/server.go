package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/reviewbot-dev/reviewbot/internal/billing"
	"github.com/reviewbot-dev/reviewbot/internal/config"
	"github.com/reviewbot-dev/reviewbot/internal/forge"
	"github.com/reviewbot-dev/reviewbot/internal/quota"
	"github.com/reviewbot-dev/reviewbot/internal/reviewer"
	"github.com/reviewbot-dev/reviewbot/internal/storage"
	"github.com/reviewbot-dev/reviewbot/internal/version"
)

// Server is the HTTP API server for the daemon.
type Server struct {
	db            *storage.DB
	cfg           *config.Config
	dispatcher    *Dispatcher
	limiter       *quota.Limiter
	seats         *billing.Seats
	workerPool    *WorkerPool
	housekeeper   *Housekeeper
	httpServer    *http.Server
	webhookSecret string
	startTime     time.Time
}

// NewServer wires the daemon together: storage, admission, dispatch,
// and the worker pool, behind one HTTP mux.
func NewServer(db *storage.DB, cfg *config.Config, counter quota.Counter, fetcher forge.Fetcher, rev reviewer.Reviewer) *Server {
	limiter := quota.NewLimiter(counter)
	gate := billing.NewGate(db)
	recorder := billing.NewRecorder(db, cfg.StripeSecretKey)

	s := &Server{
		db:            db,
		cfg:           cfg,
		dispatcher:    NewDispatcher(db, gate, limiter),
		limiter:       limiter,
		seats:         billing.NewSeats(db),
		workerPool:    NewWorkerPool(db, fetcher, rev, recorder, cfg.ReviewGuidelines, cfg.MaxWorkers),
		housekeeper:   NewHousekeeper(db, billing.NewSeats(db)),
		webhookSecret: cfg.WebhookSecret,
		startTime:     time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/review", s.handleReview)
	mux.HandleFunc("/api/webhook", s.handleWebhook)
	mux.HandleFunc("/api/job", s.handleGetJob)
	mux.HandleFunc("/api/jobs", s.handleListJobs)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/usage", s.handleUsage)
	mux.HandleFunc("/api/whitelist/add", s.handleWhitelistAdd)
	mux.HandleFunc("/api/whitelist/remove", s.handleWhitelistRemove)
	mux.HandleFunc("/api/seats/reset", s.handleSeatsReset)
	mux.HandleFunc("/api/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: mux,
	}

	return s
}

// Start begins the worker pool, housekeeper, and HTTP server. Blocks
// until the server stops.
func (s *Server) Start() error {
	// Requeue items orphaned by an unclean shutdown before workers start
	if err := s.db.ResetStaleJobs(); err != nil {
		log.Printf("Warning: failed to reset stale jobs: %v", err)
	}

	s.workerPool.Start()
	s.housekeeper.Start()

	log.Printf("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		s.housekeeper.Stop()
		s.workerPool.Stop()
		return err
	}
	return nil
}

// Stop gracefully shuts down the server, then the background loops.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	s.housekeeper.Stop()
	s.workerPool.Stop()
	return nil
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeDenied maps an admission denial to its HTTP status.
func writeDenied(w http.ResponseWriter, d Dispatch) {
	status := http.StatusForbidden
	switch d.Decision.Reason {
	case billing.ReasonTrialExpired, billing.ReasonSubscriptionRequired:
		status = http.StatusPaymentRequired
	case billing.ReasonRepositoryNotFound:
		status = http.StatusNotFound
	case billing.ReasonRateLimited:
		status = http.StatusTooManyRequests
	}
	resp := ErrorResponse{
		Error:  denyMessage(d.Decision.Reason),
		Reason: string(d.Decision.Reason),
	}
	if d.Quota != nil {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(d.Quota.ResetAt).Seconds()), 10))
	}
	writeJSON(w, status, resp)
}

func denyMessage(reason billing.DenyReason) string {
	switch reason {
	case billing.ReasonTrialExpired:
		return "trial allowance exhausted; a subscription is required"
	case billing.ReasonSubscriptionRequired:
		return "no active subscription"
	case billing.ReasonNotAuthorizedDeveloper:
		return "developer is not on the repository whitelist"
	case billing.ReasonNoSeatsAvailable:
		return "no seats available for this billing month"
	case billing.ReasonRepositoryNotFound:
		return "repository not found"
	case billing.ReasonRepositoryDisabled:
		return "repository is disabled"
	case billing.ReasonRateLimited:
		return "monthly request limit reached"
	}
	return string(reason)
}

// authAccount resolves the account from the Bearer token. Returns nil
// (after writing a 401) when the token is missing or unknown.
func (s *Server) authAccount(w http.ResponseWriter, r *http.Request) *storage.Account {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil
	}
	account, err := s.db.GetAccountByToken(auth[len(prefix):])
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("look up account: %v", err))
		return nil
	}
	if account == nil {
		writeError(w, http.StatusUnauthorized, "unknown token")
		return nil
	}
	return account
}

// authRepo resolves a repository by name and verifies the caller's
// account owns it.
func (s *Server) authRepo(w http.ResponseWriter, account *storage.Account, fullName string) *storage.Repository {
	repo, err := s.db.GetRepositoryByName(fullName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("look up repository: %v", err))
		return nil
	}
	if repo == nil || repo.AccountID != account.ID {
		writeError(w, http.StatusNotFound, "repository not found")
		return nil
	}
	return repo
}

type ReviewRequest struct {
	Repository  string `json:"repository"`
	PullRequest int    `json:"pull_request"`
	Developer   string `json:"developer"`
}

type ReviewResponse struct {
	JobID       string `json:"job_id"`
	Repository  string `json:"repository"`
	PullRequest int    `json:"pull_request"`
	Status      string `json:"status"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := s.authAccount(w, r)
	if account == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Repository == "" || req.PullRequest <= 0 || req.Developer == "" {
		writeError(w, http.StatusBadRequest, "repository, pull_request, and developer are required")
		return
	}
	if repo := s.authRepo(w, account, req.Repository); repo == nil {
		return
	}

	d, err := s.dispatcher.Dispatch(r.Context(), req.Repository, req.Developer, req.PullRequest, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("dispatch: %v", err))
		return
	}
	if !d.Decision.Allowed {
		writeDenied(w, d)
		return
	}

	writeJSON(w, http.StatusAccepted, ReviewResponse{
		JobID:       d.Job.UUID,
		Repository:  d.Job.RepoFullName,
		PullRequest: d.Job.PullRequest,
		Status:      string(d.Job.Status),
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if !forge.VerifySignature(s.webhookSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if r.Header.Get("X-GitHub-Event") != "pull_request" {
		writeJSON(w, http.StatusOK, map[string]any{"ignored": true})
		return
	}

	event, err := forge.ParsePullRequestEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if event == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ignored": true})
		return
	}

	// Webhook deliveries bypass the rate limiter; it bounds
	// API-triggered requests only.
	d, err := s.dispatcher.Dispatch(r.Context(), event.RepoFullName, event.Author, event.Number, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("dispatch: %v", err))
		return
	}
	if !d.Decision.Allowed {
		// Webhooks are fire-and-forget; report the skip without an
		// error status so the forge doesn't retry the delivery.
		log.Printf("Webhook skipped %s#%d: %s", event.RepoFullName, event.Number, d.Decision.Reason)
		writeJSON(w, http.StatusOK, map[string]any{
			"skipped": true,
			"reason":  string(d.Decision.Reason),
		})
		return
	}

	writeJSON(w, http.StatusAccepted, ReviewResponse{
		JobID:       d.Job.UUID,
		Repository:  d.Job.RepoFullName,
		PullRequest: d.Job.PullRequest,
		Status:      string(d.Job.Status),
	})
}

// JobResponse is a job plus its review comments.
type JobResponse struct {
	storage.ReviewJob
	Comments []storage.ReviewComment `json:"comments"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobUUID := r.URL.Query().Get("id")
	if jobUUID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	job, err := s.db.GetJobByUUID(jobUUID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	comments, err := s.db.GetJobComments(job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get comments: %v", err))
		return
	}
	if comments == nil {
		comments = []storage.ReviewComment{}
	}

	writeJSON(w, http.StatusOK, JobResponse{ReviewJob: *job, Comments: comments})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := s.authAccount(w, r)
	if account == nil {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := s.db.ListJobsByAccount(account.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list jobs: %v", err))
		return
	}
	if jobs == nil {
		jobs = []storage.ReviewJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	processing, completed, failed, queued, running, err := s.db.GetJobCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get counts: %v", err))
		return
	}

	status := storage.DaemonStatus{
		Version:        version.Version,
		Uptime:         formatDuration(time.Since(s.startTime)),
		ProcessingJobs: processing,
		CompletedJobs:  completed,
		FailedJobs:     failed,
		QueuedItems:    queued,
		RunningItems:   running,
		ActiveWorkers:  s.workerPool.ActiveWorkers(),
		MaxWorkers:     s.workerPool.MaxWorkers(),
	}
	writeJSON(w, http.StatusOK, status)
}

// UsageResponse reports the account's position against its monthly
// limit plus the per-developer usage rows for the month.
type UsageResponse struct {
	Month     string                `json:"month"`
	Used      int64                 `json:"used"`
	Remaining int64                 `json:"remaining"`
	ResetAt   time.Time             `json:"reset_at"`
	Records   []storage.UsageRecord `json:"records"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := s.authAccount(w, r)
	if account == nil {
		return
	}

	month := r.URL.Query().Get("month")
	if month == "" {
		month = billing.MonthOf(time.Now())
	}

	res, err := s.limiter.Usage(r.Context(), account.ID, account.PlanLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read rate limit: %v", err))
		return
	}
	records, err := s.db.ListUsageRecords(account.ID, month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list usage: %v", err))
		return
	}
	if records == nil {
		records = []storage.UsageRecord{}
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		Month:     month,
		Used:      res.Used,
		Remaining: res.Remaining,
		ResetAt:   res.ResetAt,
		Records:   records,
	})
}

type WhitelistRequest struct {
	Repository string `json:"repository"`
	Developer  string `json:"developer"`
}

func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	s.handleWhitelist(w, r, s.db.AddToWhitelist)
}

func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	s.handleWhitelist(w, r, s.db.RemoveFromWhitelist)
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request, op func(int64, string) error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := s.authAccount(w, r)
	if account == nil {
		return
	}

	var req WhitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Repository == "" || req.Developer == "" {
		writeError(w, http.StatusBadRequest, "repository and developer are required")
		return
	}

	repo := s.authRepo(w, account, req.Repository)
	if repo == nil {
		return
	}
	if err := op(repo.ID, req.Developer); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("update whitelist: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type SeatsResetRequest struct {
	Month string `json:"month"`
}

func (s *Server) handleSeatsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := s.authAccount(w, r)
	if account == nil {
		return
	}

	var req SeatsResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := time.Parse("2006-01", req.Month); err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	// Releasing the current month's seats would let one purchased seat
	// admit any number of developers before the month ends. Only closed
	// months can be reset.
	if req.Month >= billing.MonthOf(time.Now()) {
		writeError(w, http.StatusBadRequest, "month must be a prior billing month")
		return
	}

	n, err := s.seats.ResetAccountSeats(account.ID, req.Month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("reset seats: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "seats_released": n})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	healthy := true
	dbMessage := ""
	if err := s.db.Ping(); err != nil {
		healthy = false
		dbMessage = err.Error()
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy":  healthy,
		"database": dbMessage,
		"uptime":   formatDuration(time.Since(s.startTime)),
	})
}

// formatDuration formats a duration in human-readable form (e.g., "2h 15m")
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
