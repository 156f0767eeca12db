package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateAccount inserts a new account. PlanLimit of -1 means unlimited
// API-triggered reviews per month.
func (db *DB) CreateAccount(name string, plan Plan, apiToken, forgeToken string, planLimit int64) (*Account, error) {
	now := time.Now().UTC()
	result, err := db.Exec(`
		INSERT INTO accounts (name, plan, api_token, forge_token, plan_limit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, name, string(plan), apiToken, forgeToken, planLimit, now.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, _ := result.LastInsertId()
	return &Account{
		ID:         id,
		Name:       name,
		Plan:       plan,
		APIToken:   apiToken,
		ForgeToken: forgeToken,
		PlanLimit:  planLimit,
		CreatedAt:  now,
	}, nil
}

const accountColumns = `id, name, plan, COALESCE(api_token, ''), COALESCE(forge_token, ''),
	COALESCE(stripe_customer_id, ''), plan_limit, trial_prs_used, trial_tokens_used,
	trial_expired, requires_payment, created_at`

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var plan, createdAt string
	var trialExpired, requiresPayment int
	err := row.Scan(&a.ID, &a.Name, &plan, &a.APIToken, &a.ForgeToken,
		&a.StripeCustomerID, &a.PlanLimit, &a.TrialPRsUsed, &a.TrialTokensUsed,
		&trialExpired, &requiresPayment, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Plan = Plan(plan)
	a.TrialExpired = trialExpired != 0
	a.RequiresPayment = requiresPayment != 0
	a.CreatedAt = parseSQLiteTime(createdAt)
	return &a, nil
}

func (db *DB) GetAccountByID(id int64) (*Account, error) {
	return scanAccount(db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
}

func (db *DB) GetAccountByToken(apiToken string) (*Account, error) {
	return scanAccount(db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE api_token = ?`, apiToken))
}

// ExpireTrial flips the trial-expired and requires-payment flags.
// trial_expired is monotonic: there is no write path that clears it.
func (db *DB) ExpireTrial(accountID int64) error {
	_, err := db.Exec(`UPDATE accounts SET trial_expired = 1, requires_payment = 1 WHERE id = ?`, accountID)
	return err
}

// AddTrialUsage increments the lifetime trial counters on an account.
func (db *DB) AddTrialUsage(accountID int64, prs int, tokens int64) error {
	_, err := db.Exec(`
		UPDATE accounts
		SET trial_prs_used = trial_prs_used + ?, trial_tokens_used = trial_tokens_used + ?
		WHERE id = ?
	`, prs, tokens, accountID)
	return err
}

// SetStripeCustomerID stores the Stripe customer linkage for metered billing.
func (db *DB) SetStripeCustomerID(accountID int64, customerID string) error {
	_, err := db.Exec(`UPDATE accounts SET stripe_customer_id = ? WHERE id = ?`, customerID, accountID)
	return err
}

// CreateSubscription inserts a subscription row. In production these rows
// come from the billing-webhook collaborator; this exists for seeding and tests.
func (db *DB) CreateSubscription(accountID int64, seats int, status SubscriptionStatus) (*Subscription, error) {
	now := time.Now().UTC()
	result, err := db.Exec(`
		INSERT INTO subscriptions (account_id, seats_purchased, status, created_at)
		VALUES (?, ?, ?, ?)
	`, accountID, seats, string(status), now.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	id, _ := result.LastInsertId()
	return &Subscription{
		ID:             id,
		AccountID:      accountID,
		SeatsPurchased: seats,
		Status:         status,
		CreatedAt:      now,
	}, nil
}

// LatestSubscription returns the most recent subscription for an account,
// or nil if the account has none.
func (db *DB) LatestSubscription(accountID int64) (*Subscription, error) {
	var s Subscription
	var status, createdAt string
	var periodStart, periodEnd sql.NullString
	err := db.QueryRow(`
		SELECT id, account_id, seats_purchased, status, period_start, period_end, created_at
		FROM subscriptions
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, accountID).Scan(&s.ID, &s.AccountID, &s.SeatsPurchased, &status, &periodStart, &periodEnd, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Status = SubscriptionStatus(status)
	s.CreatedAt = parseSQLiteTime(createdAt)
	if periodStart.Valid {
		t := parseSQLiteTime(periodStart.String)
		s.PeriodStart = &t
	}
	if periodEnd.Valid {
		t := parseSQLiteTime(periodEnd.String)
		s.PeriodEnd = &t
	}
	return &s, nil
}

// CreateRepository inserts a repository owned by an account.
func (db *DB) CreateRepository(accountID int64, fullName string, mode SeatMode, maxSeats int) (*Repository, error) {
	now := time.Now().UTC()
	result, err := db.Exec(`
		INSERT INTO repositories (account_id, full_name, seat_mode, max_seats, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, accountID, fullName, string(mode), maxSeats, now.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("insert repository: %w", err)
	}
	id, _ := result.LastInsertId()
	return &Repository{
		ID:        id,
		AccountID: accountID,
		FullName:  fullName,
		SeatMode:  mode,
		MaxSeats:  maxSeats,
		Whitelist: []string{},
		IsEnabled: true,
		CreatedAt: now,
	}, nil
}

func scanRepository(row *sql.Row) (*Repository, error) {
	var r Repository
	var mode, whitelist, createdAt string
	var enabled int
	err := row.Scan(&r.ID, &r.AccountID, &r.FullName, &mode, &r.MaxSeats, &whitelist, &enabled, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.SeatMode = SeatMode(mode)
	r.IsEnabled = enabled != 0
	r.CreatedAt = parseSQLiteTime(createdAt)
	if err := json.Unmarshal([]byte(whitelist), &r.Whitelist); err != nil {
		return nil, fmt.Errorf("decode whitelist: %w", err)
	}
	if r.Whitelist == nil {
		r.Whitelist = []string{}
	}
	return &r, nil
}

const repositoryColumns = `id, account_id, full_name, seat_mode, max_seats, whitelist, is_enabled, created_at`

func (db *DB) GetRepositoryByID(id int64) (*Repository, error) {
	return scanRepository(db.QueryRow(`SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id))
}

func (db *DB) GetRepositoryByName(fullName string) (*Repository, error) {
	return scanRepository(db.QueryRow(`SELECT `+repositoryColumns+` FROM repositories WHERE full_name = ?`, fullName))
}

// SetRepositoryEnabled toggles review triggers for a repository.
func (db *DB) SetRepositoryEnabled(id int64, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := db.Exec(`UPDATE repositories SET is_enabled = ? WHERE id = ?`, v, id)
	return err
}

// AddToWhitelist adds a developer to the repository whitelist. Idempotent.
func (db *DB) AddToWhitelist(repositoryID int64, developer string) error {
	return db.updateWhitelist(repositoryID, func(list []string) []string {
		for _, d := range list {
			if d == developer {
				return list
			}
		}
		return append(list, developer)
	})
}

// RemoveFromWhitelist removes a developer from the repository whitelist. Idempotent.
func (db *DB) RemoveFromWhitelist(repositoryID int64, developer string) error {
	return db.updateWhitelist(repositoryID, func(list []string) []string {
		out := list[:0]
		for _, d := range list {
			if d != developer {
				out = append(out, d)
			}
		}
		return out
	})
}

// updateWhitelist applies fn to the whitelist under a transaction so
// concurrent admin edits don't clobber each other.
func (db *DB) updateWhitelist(repositoryID int64, fn func([]string) []string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRow(`SELECT whitelist FROM repositories WHERE id = ?`, repositoryID).Scan(&raw); err != nil {
		return fmt.Errorf("load whitelist: %w", err)
	}

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return fmt.Errorf("decode whitelist: %w", err)
	}

	list = fn(list)
	if list == nil {
		list = []string{}
	}

	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode whitelist: %w", err)
	}

	if _, err := tx.Exec(`UPDATE repositories SET whitelist = ? WHERE id = ?`, string(encoded), repositoryID); err != nil {
		return fmt.Errorf("store whitelist: %w", err)
	}

	return tx.Commit()
}
