package billing

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/billing/meterevent"

	"github.com/reviewbot-dev/reviewbot/internal/storage"
)

// Meter names reported to Stripe. They must match the meters configured
// on the Stripe account.
const (
	meterPRsReviewed = "prs_reviewed"
	meterTokensUsed  = "review_tokens"
)

// Recorder books completed reviews against the account: trial counters
// for trial accounts, monthly usage rows (and Stripe meter events) for
// paid ones.
type Recorder struct {
	db           *storage.DB
	stripeKey    string
	now          func() time.Time
	reportStripe func(customerID, meter string, value int64) error
}

func NewRecorder(db *storage.DB, stripeKey string) *Recorder {
	r := &Recorder{db: db, stripeKey: stripeKey, now: time.Now}
	r.reportStripe = r.sendMeterEvent
	return r
}

// Record books one reviewed PR and its token spend for the job's
// account. Stripe reporting failures are logged, not returned: the
// local usage row is the source of truth and the meter can be
// reconciled later.
func (r *Recorder) Record(job *storage.ReviewJob) error {
	account, err := r.db.GetAccountByID(job.AccountID)
	if err != nil {
		return fmt.Errorf("look up account: %w", err)
	}
	if account == nil {
		return fmt.Errorf("account %d not found", job.AccountID)
	}

	if account.Plan == storage.PlanTrial {
		if err := r.db.AddTrialUsage(account.ID, 1, job.TokensUsed); err != nil {
			return fmt.Errorf("add trial usage: %w", err)
		}
		prs := account.TrialPRsUsed + 1
		tokens := account.TrialTokensUsed + job.TokensUsed
		if prs >= TrialMaxPRs || tokens >= TrialMaxTokens {
			if err := r.db.ExpireTrial(account.ID); err != nil {
				return fmt.Errorf("expire trial: %w", err)
			}
		}
		return nil
	}

	month := MonthOf(r.now())
	if err := r.db.UpsertUsageRecord(account.ID, job.RepositoryID, job.Developer, month, 1, job.TokensUsed); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}

	if r.stripeKey != "" && account.StripeCustomerID != "" {
		if err := r.reportStripe(account.StripeCustomerID, meterPRsReviewed, 1); err != nil {
			log.Printf("stripe: report %s for account %d: %v", meterPRsReviewed, account.ID, err)
		}
		if job.TokensUsed > 0 {
			if err := r.reportStripe(account.StripeCustomerID, meterTokensUsed, job.TokensUsed); err != nil {
				log.Printf("stripe: report %s for account %d: %v", meterTokensUsed, account.ID, err)
			}
		}
	}
	return nil
}

func (r *Recorder) sendMeterEvent(customerID, meter string, value int64) error {
	stripe.Key = r.stripeKey
	_, err := meterevent.New(&stripe.BillingMeterEventParams{
		EventName: stripe.String(meter),
		Payload: map[string]string{
			"stripe_customer_id": customerID,
			"value":              strconv.FormatInt(value, 10),
		},
	})
	return err
}
