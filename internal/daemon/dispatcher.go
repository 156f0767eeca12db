package daemon

import (
	"context"
	"fmt"

	"github.com/reviewbot-dev/reviewbot/internal/billing"
	"github.com/reviewbot-dev/reviewbot/internal/quota"
	"github.com/reviewbot-dev/reviewbot/internal/storage"
)

// Dispatch is the outcome of admitting one review request. When the
// decision denies, Job is nil; Quota is set only for rate_limited
// denials so the handler can report the reset time.
type Dispatch struct {
	Decision billing.Decision
	Job      *storage.ReviewJob
	Quota    *quota.Result
}

// Dispatcher runs the admission chain and, on success, creates the
// durable review job that the worker pool will pick up.
type Dispatcher struct {
	db      *storage.DB
	gate    *billing.Gate
	limiter *quota.Limiter
}

func NewDispatcher(db *storage.DB, gate *billing.Gate, limiter *quota.Limiter) *Dispatcher {
	return &Dispatcher{db: db, gate: gate, limiter: limiter}
}

// Dispatch admits a pull request for review and enqueues the job.
// metered requests additionally consume from the account's monthly
// rate limit; webhook deliveries pass metered=false since the limit
// bounds API-triggered requests.
func (d *Dispatcher) Dispatch(ctx context.Context, repoFullName, developer string, pullRequest int, metered bool) (Dispatch, error) {
	adm, err := d.gate.Admit(repoFullName, developer)
	if err != nil {
		return Dispatch{}, err
	}
	if !adm.Allowed {
		return Dispatch{Decision: adm.Decision}, nil
	}

	// A PR already in flight is re-delivered, not duplicated: the trigger
	// collapses onto the live job and consumes no quota. EnqueueJob is a
	// no-op while the item is queued or running.
	if live, err := d.db.FindLiveJob(adm.Repository.ID, pullRequest); err != nil {
		return Dispatch{}, fmt.Errorf("find live job: %w", err)
	} else if live != nil {
		if _, err := d.db.EnqueueJob(live.ID); err != nil {
			return Dispatch{}, fmt.Errorf("enqueue job: %w", err)
		}
		live.RepoFullName = adm.Repository.FullName
		return Dispatch{Decision: adm.Decision, Job: live}, nil
	}

	if metered {
		res, err := d.limiter.Consume(ctx, adm.Account.ID, adm.Account.PlanLimit)
		if err != nil {
			return Dispatch{}, fmt.Errorf("consume rate limit: %w", err)
		}
		if !res.Allowed {
			return Dispatch{
				Decision: billing.Decision{Reason: billing.ReasonRateLimited},
				Quota:    &res,
			}, nil
		}
	}

	job, err := d.db.CreateJob(adm.Account.ID, adm.Repository.ID, pullRequest, developer)
	if err != nil {
		return Dispatch{}, fmt.Errorf("create job: %w", err)
	}
	job.RepoFullName = adm.Repository.FullName

	return Dispatch{Decision: adm.Decision, Job: job}, nil
}
