package billing

import (
	"fmt"
	"time"

	"github.com/reviewbot-dev/reviewbot/internal/storage"
)

// Trial accounts get a fixed allowance before they must subscribe.
const (
	TrialMaxPRs    = 3
	TrialMaxTokens = 300000
)

// Admission carries the decision plus the rows the caller needs to act
// on it without re-querying.
type Admission struct {
	Decision
	Account    *storage.Account
	Repository *storage.Repository
}

// Gate decides whether a review request may enter the system: the
// repository must be known and enabled, the account must be in good
// standing, and the developer must hold (or be able to take) a seat.
type Gate struct {
	db    *storage.DB
	seats *Seats
	now   func() time.Time
}

func NewGate(db *storage.DB) *Gate {
	return &Gate{db: db, seats: NewSeats(db), now: time.Now}
}

// Admit runs the full admission chain for a pull request authored by
// developer in the named repository. A deny decision is not an error;
// the error return is for storage failures only.
func (g *Gate) Admit(repoFullName, developer string) (Admission, error) {
	repo, err := g.db.GetRepositoryByName(repoFullName)
	if err != nil {
		return Admission{}, fmt.Errorf("look up repository: %w", err)
	}
	if repo == nil {
		return Admission{Decision: deny(ReasonRepositoryNotFound)}, nil
	}
	if !repo.IsEnabled {
		return Admission{Decision: deny(ReasonRepositoryDisabled), Repository: repo}, nil
	}

	account, err := g.db.GetAccountByID(repo.AccountID)
	if err != nil {
		return Admission{}, fmt.Errorf("look up account: %w", err)
	}
	if account == nil {
		return Admission{Decision: deny(ReasonRepositoryNotFound), Repository: repo}, nil
	}
	adm := Admission{Account: account, Repository: repo}

	sub, err := g.db.LatestSubscription(account.ID)
	if err != nil {
		return Admission{}, fmt.Errorf("look up subscription: %w", err)
	}

	if account.Plan == storage.PlanTrial {
		if account.TrialExpired {
			adm.Decision = deny(ReasonTrialExpired)
			return adm, nil
		}
		if account.TrialPRsUsed >= TrialMaxPRs || account.TrialTokensUsed >= TrialMaxTokens {
			// Allowance is spent; flip the flag so later checks are cheap.
			if err := g.db.ExpireTrial(account.ID); err != nil {
				return Admission{}, fmt.Errorf("expire trial: %w", err)
			}
			adm.Decision = deny(ReasonTrialExpired)
			return adm, nil
		}
	} else {
		if sub == nil || sub.Status != storage.SubscriptionActive {
			adm.Decision = deny(ReasonSubscriptionRequired)
			return adm, nil
		}
	}

	month := MonthOf(g.now())
	seated, reason, err := g.seats.EnsureSeat(repo, sub, developer, month)
	if err != nil {
		return Admission{}, err
	}
	if !seated {
		adm.Decision = deny(reason)
		return adm, nil
	}

	adm.Decision = allow()
	return adm, nil
}
