package billing

import (
	"fmt"

	"github.com/reviewbot-dev/reviewbot/internal/storage"
)

// Seats allocates per-developer seats within a billing month. A seat is
// taken the first time a developer's PR is admitted and holds until the
// month rolls over.
type Seats struct {
	db *storage.DB
}

func NewSeats(db *storage.DB) *Seats {
	return &Seats{db: db}
}

// seatLimit returns how many developers may hold seats on repo at once.
// The subscription's purchased seat count is the base; a repository cap
// tightens it but never widens it. Accounts without a subscription
// (trials) get one seat.
func seatLimit(repo *storage.Repository, sub *storage.Subscription) int {
	limit := 1
	if sub != nil && sub.SeatsPurchased > 0 {
		limit = sub.SeatsPurchased
	}
	if repo.MaxSeats > 0 && repo.MaxSeats < limit {
		limit = repo.MaxSeats
	}
	return limit
}

// EnsureSeat admits developer onto repo for the given month. In
// whitelist mode admission is purely membership: no seat is taken and
// capacity never applies. In auto-add mode a new seat is taken if one
// is free; re-admitting a seated developer always succeeds and
// consumes nothing.
func (s *Seats) EnsureSeat(repo *storage.Repository, sub *storage.Subscription, developer, month string) (bool, DenyReason, error) {
	if repo.SeatMode == storage.SeatModeWhitelist {
		if !contains(repo.Whitelist, developer) {
			return false, ReasonNotAuthorizedDeveloper, nil
		}
		return true, "", nil
	}

	seated, err := s.db.HasActiveSeat(repo.ID, developer, month)
	if err != nil {
		return false, "", fmt.Errorf("check seat: %w", err)
	}
	if seated {
		return true, "", nil
	}

	limit := seatLimit(repo, sub)
	count, err := s.db.CountActiveSeats(repo.ID, month)
	if err != nil {
		return false, "", fmt.Errorf("count seats: %w", err)
	}
	if count >= limit {
		return false, ReasonNoSeatsAvailable, nil
	}

	// The unique index makes the insert race-safe: if another request
	// seats this developer first, the conflict is a no-op and the
	// developer is seated either way.
	if _, err := s.db.InsertSeat(repo.ID, developer, month); err != nil {
		return false, "", fmt.Errorf("insert seat: %w", err)
	}
	return true, "", nil
}

// ResetMonthlySeats deactivates every seat taken in the given month.
// Run by the housekeeper after a month rolls over; the next admission
// in the new month takes fresh seats.
func (s *Seats) ResetMonthlySeats(month string) (int64, error) {
	return s.db.DeactivateSeatsForMonth(month)
}

// ResetAccountSeats deactivates one account's seats for the given
// month. Serves the admin API, which must never touch another tenant's
// seats.
func (s *Seats) ResetAccountSeats(accountID int64, month string) (int64, error) {
	return s.db.DeactivateAccountSeatsForMonth(accountID, month)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
