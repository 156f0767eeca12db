package billing

// DenyReason is the machine-readable reason a review request was refused.
// Values are stable; clients branch on them.
type DenyReason string

const (
	ReasonTrialExpired           DenyReason = "trial_expired"
	ReasonSubscriptionRequired   DenyReason = "subscription_required"
	ReasonNotAuthorizedDeveloper DenyReason = "not_authorized_developer"
	ReasonNoSeatsAvailable       DenyReason = "no_seats_available"
	ReasonRepositoryNotFound     DenyReason = "repository_not_found"
	ReasonRepositoryDisabled     DenyReason = "repository_disabled"
	ReasonRateLimited            DenyReason = "rate_limited"
)

// Decision is the outcome of an admission check. When Allowed is false,
// Reason says why.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason DenyReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}
