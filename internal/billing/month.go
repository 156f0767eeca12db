package billing

import "time"

// MonthOf returns the billing month of t in YYYY-MM form, in UTC.
// Seats, usage rollups, and rate limit windows all key on this value.
func MonthOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}
