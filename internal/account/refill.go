package account

import "time"

const (
	// RefillAmount is the spark grant added once per refill window.
	RefillAmount = 100.0
	// MaxRefills bounds how many grants an account receives over its life.
	MaxRefills = 30
	// refillWindow is the minimum gap between two grants.
	refillWindow = 24 * time.Hour
)

// NextRefill reports whether an account is due a grant at now, given its
// grant count and the time of the last grant. Pure so the policy can be
// tested without a store.
func NextRefill(refillCount int, lastRefillAt, now time.Time) (float64, bool) {
	if refillCount >= MaxRefills {
		return 0, false
	}
	if !lastRefillAt.IsZero() && now.Sub(lastRefillAt) < refillWindow {
		return 0, false
	}
	return RefillAmount, true
}
