package account

import (
	"testing"
	"time"
)

func TestNextRefill(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		refillCount int
		lastRefill  time.Time
		wantGrant   float64
		wantDue     bool
	}{
		{
			name:       "never refilled",
			lastRefill: time.Time{},
			wantGrant:  RefillAmount,
			wantDue:    true,
		},
		{
			name:       "refilled 25 hours ago",
			lastRefill: now.Add(-25 * time.Hour),
			wantGrant:  RefillAmount,
			wantDue:    true,
		},
		{
			name:       "refilled 23 hours ago",
			lastRefill: now.Add(-23 * time.Hour),
			wantDue:    false,
		},
		{
			name:       "refilled exactly 24 hours ago",
			lastRefill: now.Add(-24 * time.Hour),
			wantGrant:  RefillAmount,
			wantDue:    true,
		},
		{
			name:        "refill cap reached",
			refillCount: MaxRefills,
			lastRefill:  now.Add(-48 * time.Hour),
			wantDue:     false,
		},
		{
			name:        "one below cap",
			refillCount: MaxRefills - 1,
			lastRefill:  now.Add(-48 * time.Hour),
			wantGrant:   RefillAmount,
			wantDue:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant, due := NextRefill(tt.refillCount, tt.lastRefill, now)
			if due != tt.wantDue {
				t.Fatalf("due = %v, want %v", due, tt.wantDue)
			}
			if grant != tt.wantGrant {
				t.Errorf("grant = %v, want %v", grant, tt.wantGrant)
			}
		})
	}
}

func TestNextRefillAppliesAtMostOncePerWindow(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	count := 0
	last := time.Time{}
	// Polling every hour for three days grants exactly three refills.
	for hour := 0; hour < 72; hour++ {
		now := start.Add(time.Duration(hour) * time.Hour)
		if _, due := NextRefill(count, last, now); due {
			count++
			last = now
		}
	}
	if count != 3 {
		t.Errorf("grants over 72 hourly polls = %d, want 3", count)
	}
}
