package monitor

import "time"

// CooldownStart is the lower bound of the window that suppresses a repeat
// alert: any record for the same item and tier created after it counts.
func CooldownStart(now time.Time, cooldown time.Duration) time.Time {
	return now.Add(-cooldown)
}
