package actuation

import "time"

// CooldownAllowed reports whether an auto-trigger at now respects the cooldown
// since last. A zero last means no detection yet and always allows.
func CooldownAllowed(now, last time.Time, cooldown time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return !now.Before(last.Add(cooldown))
}
