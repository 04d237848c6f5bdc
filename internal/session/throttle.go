package session

import "time"

const (
	defaultMaxFailedLogins = 5
	defaultLockout         = 30 * time.Second
)

// throttle counts consecutive failed logins. Reaching limit arms a cooldown;
// only a successful login resets the count, so every failure past the limit
// re-arms it. It lives in memory and is a deterrent, not a control.
type throttle struct {
	limit    int
	cooldown time.Duration
	failures int
	until    time.Time
}

func newThrottle(limit int, cooldown time.Duration) throttle {
	if limit <= 0 {
		limit = defaultMaxFailedLogins
	}
	if cooldown <= 0 {
		cooldown = defaultLockout
	}
	return throttle{limit: limit, cooldown: cooldown}
}

// blocked returns the remaining cooldown at now.
func (t *throttle) blocked(now time.Time) (time.Duration, bool) {
	if t.until.IsZero() || !now.Before(t.until) {
		return 0, false
	}
	return t.until.Sub(now), true
}

// fail records a failed attempt and reports whether it armed the cooldown.
func (t *throttle) fail(now time.Time) bool {
	t.failures++
	if t.failures >= t.limit {
		t.until = now.Add(t.cooldown)
		return true
	}
	return false
}

func (t *throttle) reset() {
	t.failures = 0
	t.until = time.Time{}
}
