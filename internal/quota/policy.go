// Package quota enforces the free-plan daily capture limit.
package quota

import "time"

// FreeLimit is the number of captures a free plan may take per calendar day.
const FreeLimit = 10

// Plan is the license tier.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPaid Plan = "paid"
)

// PlanFor maps the stored isPro flag to a Plan.
func PlanFor(isPaid bool) Plan {
	if isPaid {
		return PlanPaid
	}
	return PlanFree
}

// State is the persisted daily counter.
type State struct {
	DailyCount int       `json:"dailyFrameCount"`
	ResetAt    time.Time `json:"dailyLimitResetTime"`
}

// Remaining returns captures left today for a free plan.
func (s State) Remaining() int {
	if r := FreeLimit - s.DailyCount; r > 0 {
		return r
	}
	return 0
}

// NextMidnight returns the first local midnight strictly after now.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// CanCapture decides whether one more capture is allowed. A state whose reset
// time has passed counts as zero captures.
func CanCapture(plan Plan, st State, now time.Time) bool {
	if plan == PlanPaid {
		return true
	}
	if expired(st, now) {
		return 0 < FreeLimit
	}
	return st.DailyCount < FreeLimit
}

// Rollover resets the counter when the reset time has been reached. The
// second return value reports whether anything changed.
func Rollover(st State, now time.Time) (State, bool) {
	if !expired(st, now) {
		return st, false
	}
	return State{DailyCount: 0, ResetAt: NextMidnight(now)}, true
}

// RecordCapture counts one successful free-plan capture.
func RecordCapture(st State) State {
	st.DailyCount++
	return st
}

func expired(st State, now time.Time) bool {
	return st.ResetAt.IsZero() || !now.Before(st.ResetAt)
}
