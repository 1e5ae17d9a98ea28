package engagement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const unlimitedLabel = "unlimited"

// Quota is a session allowance: either unlimited or a concrete count.
// The zero value is Unlimited.
type Quota struct {
	limited bool
	n       int
}

func Unlimited() Quota { return Quota{} }

func Limited(n int) Quota { return Quota{limited: true, n: n} }

func (q Quota) IsUnlimited() bool { return !q.limited }

// Count returns the remaining sessions and true, or 0 and false when unlimited.
func (q Quota) Count() (int, bool) {
	if !q.limited {
		return 0, false
	}
	return q.n, true
}

// Allows reports whether one more session may start.
func (q Quota) Allows() bool {
	return !q.limited || q.n > 0
}

func (q Quota) String() string {
	if !q.limited {
		return unlimitedLabel
	}
	return strconv.Itoa(q.n)
}

func (q Quota) MarshalJSON() ([]byte, error) {
	if !q.limited {
		return json.Marshal(unlimitedLabel)
	}
	return json.Marshal(q.n)
}

func (q *Quota) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte(`"`+unlimitedLabel+`"`)) {
		*q = Unlimited()
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("quota must be a number or %q: %w", unlimitedLabel, err)
	}
	*q = Limited(n)
	return nil
}

// Availability answers whether a member may start a workout with a coach.
type Availability struct {
	CanStartWorkout   bool       `json:"can_start_workout"`
	Reason            string     `json:"reason"`
	RemainingSessions Quota      `json:"remaining_sessions"`
	SubscriptionType  string     `json:"subscription_type"`
	ExpiresAt         *time.Time `json:"expires_at"`
}

const (
	subscriptionNone    = "none"
	subscriptionExpired = "expired"
	subscriptionUnknown = "unknown"
)

// Evaluate applies the rate plan rules to e at now. A nil engagement means
// the member has no approved engagement with the coach.
func Evaluate(e *Engagement, now time.Time) Availability {
	if e == nil {
		return Availability{
			Reason:            "No active subscription with this coach",
			RemainingSessions: Limited(0),
			SubscriptionType:  subscriptionNone,
		}
	}

	a := Availability{
		RemainingSessions: Limited(0),
		SubscriptionType:  string(e.RateType),
		ExpiresAt:         e.ExpiresAt,
	}

	switch {
	case e.CoachApproval == ApprovalRejected || e.StaffApproval == ApprovalRejected:
		a.Reason = "Engagement was rejected"
		return a
	case !e.Approved():
		a.Reason = "Engagement is awaiting approval"
		return a
	case e.Lapsed(now):
		a.Reason = "Subscription expired"
		a.SubscriptionType = subscriptionExpired
		return a
	}

	switch e.RateType {
	case RatePackage:
		a.RemainingSessions = e.Quota()
		n, _ := a.RemainingSessions.Count()
		if n <= 0 {
			a.Reason = "No sessions remaining in package"
			return a
		}
		a.CanStartWorkout = true
		if e.ExpiresAt != nil {
			a.Reason = fmt.Sprintf("Session package active (%d sessions, %d days left)", n, DaysLeft(*e.ExpiresAt, now))
		} else {
			a.Reason = fmt.Sprintf("Session package active (%d sessions)", n)
		}
	case RateMonthly:
		a.RemainingSessions = Unlimited()
		a.CanStartWorkout = true
		a.Reason = activeReason("Monthly subscription active", e.ExpiresAt, now)
	case RateHourly:
		a.RemainingSessions = Unlimited()
		a.CanStartWorkout = true
		a.Reason = activeReason("Hourly rate active", e.ExpiresAt, now)
	default:
		a.SubscriptionType = subscriptionUnknown
		a.Reason = "Unrecognized rate plan"
	}
	return a
}

func activeReason(label string, expiresAt *time.Time, now time.Time) string {
	if expiresAt == nil {
		return label
	}
	return fmt.Sprintf("%s (%d days left)", label, DaysLeft(*expiresAt, now))
}

// DaysLeft counts whole days between now and expiresAt, never negative.
func DaysLeft(expiresAt, now time.Time) int {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// Plan is the allowance granted when an engagement is created.
type Plan struct {
	ExpiresAt         time.Time
	RemainingSessions *int
}

// PlanFor computes expiry and initial balance for a new engagement:
// hourly lasts 30 days, monthly one calendar month, and a package three
// calendar months with sessionCount sessions.
func PlanFor(rateType RateType, sessionCount int, now time.Time) (Plan, error) {
	switch rateType {
	case RateHourly:
		return Plan{ExpiresAt: now.AddDate(0, 0, 30)}, nil
	case RateMonthly:
		return Plan{ExpiresAt: now.AddDate(0, 1, 0)}, nil
	case RatePackage:
		if sessionCount <= 0 {
			return Plan{}, fmt.Errorf("%w: session_count must be positive for a package", ErrValidation)
		}
		n := sessionCount
		return Plan{ExpiresAt: now.AddDate(0, 3, 0), RemainingSessions: &n}, nil
	}
	return Plan{}, ErrInvalidRateType
}
