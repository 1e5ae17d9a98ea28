package engagement

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaJSON(t *testing.T) {
	b, err := json.Marshal(Limited(7))
	require.NoError(t, err)
	assert.Equal(t, `7`, string(b))

	b, err = json.Marshal(Unlimited())
	require.NoError(t, err)
	assert.Equal(t, `"unlimited"`, string(b))

	var q Quota
	require.NoError(t, json.Unmarshal([]byte(`"unlimited"`), &q))
	assert.True(t, q.IsUnlimited())

	require.NoError(t, json.Unmarshal([]byte(`3`), &q))
	n, limited := q.Count()
	assert.True(t, limited)
	assert.Equal(t, 3, n)

	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &q))
}

func TestQuotaAllows(t *testing.T) {
	assert.True(t, Unlimited().Allows())
	assert.True(t, Limited(1).Allows())
	assert.False(t, Limited(0).Allows())
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrInt(n int) *int { return &n }

func approvedEngagement(rate RateType, remaining *int, expires *time.Time) *Engagement {
	return &Engagement{
		Status:            StatusActive,
		CoachApproval:     ApprovalApproved,
		StaffApproval:     ApprovalApproved,
		RateType:          rate,
		RemainingSessions: remaining,
		ExpiresAt:         expires,
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	in10Days := ptrTime(now.Add(10 * 24 * time.Hour))
	past := ptrTime(now.Add(-time.Minute))

	tests := []struct {
		name       string
		e          *Engagement
		canStart   bool
		remaining  Quota
		subType    string
		reasonPart string
	}{
		{"no engagement", nil, false, Limited(0), "none", "No active subscription"},
		{"package", approvedEngagement(RatePackage, ptrInt(10), in10Days), true, Limited(10), "package", "Session package active (10 sessions, 10 days left)"},
		{"package without expiry", approvedEngagement(RatePackage, ptrInt(2), nil), true, Limited(2), "package", "Session package active (2 sessions)"},
		{"package exhausted", approvedEngagement(RatePackage, ptrInt(0), in10Days), false, Limited(0), "package", "No sessions remaining"},
		{"monthly", approvedEngagement(RateMonthly, nil, in10Days), true, Unlimited(), "monthly", "Monthly subscription active (10 days left)"},
		{"hourly", approvedEngagement(RateHourly, nil, nil), true, Unlimited(), "hourly", "Hourly rate active"},
		{"lapsed", approvedEngagement(RateMonthly, nil, past), false, Limited(0), "expired", "Subscription expired"},
		{"unknown rate denies", approvedEngagement(RateType("weekly"), nil, nil), false, Limited(0), "unknown", "Unrecognized rate plan"},
		{"awaiting approval", &Engagement{CoachApproval: ApprovalApproved, StaffApproval: ApprovalPending, RateType: RateMonthly}, false, Limited(0), "monthly", "awaiting approval"},
		{"rejected", &Engagement{CoachApproval: ApprovalRejected, StaffApproval: ApprovalPending, RateType: RateMonthly}, false, Limited(0), "monthly", "rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Evaluate(tt.e, now)
			assert.Equal(t, tt.canStart, a.CanStartWorkout)
			assert.Equal(t, tt.remaining, a.RemainingSessions)
			assert.Equal(t, tt.subType, a.SubscriptionType)
			assert.Contains(t, a.Reason, tt.reasonPart)
		})
	}
}

func TestPlanFor(t *testing.T) {
	now := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

	p, err := PlanFor(RateHourly, 0, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 14, 8, 0, 0, 0, time.UTC), p.ExpiresAt)
	assert.Nil(t, p.RemainingSessions)

	p, err = PlanFor(RateMonthly, 0, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC), p.ExpiresAt)
	assert.Nil(t, p.RemainingSessions)

	p, err = PlanFor(RatePackage, 10, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 15, 8, 0, 0, 0, time.UTC), p.ExpiresAt)
	require.NotNil(t, p.RemainingSessions)
	assert.Equal(t, 10, *p.RemainingSessions)

	_, err = PlanFor(RatePackage, 0, now)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = PlanFor(RateType("yearly"), 0, now)
	assert.ErrorIs(t, err, ErrInvalidRateType)
}

func TestDaysLeft(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, DaysLeft(now.Add(-time.Hour), now))
	assert.Equal(t, 0, DaysLeft(now.Add(23*time.Hour), now))
	assert.Equal(t, 1, DaysLeft(now.Add(25*time.Hour), now))
}
