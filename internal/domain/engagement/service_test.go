package engagement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymcoach/internal/domain/activity"
)

func TestRequestComputesPlan(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RatePackage, Rate: 120, SessionCount: 10})
	require.NoError(t, err)

	assert.NotZero(t, e.ID)
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, ApprovalPending, e.CoachApproval)
	assert.Equal(t, ApprovalPending, e.StaffApproval)
	require.NotNil(t, e.RemainingSessions)
	assert.Equal(t, 10, *e.RemainingSessions)
	require.NotNil(t, e.ExpiresAt)
	assert.Equal(t, f.now.AddDate(0, 3, 0), *e.ExpiresAt)
	assert.Equal(t, []string{activity.ActionEngagementRequested}, f.log.actions())
}

func TestRequestRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: "weekly"})
	assert.ErrorIs(t, err, ErrInvalidRateType)

	_, err = f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RatePackage})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: memberID, RateType: RateMonthly})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Request(f.ctx, RequestInput{CoachID: coachID, RateType: RateMonthly})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "MemberID")
}

func TestRequestDuplicateWhileOpen(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateMonthly, Rate: 80})
	require.NoError(t, err)

	_, err = f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateHourly, Rate: 20})
	assert.ErrorIs(t, err, ErrDuplicateEngagement)

	// another coach is fine
	_, err = f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID + 1, RateType: RateHourly, Rate: 20})
	require.NoError(t, err)

	// once disconnected the pair may try again
	_, err = f.svc.RejectByCoach(f.ctx, first.ID, coachID, "fully booked")
	require.NoError(t, err)
	_, err = f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateHourly, Rate: 20})
	require.NoError(t, err)
}

func TestOpenPairIndexBacksUpDuplicateCheck(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateMonthly})
	require.NoError(t, err)

	dup := &Engagement{
		MemberID:      memberID,
		CoachID:       coachID,
		Status:        StatusActive,
		CoachApproval: ApprovalApproved,
		StaffApproval: ApprovalApproved,
		RateType:      RateMonthly,
		RequestedAt:   f.now,
	}
	err = f.db.Create(dup).Error
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))

	closed := *dup
	closed.ID = 0
	closed.Status = StatusExpired
	require.NoError(t, f.db.Create(&closed).Error)
}

func TestApprovalsInEitherOrder(t *testing.T) {
	for name, coachFirst := range map[string]bool{"coach_first": true, "staff_first": false} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)

			e, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateMonthly, Rate: 80})
			require.NoError(t, err)

			if coachFirst {
				e, err = f.svc.ApproveByCoach(f.ctx, e.ID, coachID)
			} else {
				e, err = f.svc.ApproveByStaff(f.ctx, e.ID, staffID)
			}
			require.NoError(t, err)
			assert.Equal(t, StatusPending, e.Status)
			f.assertConsistent(e.ID)

			if coachFirst {
				e, err = f.svc.ApproveByStaff(f.ctx, e.ID, staffID)
			} else {
				e, err = f.svc.ApproveByCoach(f.ctx, e.ID, coachID)
			}
			require.NoError(t, err)
			assert.Equal(t, StatusActive, e.Status)
			f.assertConsistent(e.ID)

			stored := f.reload(e.ID)
			require.NotNil(t, stored.CoachApprovedAt)
			require.NotNil(t, stored.StaffApprovedAt)
			require.NotNil(t, stored.HandledByCoach)
			require.NotNil(t, stored.HandledByStaff)
			assert.Equal(t, coachID, *stored.HandledByCoach)
			assert.Equal(t, staffID, *stored.HandledByStaff)
		})
	}
}

func TestApprovalTrackAcceptsOneDecision(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateMonthly})
	require.NoError(t, err)

	_, err = f.svc.ApproveByCoach(f.ctx, e.ID, coachID)
	require.NoError(t, err)
	_, err = f.svc.ApproveByCoach(f.ctx, e.ID, coachID)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	_, err = f.svc.RejectByCoach(f.ctx, e.ID, coachID, "")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	_, err = f.svc.ApproveByStaff(f.ctx, e.ID, staffID)
	require.NoError(t, err)
	_, err = f.svc.ApproveByStaff(f.ctx, e.ID, staffID+1)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestCoachMustOwnEngagement(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateMonthly})
	require.NoError(t, err)

	_, err = f.svc.ApproveByCoach(f.ctx, e.ID, coachID+5)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.ApproveByCoach(f.ctx, e.ID+100, coachID)
	assert.ErrorIs(t, err, ErrEngagementNotFound)
}

func TestRejectionDisconnects(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RatePackage, SessionCount: 4})
	require.NoError(t, err)
	_, err = f.svc.ApproveByCoach(f.ctx, e.ID, coachID)
	require.NoError(t, err)

	e, err = f.svc.RejectByStaff(f.ctx, e.ID, staffID, "membership unpaid")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, e.Status)
	assert.Equal(t, ApprovalRejected, e.StaffApproval)
	assert.Equal(t, "membership unpaid", e.RejectionReason)
	f.assertConsistent(e.ID)

	_, err = f.svc.ApproveByStaff(f.ctx, e.ID, staffID)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	assert.Equal(t, []string{
		activity.ActionEngagementRequested,
		activity.ActionCoachApproved,
		activity.ActionStaffRejected,
	}, f.log.actions())
}

func TestPendingLists(t *testing.T) {
	f := newFixture(t)

	a, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateMonthly})
	require.NoError(t, err)
	f.advance(time.Minute)
	b, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID + 1, CoachID: coachID, RateType: RateHourly})
	require.NoError(t, err)
	f.advance(time.Minute)
	_, err = f.svc.Request(f.ctx, RequestInput{MemberID: memberID + 2, CoachID: coachID + 1, RateType: RateHourly})
	require.NoError(t, err)

	_, err = f.svc.ApproveByCoach(f.ctx, a.ID, coachID)
	require.NoError(t, err)
	_, err = f.svc.RejectByStaff(f.ctx, b.ID, staffID, "")
	require.NoError(t, err)

	coachList, err := f.svc.ListCoachPending(f.ctx, coachID)
	require.NoError(t, err)
	assert.Empty(t, coachList)

	staffList, err := f.svc.ListStaffPending(f.ctx)
	require.NoError(t, err)
	require.Len(t, staffList, 2)
	assert.Equal(t, a.ID, staffList[0].ID)

	latest, err := f.svc.MemberRequestStatus(f.ctx, memberID+1)
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, latest.Status)

	_, err = f.svc.MemberRequestStatus(f.ctx, 999)
	assert.ErrorIs(t, err, ErrEngagementNotFound)
}

func TestPremiumGate(t *testing.T) {
	f := newFixture(t)
	f.svc.entitlements = NewEntitlementChecker(f.db)

	in := RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateMonthly}
	_, err := f.svc.Request(f.ctx, in)
	assert.ErrorIs(t, err, ErrEntitlementRequired)

	lapsed := f.now.Add(-24 * time.Hour)
	require.NoError(t, f.db.Create(&MemberEntitlement{MemberID: memberID, Plan: PlanPremium, ValidFrom: f.now.AddDate(-1, 0, 0), ValidUntil: &lapsed}).Error)
	_, err = f.svc.Request(f.ctx, in)
	assert.ErrorIs(t, err, ErrEntitlementRequired)

	until := f.now.AddDate(0, 6, 0)
	require.NoError(t, f.db.Create(&MemberEntitlement{MemberID: memberID, Plan: PlanPremium, ValidFrom: f.now.AddDate(0, -1, 0), ValidUntil: &until}).Error)
	_, err = f.svc.Request(f.ctx, in)
	require.NoError(t, err)
}

func TestActivityFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	// activity_logs was never migrated, so every write fails
	f.svc.activity = activity.NewService(f.db)

	e, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateHourly})
	require.NoError(t, err)
	_, err = f.svc.ApproveByCoach(f.ctx, e.ID, coachID)
	require.NoError(t, err)
}

func TestExpireLapsed(t *testing.T) {
	f := newFixture(t)

	e := f.active(RateHourly, 0)

	n, err := f.svc.ExpireLapsed(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.advance(31 * 24 * time.Hour)
	n, err = f.svc.ExpireLapsed(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusExpired, f.reload(e.ID).Status)
	f.assertConsistent(e.ID)

	n, err = f.svc.ExpireLapsed(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Contains(t, f.log.actions(), activity.ActionEngagementExpired)
}

func TestExpireLapsedClosesStaleRequests(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateHourly})
	require.NoError(t, err)

	f.advance(90 * 24 * time.Hour)
	n, err := f.svc.ExpireLapsed(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale := f.reload(e.ID)
	assert.Equal(t, StatusExpired, stale.Status)
	assert.Equal(t, ApprovalPending, stale.CoachApproval)
	f.assertConsistent(e.ID)

	_, err = f.svc.ApproveByCoach(f.ctx, e.ID, coachID)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	coachPending, err := f.svc.ListCoachPending(f.ctx, coachID)
	require.NoError(t, err)
	assert.Empty(t, coachPending)

	again, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateHourly})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)
}

func TestRequestReplacesUnsweptStaleRequest(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateHourly})
	require.NoError(t, err)

	f.advance(31 * 24 * time.Hour)
	_, err = f.svc.ApproveByStaff(f.ctx, e.ID, staffID)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	again, err := f.svc.Request(f.ctx, RequestInput{MemberID: memberID, CoachID: coachID, RateType: RateHourly})
	require.NoError(t, err)
	assert.NotEqual(t, e.ID, again.ID)
	assert.Equal(t, StatusExpired, f.reload(e.ID).Status)
	assert.Contains(t, f.log.actions(), activity.ActionEngagementExpired)

	n, err := f.svc.ExpireLapsed(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
