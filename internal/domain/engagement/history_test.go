package engagement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymcoach/internal/domain/auth"
)

func TestHistoryAndSessionInfo(t *testing.T) {
	f := newFixture(t)
	e := f.active(RatePackage, 6)

	first, err := f.svc.Deduct(f.ctx, memberID, coachID)
	require.NoError(t, err)
	f.advance(day)
	_, err = f.svc.Deduct(f.ctx, memberID, coachID)
	require.NoError(t, err)
	_, err = f.svc.Undo(f.ctx, UndoInput{UsageID: first.UsageID, MemberID: memberID, ActorID: staffID, ActorRole: auth.RoleStaff})
	require.NoError(t, err)

	hist, err := f.svc.History(f.ctx, memberID)
	require.NoError(t, err)
	require.Len(t, hist.Records, 2)
	assert.Nil(t, hist.Records[0].UndoneAt)
	require.NotNil(t, hist.Records[1].UndoneAt)
	assert.Equal(t, coachID, hist.Records[0].CoachID)
	assert.Equal(t, RatePackage, hist.Records[0].RateType)
	require.NotNil(t, hist.Current)
	assert.Equal(t, e.ID, hist.Current.Engagement.ID)
	assert.Equal(t, 5, remaining(t, hist.Current.Availability.RemainingSessions))

	info, err := f.svc.SessionInfo(f.ctx, memberID)
	require.NoError(t, err)
	require.NotNil(t, info.Package)
	assert.Equal(t, UsageStats{Total: 2, Active: 1, Undone: 1}, info.Stats)

	empty, err := f.svc.SessionInfo(f.ctx, memberID+1)
	require.NoError(t, err)
	assert.Nil(t, empty.Package)
	assert.Equal(t, UsageStats{}, empty.Stats)

	emptyHist, err := f.svc.History(f.ctx, memberID+1)
	require.NoError(t, err)
	assert.Empty(t, emptyHist.Records)
	assert.Nil(t, emptyHist.Current)
}
