package activity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gymcoach/internal/database"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(exchange, routingKey string, body []byte) error {
	args := m.Called(exchange, routingKey, body)
	return args.Error(0)
}

type failingSink struct{}

func (failingSink) Publish(context.Context, Entry) error { return errors.New("sink down") }

func setupService(t *testing.T, sinks ...Sink) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:activity_%s?mode=memory&cache=shared", t.Name())
	db, err := database.Connect(dsn)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Entry{}))
	return NewService(db, sinks...)
}

func ptr(v int64) *int64 { return &v }

func TestRecordPersistsAndPublishes(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", "coach.events", "activity.session_used", mock.AnythingOfType("[]uint8")).Return(nil).Once()

	svc := setupService(t, NewPublisherSink(pub, "coach.events"))
	ctx := context.Background()

	svc.Record(ctx, Entry{
		Action:   ActionSessionUsed,
		Details:  "Session used for member 3",
		MemberID: ptr(3),
		CoachID:  ptr(4),
	})

	entries, err := svc.ForMember(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, ActionSessionUsed, entries[0].Action)
	assert.False(t, entries[0].CreatedAt.IsZero())

	pub.AssertExpectations(t)
}

func TestRecordSwallowsSinkFailures(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	svc := setupService(t, failingSink{}, NewPublisherSink(pub, "x"))
	ctx := context.Background()

	assert.NotPanics(t, func() {
		svc.Record(ctx, Entry{Action: ActionCoachApproved, MemberID: ptr(1)})
	})

	entries, err := svc.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.Record(ctx, Entry{Action: ActionEngagementRequested, Details: "first", CreatedAt: base})
	svc.Record(ctx, Entry{Action: ActionCoachApproved, Details: "second", CreatedAt: base.Add(time.Minute)})

	entries, err := svc.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Details)
}
