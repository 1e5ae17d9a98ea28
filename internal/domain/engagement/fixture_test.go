package engagement

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"gymcoach/internal/database"
	"gymcoach/internal/domain/activity"
)

type memoryRecorder struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (r *memoryRecorder) Record(_ context.Context, e activity.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *memoryRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	t   *testing.T
	ctx context.Context
	db  *gorm.DB
	svc *Service
	log *memoryRecorder
	now time.Time
}

const (
	memberID = int64(101)
	coachID  = int64(201)
	staffID  = int64(301)
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:engagement_%s?mode=memory&cache=shared", name)
	db, err := database.Connect(dsn)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&Engagement{}, &UsageRecord{}, &MemberEntitlement{}))
	return db
}

func newFixture(t *testing.T) *fixture {
	return newFixtureIn(t, time.UTC)
}

func newFixtureIn(t *testing.T, loc *time.Location) *fixture {
	t.Helper()
	db := openTestDB(t)
	x, err := database.SQLX(db)
	require.NoError(t, err)

	f := &fixture{
		t:   t,
		ctx: context.Background(),
		db:  db,
		log: &memoryRecorder{},
		now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(NewRepository(db), nil, f.log, loc).WithHistory(NewHistoryRepository(x))
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// active creates an engagement and runs both approvals.
func (f *fixture) active(rate RateType, sessions int) *Engagement {
	f.t.Helper()
	e, err := f.svc.Request(f.ctx, RequestInput{
		MemberID:     memberID,
		CoachID:      coachID,
		RateType:     rate,
		Rate:         50,
		SessionCount: sessions,
	})
	require.NoError(f.t, err)
	_, err = f.svc.ApproveByCoach(f.ctx, e.ID, coachID)
	require.NoError(f.t, err)
	e, err = f.svc.ApproveByStaff(f.ctx, e.ID, staffID)
	require.NoError(f.t, err)
	require.Equal(f.t, StatusActive, e.Status)
	return e
}

func (f *fixture) reload(id int64) *Engagement {
	f.t.Helper()
	e, err := f.svc.Get(f.ctx, id)
	require.NoError(f.t, err)
	return e
}

func remaining(t *testing.T, q Quota) int {
	t.Helper()
	n, limited := q.Count()
	require.True(t, limited, "expected a limited quota, got %s", q)
	return n
}

// assertConsistent checks that the stored status matches its inputs and the
// balance is never negative.
func (f *fixture) assertConsistent(id int64) {
	f.t.Helper()
	e := f.reload(id)
	require.Equal(f.t, e.resolve(e.Lapsed(f.now)), e.Status)
	require.Equal(f.t, e.Approved() && !e.Lapsed(f.now) && e.Quota().Allows(), e.Status == StatusActive)
	if e.RemainingSessions != nil {
		require.GreaterOrEqual(f.t, *e.RemainingSessions, 0)
	}
}
