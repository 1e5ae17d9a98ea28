package engagement

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// UsageEntry is one ledger line as shown in a member's history.
type UsageEntry struct {
	ID           int64      `db:"id" json:"id"`
	EngagementID int64      `db:"engagement_id" json:"engagement_id"`
	CoachID      int64      `db:"coach_id" json:"coach_id"`
	RateType     RateType   `db:"rate_type" json:"rate_type"`
	UsageDate    time.Time  `db:"usage_date" json:"usage_date"`
	Reason       string     `db:"reason" json:"reason"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UndoneAt     *time.Time `db:"undone_at" json:"undone_at,omitempty"`
	UndoneBy     *int64     `db:"undone_by" json:"undone_by,omitempty"`
}

type UsageStats struct {
	Total  int64 `db:"total" json:"total"`
	Active int64 `db:"active" json:"active"`
	Undone int64 `db:"undone" json:"undone"`
}

// HistoryReader serves the read-only ledger views.
type HistoryReader interface {
	UsageHistory(ctx context.Context, memberID int64) ([]UsageEntry, error)
	UsageStats(ctx context.Context, memberID int64) (UsageStats, error)
}

// HistoryRepository reads the usage ledger with hand-written joins.
type HistoryRepository struct {
	db *sqlx.DB
}

func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// UsageHistory lists every usage record of the member, undone ones
// included, newest day first.
func (r *HistoryRepository) UsageHistory(ctx context.Context, memberID int64) ([]UsageEntry, error) {
	query := r.db.Rebind(`
		SELECT u.id, u.engagement_id, e.coach_id, e.rate_type, u.usage_date,
		       COALESCE(u.reason, '') AS reason, u.created_at, u.undone_at, u.undone_by
		FROM coach_session_usages u
		JOIN coach_engagements e ON e.id = u.engagement_id
		WHERE e.member_id = ?
		ORDER BY u.usage_date DESC, u.id DESC
	`)
	entries := []UsageEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, memberID); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *HistoryRepository) UsageStats(ctx context.Context, memberID int64) (UsageStats, error) {
	query := r.db.Rebind(`
		SELECT COUNT(u.id) AS total,
		       COALESCE(SUM(CASE WHEN u.undone_at IS NULL THEN 1 ELSE 0 END), 0) AS active,
		       COALESCE(SUM(CASE WHEN u.undone_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS undone
		FROM coach_session_usages u
		JOIN coach_engagements e ON e.id = u.engagement_id
		WHERE e.member_id = ?
	`)
	var stats UsageStats
	err := r.db.GetContext(ctx, &stats, query, memberID)
	return stats, err
}

// Summary pairs an engagement with what it currently allows.
type Summary struct {
	Engagement   *Engagement  `json:"engagement"`
	Availability Availability `json:"availability"`
}

type History struct {
	MemberID int64        `json:"member_id"`
	Current  *Summary     `json:"current"`
	Records  []UsageEntry `json:"records"`
}

type SessionInfo struct {
	MemberID int64      `json:"member_id"`
	Package  *Summary   `json:"package"`
	Stats    UsageStats `json:"stats"`
}

// WithHistory enables History and SessionInfo.
func (s *Service) WithHistory(r HistoryReader) *Service {
	s.history = r
	return s
}

// History returns the member's usage records with the latest engagement.
func (s *Service) History(ctx context.Context, memberID int64) (*History, error) {
	records, err := s.history.UsageHistory(ctx, memberID)
	if err != nil {
		return nil, storageError(err)
	}
	e, err := s.repo.LatestForMember(ctx, memberID)
	if err != nil {
		return nil, storageError(err)
	}
	return &History{
		MemberID: memberID,
		Current:  s.summarize(e),
		Records:  records,
	}, nil
}

// SessionInfo returns the member's current package and ledger statistics.
func (s *Service) SessionInfo(ctx context.Context, memberID int64) (*SessionInfo, error) {
	e, err := s.repo.LatestPackage(ctx, memberID)
	if err != nil {
		return nil, storageError(err)
	}
	stats, err := s.history.UsageStats(ctx, memberID)
	if err != nil {
		return nil, storageError(err)
	}
	return &SessionInfo{
		MemberID: memberID,
		Package:  s.summarize(e),
		Stats:    stats,
	}, nil
}

func (s *Service) summarize(e *Engagement) *Summary {
	if e == nil {
		return nil
	}
	return &Summary{Engagement: e, Availability: Evaluate(e, s.clock())}
}
