package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles persistence for engagements and the usage ledger.
// Methods prefixed with Lock take a row lock and must run inside Transaction.
type Repository interface {
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	// Engagements
	Create(ctx context.Context, e *Engagement) error
	GetByID(ctx context.Context, id int64) (*Engagement, error)
	FindOpen(ctx context.Context, memberID, coachID int64) (*Engagement, error)
	FindCurrent(ctx context.Context, memberID, coachID int64) (*Engagement, error)
	LatestForMember(ctx context.Context, memberID int64) (*Engagement, error)
	LatestPackage(ctx context.Context, memberID int64) (*Engagement, error)
	ListCoachPending(ctx context.Context, coachID int64) ([]Engagement, error)
	ListStaffPending(ctx context.Context) ([]Engagement, error)
	ListLapsed(ctx context.Context, now time.Time) ([]Engagement, error)
	LockByID(ctx context.Context, id int64) (*Engagement, error)
	LockApproved(ctx context.Context, memberID, coachID int64) (*Engagement, error)
	LockLatestPackage(ctx context.Context, memberID int64, coachID *int64, now time.Time) (*Engagement, error)
	Save(ctx context.Context, e *Engagement) error
	DecrementRemaining(ctx context.Context, id int64) (bool, error)
	IncrementRemaining(ctx context.Context, id int64) error
	SetRemaining(ctx context.Context, id int64, n int) error
	UpdateStatus(ctx context.Context, id int64, from, to Status) (bool, error)

	// Usage ledger
	CreateUsage(ctx context.Context, u *UsageRecord) error
	FindActiveUsage(ctx context.Context, engagementID int64, day time.Time) (*UsageRecord, error)
	GetActiveUsage(ctx context.Context, id int64) (*UsageRecord, error)
	MarkUndone(ctx context.Context, id int64, at time.Time, by int64) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repository{db: tx})
	})
}

func (r *repository) Create(ctx context.Context, e *Engagement) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Engagement, error) {
	var e Engagement
	return first(r.db.WithContext(ctx).Where("id = ?", id), &e)
}

// FindOpen returns the pending or active engagement for the pair, if any.
func (r *repository) FindOpen(ctx context.Context, memberID, coachID int64) (*Engagement, error) {
	var e Engagement
	q := r.db.WithContext(ctx).
		Where("member_id = ? AND coach_id = ?", memberID, coachID).
		Where("status IN ?", []Status{StatusPending, StatusActive})
	return first(q, &e)
}

// FindCurrent returns the latest approved engagement for the pair, falling
// back to the latest engagement in any state.
func (r *repository) FindCurrent(ctx context.Context, memberID, coachID int64) (*Engagement, error) {
	var e Engagement
	found, err := first(approvedScope(r.db.WithContext(ctx), memberID, coachID).Order("id DESC"), &e)
	if err != nil || found != nil {
		return found, err
	}
	var latest Engagement
	return first(r.db.WithContext(ctx).
		Where("member_id = ? AND coach_id = ?", memberID, coachID).
		Order("id DESC"), &latest)
}

func (r *repository) LatestForMember(ctx context.Context, memberID int64) (*Engagement, error) {
	var e Engagement
	return first(r.db.WithContext(ctx).Where("member_id = ?", memberID).Order("id DESC"), &e)
}

// LatestPackage returns the member's most recent approved package, lapsed or not.
func (r *repository) LatestPackage(ctx context.Context, memberID int64) (*Engagement, error) {
	var e Engagement
	q := r.db.WithContext(ctx).
		Where("member_id = ? AND rate_type = ?", memberID, RatePackage).
		Where("coach_approval = ? AND staff_approval = ?", ApprovalApproved, ApprovalApproved).
		Where("status IN ?", []Status{StatusActive, StatusExpired})
	return first(q.Order("id DESC"), &e)
}

func (r *repository) ListCoachPending(ctx context.Context, coachID int64) ([]Engagement, error) {
	var list []Engagement
	err := r.db.WithContext(ctx).
		Where("coach_id = ? AND coach_approval = ? AND status = ?", coachID, ApprovalPending, StatusPending).
		Order("requested_at ASC").
		Find(&list).Error
	return list, err
}

func (r *repository) ListStaffPending(ctx context.Context) ([]Engagement, error) {
	var list []Engagement
	err := r.db.WithContext(ctx).
		Where("staff_approval = ? AND status = ?", ApprovalPending, StatusPending).
		Order("requested_at ASC").
		Find(&list).Error
	return list, err
}

// ListLapsed returns pending or active engagements whose expiry is before now.
func (r *repository) ListLapsed(ctx context.Context, now time.Time) ([]Engagement, error) {
	var list []Engagement
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at < ?", []Status{StatusPending, StatusActive}, now).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *repository) LockByID(ctx context.Context, id int64) (*Engagement, error) {
	var e Engagement
	return first(locked(r.db.WithContext(ctx)).Where("id = ?", id), &e)
}

// LockApproved locks the latest engagement for the pair on which both
// tracks approved. Exhausted or lapsed engagements are returned too so the
// caller can report why a session cannot start.
func (r *repository) LockApproved(ctx context.Context, memberID, coachID int64) (*Engagement, error) {
	var e Engagement
	return first(approvedScope(locked(r.db.WithContext(ctx)), memberID, coachID).Order("id DESC"), &e)
}

// LockLatestPackage locks the member's most recent approved, unexpired
// package engagement, optionally restricted to one coach.
func (r *repository) LockLatestPackage(ctx context.Context, memberID int64, coachID *int64, now time.Time) (*Engagement, error) {
	var e Engagement
	q := locked(r.db.WithContext(ctx)).
		Where("member_id = ? AND rate_type = ?", memberID, RatePackage).
		Where("coach_approval = ? AND staff_approval = ?", ApprovalApproved, ApprovalApproved).
		Where("status IN ?", []Status{StatusActive, StatusExpired}).
		Where("(expires_at IS NULL OR expires_at > ?)", now)
	if coachID != nil {
		q = q.Where("coach_id = ?", *coachID)
	}
	return first(q.Order("id DESC"), &e)
}

func (r *repository) Save(ctx context.Context, e *Engagement) error {
	return r.db.WithContext(ctx).Save(e).Error
}

// DecrementRemaining takes one session off a package if any are left. It
// reports false when the balance was already zero.
func (r *repository) DecrementRemaining(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Engagement{}).
		Where("id = ? AND remaining_sessions > 0", id).
		Updates(map[string]any{
			"remaining_sessions": gorm.Expr("remaining_sessions - 1"),
			"updated_at":         time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) IncrementRemaining(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&Engagement{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"remaining_sessions": gorm.Expr("COALESCE(remaining_sessions, 0) + 1"),
			"updated_at":         time.Now().UTC(),
		}).Error
}

func (r *repository) SetRemaining(ctx context.Context, id int64, n int) error {
	return r.db.WithContext(ctx).
		Model(&Engagement{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"remaining_sessions": n,
			"updated_at":         time.Now().UTC(),
		}).Error
}

// UpdateStatus moves an engagement from one status to another and reports
// whether the row was still in the expected status.
func (r *repository) UpdateStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Engagement{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) CreateUsage(ctx context.Context, u *UsageRecord) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(u).Error
}

func (r *repository) FindActiveUsage(ctx context.Context, engagementID int64, day time.Time) (*UsageRecord, error) {
	var u UsageRecord
	return first(r.db.WithContext(ctx).
		Where("engagement_id = ? AND usage_date = ? AND undone_at IS NULL", engagementID, day), &u)
}

func (r *repository) GetActiveUsage(ctx context.Context, id int64) (*UsageRecord, error) {
	var u UsageRecord
	return first(r.db.WithContext(ctx).Where("id = ? AND undone_at IS NULL", id), &u)
}

// MarkUndone soft-deletes a usage record. It reports false when the record
// was already undone.
func (r *repository) MarkUndone(ctx context.Context, id int64, at time.Time, by int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Where("id = ? AND undone_at IS NULL", id).
		Updates(map[string]any{
			"undone_at": at,
			"undone_by": by,
		})
	return res.RowsAffected == 1, res.Error
}

func locked(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func approvedScope(db *gorm.DB, memberID, coachID int64) *gorm.DB {
	return db.
		Where("member_id = ? AND coach_id = ?", memberID, coachID).
		Where("coach_approval = ? AND staff_approval = ?", ApprovalApproved, ApprovalApproved).
		Where("status IN ?", []Status{StatusActive, StatusExpired})
}

// first runs q into dst and returns nil, nil when nothing matched.
func first[T any](q *gorm.DB, dst *T) (*T, error) {
	if err := q.First(dst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return dst, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}

var businessErrors = []error{
	ErrDuplicateEngagement,
	ErrAlreadyProcessed,
	ErrNoActiveEngagement,
	ErrQuotaExhausted,
	ErrNegativeBalance,
	ErrRecordNotFound,
	ErrNoActivePackage,
	ErrAlreadyUsedOnDate,
	ErrEngagementNotFound,
	ErrEngagementExpired,
	ErrInvalidRateType,
	ErrEntitlementRequired,
	ErrForbidden,
	ErrValidation,
	ErrStorage,
	errUsageConflict,
}

// storageError passes business errors through and marks everything else
// as a retryable storage failure.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
