package engagement

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const PlanPremium = "premium"

// MemberEntitlement is maintained by the membership service. Only reads
// happen here.
type MemberEntitlement struct {
	ID         int64      `gorm:"primaryKey;autoIncrement"`
	MemberID   int64      `gorm:"column:member_id;not null;index"`
	Plan       string     `gorm:"column:plan;type:varchar(32);not null"`
	ValidFrom  time.Time  `gorm:"column:valid_from;not null"`
	ValidUntil *time.Time `gorm:"column:valid_until"`
}

func (MemberEntitlement) TableName() string { return "member_entitlements" }

// EntitlementChecker decides whether a member may hire a coach.
type EntitlementChecker interface {
	HasPremium(ctx context.Context, memberID int64, at time.Time) (bool, error)
}

type entitlementRepository struct {
	db *gorm.DB
}

func NewEntitlementChecker(db *gorm.DB) EntitlementChecker {
	return &entitlementRepository{db: db}
}

func (r *entitlementRepository) HasPremium(ctx context.Context, memberID int64, at time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&MemberEntitlement{}).
		Where("member_id = ? AND plan = ? AND valid_from <= ?", memberID, PlanPremium, at).
		Where("(valid_until IS NULL OR valid_until >= ?)", at).
		Count(&count).Error
	return count > 0, err
}

// AllowAll is used when the premium gate is switched off.
type AllowAll struct{}

func (AllowAll) HasPremium(context.Context, int64, time.Time) (bool, error) { return true, nil }
