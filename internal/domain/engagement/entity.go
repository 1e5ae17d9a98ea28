package engagement

import "time"

type Status string

const (
	StatusPending      Status = "pending"
	StatusActive       Status = "active"
	StatusExpired      Status = "expired"
	StatusDisconnected Status = "disconnected"
)

type Approval string

const (
	ApprovalPending  Approval = "pending"
	ApprovalApproved Approval = "approved"
	ApprovalRejected Approval = "rejected"
)

type RateType string

const (
	RateHourly  RateType = "hourly"
	RateMonthly RateType = "monthly"
	RatePackage RateType = "package"
)

func (r RateType) Valid() bool {
	switch r {
	case RateHourly, RateMonthly, RatePackage:
		return true
	}
	return false
}

// Engagement is one member hiring one coach. At most one engagement per
// (member, coach) may be pending or active at a time.
type Engagement struct {
	ID       int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	MemberID int64 `gorm:"column:member_id;not null;index:idx_engagement_open_pair,unique,where:status = 'pending' OR status = 'active'" json:"member_id"`
	CoachID  int64 `gorm:"column:coach_id;not null;index;index:idx_engagement_open_pair,unique,where:status = 'pending' OR status = 'active'" json:"coach_id"`

	Status        Status   `gorm:"column:status;type:varchar(20);not null;default:pending;index" json:"status"`
	CoachApproval Approval `gorm:"column:coach_approval;type:varchar(20);not null;default:pending" json:"coach_approval"`
	StaffApproval Approval `gorm:"column:staff_approval;type:varchar(20);not null;default:pending" json:"staff_approval"`

	RateType          RateType   `gorm:"column:rate_type;type:varchar(20);not null" json:"rate_type"`
	Rate              float64    `gorm:"column:rate;type:numeric(10,2);not null;default:0" json:"rate"`
	RemainingSessions *int       `gorm:"column:remaining_sessions;check:chk_engagement_remaining_nonneg,remaining_sessions >= 0" json:"remaining_sessions"`
	ExpiresAt         *time.Time `gorm:"column:expires_at" json:"expires_at"`

	RequestedAt     time.Time  `gorm:"column:requested_at;not null" json:"requested_at"`
	CoachApprovedAt *time.Time `gorm:"column:coach_approved_at" json:"coach_approved_at,omitempty"`
	StaffApprovedAt *time.Time `gorm:"column:staff_approved_at" json:"staff_approved_at,omitempty"`
	HandledByCoach  *int64     `gorm:"column:handled_by_coach" json:"handled_by_coach,omitempty"`
	HandledByStaff  *int64     `gorm:"column:handled_by_staff" json:"handled_by_staff,omitempty"`
	RejectionReason string     `gorm:"column:rejection_reason;type:text" json:"rejection_reason,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Engagement) TableName() string { return "coach_engagements" }

// Approved reports whether both approval tracks are approved.
func (e *Engagement) Approved() bool {
	return e.CoachApproval == ApprovalApproved && e.StaffApproval == ApprovalApproved
}

// Lapsed reports whether the engagement's expiry has passed at now.
func (e *Engagement) Lapsed(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Quota returns the session allowance carried by the engagement itself,
// ignoring expiry.
func (e *Engagement) Quota() Quota {
	if e.RateType != RatePackage {
		return Unlimited()
	}
	if e.RemainingSessions == nil {
		return Limited(0)
	}
	return Limited(*e.RemainingSessions)
}

// UsageRecord marks one session consumed on a calendar day. Undone records
// stay in the table with UndoneAt set.
type UsageRecord struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EngagementID int64      `gorm:"column:engagement_id;not null;uniqueIndex:idx_usage_active_day,where:undone_at IS NULL" json:"engagement_id"`
	UsageDate    time.Time  `gorm:"column:usage_date;type:date;not null;uniqueIndex:idx_usage_active_day,where:undone_at IS NULL" json:"usage_date"`
	Reason       string     `gorm:"column:reason;type:text" json:"reason"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
	UndoneAt     *time.Time `gorm:"column:undone_at" json:"undone_at,omitempty"`
	UndoneBy     *int64     `gorm:"column:undone_by" json:"undone_by,omitempty"`

	Engagement *Engagement `gorm:"foreignKey:EngagementID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (UsageRecord) TableName() string { return "coach_session_usages" }
