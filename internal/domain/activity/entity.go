package activity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Action names written to the activity log.
const (
	ActionEngagementRequested = "engagement_requested"
	ActionCoachApproved       = "coach_approved"
	ActionCoachRejected       = "coach_rejected"
	ActionStaffApproved       = "staff_approved"
	ActionStaffRejected       = "staff_rejected"
	ActionSessionUsed         = "session_used"
	ActionSessionAdded        = "session_added"
	ActionSessionUndone       = "session_undone"
	ActionSessionAdjusted     = "session_adjusted"
	ActionEngagementExpired   = "engagement_expired"
)

// Entry is one audit line. Entries are written best-effort and never block the operation that produced them.
type Entry struct {
	ID           string    `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	Action       string    `gorm:"column:action;type:varchar(64);not null;index" json:"action"`
	Details      string    `gorm:"column:details;type:text" json:"details"`
	EngagementID *int64    `gorm:"column:engagement_id;index" json:"engagement_id,omitempty"`
	MemberID     *int64    `gorm:"column:member_id;index" json:"member_id,omitempty"`
	CoachID      *int64    `gorm:"column:coach_id;index" json:"coach_id,omitempty"`
	ActorID      *int64    `gorm:"column:actor_id" json:"actor_id,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Entry) TableName() string { return "activity_logs" }

func (e *Entry) BeforeCreate(_ *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
