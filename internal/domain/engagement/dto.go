package engagement

import "time"

type CreateEngagementRequest struct {
	CoachID      int64   `json:"coach_id" binding:"required,gt=0"`
	RateType     string  `json:"rate_type" binding:"required"`
	Rate         float64 `json:"rate" binding:"gte=0"`
	SessionCount int     `json:"session_count" binding:"gte=0"`
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type DeductRequest struct {
	MemberID int64 `json:"member_id"`
	CoachID  int64 `json:"coach_id"`
}

type UndoRequest struct {
	UsageID  int64 `json:"usage_id" binding:"required,gt=0"`
	MemberID int64 `json:"member_id" binding:"required,gt=0"`
}

type AdjustRequest struct {
	MemberID int64  `json:"member_id" binding:"required,gt=0"`
	CoachID  *int64 `json:"coach_id"`
	Delta    int    `json:"adjustment" binding:"required"`
	Reason   string `json:"reason" binding:"max=500"`
}

type AddUsageRequest struct {
	MemberID  int64  `json:"member_id" binding:"required,gt=0"`
	CoachID   int64  `json:"coach_id"`
	UsageDate string `json:"usage_date" binding:"required"`
	Reason    string `json:"reason" binding:"max=500"`
}

// EngagementResponse is the public shape of an engagement.
type EngagementResponse struct {
	ID                int64      `json:"id"`
	MemberID          int64      `json:"member_id"`
	CoachID           int64      `json:"coach_id"`
	Status            Status     `json:"status"`
	CoachApproval     Approval   `json:"coach_approval"`
	StaffApproval     Approval   `json:"staff_approval"`
	RateType          RateType   `json:"rate_type"`
	Rate              float64    `json:"rate"`
	RemainingSessions Quota      `json:"remaining_sessions"`
	ExpiresAt         *time.Time `json:"expires_at"`
	RequestedAt       time.Time  `json:"requested_at"`
	CoachApprovedAt   *time.Time `json:"coach_approved_at,omitempty"`
	StaffApprovedAt   *time.Time `json:"staff_approved_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
}

func toResponse(e *Engagement) EngagementResponse {
	return EngagementResponse{
		ID:                e.ID,
		MemberID:          e.MemberID,
		CoachID:           e.CoachID,
		Status:            e.Status,
		CoachApproval:     e.CoachApproval,
		StaffApproval:     e.StaffApproval,
		RateType:          e.RateType,
		Rate:              e.Rate,
		RemainingSessions: e.Quota(),
		ExpiresAt:         e.ExpiresAt,
		RequestedAt:       e.RequestedAt,
		CoachApprovedAt:   e.CoachApprovedAt,
		StaffApprovedAt:   e.StaffApprovedAt,
		RejectionReason:   e.RejectionReason,
	}
}

func toResponses(list []Engagement) []EngagementResponse {
	resp := make([]EngagementResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toResponse(&list[i]))
	}
	return resp
}
