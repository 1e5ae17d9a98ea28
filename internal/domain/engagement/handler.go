package engagement

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gymcoach/internal/domain/auth"
	"gymcoach/internal/pkg/logger"
	"gymcoach/internal/pkg/response"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RequestEngagement godoc
// @Summary Hire a coach
// @Description Creates a pending engagement that needs coach and staff approval.
// @Tags Engagements
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body CreateEngagementRequest true "Coach and rate plan"
// @Success 201 {object} EngagementResponse
// @Router /engagements [post]
func (h *Handler) RequestEngagement(c *gin.Context) {
	memberID := mustUserID(c)
	if memberID == 0 {
		return
	}

	var req CreateEngagementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	e, err := h.service.Request(c.Request.Context(), RequestInput{
		MemberID:     memberID,
		CoachID:      req.CoachID,
		RateType:     RateType(req.RateType),
		Rate:         req.Rate,
		SessionCount: req.SessionCount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Message(c, http.StatusCreated, "Coach hire request sent", toResponse(e))
}

// GetMyRequest godoc
// @Summary Latest engagement of the current member
// @Tags Engagements
// @Security BearerAuth
// @Produce json
// @Success 200 {object} EngagementResponse
// @Router /engagements/me [get]
func (h *Handler) GetMyRequest(c *gin.Context) {
	memberID := mustUserID(c)
	if memberID == 0 {
		return
	}
	e, err := h.service.MemberRequestStatus(c.Request.Context(), memberID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toResponse(e))
}

// CoachApprove godoc
// @Summary Coach approves a hire request
// @Tags Engagements
// @Security BearerAuth
// @Produce json
// @Param id path int true "Engagement ID"
// @Success 200 {object} EngagementResponse
// @Router /engagements/{id}/coach/approve [post]
func (h *Handler) CoachApprove(c *gin.Context) {
	h.decide(c, func(id, actorID int64, _ string) (*Engagement, error) {
		return h.service.ApproveByCoach(c.Request.Context(), id, actorID)
	})
}

// CoachReject godoc
// @Summary Coach rejects a hire request
// @Tags Engagements
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Engagement ID"
// @Param body body RejectRequest false "Reason"
// @Success 200 {object} EngagementResponse
// @Router /engagements/{id}/coach/reject [post]
func (h *Handler) CoachReject(c *gin.Context) {
	h.decide(c, func(id, actorID int64, reason string) (*Engagement, error) {
		return h.service.RejectByCoach(c.Request.Context(), id, actorID, reason)
	})
}

// StaffApprove godoc
// @Summary Staff approves a hire request
// @Tags Engagements
// @Security BearerAuth
// @Produce json
// @Param id path int true "Engagement ID"
// @Success 200 {object} EngagementResponse
// @Router /engagements/{id}/staff/approve [post]
func (h *Handler) StaffApprove(c *gin.Context) {
	h.decide(c, func(id, actorID int64, _ string) (*Engagement, error) {
		return h.service.ApproveByStaff(c.Request.Context(), id, actorID)
	})
}

// StaffReject godoc
// @Summary Staff rejects a hire request
// @Tags Engagements
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Engagement ID"
// @Param body body RejectRequest false "Reason"
// @Success 200 {object} EngagementResponse
// @Router /engagements/{id}/staff/reject [post]
func (h *Handler) StaffReject(c *gin.Context) {
	h.decide(c, func(id, actorID int64, reason string) (*Engagement, error) {
		return h.service.RejectByStaff(c.Request.Context(), id, actorID, reason)
	})
}

func (h *Handler) decide(c *gin.Context, fn func(id, actorID int64, reason string) (*Engagement, error)) {
	actorID := mustUserID(c)
	if actorID == 0 {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	// the body is optional; chunked requests report ContentLength -1
	var req RejectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
	}

	e, err := fn(id, actorID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toResponse(e))
}

// ListCoachRequests godoc
// @Summary Hire requests waiting on the current coach
// @Tags Engagements
// @Security BearerAuth
// @Produce json
// @Success 200 {array} EngagementResponse
// @Router /coaches/me/requests [get]
func (h *Handler) ListCoachRequests(c *gin.Context) {
	coachID := mustUserID(c)
	if coachID == 0 {
		return
	}
	list, err := h.service.ListCoachPending(c.Request.Context(), coachID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toResponses(list))
}

// ListStaffPending godoc
// @Summary Hire requests waiting on staff
// @Tags Engagements
// @Security BearerAuth
// @Produce json
// @Success 200 {array} EngagementResponse
// @Router /staff/engagements/pending [get]
func (h *Handler) ListStaffPending(c *gin.Context) {
	list, err := h.service.ListStaffPending(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toResponses(list))
}

// CheckAvailability godoc
// @Summary Whether a member can start a workout with a coach
// @Tags Sessions
// @Security BearerAuth
// @Produce json
// @Param member_id query int false "Member ID (defaults to the caller)"
// @Param coach_id query int true "Coach ID"
// @Success 200 {object} Availability
// @Router /sessions/availability [get]
func (h *Handler) CheckAvailability(c *gin.Context) {
	memberID, coachID, ok := pairFromQuery(c)
	if !ok {
		return
	}
	a, err := h.service.CheckAvailability(c.Request.Context(), memberID, coachID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// GetRemaining godoc
// @Summary Remaining sessions for a member with a coach
// @Tags Sessions
// @Security BearerAuth
// @Produce json
// @Param member_id query int false "Member ID (defaults to the caller)"
// @Param coach_id query int true "Coach ID"
// @Success 200 {object} map[string]interface{}
// @Router /sessions/remaining [get]
func (h *Handler) GetRemaining(c *gin.Context) {
	memberID, coachID, ok := pairFromQuery(c)
	if !ok {
		return
	}
	q, err := h.service.RemainingSessions(c.Request.Context(), memberID, coachID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"remaining_sessions": q})
}

// Deduct godoc
// @Summary Use today's session
// @Description Idempotent per calendar day. Members deduct for themselves, coaches for their members.
// @Tags Sessions
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body DeductRequest true "Member and coach"
// @Success 200 {object} DeductResult
// @Router /sessions/deduct [post]
func (h *Handler) Deduct(c *gin.Context) {
	userID := mustUserID(c)
	if userID == 0 {
		return
	}

	var req DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	switch currentRole(c) {
	case auth.RoleMember:
		if req.MemberID != 0 && req.MemberID != userID {
			writeError(c, ErrForbidden)
			return
		}
		req.MemberID = userID
	case auth.RoleCoach:
		if req.CoachID != 0 && req.CoachID != userID {
			writeError(c, ErrForbidden)
			return
		}
		req.CoachID = userID
	}
	if req.MemberID <= 0 || req.CoachID <= 0 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "member_id and coach_id are required")
		return
	}

	res, err := h.service.Deduct(c.Request.Context(), req.MemberID, req.CoachID)
	if err != nil {
		writeError(c, err)
		return
	}
	msg := "Session deducted"
	if res.AlreadyUsedToday {
		msg = "Session already used today"
	}
	response.Message(c, http.StatusOK, msg, res)
}

// Undo godoc
// @Summary Undo a session usage
// @Tags Sessions
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body UndoRequest true "Usage record and member"
// @Success 200 {object} UndoResult
// @Router /sessions/undo [post]
func (h *Handler) Undo(c *gin.Context) {
	actorID := mustUserID(c)
	if actorID == 0 {
		return
	}
	var req UndoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	res, err := h.service.Undo(c.Request.Context(), UndoInput{
		UsageID:   req.UsageID,
		MemberID:  req.MemberID,
		ActorID:   actorID,
		ActorRole: currentRole(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Session usage undone", res)
}

// Adjust godoc
// @Summary Manually adjust a member's package balance
// @Tags Sessions
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body AdjustRequest true "Adjustment"
// @Success 200 {object} AdjustResult
// @Router /sessions/adjust [post]
func (h *Handler) Adjust(c *gin.Context) {
	actorID := mustUserID(c)
	if actorID == 0 {
		return
	}
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	role := currentRole(c)
	if role == auth.RoleCoach {
		req.CoachID = &actorID
	}

	res, err := h.service.Adjust(c.Request.Context(), AdjustInput{
		MemberID:  req.MemberID,
		CoachID:   req.CoachID,
		Delta:     req.Delta,
		Reason:    req.Reason,
		ActorID:   actorID,
		ActorRole: role,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Session balance adjusted", res)
}

// AddUsage godoc
// @Summary Record a session on a given date
// @Tags Sessions
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body AddUsageRequest true "Usage"
// @Success 201 {object} AddUsageResult
// @Router /sessions/usage [post]
func (h *Handler) AddUsage(c *gin.Context) {
	actorID := mustUserID(c)
	if actorID == 0 {
		return
	}
	var req AddUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	day, err := time.Parse(time.DateOnly, req.UsageDate)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "usage_date must be YYYY-MM-DD")
		return
	}

	role := currentRole(c)
	if role == auth.RoleCoach {
		req.CoachID = actorID
	}
	if req.CoachID <= 0 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "coach_id is required")
		return
	}

	res, err := h.service.AddUsage(c.Request.Context(), AddUsageInput{
		MemberID:  req.MemberID,
		CoachID:   req.CoachID,
		UsageDate: day,
		Reason:    req.Reason,
		ActorID:   actorID,
		ActorRole: role,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Message(c, http.StatusCreated, "Session usage added", res)
}

// GetHistory godoc
// @Summary Session usage history of a member
// @Tags Sessions
// @Security BearerAuth
// @Produce json
// @Param id path int true "Member ID"
// @Success 200 {object} History
// @Router /members/{id}/sessions/history [get]
func (h *Handler) GetHistory(c *gin.Context) {
	memberID, ok := memberFromPath(c)
	if !ok {
		return
	}
	hist, err := h.service.History(c.Request.Context(), memberID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, hist)
}

// GetSessionInfo godoc
// @Summary Current package and usage statistics of a member
// @Tags Sessions
// @Security BearerAuth
// @Produce json
// @Param id path int true "Member ID"
// @Success 200 {object} SessionInfo
// @Router /members/{id}/sessions/info [get]
func (h *Handler) GetSessionInfo(c *gin.Context) {
	memberID, ok := memberFromPath(c)
	if !ok {
		return
	}
	info, err := h.service.SessionInfo(c.Request.Context(), memberID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, info)
}

// writeError maps service errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", verr.Fields)
	case errors.Is(err, ErrInvalidRateType):
		response.Error(c, http.StatusBadRequest, "INVALID_RATE_TYPE", err.Error())
	case errors.Is(err, ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, ErrForbidden):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, ErrEntitlementRequired):
		response.Error(c, http.StatusForbidden, "PREMIUM_REQUIRED", err.Error())
	case errors.Is(err, ErrEngagementNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrRecordNotFound):
		response.Error(c, http.StatusNotFound, "RECORD_NOT_FOUND", err.Error())
	case errors.Is(err, ErrNoActiveEngagement):
		response.Error(c, http.StatusNotFound, "NO_ACTIVE_ENGAGEMENT", err.Error())
	case errors.Is(err, ErrNoActivePackage):
		response.Error(c, http.StatusNotFound, "NO_ACTIVE_PACKAGE", err.Error())
	case errors.Is(err, ErrDuplicateEngagement):
		response.Error(c, http.StatusConflict, "DUPLICATE_ENGAGEMENT", err.Error())
	case errors.Is(err, ErrAlreadyProcessed):
		response.Error(c, http.StatusConflict, "ALREADY_PROCESSED", err.Error())
	case errors.Is(err, ErrAlreadyUsedOnDate):
		response.Error(c, http.StatusConflict, "ALREADY_USED_ON_DATE", err.Error())
	case errors.Is(err, ErrQuotaExhausted):
		response.Error(c, http.StatusUnprocessableEntity, "QUOTA_EXHAUSTED", err.Error())
	case errors.Is(err, ErrNegativeBalance):
		response.Error(c, http.StatusUnprocessableEntity, "NEGATIVE_BALANCE", err.Error())
	case errors.Is(err, ErrEngagementExpired):
		response.Error(c, http.StatusUnprocessableEntity, "ENGAGEMENT_EXPIRED", err.Error())
	case errors.Is(err, ErrStorage):
		logger.Logger.WithError(err).Error("engagement storage failure")
		response.Error(c, http.StatusServiceUnavailable, "STORAGE_FAILURE", "Temporary storage failure, please retry")
	default:
		logger.Logger.WithError(err).Error("engagement request failed")
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// mustUserID extracts the user ID from the JWT context.
// Returns 0 and writes 401 if not found.
func mustUserID(c *gin.Context) int64 {
	id, exists := c.Get("user_id")
	if !exists {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return 0
	}
	switch v := id.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user id")
	return 0
}

func currentRole(c *gin.Context) auth.UserRole {
	return auth.UserRole(c.GetString("role"))
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
		return 0, false
	}
	return id, true
}

// memberFromPath reads the member id from the path. Members may only read their own data.
func memberFromPath(c *gin.Context) (int64, bool) {
	userID := mustUserID(c)
	if userID == 0 {
		return 0, false
	}
	memberID, ok := pathID(c)
	if !ok {
		return 0, false
	}
	if currentRole(c) == auth.RoleMember && memberID != userID {
		writeError(c, ErrForbidden)
		return 0, false
	}
	return memberID, true
}

// pairFromQuery reads member_id and coach_id. member_id defaults to the
// caller and members may only ask about themselves.
func pairFromQuery(c *gin.Context) (int64, int64, bool) {
	userID := mustUserID(c)
	if userID == 0 {
		return 0, 0, false
	}

	memberID := userID
	if raw := c.Query("member_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid member_id")
			return 0, 0, false
		}
		memberID = v
	}
	if currentRole(c) == auth.RoleMember && memberID != userID {
		writeError(c, ErrForbidden)
		return 0, 0, false
	}

	coachID, err := strconv.ParseInt(c.Query("coach_id"), 10, 64)
	if err != nil || coachID <= 0 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "coach_id is required")
		return 0, 0, false
	}
	return memberID, coachID, true
}
