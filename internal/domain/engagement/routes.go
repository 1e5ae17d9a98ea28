package engagement

import (
	"github.com/gin-gonic/gin"

	"gymcoach/internal/domain/auth"
	"gymcoach/internal/middleware"
)

// RegisterRoutes mounts the engagement and session endpoints on an
// authenticated group.
func RegisterRoutes(r *gin.RouterGroup, h *Handler) {
	member := middleware.RequireRole(auth.RoleMember)
	coach := middleware.RequireRole(auth.RoleCoach)
	staff := middleware.StaffOnly()
	operator := middleware.RequireRole(auth.RoleCoach, auth.RoleStaff, auth.RoleAdmin)

	engagements := r.Group("/engagements")
	{
		engagements.POST("", member, h.RequestEngagement)
		engagements.GET("/me", member, h.GetMyRequest)
		engagements.POST("/:id/coach/approve", coach, h.CoachApprove)
		engagements.POST("/:id/coach/reject", coach, h.CoachReject)
		engagements.POST("/:id/staff/approve", staff, h.StaffApprove)
		engagements.POST("/:id/staff/reject", staff, h.StaffReject)
	}

	r.GET("/coaches/me/requests", coach, h.ListCoachRequests)
	r.GET("/staff/engagements/pending", staff, h.ListStaffPending)

	sessions := r.Group("/sessions")
	{
		sessions.GET("/availability", h.CheckAvailability)
		sessions.GET("/remaining", h.GetRemaining)
		sessions.POST("/deduct", middleware.RequireRole(auth.RoleMember, auth.RoleCoach), h.Deduct)
		sessions.POST("/undo", operator, h.Undo)
		sessions.POST("/adjust", operator, h.Adjust)
		sessions.POST("/usage", operator, h.AddUsage)
	}

	members := r.Group("/members/:id/sessions")
	{
		members.GET("/history", h.GetHistory)
		members.GET("/info", h.GetSessionInfo)
	}
}
