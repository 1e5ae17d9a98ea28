package activity

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gymcoach/internal/middleware"
	"gymcoach/internal/pkg/logger"
	"gymcoach/internal/pkg/response"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the staff activity views on an authenticated group.
func RegisterRoutes(r *gin.RouterGroup, h *Handler) {
	staff := r.Group("/staff/activity", middleware.StaffOnly())
	{
		staff.GET("", h.ListRecent)
		staff.GET("/members/:id", h.ListForMember)
	}
}

// ListRecent godoc
// @Summary Latest activity log entries
// @Tags Activity
// @Security BearerAuth
// @Produce json
// @Param limit query int false "Max entries (default 50, max 200)"
// @Success 200 {array} Entry
// @Router /staff/activity [get]
func (h *Handler) ListRecent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.service.Recent(c.Request.Context(), limit)
	if err != nil {
		logger.Logger.WithError(err).Error("failed to list activity")
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list activity")
		return
	}
	response.Success(c, http.StatusOK, entries)
}

// ListForMember godoc
// @Summary Activity log of one member
// @Tags Activity
// @Security BearerAuth
// @Produce json
// @Param id path int true "Member ID"
// @Success 200 {array} Entry
// @Router /staff/activity/members/{id} [get]
func (h *Handler) ListForMember(c *gin.Context) {
	memberID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || memberID <= 0 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
		return
	}
	entries, err := h.service.ForMember(c.Request.Context(), memberID)
	if err != nil {
		logger.Logger.WithError(err).Error("failed to list member activity")
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list activity")
		return
	}
	response.Success(c, http.StatusOK, entries)
}
