package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aegs-platform/aegs-api/internal/models"
	"github.com/aegs-platform/aegs-api/internal/service"
	"github.com/aegs-platform/aegs-api/pkg/response"
)

// AuditHandler exposes the audit trail query endpoint.
type AuditHandler struct {
	audit *service.AuditService
}

// NewAuditHandler constructs AuditHandler.
func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List godoc
// @Summary Query the audit trail
// @Description Organizers see entries tied to their own events, admins everything
// @Tags Audit
// @Produce json
// @Param action query string false "Filter by action"
// @Param actorId query string false "Filter by actor"
// @Param eventId query string false "Filter by event"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	var filter models.AuditFilter
	filter.Action = strings.ToUpper(c.Query("action"))
	filter.ActorID = c.Query("actorId")
	filter.EventID = c.Query("eventId")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	logs, pagination, err := h.audit.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}
