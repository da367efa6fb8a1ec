package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aegs-platform/aegs-api/internal/models"
	"github.com/aegs-platform/aegs-api/internal/service"
	appErrors "github.com/aegs-platform/aegs-api/pkg/errors"
	"github.com/aegs-platform/aegs-api/pkg/response"
)

// CertificateHandler exposes certificate endpoints.
type CertificateHandler struct {
	certificates *service.CertificateService
	metrics      *service.MetricsService
}

// NewCertificateHandler constructs CertificateHandler.
func NewCertificateHandler(certificates *service.CertificateService, metrics *service.MetricsService) *CertificateHandler {
	return &CertificateHandler{certificates: certificates, metrics: metrics}
}

// List godoc
// @Summary List certificates
// @Description Participants see their own certificates, organizers those of their events
// @Tags Certificates
// @Produce json
// @Param eventId query string false "Filter by event"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /certificates [get]
func (h *CertificateHandler) List(c *gin.Context) {
	var filter models.CertificateFilter
	filter.EventID = c.Query("eventId")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	certificates, pagination, err := h.certificates.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certificates, pagination)
}

// Get godoc
// @Summary Get certificate by ID
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /certificates/{id} [get]
func (h *CertificateHandler) Get(c *gin.Context) {
	certificate, err := h.certificates.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certificate, nil)
}

// Issue godoc
// @Summary Issue certificate
// @Description Issues the certificate for a confirmed, attended registration. Re-issuing keeps the original code and issue date.
// @Tags Certificates
// @Accept json
// @Produce json
// @Param payload body service.IssueCertificateRequest true "Issue payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /certificates [post]
func (h *CertificateHandler) Issue(c *gin.Context) {
	var req service.IssueCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.Meta = requestMeta(c)

	certificate, err := h.certificates.Issue(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveCertificateIssued()
	}
	response.Created(c, certificate)
}

// AutoIssue godoc
// @Summary Run the automatic certificate issuance sweep
// @Description Issues certificates for every eligible registration of ended events
// @Tags Certificates
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /certificates/auto-issue [post]
func (h *CertificateHandler) AutoIssue(c *gin.Context) {
	result, err := h.certificates.AutoIssue(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		for i := 0; i < result.Issued; i++ {
			h.metrics.ObserveCertificateIssued()
		}
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Verify godoc
// @Summary Verify certificate by public code
// @Tags Certificates
// @Produce json
// @Param code path string true "Verification code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /certificates/verify/{code} [get]
func (h *CertificateHandler) Verify(c *gin.Context) {
	certificate, err := h.certificates.VerifyByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certificate, nil)
}

// DownloadLink godoc
// @Summary Create a signed download link for the certificate PDF
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /certificates/{id}/download-link [post]
func (h *CertificateHandler) DownloadLink(c *gin.Context) {
	link, err := h.certificates.DownloadLink(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download certificate PDF via a signed token
// @Tags Certificates
// @Produce application/pdf
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /certificates/download [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	data, filename, err := h.certificates.Download(c.Request.Context(), c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", data)
}
