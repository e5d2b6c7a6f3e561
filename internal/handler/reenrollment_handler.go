package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/siga-edu/siga-api/internal/dto"
	"github.com/siga-edu/siga-api/internal/middleware"
	"github.com/siga-edu/siga-api/internal/service"
	appErrors "github.com/siga-edu/siga-api/pkg/errors"
	"github.com/siga-edu/siga-api/pkg/response"
)

// ReenrollmentHandler exposes the reenrollment lifecycle endpoints.
type ReenrollmentHandler struct {
	reenrollments *service.ReenrollmentService
}

// NewReenrollmentHandler constructs ReenrollmentHandler.
func NewReenrollmentHandler(reenrollments *service.ReenrollmentService) *ReenrollmentHandler {
	return &ReenrollmentHandler{reenrollments: reenrollments}
}

// ProcessAll godoc
// @Summary Run the global reenrollment batch for a period
// @Description Moves every active enrollment to pending with an open period stamp, atomically. The calling administrator must re-confirm their password.
// @Tags Reenrollments
// @Accept json
// @Produce json
// @Param payload body dto.ProcessAllRequest true "Period and admin password confirmation"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reenrollments/process-all [post]
func (h *ReenrollmentHandler) ProcessAll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ProcessAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	result, err := h.reenrollments.ProcessAll(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Preview godoc
// @Summary Preview the contract for a pending reenrollment
// @Tags Reenrollments
// @Produce json
// @Param id path int true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /reenrollments/contract-preview/{id} [get]
func (h *ReenrollmentHandler) Preview(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	preview, err := h.reenrollments.Preview(c.Request.Context(), claims, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// Accept godoc
// @Summary Accept a pending reenrollment
// @Description Activates the enrollment, closes the open period stamp, and records the contract in one transaction.
// @Tags Reenrollments
// @Produce json
// @Param id path int true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /reenrollments/accept/{id} [post]
func (h *ReenrollmentHandler) Accept(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	result, err := h.reenrollments.Accept(c.Request.Context(), claims, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Summary godoc
// @Summary Per-period reenrollment acceptance progress
// @Tags Reenrollments
// @Produce json
// @Param semester query int true "Semester (1 or 2)"
// @Param year query int true "Year"
// @Success 200 {object} response.Envelope
// @Router /reenrollments/summary [get]
func (h *ReenrollmentHandler) Summary(c *gin.Context) {
	semester, err := strconv.Atoi(c.Query("semester"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "semester must be 1 or 2"))
		return
	}
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "year is required"))
		return
	}
	summary, err := h.reenrollments.Summary(c.Request.Context(), semester, year)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil, middleware.ExtractMeta(c))
}
