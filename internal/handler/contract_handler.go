package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/siga-edu/siga-api/internal/models"
	"github.com/siga-edu/siga-api/internal/service"
	appErrors "github.com/siga-edu/siga-api/pkg/errors"
	"github.com/siga-edu/siga-api/pkg/response"
)

// ContractHandler exposes contract and template endpoints.
type ContractHandler struct {
	contracts *service.ContractService
}

// NewContractHandler constructs ContractHandler.
func NewContractHandler(contracts *service.ContractService) *ContractHandler {
	return &ContractHandler{contracts: contracts}
}

// List godoc
// @Summary List contracts
// @Tags Contracts
// @Produce json
// @Param userId query string false "Filter by user"
// @Param enrollmentId query int false "Filter by enrollment"
// @Param semester query int false "Filter by semester"
// @Param year query int false "Filter by year"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /contracts [get]
func (h *ContractHandler) List(c *gin.Context) {
	var filter models.ContractFilter
	filter.UserID = c.Query("userId")
	if enrollmentID, err := strconv.ParseInt(c.Query("enrollmentId"), 10, 64); err == nil {
		filter.EnrollmentID = enrollmentID
	}
	if semester, err := strconv.Atoi(c.Query("semester")); err == nil {
		filter.Semester = semester
	}
	if year, err := strconv.Atoi(c.Query("year")); err == nil {
		filter.Year = year
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	contracts, pagination, err := h.contracts.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, contracts, pagination)
}

// Get godoc
// @Summary Get contract by ID
// @Tags Contracts
// @Produce json
// @Param id path int true "Contract ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /contracts/{id} [get]
func (h *ContractHandler) Get(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	contract, err := h.contracts.Get(c.Request.Context(), id, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, contract, nil)
}

// Mine godoc
// @Summary List the calling user's own contracts
// @Tags Contracts
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /contracts/mine [get]
func (h *ContractHandler) Mine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	contracts, err := h.contracts.ListMine(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, contracts, nil)
}

// ListTemplates godoc
// @Summary List contract templates
// @Tags Contracts
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /contract-templates [get]
func (h *ContractHandler) ListTemplates(c *gin.Context) {
	templates, err := h.contracts.ListTemplates(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, templates, nil)
}

// CreateTemplate godoc
// @Summary Create a contract template
// @Tags Contracts
// @Accept json
// @Produce json
// @Param payload body service.CreateTemplateRequest true "Template payload"
// @Success 201 {object} response.Envelope
// @Router /contract-templates [post]
func (h *ContractHandler) CreateTemplate(c *gin.Context) {
	var req service.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	template, err := h.contracts.CreateTemplate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, template)
}
