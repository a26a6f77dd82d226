package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/service"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
	"github.com/amalcenter/scheduling-api/pkg/response"
)

// TemplateHandler manages availability template endpoints.
type TemplateHandler struct {
	service *service.TemplateService
}

// NewTemplateHandler constructs handler.
func NewTemplateHandler(svc *service.TemplateService) *TemplateHandler {
	return &TemplateHandler{service: svc}
}

// List godoc
// @Summary List availability templates
// @Tags Templates
// @Produce json
// @Param therapistId query string false "Include this therapist's own templates"
// @Success 200 {object} response.Envelope
// @Router /availability/templates [get]
func (h *TemplateHandler) List(c *gin.Context) {
	templates, err := h.service.List(c.Request.Context(), c.Query("therapistId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, templates, nil)
}

// Create godoc
// @Summary Create an availability template
// @Tags Templates
// @Accept json
// @Produce json
// @Param payload body dto.CreateTemplateRequest true "Template payload"
// @Success 201 {object} response.Envelope
// @Router /availability/templates [post]
func (h *TemplateHandler) Create(c *gin.Context) {
	var req dto.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	template, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, template)
}

// Apply godoc
// @Summary Apply a template to a therapist's calendar
// @Tags Templates
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param payload body dto.ApplyTemplateRequest true "Apply payload"
// @Success 200 {object} response.Envelope
// @Router /availability/templates/{id}/apply [post]
func (h *TemplateHandler) Apply(c *gin.Context) {
	var req dto.ApplyTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.Apply(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Delete an availability template
// @Tags Templates
// @Produce json
// @Param id path string true "Template ID"
// @Success 204
// @Router /availability/templates/{id} [delete]
func (h *TemplateHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
