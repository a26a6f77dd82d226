package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/service"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
	"github.com/amalcenter/scheduling-api/pkg/response"
)

// AvailabilityHandler manages availability window and exception endpoints.
type AvailabilityHandler struct {
	service *service.AvailabilityService
}

// NewAvailabilityHandler constructs handler.
func NewAvailabilityHandler(svc *service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: svc}
}

// ListWindows godoc
// @Summary List a therapist's availability windows
// @Tags Availability
// @Produce json
// @Param therapistId query string true "Therapist ID"
// @Success 200 {object} response.Envelope
// @Router /availability/windows [get]
func (h *AvailabilityHandler) ListWindows(c *gin.Context) {
	therapistID := c.Query("therapistId")
	if therapistID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "therapistId is required"))
		return
	}
	windows, err := h.service.ListWindows(c.Request.Context(), therapistID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, windows, nil)
}

// UpsertWindow godoc
// @Summary Create or replace an availability window
// @Tags Availability
// @Accept json
// @Produce json
// @Param payload body dto.UpsertWindowRequest true "Window payload"
// @Success 200 {object} response.Envelope
// @Router /availability/windows [post]
func (h *AvailabilityHandler) UpsertWindow(c *gin.Context) {
	var req dto.UpsertWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	window, err := h.service.UpsertWindow(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, window, nil)
}

// ReplaceWindow godoc
// @Summary Replace an availability window by ID
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Window ID"
// @Param payload body dto.UpsertWindowRequest true "Window payload"
// @Success 200 {object} response.Envelope
// @Router /availability/windows/{id} [put]
func (h *AvailabilityHandler) ReplaceWindow(c *gin.Context) {
	var req dto.UpsertWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.ID = c.Param("id")
	window, err := h.service.UpsertWindow(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, window, nil)
}

// DeleteWindow godoc
// @Summary Delete an availability window
// @Tags Availability
// @Produce json
// @Param id path string true "Window ID"
// @Param force query bool false "Delete even when the window has bookings"
// @Success 204
// @Router /availability/windows/{id} [delete]
func (h *AvailabilityHandler) DeleteWindow(c *gin.Context) {
	force := c.Query("force") == "true"
	if err := h.service.DeleteWindow(c.Request.Context(), c.Param("id"), force); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Resolve godoc
// @Summary Resolve per-date availability for a therapist
// @Tags Availability
// @Produce json
// @Param therapistId query string true "Therapist ID"
// @Param from query string true "Range start (YYYY-MM-DD)"
// @Param to query string true "Range end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /availability/resolve [get]
func (h *AvailabilityHandler) Resolve(c *gin.Context) {
	var query dto.ResolveQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	days, err := h.service.QueryRange(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, days, nil)
}

// CreateException godoc
// @Summary Create an availability exception
// @Tags Availability
// @Accept json
// @Produce json
// @Param payload body dto.CreateExceptionRequest true "Exception payload"
// @Success 201 {object} response.Envelope
// @Router /availability/exceptions [post]
func (h *AvailabilityHandler) CreateException(c *gin.Context) {
	var req dto.CreateExceptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	exception, err := h.service.CreateException(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, exception)
}

// ListExceptions godoc
// @Summary List a therapist's availability exceptions in a date range
// @Tags Availability
// @Produce json
// @Param therapistId query string true "Therapist ID"
// @Param from query string true "Range start (YYYY-MM-DD)"
// @Param to query string true "Range end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /availability/exceptions [get]
func (h *AvailabilityHandler) ListExceptions(c *gin.Context) {
	var query dto.ResolveQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	exceptions, err := h.service.ListExceptions(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exceptions, nil)
}

// DeleteException godoc
// @Summary Delete an availability exception
// @Tags Availability
// @Produce json
// @Param id path string true "Exception ID"
// @Param therapistId query string true "Therapist ID"
// @Success 204
// @Router /availability/exceptions/{id} [delete]
func (h *AvailabilityHandler) DeleteException(c *gin.Context) {
	therapistID := c.Query("therapistId")
	if therapistID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "therapistId is required"))
		return
	}
	if err := h.service.DeleteException(c.Request.Context(), therapistID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
