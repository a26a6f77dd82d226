package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
	"github.com/amalcenter/scheduling-api/internal/service"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
	"github.com/amalcenter/scheduling-api/pkg/response"
)

// SchedulingHandler exposes the scheduling engine endpoints.
type SchedulingHandler struct {
	generator *service.GeneratorService
	optimizer *service.OptimizerService
	conflicts *service.ConflictService
	bulk      *service.BulkService
	metrics   *service.ScheduleMetricsService
}

// NewSchedulingHandler constructs handler.
func NewSchedulingHandler(
	generator *service.GeneratorService,
	optimizer *service.OptimizerService,
	conflicts *service.ConflictService,
	bulk *service.BulkService,
	metrics *service.ScheduleMetricsService,
) *SchedulingHandler {
	return &SchedulingHandler{
		generator: generator,
		optimizer: optimizer,
		conflicts: conflicts,
		bulk:      bulk,
		metrics:   metrics,
	}
}

// Generate godoc
// @Summary Generate a schedule for a demand
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param payload body dto.SchedulingRequest true "Scheduling request"
// @Success 200 {object} response.Envelope
// @Router /schedule/generate [post]
func (h *SchedulingHandler) Generate(c *gin.Context) {
	var req dto.SchedulingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Preview godoc
// @Summary Preview a schedule without persisting it
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param payload body dto.SchedulingRequest true "Scheduling request"
// @Success 200 {object} response.Envelope
// @Router /schedule/preview [post]
func (h *SchedulingHandler) Preview(c *gin.Context) {
	var req dto.SchedulingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.generator.Preview(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Optimize godoc
// @Summary Optimize an existing schedule
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param payload body dto.OptimizeRequest true "Optimization request"
// @Success 200 {object} response.Envelope
// @Router /schedule/optimize [post]
func (h *SchedulingHandler) Optimize(c *gin.Context) {
	var req dto.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.optimizer.Optimize(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// CheckConflicts godoc
// @Summary Check a candidate slot for conflicts
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param payload body dto.ConflictCheckRequest true "Candidate slot"
// @Success 200 {object} response.Envelope
// @Router /schedule/conflicts/check [post]
func (h *SchedulingHandler) CheckConflicts(c *gin.Context) {
	var req dto.ConflictCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	conflicts, err := h.conflicts.Check(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	service.StampConflicts(conflicts, time.Now().UTC())
	response.JSON(c, http.StatusOK, gin.H{"conflicts": conflicts, "count": len(conflicts)}, nil)
}

// Bulk godoc
// @Summary Apply a bulk operation across sessions
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param payload body dto.BulkOperationRequest true "Bulk operation"
// @Success 200 {object} response.Envelope
// @Router /schedule/bulk [post]
func (h *SchedulingHandler) Bulk(c *gin.Context) {
	var req dto.BulkOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.bulk.Apply(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Rollback godoc
// @Summary Roll back a previous bulk operation
// @Tags Scheduling
// @Produce json
// @Param token path string true "Rollback token"
// @Success 200 {object} response.Envelope
// @Router /schedule/bulk/{token}/rollback [post]
func (h *SchedulingHandler) Rollback(c *gin.Context) {
	result, err := h.bulk.Rollback(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Metrics godoc
// @Summary Compute schedule metrics for a period
// @Tags Scheduling
// @Produce json
// @Param therapistId query string false "Narrow to one therapist"
// @Param from query string true "Period start (YYYY-MM-DD)"
// @Param to query string true "Period end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /schedule/metrics [get]
func (h *SchedulingHandler) Metrics(c *gin.Context) {
	from, err := time.Parse(models.DateLayout, c.Query("from"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid from date"))
		return
	}
	to, err := time.Parse(models.DateLayout, c.Query("to"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid to date"))
		return
	}
	metrics, err := h.metrics.Compute(c.Request.Context(), c.Query("therapistId"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, metrics, nil)
}
