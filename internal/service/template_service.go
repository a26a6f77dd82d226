package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
	"github.com/amalcenter/scheduling-api/internal/repository"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
)

const defaultApplyHorizonWeeks = 12

type templateRepo interface {
	Create(ctx context.Context, t *models.AvailabilityTemplate) error
	FindByID(ctx context.Context, id string) (*models.AvailabilityTemplate, error)
	List(ctx context.Context, therapistID string) ([]models.AvailabilityTemplate, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// TemplateService manages reusable weekly availability patterns and their
// instantiation onto therapist calendars.
type TemplateService struct {
	templates    templateRepo
	availability *AvailabilityService
	horizonWeeks int
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewTemplateService wires the template manager.
func NewTemplateService(templates templateRepo, availability *AvailabilityService, horizonWeeks int, validate *validator.Validate, logger *zap.Logger) *TemplateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if horizonWeeks <= 0 {
		horizonWeeks = defaultApplyHorizonWeeks
	}
	return &TemplateService{
		templates:    templates,
		availability: availability,
		horizonWeeks: horizonWeeks,
		validator:    validate,
		logger:       logger,
	}
}

// Create stores a new template.
func (s *TemplateService) Create(ctx context.Context, req dto.CreateTemplateRequest) (*models.AvailabilityTemplate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid template payload")
	}
	for _, slot := range req.Slots {
		if slot.StartMinute >= slot.EndMinute {
			return nil, appErrors.Clone(appErrors.ErrValidation, "template slot start must be before end")
		}
	}

	raw, err := marshalSlots(req.Slots)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode template slots")
	}

	template := &models.AvailabilityTemplate{
		NameEN:   req.NameEN,
		NameAR:   req.NameAR,
		Slots:    raw,
		IsActive: true,
	}
	if req.TherapistID != "" {
		therapistID := req.TherapistID
		template.TherapistID = &therapistID
	}
	if req.IsActive != nil {
		template.IsActive = *req.IsActive
	}

	if err := s.templates.Create(ctx, template); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store template")
	}
	return template, nil
}

// List returns templates visible to a therapist (own plus shared).
func (s *TemplateService) List(ctx context.Context, therapistID string) ([]models.AvailabilityTemplate, error) {
	templates, err := s.templates.List(ctx, therapistID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list templates")
	}
	return templates, nil
}

// Delete removes a template.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	if err := s.templates.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete template")
	}
	return nil
}

// Apply expands the template's weekly pattern into recurring windows bounded
// to [startDate, startDate + horizon); the windows carry the effective range
// so they never apply outside it. A collision with an existing date-specific
// window or exception does not abort the batch: the window is still created
// and the collision is reported in the result.
func (s *TemplateService) Apply(ctx context.Context, templateID string, req dto.ApplyTemplateRequest) (*dto.TemplateApplyResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid apply payload")
	}
	startDate, err := time.Parse(models.DateLayout, req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid startDate")
	}
	startDate = models.DateOnly(startDate)

	template, err := s.templates.FindByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}
	if !template.IsActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "template is inactive")
	}

	var slots []models.TemplateSlot
	if err := json.Unmarshal(template.Slots, &slots); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode template slots")
	}
	if len(slots) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "template has no slots")
	}

	horizon := s.horizonWeeks
	if req.HorizonWeeks > 0 {
		horizon = req.HorizonWeeks
	}
	endDate := startDate.AddDate(0, 0, horizon*7-1)

	existing, err := s.availability.windows.ListForRange(ctx, req.TherapistID, startDate, endDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing windows")
	}
	exceptions, err := s.availability.exceptions.ListForRange(ctx, req.TherapistID, startDate, endDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exceptions")
	}

	result := &dto.TemplateApplyResult{}
	effectiveFrom := startDate
	effectiveTo := endDate
	for _, slot := range slots {
		window := models.AvailabilityWindow{
			TherapistID:        req.TherapistID,
			StartMinute:        slot.StartMinute,
			EndMinute:          slot.EndMinute,
			IsRecurring:        true,
			EffectiveFrom:      &effectiveFrom,
			EffectiveTo:        &effectiveTo,
			MaxSessionsPerSlot: 1,
			IsAvailable:        true,
			Notes:              fmt.Sprintf("template:%s", template.ID),
		}
		dayOfWeek := slot.DayOfWeek
		window.DayOfWeek = &dayOfWeek

		for _, collision := range s.collisionsFor(slot, startDate, endDate, existing, exceptions, req.TherapistID) {
			result.Conflicts = append(result.Conflicts, collision)
		}

		if err := s.availability.windows.Upsert(ctx, &window); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create window from template")
		}
		result.CreatedWindows = append(result.CreatedWindows, window)
	}

	StampConflicts(result.Conflicts, time.Now().UTC())
	s.availability.invalidate(ctx, req.TherapistID)
	s.logger.Info("template applied",
		zap.String("template_id", template.ID),
		zap.String("therapist_id", req.TherapistID),
		zap.Int("windows", len(result.CreatedWindows)),
		zap.Int("conflicts", len(result.Conflicts)),
	)
	return result, nil
}

// collisionsFor finds the dates inside [startDate, endDate] where the slot's
// weekday collides with a date-specific window or an unavailable exception.
func (s *TemplateService) collisionsFor(
	slot models.TemplateSlot,
	startDate, endDate time.Time,
	existing []models.AvailabilityWindow,
	exceptions []models.AvailabilityException,
	therapistID string,
) []models.ScheduleConflict {
	var collisions []models.ScheduleConflict
	for day := startDate; !day.After(endDate); day = day.AddDate(0, 0, 1) {
		if int(day.Weekday()) != slot.DayOfWeek {
			continue
		}
		candidate := CandidateSlot{
			TherapistID: therapistID,
			Date:        day,
			StartMinute: slot.StartMinute,
			EndMinute:   slot.EndMinute,
		}
		for i := range existing {
			w := &existing[i]
			if w.SpecificDate == nil || !models.SameDay(*w.SpecificDate, day) {
				continue
			}
			if (w.IsTimeOff || !w.IsAvailable) && w.StartMinute < slot.EndMinute && w.EndMinute > slot.StartMinute {
				collisions = append(collisions, newConflict(candidate, models.ConflictTimeConstraint, models.SeverityMedium,
					fmt.Sprintf("template slot collides with existing commitment on %s", day.Format(models.DateLayout)),
					fmt.Sprintf("فترة النموذج تتعارض مع التزام قائم في %s", day.Format(models.DateLayout)), ""))
			}
		}
		for i := range exceptions {
			e := &exceptions[i]
			if e.CoversDate(day) && !e.IsAvailable {
				collisions = append(collisions, newConflict(candidate, models.ConflictTimeConstraint, models.SeverityMedium,
					fmt.Sprintf("template slot collides with time off on %s", day.Format(models.DateLayout)),
					fmt.Sprintf("فترة النموذج تتعارض مع إجازة في %s", day.Format(models.DateLayout)), ""))
			}
		}
	}
	return collisions
}

func marshalSlots(slots []dto.TemplateSlotRequest) (types.JSONText, error) {
	converted := make([]models.TemplateSlot, 0, len(slots))
	for _, slot := range slots {
		converted = append(converted, models.TemplateSlot{
			DayOfWeek:   slot.DayOfWeek,
			StartMinute: slot.StartMinute,
			EndMinute:   slot.EndMinute,
		})
	}
	raw, err := json.Marshal(converted)
	if err != nil {
		return nil, err
	}
	return types.JSONText(raw), nil
}
