package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
	"github.com/amalcenter/scheduling-api/internal/repository"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
)

// ResolveDay computes the availability windows applicable to one calendar
// date using three layers: recurring base, date-specific override, exception.
// An unavailable exception masks the whole day; an available one overlays the
// day with its alternative slots. Pure function, deterministic for identical
// inputs.
func ResolveDay(date time.Time, windows []models.AvailabilityWindow, exceptions []models.AvailabilityException) []models.AvailabilityWindow {
	day := models.DateOnly(date)

	var recurring, specific []models.AvailabilityWindow
	for _, w := range windows {
		if !w.AppliesTo(day) {
			continue
		}
		if w.SpecificDate != nil {
			specific = append(specific, w)
		} else {
			recurring = append(recurring, w)
		}
	}

	// Date-specific windows override the recurring base wholesale for the day.
	resolved := recurring
	if len(specific) > 0 {
		resolved = specific
	}

	for i := range exceptions {
		e := &exceptions[i]
		if !e.CoversDate(day) {
			continue
		}
		if !e.IsAvailable {
			// Unavailable exception masks everything for the day.
			masked := make([]models.AvailabilityWindow, 0, len(resolved))
			for _, w := range resolved {
				w.IsAvailable = false
				w.IsTimeOff = true
				if w.TimeOffReason == "" {
					w.TimeOffReason = e.ReasonEN
				}
				masked = append(masked, w)
			}
			resolved = masked
			continue
		}
		// Selectively available: the exception's alternative slots for this
		// weekday replace whatever the lower layers produced.
		if overlay := alternativeWindows(e, day); len(overlay) > 0 {
			resolved = overlay
		}
	}

	sort.Slice(resolved, func(i, j int) bool {
		if resolved[i].StartMinute == resolved[j].StartMinute {
			return resolved[i].ID < resolved[j].ID
		}
		return resolved[i].StartMinute < resolved[j].StartMinute
	})
	return resolved
}

// alternativeWindows expands an available exception's alternative slots into
// synthetic windows for the given day. Malformed alternative payloads are
// treated as empty rather than failing resolution.
func alternativeWindows(e *models.AvailabilityException, day time.Time) []models.AvailabilityWindow {
	if len(e.Alternatives) == 0 {
		return nil
	}
	var slots []models.TemplateSlot
	if err := json.Unmarshal(e.Alternatives, &slots); err != nil {
		return nil
	}
	var overlay []models.AvailabilityWindow
	for i, slot := range slots {
		if slot.DayOfWeek != int(day.Weekday()) {
			continue
		}
		date := models.DateOnly(day)
		overlay = append(overlay, models.AvailabilityWindow{
			ID:                 fmt.Sprintf("%s-alt-%d", e.ID, i),
			TherapistID:        e.TherapistID,
			SpecificDate:       &date,
			StartMinute:        slot.StartMinute,
			EndMinute:          slot.EndMinute,
			MaxSessionsPerSlot: 1,
			IsAvailable:        true,
		})
	}
	return overlay
}

type availabilityWindowRepo interface {
	FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error)
	Upsert(ctx context.Context, w *models.AvailabilityWindow) error
	Delete(ctx context.Context, id string) error
	ListByTherapist(ctx context.Context, therapistID string) ([]models.AvailabilityWindow, error)
	ListForRange(ctx context.Context, therapistID string, from, to time.Time) ([]models.AvailabilityWindow, error)
	DistinctTherapists(ctx context.Context) ([]string, error)
	AdjustBookings(ctx context.Context, exec sqlx.ExtContext, id string, delta int) error
}

type availabilityExceptionRepo interface {
	Create(ctx context.Context, e *models.AvailabilityException) error
	Delete(ctx context.Context, id string) error
	ListForRange(ctx context.Context, therapistID string, from, to time.Time) ([]models.AvailabilityException, error)
}

// AvailabilityService implements the availability store operations.
type AvailabilityService struct {
	windows    availabilityWindowRepo
	exceptions availabilityExceptionRepo
	cache      *CacheService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewAvailabilityService wires the availability store.
func NewAvailabilityService(windows availabilityWindowRepo, exceptions availabilityExceptionRepo, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{
		windows:    windows,
		exceptions: exceptions,
		cache:      cache,
		validator:  validate,
		logger:     logger,
	}
}

// UpsertWindow validates and stores a window. Capacity may never drop below
// the bookings already taken against the window.
func (s *AvailabilityService) UpsertWindow(ctx context.Context, req dto.UpsertWindowRequest) (*models.AvailabilityWindow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability window payload")
	}
	if req.StartMinute >= req.EndMinute {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startMinute must be before endMinute")
	}
	if (req.DayOfWeek == nil) == (req.SpecificDate == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exactly one of dayOfWeek and specificDate is required")
	}

	window := &models.AvailabilityWindow{
		ID:                 req.ID,
		TherapistID:        req.TherapistID,
		DayOfWeek:          req.DayOfWeek,
		StartMinute:        req.StartMinute,
		EndMinute:          req.EndMinute,
		IsRecurring:        req.DayOfWeek != nil,
		MaxSessionsPerSlot: req.MaxSessionsPerSlot,
		IsAvailable:        true,
		IsTimeOff:          req.IsTimeOff,
		TimeOffReason:      req.TimeOffReason,
		Notes:              req.Notes,
	}
	if req.IsAvailable != nil {
		window.IsAvailable = *req.IsAvailable
	}
	if req.SpecificDate != "" {
		date, err := time.Parse(models.DateLayout, req.SpecificDate)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid specificDate")
		}
		date = models.DateOnly(date)
		window.SpecificDate = &date
	}
	if req.EffectiveFrom != "" {
		from, err := time.Parse(models.DateLayout, req.EffectiveFrom)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid effectiveFrom")
		}
		from = models.DateOnly(from)
		window.EffectiveFrom = &from
	}
	if req.EffectiveTo != "" {
		to, err := time.Parse(models.DateLayout, req.EffectiveTo)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid effectiveTo")
		}
		to = models.DateOnly(to)
		window.EffectiveTo = &to
	}
	if window.EffectiveFrom != nil && window.EffectiveTo != nil && window.EffectiveFrom.After(*window.EffectiveTo) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "effectiveFrom must not be after effectiveTo")
	}

	if req.ID != "" {
		existing, err := s.windows.FindByID(ctx, req.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load window")
		}
		if existing != nil {
			if req.MaxSessionsPerSlot < existing.CurrentBookings {
				return nil, appErrors.Clone(appErrors.ErrCapacityViolation,
					fmt.Sprintf("capacity %d is below current bookings %d", req.MaxSessionsPerSlot, existing.CurrentBookings))
			}
			window.CurrentBookings = existing.CurrentBookings
			window.CreatedAt = existing.CreatedAt
		}
	}

	if err := s.windows.Upsert(ctx, window); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store window")
	}
	s.invalidate(ctx, window.TherapistID)
	return window, nil
}

// DeleteWindow removes a window. Windows holding bookings are only removed
// when force is set.
func (s *AvailabilityService) DeleteWindow(ctx context.Context, id string, force bool) error {
	window, err := s.windows.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load window")
	}
	if window.CurrentBookings > 0 && !force {
		return appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("window has %d bookings, pass force to remove", window.CurrentBookings))
	}
	if err := s.windows.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete window")
	}
	s.invalidate(ctx, window.TherapistID)
	return nil
}

// QueryRange resolves availability per calendar date across [from, to].
// Side-effect free and deterministic for identical stored state.
func (s *AvailabilityService) QueryRange(ctx context.Context, query dto.ResolveQuery) ([]dto.ResolvedDay, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability query")
	}
	from, err := time.Parse(models.DateLayout, query.From)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid from date")
	}
	to, err := time.Parse(models.DateLayout, query.To)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid to date")
	}
	if from.After(to) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}

	cacheKey := fmt.Sprintf("availability:%s:%s:%s", query.TherapistID, query.From, query.To)
	if s.cache.Enabled() {
		var cached []dto.ResolvedDay
		if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
			return cached, nil
		}
	}

	days, err := s.resolveRange(ctx, query.TherapistID, from, to)
	if err != nil {
		return nil, err
	}

	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, cacheKey, days, 0)
	}
	return days, nil
}

func (s *AvailabilityService) resolveRange(ctx context.Context, therapistID string, from, to time.Time) ([]dto.ResolvedDay, error) {
	windows, err := s.windows.ListForRange(ctx, therapistID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load windows")
	}
	exceptions, err := s.exceptions.ListForRange(ctx, therapistID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exceptions")
	}

	var days []dto.ResolvedDay
	for day := models.DateOnly(from); !day.After(models.DateOnly(to)); day = day.AddDate(0, 0, 1) {
		resolved := ResolveDay(day, windows, exceptions)
		timeOff := len(resolved) > 0
		for _, w := range resolved {
			if !w.IsTimeOff {
				timeOff = false
				break
			}
		}
		days = append(days, dto.ResolvedDay{
			Date:      day.Format(models.DateLayout),
			DayOfWeek: int(day.Weekday()),
			TimeOff:   timeOff,
			Windows:   resolved,
		})
	}
	return days, nil
}

// CreateException stores a date-range override.
func (s *AvailabilityService) CreateException(ctx context.Context, req dto.CreateExceptionRequest) (*models.AvailabilityException, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid exception payload")
	}
	start, err := time.Parse(models.DateLayout, req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid startDate")
	}
	end, err := time.Parse(models.DateLayout, req.EndDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid endDate")
	}
	if start.After(end) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startDate must not be after endDate")
	}

	exception := &models.AvailabilityException{
		TherapistID: req.TherapistID,
		StartDate:   models.DateOnly(start),
		EndDate:     models.DateOnly(end),
		IsAvailable: req.IsAvailable,
		ReasonEN:    req.ReasonEN,
		ReasonAR:    req.ReasonAR,
	}
	if len(req.Alternatives) > 0 {
		raw, err := marshalSlots(req.Alternatives)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode alternatives")
		}
		exception.Alternatives = raw
	}
	if err := s.exceptions.Create(ctx, exception); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store exception")
	}
	s.invalidate(ctx, req.TherapistID)
	return exception, nil
}

// DeleteException removes an exception.
func (s *AvailabilityService) DeleteException(ctx context.Context, therapistID, id string) error {
	if err := s.exceptions.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "availability exception not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete exception")
	}
	s.invalidate(ctx, therapistID)
	return nil
}

// ListExceptions returns a therapist's exceptions intersecting [from, to].
func (s *AvailabilityService) ListExceptions(ctx context.Context, query dto.ResolveQuery) ([]models.AvailabilityException, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid exceptions query")
	}
	from, err := time.Parse(models.DateLayout, query.From)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid from date")
	}
	to, err := time.Parse(models.DateLayout, query.To)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid to date")
	}
	exceptions, err := s.exceptions.ListForRange(ctx, query.TherapistID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list exceptions")
	}
	return exceptions, nil
}

// ListWindows returns the raw windows of a therapist.
func (s *AvailabilityService) ListWindows(ctx context.Context, therapistID string) ([]models.AvailabilityWindow, error) {
	if therapistID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "therapistId is required")
	}
	windows, err := s.windows.ListByTherapist(ctx, therapistID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list windows")
	}
	return windows, nil
}

// ReserveSlot increments a window's booking count under the capacity
// invariant. Only generation and bulk paths call this.
func (s *AvailabilityService) ReserveSlot(ctx context.Context, exec sqlx.ExtContext, windowID string) error {
	if err := s.windows.AdjustBookings(ctx, exec, windowID, 1); err != nil {
		if errors.Is(err, repository.ErrCapacity) {
			return appErrors.Clone(appErrors.ErrCapacityViolation, "availability window is at capacity")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve slot")
	}
	return nil
}

// ReleaseSlot decrements a window's booking count, never below zero.
func (s *AvailabilityService) ReleaseSlot(ctx context.Context, exec sqlx.ExtContext, windowID string) error {
	if err := s.windows.AdjustBookings(ctx, exec, windowID, -1); err != nil {
		if errors.Is(err, repository.ErrCapacity) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release slot")
	}
	return nil
}

func (s *AvailabilityService) invalidate(ctx context.Context, therapistID string) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("availability:%s:*", therapistID)); err != nil {
		s.logger.Warn("availability cache invalidation failed", zap.String("therapist_id", therapistID), zap.Error(err))
	}
}
