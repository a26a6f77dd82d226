package dto

import "github.com/amalcenter/scheduling-api/internal/models"

// UpsertWindowRequest creates or replaces an availability window.
type UpsertWindowRequest struct {
	ID                 string `json:"id"`
	TherapistID        string `json:"therapistId" validate:"required"`
	DayOfWeek          *int   `json:"dayOfWeek" validate:"omitempty,min=0,max=6"`
	SpecificDate       string `json:"specificDate" validate:"omitempty,datetime=2006-01-02"`
	EffectiveFrom      string `json:"effectiveFrom" validate:"omitempty,datetime=2006-01-02"`
	EffectiveTo        string `json:"effectiveTo" validate:"omitempty,datetime=2006-01-02"`
	StartMinute        int    `json:"startMinute" validate:"min=0,max=1439"`
	EndMinute          int    `json:"endMinute" validate:"required,min=1,max=1440"`
	MaxSessionsPerSlot int    `json:"maxSessionsPerSlot" validate:"required,min=1"`
	IsAvailable        *bool  `json:"isAvailable"`
	IsTimeOff          bool   `json:"isTimeOff"`
	TimeOffReason      string `json:"timeOffReason"`
	Notes              string `json:"notes"`
}

// ResolveQuery selects a therapist and date range for availability resolution.
type ResolveQuery struct {
	TherapistID string `form:"therapistId" validate:"required"`
	From        string `form:"from" validate:"required,datetime=2006-01-02"`
	To          string `form:"to" validate:"required,datetime=2006-01-02"`
}

// ResolvedDay is the availability for one calendar date after applying the
// recurring, date-specific, and exception layers.
type ResolvedDay struct {
	Date      string                      `json:"date"`
	DayOfWeek int                         `json:"dayOfWeek"`
	TimeOff   bool                        `json:"timeOff"`
	Windows   []models.AvailabilityWindow `json:"windows"`
}

// TemplateSlotRequest is one weekly triple in a template payload.
type TemplateSlotRequest struct {
	DayOfWeek   int `json:"dayOfWeek" validate:"min=0,max=6"`
	StartMinute int `json:"startMinute" validate:"min=0,max=1439"`
	EndMinute   int `json:"endMinute" validate:"required,min=1,max=1440,gtfield=StartMinute"`
}

// CreateTemplateRequest defines a reusable weekly availability pattern.
type CreateTemplateRequest struct {
	NameEN      string                `json:"nameEn" validate:"required"`
	NameAR      string                `json:"nameAr"`
	TherapistID string                `json:"therapistId"`
	Slots       []TemplateSlotRequest `json:"slots" validate:"required,min=1,dive"`
	IsActive    *bool                 `json:"isActive"`
}

// ApplyTemplateRequest instantiates a template onto a therapist calendar.
type ApplyTemplateRequest struct {
	TherapistID  string `json:"therapistId" validate:"required"`
	StartDate    string `json:"startDate" validate:"required,datetime=2006-01-02"`
	HorizonWeeks int    `json:"horizonWeeks" validate:"omitempty,min=1,max=52"`
}

// TemplateApplyResult reports created windows and instantiation collisions.
type TemplateApplyResult struct {
	CreatedWindows []models.AvailabilityWindow `json:"createdWindows"`
	Conflicts      []models.ScheduleConflict   `json:"conflicts"`
}

// CreateExceptionRequest marks a date range unavailable (or selectively
// available) for a therapist.
type CreateExceptionRequest struct {
	TherapistID  string                `json:"therapistId" validate:"required"`
	StartDate    string                `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate      string                `json:"endDate" validate:"required,datetime=2006-01-02"`
	IsAvailable  bool                  `json:"isAvailable"`
	ReasonEN     string                `json:"reasonEn"`
	ReasonAR     string                `json:"reasonAr"`
	Alternatives []TemplateSlotRequest `json:"alternatives" validate:"omitempty,dive"`
}
