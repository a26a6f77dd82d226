package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// AvailabilityWindow is one recurring or date-specific block during which a
// therapist can be booked. Exactly one of DayOfWeek and SpecificDate is set;
// a date-specific window overrides recurring windows for that date.
type AvailabilityWindow struct {
	ID                 string     `db:"id" json:"id"`
	TherapistID        string     `db:"therapist_id" json:"therapist_id"`
	DayOfWeek          *int       `db:"day_of_week" json:"day_of_week,omitempty"`
	SpecificDate       *time.Time `db:"specific_date" json:"specific_date,omitempty"`
	StartMinute        int        `db:"start_minute" json:"start_minute"`
	EndMinute          int        `db:"end_minute" json:"end_minute"`
	IsRecurring        bool       `db:"is_recurring" json:"is_recurring"`
	EffectiveFrom      *time.Time `db:"effective_from" json:"effective_from,omitempty"`
	EffectiveTo        *time.Time `db:"effective_to" json:"effective_to,omitempty"`
	MaxSessionsPerSlot int        `db:"max_sessions_per_slot" json:"max_sessions_per_slot"`
	CurrentBookings    int        `db:"current_bookings" json:"current_bookings"`
	IsAvailable        bool       `db:"is_available" json:"is_available"`
	IsTimeOff          bool       `db:"is_time_off" json:"is_time_off"`
	TimeOffReason      string     `db:"time_off_reason" json:"time_off_reason,omitempty"`
	Notes              string     `db:"notes" json:"notes,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// AppliesTo reports whether the window is applicable on the given date,
// ignoring overrides and exceptions (resolution layers handle those).
// Recurring windows carrying an effective range only apply inside it.
func (w *AvailabilityWindow) AppliesTo(date time.Time) bool {
	day := DateOnly(date)
	if w.EffectiveFrom != nil && day.Before(DateOnly(*w.EffectiveFrom)) {
		return false
	}
	if w.EffectiveTo != nil && day.After(DateOnly(*w.EffectiveTo)) {
		return false
	}
	if w.SpecificDate != nil {
		return SameDay(*w.SpecificDate, day)
	}
	if w.DayOfWeek != nil {
		return int(day.Weekday()) == *w.DayOfWeek
	}
	return false
}

// Covers reports whether [startMinute, endMinute) fits inside the window.
func (w *AvailabilityWindow) Covers(startMinute, endMinute int) bool {
	return startMinute >= w.StartMinute && endMinute <= w.EndMinute
}

// Bookable reports whether the window can accept one more session.
func (w *AvailabilityWindow) Bookable() bool {
	if w.IsTimeOff || !w.IsAvailable {
		return false
	}
	return w.CurrentBookings < w.MaxSessionsPerSlot
}

// DurationMinutes returns the window length.
func (w *AvailabilityWindow) DurationMinutes() int {
	return w.EndMinute - w.StartMinute
}

// TemplateSlot is one weekly (day, start, end) triple inside a template.
type TemplateSlot struct {
	DayOfWeek   int `json:"day_of_week"`
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// AvailabilityTemplate is a named, reusable weekly availability pattern.
// TherapistID is nil when the template is shared across therapists.
type AvailabilityTemplate struct {
	ID          string         `db:"id" json:"id"`
	NameEN      string         `db:"name_en" json:"name_en"`
	NameAR      string         `db:"name_ar" json:"name_ar"`
	TherapistID *string        `db:"therapist_id" json:"therapist_id,omitempty"`
	Slots       types.JSONText `db:"slots" json:"slots"`
	IsActive    bool           `db:"is_active" json:"is_active"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// Name returns the template label as a bilingual pair.
func (t *AvailabilityTemplate) Name() BilingualText {
	return BilingualText{EN: t.NameEN, AR: t.NameAR}
}

// AvailabilityException marks a therapist unavailable (or selectively
// available) across a date range, masking windows of both kinds.
type AvailabilityException struct {
	ID           string         `db:"id" json:"id"`
	TherapistID  string         `db:"therapist_id" json:"therapist_id"`
	StartDate    time.Time      `db:"start_date" json:"start_date"`
	EndDate      time.Time      `db:"end_date" json:"end_date"`
	IsAvailable  bool           `db:"is_available" json:"is_available"`
	ReasonEN     string         `db:"reason_en" json:"reason_en,omitempty"`
	ReasonAR     string         `db:"reason_ar" json:"reason_ar,omitempty"`
	Alternatives types.JSONText `db:"alternatives" json:"alternatives,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// CoversDate reports whether the exception applies on the given date.
func (e *AvailabilityException) CoversDate(date time.Time) bool {
	day := DateOnly(date)
	return !day.Before(DateOnly(e.StartDate)) && !day.After(DateOnly(e.EndDate))
}

// Reason returns the exception reason as a bilingual pair.
func (e *AvailabilityException) Reason() BilingualText {
	return BilingualText{EN: e.ReasonEN, AR: e.ReasonAR}
}
