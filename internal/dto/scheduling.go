package dto

import (
	"github.com/amalcenter/scheduling-api/internal/models"
)

// TimeRange is a minute-resolution time-of-day window.
type TimeRange struct {
	StartMinute int `json:"startMinute" validate:"min=0,max=1439"`
	EndMinute   int `json:"endMinute" validate:"min=1,max=1440"`
}

// Contains reports whether [start, end) fits inside the range.
func (r TimeRange) Contains(start, end int) bool {
	return start >= r.StartMinute && end <= r.EndMinute
}

// Overlaps reports whether [start, end) intersects the range.
func (r TimeRange) Overlaps(start, end int) bool {
	return r.StartMinute < end && r.EndMinute > start
}

// SchedulingRequest is the generator's demand specification.
type SchedulingRequest struct {
	DemandRef          string                 `json:"demandRef" validate:"required"`
	TherapistID        string                 `json:"therapistId"`
	StudentID          string                 `json:"studentId"`
	PreferredTimes     []TimeRange            `json:"preferredTimes" validate:"omitempty,dive"`
	AvoidTimes         []TimeRange            `json:"avoidTimes" validate:"omitempty,dive"`
	PreferredDays      []int                  `json:"preferredDays" validate:"omitempty,dive,min=0,max=6"`
	AvoidDays          []int                  `json:"avoidDays" validate:"omitempty,dive,min=0,max=6"`
	StartDate          string                 `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate            string                 `json:"endDate" validate:"required,datetime=2006-01-02"`
	TotalSessions      int                    `json:"totalSessions" validate:"required,min=1,max=365"`
	SessionsPerWeek    int                    `json:"sessionsPerWeek" validate:"required,min=1,max=14"`
	DurationMinutes    int                    `json:"durationMinutes" validate:"required,min=15,max=480"`
	Category           models.SessionCategory `json:"category" validate:"omitempty,oneof=therapy assessment consultation group evaluation"`
	Priority           int                    `json:"priority" validate:"omitempty,min=1,max=5"`
	FlexibilityScore   int                    `json:"flexibilityScore" validate:"omitempty,min=0,max=100"`
	RequireConsecutive bool                   `json:"requireConsecutive"`
	MaxGapDays         int                    `json:"maxGapDays" validate:"omitempty,min=1,max=60"`
	BreakMinutes       int                    `json:"breakMinutes" validate:"omitempty,min=0,max=120"`
	RoomID             string                 `json:"roomId"`
	EquipmentIDs       []string               `json:"equipmentIds"`
	IsBillable         bool                   `json:"isBillable"`
}

// Shortfall records a week whose demand could not be fully placed.
type Shortfall struct {
	WeekStart   string                        `json:"weekStart"`
	Missing     int                           `json:"missing"`
	Reason      string                        `json:"reason"`
	Suggestions []models.SchedulingSuggestion `json:"suggestions,omitempty"`
}

// SchedulingResult is the generator's output contract.
type SchedulingResult struct {
	Sessions             []models.ScheduledSession `json:"sessions"`
	UnresolvedConflicts  []models.ScheduleConflict `json:"unresolvedConflicts"`
	Shortfalls           []Shortfall               `json:"shortfalls"`
	UnscheduledSessions  int                       `json:"unscheduledSessions"`
	Warnings             []string                  `json:"warnings"`
	OptimizationScore    float64                   `json:"optimizationScore"`
	PreferenceMatchScore float64                   `json:"preferenceMatchScore"`
	GenerationMillis     int64                     `json:"generationMillis"`
	Algorithm            string                    `json:"algorithm"`
}

// ConflictCheckRequest describes a candidate slot for conflict detection.
type ConflictCheckRequest struct {
	TherapistID  string   `json:"therapistId" validate:"required"`
	Date         string   `json:"date" validate:"required,datetime=2006-01-02"`
	StartMinute  int      `json:"startMinute" validate:"min=0,max=1439"`
	EndMinute    int      `json:"endMinute" validate:"required,min=1,max=1440,gtfield=StartMinute"`
	RoomID       string   `json:"roomId"`
	EquipmentIDs []string `json:"equipmentIds"`
	StudentID    string   `json:"studentId"`
	BreakMinutes int      `json:"breakMinutes" validate:"omitempty,min=0,max=120"`
	ExcludeID    string   `json:"excludeSessionId"`
}
