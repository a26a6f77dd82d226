package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// SessionStatus is the lifecycle state of a scheduled session.
type SessionStatus string

const (
	SessionStatusScheduled   SessionStatus = "scheduled"
	SessionStatusConfirmed   SessionStatus = "confirmed"
	SessionStatusInProgress  SessionStatus = "in_progress"
	SessionStatusCompleted   SessionStatus = "completed"
	SessionStatusCancelled   SessionStatus = "cancelled"
	SessionStatusNoShow      SessionStatus = "no_show"
	SessionStatusRescheduled SessionStatus = "rescheduled"
)

// SessionCategory classifies the kind of session.
type SessionCategory string

const (
	SessionCategoryTherapy      SessionCategory = "therapy"
	SessionCategoryAssessment   SessionCategory = "assessment"
	SessionCategoryConsultation SessionCategory = "consultation"
	SessionCategoryGroup        SessionCategory = "group"
	SessionCategoryEvaluation   SessionCategory = "evaluation"
)

// ResolutionStatus tracks conflict resolution progress on a session.
type ResolutionStatus string

const (
	ResolutionPending    ResolutionStatus = "pending"
	ResolutionInProgress ResolutionStatus = "in_progress"
	ResolutionResolved   ResolutionStatus = "resolved"
	ResolutionEscalated  ResolutionStatus = "escalated"
	ResolutionIgnored    ResolutionStatus = "ignored"
)

// ScheduledSession is one concrete therapy session instance.
type ScheduledSession struct {
	ID                string           `db:"id" json:"id"`
	SessionNumber     string           `db:"session_number" json:"session_number"`
	DemandRef         string           `db:"demand_ref" json:"demand_ref"`
	TherapistID       string           `db:"therapist_id" json:"therapist_id"`
	StudentID         *string          `db:"student_id" json:"student_id,omitempty"`
	RoomID            *string          `db:"room_id" json:"room_id,omitempty"`
	EquipmentIDs      pq.StringArray   `db:"equipment_ids" json:"equipment_ids,omitempty"`
	Date              time.Time        `db:"date" json:"date"`
	StartMinute       int              `db:"start_minute" json:"start_minute"`
	EndMinute         int              `db:"end_minute" json:"end_minute"`
	DurationMinutes   int              `db:"duration_minutes" json:"duration_minutes"`
	Category          SessionCategory  `db:"category" json:"category"`
	Priority          int              `db:"priority" json:"priority"`
	Status            SessionStatus    `db:"status" json:"status"`
	HasConflicts      bool             `db:"has_conflicts" json:"has_conflicts"`
	ConflictDetails   types.JSONText   `db:"conflict_details" json:"conflict_details,omitempty"`
	ResolutionStatus  ResolutionStatus `db:"resolution_status" json:"resolution_status"`
	OriginalSessionID *string          `db:"original_session_id" json:"original_session_id,omitempty"`
	RescheduleCount   int              `db:"reschedule_count" json:"reschedule_count"`
	OptimizationScore float64          `db:"optimization_score" json:"optimization_score"`
	IsBillable        bool             `db:"is_billable" json:"is_billable"`
	Notes             string           `db:"notes" json:"notes,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// Overlaps reports whether [startMinute, endMinute) intersects the session.
func (s *ScheduledSession) Overlaps(startMinute, endMinute int) bool {
	return s.StartMinute < endMinute && s.EndMinute > startMinute
}

// IsActive reports whether the session still occupies its slot.
// Cancelled and rescheduled sessions free their time.
func (s *ScheduledSession) IsActive() bool {
	return s.Status != SessionStatusCancelled && s.Status != SessionStatusRescheduled
}

// IsFinal reports whether the session is immutable for planning purposes.
func (s *ScheduledSession) IsFinal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusCancelled
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusScheduled:  {SessionStatusConfirmed, SessionStatusCancelled, SessionStatusRescheduled, SessionStatusNoShow},
	SessionStatusConfirmed:  {SessionStatusInProgress, SessionStatusCancelled, SessionStatusRescheduled, SessionStatusNoShow},
	SessionStatusInProgress: {SessionStatusCompleted, SessionStatusNoShow},
}

// CanTransitionTo validates a status change against the session state machine.
func (s *ScheduledSession) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SessionFilter describes query params for listing sessions.
type SessionFilter struct {
	TherapistID string
	StudentID   string
	RoomID      string
	EquipmentID string
	DemandRef   string
	DateFrom    *time.Time
	DateTo      *time.Time
	Statuses    []SessionStatus
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}
