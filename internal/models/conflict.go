package models

import "time"

// ConflictType classifies a detected scheduling collision.
type ConflictType string

const (
	ConflictTherapistDoubleBooking ConflictType = "therapist_double_booking"
	ConflictRoomUnavailable        ConflictType = "room_unavailable"
	ConflictEquipment              ConflictType = "equipment_conflict"
	ConflictStudentUnavailable     ConflictType = "student_unavailable"
	ConflictTimeConstraint         ConflictType = "time_constraint"
)

// ConflictSeverity is the ordinal severity classification of a conflict.
type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

var severityRank = map[ConflictSeverity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric order of the severity, higher is worse.
func (s ConflictSeverity) Rank() int {
	return severityRank[s]
}

// AutoResolvable reports whether the optimizer may resolve this severity by
// reshuffling. High and critical conflicts always require a human decision.
func (s ConflictSeverity) AutoResolvable() bool {
	return s.Rank() <= severityRank[SeverityMedium]
}

// ScheduleConflict is a detected collision between two sessions or between a
// session and unavailable time.
type ScheduleConflict struct {
	ID                   string                 `json:"id"`
	Type                 ConflictType           `json:"type"`
	Severity             ConflictSeverity       `json:"severity"`
	SessionID            string                 `json:"session_id,omitempty"`
	ConflictingSessionID string                 `json:"conflicting_session_id,omitempty"`
	TherapistID          string                 `json:"therapist_id,omitempty"`
	Date                 time.Time              `json:"date"`
	Description          BilingualText          `json:"description"`
	ResolutionStatus     ResolutionStatus       `json:"resolution_status"`
	Suggestions          []SchedulingSuggestion `json:"suggestions,omitempty"`
	DetectedAt           time.Time              `json:"detected_at"`
	ResolvedAt           *time.Time             `json:"resolved_at,omitempty"`
}

// SchedulingSuggestion is a ranked alternative placement for unmet demand or
// a conflicting session.
type SchedulingSuggestion struct {
	Date         time.Time           `json:"date"`
	StartMinute  int                 `json:"start_minute"`
	EndMinute    int                 `json:"end_minute"`
	TherapistID  string              `json:"therapist_id"`
	Confidence   float64             `json:"confidence"`
	Reasons      []string            `json:"reasons,omitempty"`
	TradeOffs    []string            `json:"trade_offs,omitempty"`
	Availability *AvailabilityWindow `json:"availability,omitempty"`
}

// MaxSeverity returns the worst severity present in the list, or empty when
// the list has none.
func MaxSeverity(conflicts []ScheduleConflict) ConflictSeverity {
	var worst ConflictSeverity
	for _, c := range conflicts {
		if c.Severity.Rank() > worst.Rank() {
			worst = c.Severity
		}
	}
	return worst
}
